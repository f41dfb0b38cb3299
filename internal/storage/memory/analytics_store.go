package memory

import (
	"context"
	"sync"

	"hypertoken/internal/domain"
	"hypertoken/internal/storage"
)

// EventAnalyticsStore is an in-memory implementation of storage.EventAnalyticsStore.
type EventAnalyticsStore struct {
	mu    sync.RWMutex
	stats map[string]*domain.CreatorStats // keyed by authority
	seen  map[string]bool                 // event ids
}

// NewEventAnalyticsStore creates a new in-memory analytics store.
func NewEventAnalyticsStore() *EventAnalyticsStore {
	return &EventAnalyticsStore{
		stats: make(map[string]*domain.CreatorStats),
		seen:  make(map[string]bool),
	}
}

// InsertBulk folds events into per-authority stats. Already seen ids are ignored.
func (s *EventAnalyticsStore) InsertBulk(_ context.Context, events []*domain.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		if e == nil || e.ID == "" {
			return storage.ErrInvalidInput
		}
	}

	for _, e := range events {
		if s.seen[e.ID] {
			continue
		}
		s.seen[e.ID] = true

		st, ok := s.stats[e.Authority]
		if !ok {
			st = &domain.CreatorStats{Authority: e.Authority, FirstSlot: e.Slot}
			s.stats[e.Authority] = st
		}

		switch e.Kind {
		case domain.EventKindTokenCreated:
			st.TokensCreated++
			if e.InitialSupply != nil {
				st.TotalSupply += *e.InitialSupply
			}
		case domain.EventKindTokenMetadataUpdated:
			st.MetadataUpdates++
		}

		if e.Slot < st.FirstSlot {
			st.FirstSlot = e.Slot
		}
		if e.Slot > st.LastSlot {
			st.LastSlot = e.Slot
		}
	}
	return nil
}

// CreatorStats summarizes events of an authority. Returns ErrNotFound if none.
func (s *EventAnalyticsStore) CreatorStats(_ context.Context, authority string) (*domain.CreatorStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stats[authority]
	if !ok {
		return nil, storage.ErrNotFound
	}
	statsCopy := *st
	return &statsCopy, nil
}

var _ storage.EventAnalyticsStore = (*EventAnalyticsStore)(nil)
