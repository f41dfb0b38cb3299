package memory

import (
	"context"
	"sort"

	"hypertoken/internal/domain"
	"hypertoken/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore.
// It shares the ledger's tables so events committed with a transaction are visible here.
type EventStore struct {
	l *Ledger
}

// Events returns the event log view of the ledger.
func (l *Ledger) Events() *EventStore {
	return &EventStore{l: l}
}

// NewEventStore creates an event store backed by a fresh ledger.
func NewEventStore() *EventStore {
	return NewLedger().Events()
}

// Insert adds an event. Returns ErrDuplicateKey if the id exists.
func (s *EventStore) Insert(_ context.Context, e *domain.EventRecord) error {
	if e == nil || e.ID == "" {
		return storage.ErrInvalidInput
	}

	s.l.mu.Lock()
	defer s.l.mu.Unlock()

	if _, exists := s.l.events[e.ID]; exists {
		return storage.ErrDuplicateKey
	}
	s.l.insertEventLocked(e)
	return nil
}

// GetByMint retrieves all events of a mint, ordered by (slot, index) ASC.
func (s *EventStore) GetByMint(_ context.Context, mint string) ([]*domain.EventRecord, error) {
	s.l.mu.RLock()
	defer s.l.mu.RUnlock()
	return sortedCopies(s.l.eventsByMint[mint]), nil
}

// GetBySignature retrieves all events of a transaction, ordered by index ASC.
func (s *EventStore) GetBySignature(_ context.Context, signature string) ([]*domain.EventRecord, error) {
	s.l.mu.RLock()
	defer s.l.mu.RUnlock()
	return sortedCopies(s.l.eventsBySig[signature]), nil
}

// LatestMetadata returns the newest announced name/symbol/uri of a mint.
func (s *EventStore) LatestMetadata(ctx context.Context, mint string) (*domain.AnnouncedMetadata, error) {
	events, _ := s.GetByMint(ctx, mint)
	if len(events) == 0 {
		return nil, storage.ErrNotFound
	}
	return storage.AnnouncedFromEvent(events[len(events)-1]), nil
}

// ListBySlotRange retrieves events with fromSlot <= slot <= toSlot,
// ordered by (slot, signature, index) ASC.
func (s *EventStore) ListBySlotRange(_ context.Context, fromSlot, toSlot uint64) ([]*domain.EventRecord, error) {
	if fromSlot > toSlot {
		return nil, storage.ErrInvalidInput
	}

	s.l.mu.RLock()
	defer s.l.mu.RUnlock()

	var result []*domain.EventRecord
	for _, e := range s.l.events {
		if e.Slot >= fromSlot && e.Slot <= toSlot {
			result = append(result, copyEvent(e))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Slot != b.Slot {
			return a.Slot < b.Slot
		}
		if a.Signature != b.Signature {
			return a.Signature < b.Signature
		}
		return a.Index < b.Index
	})
	return result, nil
}

func (l *Ledger) insertEventLocked(e *domain.EventRecord) {
	eventCopy := copyEvent(e)
	l.events[e.ID] = eventCopy
	l.eventsByMint[e.Mint] = append(l.eventsByMint[e.Mint], eventCopy)
	l.eventsBySig[e.Signature] = append(l.eventsBySig[e.Signature], eventCopy)
}

func sortedCopies(events []*domain.EventRecord) []*domain.EventRecord {
	result := make([]*domain.EventRecord, len(events))
	for i, e := range events {
		result[i] = copyEvent(e)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Slot != result[j].Slot {
			return result[i].Slot < result[j].Slot
		}
		return result[i].Index < result[j].Index
	})
	return result
}

func copyEvent(e *domain.EventRecord) *domain.EventRecord {
	eventCopy := *e
	if e.Decimals != nil {
		d := *e.Decimals
		eventCopy.Decimals = &d
	}
	if e.InitialSupply != nil {
		s := *e.InitialSupply
		eventCopy.InitialSupply = &s
	}
	return &eventCopy
}

var _ storage.EventStore = (*EventStore)(nil)
