package clickhouse

import (
	"context"
	"fmt"
	"time"

	"hypertoken/internal/domain"
	"hypertoken/internal/storage"
)

// EventAnalyticsStore implements storage.EventAnalyticsStore using ClickHouse.
// Re-delivered events share an id and collapse under FINAL.
type EventAnalyticsStore struct {
	conn *Conn
}

// NewEventAnalyticsStore creates a new EventAnalyticsStore.
func NewEventAnalyticsStore(conn *Conn) *EventAnalyticsStore {
	return &EventAnalyticsStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EventAnalyticsStore = (*EventAnalyticsStore)(nil)

// InsertBulk appends events in one batch.
func (s *EventAnalyticsStore) InsertBulk(ctx context.Context, events []*domain.EventRecord) (err error) {
	if len(events) == 0 {
		return nil
	}
	for _, e := range events {
		if e == nil || e.ID == "" {
			return storage.ErrInvalidInput
		}
	}

	start := time.Now()
	defer func() { observe("insert_events", start, err) }()

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO token_events (
			id, signature, slot, event_index, kind, mint, authority,
			name, symbol, uri, decimals, initial_supply, block_time
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		err = batch.Append(
			e.ID, e.Signature, e.Slot, uint32(e.Index), e.Kind.String(), e.Mint, e.Authority,
			e.Name, e.Symbol, e.URI, e.Decimals, e.InitialSupply, uint64(max(e.BlockTime, 0)),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// CreatorStats summarizes events of an authority. Returns ErrNotFound if none.
func (s *EventAnalyticsStore) CreatorStats(ctx context.Context, authority string) (st *domain.CreatorStats, err error) {
	start := time.Now()
	defer func() { observe("creator_stats", start, err) }()

	query := `
		SELECT
			count()                                                     AS events,
			countIf(kind = 'TOKEN_CREATED')                             AS created,
			countIf(kind = 'TOKEN_METADATA_UPDATED')                    AS updated,
			sumIf(ifNull(initial_supply, 0), kind = 'TOKEN_CREATED')    AS supply,
			min(slot)                                                   AS first_slot,
			max(slot)                                                   AS last_slot
		FROM token_events FINAL
		WHERE authority = ?
	`

	var events, created, updated, supply, firstSlot, lastSlot uint64
	row := s.conn.QueryRow(ctx, query, authority)
	if err := row.Scan(&events, &created, &updated, &supply, &firstSlot, &lastSlot); err != nil {
		return nil, fmt.Errorf("query creator stats: %w", err)
	}
	if events == 0 {
		return nil, storage.ErrNotFound
	}

	return &domain.CreatorStats{
		Authority:       authority,
		TokensCreated:   created,
		MetadataUpdates: updated,
		TotalSupply:     supply,
		FirstSlot:       firstSlot,
		LastSlot:        lastSlot,
	}, nil
}
