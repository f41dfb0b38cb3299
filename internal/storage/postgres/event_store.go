package postgres

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"hypertoken/internal/domain"
	"hypertoken/internal/storage"
)

// EventStore implements storage.EventStore using PostgreSQL.
type EventStore struct {
	pool *Pool
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool *Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Events returns the event store sharing the ledger's pool.
func (l *Ledger) Events() *EventStore {
	return NewEventStore(l.pool)
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

const eventColumns = `
	id, signature, slot, event_index, kind, mint, authority,
	name, symbol, uri, decimals, initial_supply::text, block_time
`

// Insert adds an event. Returns ErrDuplicateKey if the id exists.
func (s *EventStore) Insert(ctx context.Context, e *domain.EventRecord) (err error) {
	if e == nil || e.ID == "" {
		return storage.ErrInvalidInput
	}

	start := time.Now()
	defer func() { observe("insert_event", start, err) }()

	if err := insertEvent(ctx, s.pool, e); err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return err
	}
	return nil
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertEvent(ctx context.Context, db execer, e *domain.EventRecord) error {
	var decimals *int16
	if e.Decimals != nil {
		d := int16(*e.Decimals)
		decimals = &d
	}
	var supply *string
	if e.InitialSupply != nil {
		s := numeric(*e.InitialSupply)
		supply = &s
	}

	_, err := db.Exec(ctx, `
		INSERT INTO token_events (
			id, signature, slot, event_index, kind, mint, authority,
			name, symbol, uri, decimals, initial_supply, block_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::numeric, $13)
	`,
		e.ID,
		e.Signature,
		int64(e.Slot),
		int32(e.Index),
		e.Kind.String(),
		e.Mint,
		e.Authority,
		e.Name,
		e.Symbol,
		e.URI,
		decimals,
		supply,
		e.BlockTime,
	)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", e.ID, err)
	}
	return nil
}

// GetByMint retrieves all events of a mint, ordered by (slot, index) ASC.
func (s *EventStore) GetByMint(ctx context.Context, mint string) (events []*domain.EventRecord, err error) {
	start := time.Now()
	defer func() { observe("events_by_mint", start, err) }()

	query := `SELECT ` + eventColumns + `
		FROM token_events
		WHERE mint = $1
		ORDER BY slot ASC, event_index ASC
	`
	return s.query(ctx, query, mint)
}

// GetBySignature retrieves all events of a transaction, ordered by index ASC.
func (s *EventStore) GetBySignature(ctx context.Context, signature string) (events []*domain.EventRecord, err error) {
	start := time.Now()
	defer func() { observe("events_by_signature", start, err) }()

	query := `SELECT ` + eventColumns + `
		FROM token_events
		WHERE signature = $1
		ORDER BY event_index ASC
	`
	return s.query(ctx, query, signature)
}

// LatestMetadata returns the newest announced name/symbol/uri of a mint.
func (s *EventStore) LatestMetadata(ctx context.Context, mint string) (meta *domain.AnnouncedMetadata, err error) {
	start := time.Now()
	defer func() { observe("latest_metadata", start, err) }()

	query := `SELECT ` + eventColumns + `
		FROM token_events
		WHERE mint = $1
		ORDER BY slot DESC, event_index DESC
		LIMIT 1
	`

	e, err := scanEvent(s.pool.QueryRow(ctx, query, mint))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("latest metadata: %w", err)
	}
	return storage.AnnouncedFromEvent(e), nil
}

// ListBySlotRange retrieves events with fromSlot <= slot <= toSlot,
// ordered by (slot, signature, index) ASC.
func (s *EventStore) ListBySlotRange(ctx context.Context, fromSlot, toSlot uint64) (events []*domain.EventRecord, err error) {
	if fromSlot > toSlot {
		return nil, storage.ErrInvalidInput
	}

	start := time.Now()
	defer func() { observe("events_by_slot_range", start, err) }()

	query := `SELECT ` + eventColumns + `
		FROM token_events
		WHERE slot BETWEEN $1 AND $2
		ORDER BY slot ASC, signature ASC, event_index ASC
	`
	return s.query(ctx, query, clampSlot(fromSlot), clampSlot(toSlot))
}

// clampSlot maps a u64 slot onto the BIGINT column range.
func clampSlot(slot uint64) int64 {
	if slot > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(slot)
}

func (s *EventStore) query(ctx context.Context, query string, args ...any) ([]*domain.EventRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []*domain.EventRecord{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func scanEvent(row pgx.Row) (*domain.EventRecord, error) {
	var (
		e        domain.EventRecord
		slot     int64
		index    int32
		kind     string
		decimals *int16
		supply   *string
	)

	err := row.Scan(
		&e.ID,
		&e.Signature,
		&slot,
		&index,
		&kind,
		&e.Mint,
		&e.Authority,
		&e.Name,
		&e.Symbol,
		&e.URI,
		&decimals,
		&supply,
		&e.BlockTime,
	)
	if err != nil {
		return nil, err
	}

	e.Slot = uint64(slot)
	e.Index = int(index)
	e.Kind = domain.EventKind(kind)
	if decimals != nil {
		d := uint8(*decimals)
		e.Decimals = &d
	}
	if supply != nil {
		v, err := parseNumeric(*supply)
		if err != nil {
			return nil, err
		}
		e.InitialSupply = &v
	}
	return &e, nil
}
