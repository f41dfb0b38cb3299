package storage

import (
	"context"

	"hypertoken/internal/domain"
)

// ChangeSet is the write set of one committed transaction. Stores apply it atomically.
type ChangeSet struct {
	Signature string
	Slot      uint64

	// Created records must not exist yet (ErrDuplicateKey otherwise).
	// Updated records must exist (ErrNotFound otherwise).
	CreatedFactories     []*domain.TokenFactory
	UpdatedFactories     []*domain.TokenFactory
	CreatedMints         []*domain.Mint
	UpdatedMints         []*domain.Mint
	CreatedTokenAccounts []*domain.TokenAccount
	UpdatedTokenAccounts []*domain.TokenAccount

	// Registry entries and events are append-only.
	Records []*domain.TokenRecord
	Events  []*domain.EventRecord
}

// IsEmpty reports whether the change set carries no writes.
func (cs *ChangeSet) IsEmpty() bool {
	return len(cs.CreatedFactories) == 0 && len(cs.UpdatedFactories) == 0 &&
		len(cs.CreatedMints) == 0 && len(cs.UpdatedMints) == 0 &&
		len(cs.CreatedTokenAccounts) == 0 && len(cs.UpdatedTokenAccounts) == 0 &&
		len(cs.Records) == 0 && len(cs.Events) == 0
}

// LedgerStore holds account state of the factory and token programs.
type LedgerStore interface {
	// GetFactory retrieves a factory by address. Returns ErrNotFound if not exists.
	GetFactory(ctx context.Context, address string) (*domain.TokenFactory, error)

	// GetMint retrieves a mint by address. Returns ErrNotFound if not exists.
	GetMint(ctx context.Context, address string) (*domain.Mint, error)

	// GetTokenAccount retrieves a token account by address. Returns ErrNotFound if not exists.
	GetTokenAccount(ctx context.Context, address string) (*domain.TokenAccount, error)

	// ListTokenAccountsByOwner retrieves every token account of owner, ordered by mint ASC.
	ListTokenAccountsByOwner(ctx context.Context, owner string) ([]*domain.TokenAccount, error)

	// Commit applies cs atomically. On any error nothing is applied.
	Commit(ctx context.Context, cs *ChangeSet) error

	// LatestSlot returns the highest committed slot, 0 for an empty ledger.
	LatestSlot(ctx context.Context) (uint64, error)
}

// RegistryStore provides read access to per-factory token registries.
type RegistryStore interface {
	// ListByFactory retrieves all records of a factory, ordered by index ASC.
	ListByFactory(ctx context.Context, factory string) ([]*domain.TokenRecord, error)

	// GetByMint retrieves the record of a mint. Returns ErrNotFound if not exists.
	GetByMint(ctx context.Context, mint string) (*domain.TokenRecord, error)

	// ListRecent retrieves up to limit records across all factories, newest first.
	ListRecent(ctx context.Context, limit int) ([]*domain.TokenRecord, error)
}

// EventStore provides access to the persisted event log.
type EventStore interface {
	// Insert adds an event. Returns ErrDuplicateKey if the id exists.
	Insert(ctx context.Context, e *domain.EventRecord) error

	// GetByMint retrieves all events of a mint, ordered by (slot, index) ASC.
	GetByMint(ctx context.Context, mint string) ([]*domain.EventRecord, error)

	// GetBySignature retrieves all events of a transaction, ordered by index ASC.
	GetBySignature(ctx context.Context, signature string) ([]*domain.EventRecord, error)

	// LatestMetadata returns the newest announced name/symbol/uri of a mint.
	// Returns ErrNotFound if the mint has no events.
	LatestMetadata(ctx context.Context, mint string) (*domain.AnnouncedMetadata, error)

	// ListBySlotRange retrieves events with fromSlot <= slot <= toSlot,
	// ordered by (slot, signature, index) ASC.
	ListBySlotRange(ctx context.Context, fromSlot, toSlot uint64) ([]*domain.EventRecord, error)
}

// EventAnalyticsStore provides aggregate queries over events.
type EventAnalyticsStore interface {
	// InsertBulk adds multiple events.
	InsertBulk(ctx context.Context, events []*domain.EventRecord) error

	// CreatorStats summarizes events of an authority. Returns ErrNotFound if none.
	CreatorStats(ctx context.Context, authority string) (*domain.CreatorStats, error)
}

// AnnouncedFromEvent builds the metadata view of a single event record.
func AnnouncedFromEvent(e *domain.EventRecord) *domain.AnnouncedMetadata {
	return &domain.AnnouncedMetadata{
		Mint:      e.Mint,
		Name:      e.Name,
		Symbol:    e.Symbol,
		URI:       e.URI,
		Source:    e.Kind,
		Signature: e.Signature,
		Slot:      e.Slot,
	}
}
