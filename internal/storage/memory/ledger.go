package memory

import (
	"context"
	"sort"
	"sync"

	"hypertoken/internal/domain"
	"hypertoken/internal/storage"
)

// Ledger is an in-memory implementation of storage.LedgerStore, storage.RegistryStore
// and storage.EventStore. A single lock covers all tables so Commit is atomic.
type Ledger struct {
	mu            sync.RWMutex
	factories     map[string]*domain.TokenFactory // keyed by address
	mints         map[string]*domain.Mint         // keyed by address
	tokenAccounts map[string]*domain.TokenAccount // keyed by address
	registry      map[string][]*domain.TokenRecord // keyed by factory
	recordByMint  map[string]*domain.TokenRecord   // keyed by mint (unique)
	records       []*domain.TokenRecord            // commit order
	events        map[string]*domain.EventRecord   // keyed by id
	eventsByMint  map[string][]*domain.EventRecord
	eventsBySig   map[string][]*domain.EventRecord
	latestSlot    uint64
}

// NewLedger creates a new in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{
		factories:     make(map[string]*domain.TokenFactory),
		mints:         make(map[string]*domain.Mint),
		tokenAccounts: make(map[string]*domain.TokenAccount),
		registry:      make(map[string][]*domain.TokenRecord),
		recordByMint:  make(map[string]*domain.TokenRecord),
		events:        make(map[string]*domain.EventRecord),
		eventsByMint:  make(map[string][]*domain.EventRecord),
		eventsBySig:   make(map[string][]*domain.EventRecord),
	}
}

// GetFactory retrieves a factory by address. Returns ErrNotFound if not exists.
func (l *Ledger) GetFactory(_ context.Context, address string) (*domain.TokenFactory, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	f, ok := l.factories[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	factoryCopy := *f
	return &factoryCopy, nil
}

// GetMint retrieves a mint by address. Returns ErrNotFound if not exists.
func (l *Ledger) GetMint(_ context.Context, address string) (*domain.Mint, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	m, ok := l.mints[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyMint(m), nil
}

// GetTokenAccount retrieves a token account by address. Returns ErrNotFound if not exists.
func (l *Ledger) GetTokenAccount(_ context.Context, address string) (*domain.TokenAccount, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	a, ok := l.tokenAccounts[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	accountCopy := *a
	return &accountCopy, nil
}

// ListTokenAccountsByOwner retrieves every token account of owner, ordered by mint ASC.
func (l *Ledger) ListTokenAccountsByOwner(_ context.Context, owner string) ([]*domain.TokenAccount, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := []*domain.TokenAccount{}
	for _, a := range l.tokenAccounts {
		if a.Owner == owner {
			accountCopy := *a
			result = append(result, &accountCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Mint < result[j].Mint
	})
	return result, nil
}

// LatestSlot returns the highest committed slot.
func (l *Ledger) LatestSlot(_ context.Context) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.latestSlot, nil
}

// Commit validates the whole change set first, then applies it. On error nothing changes.
func (l *Ledger) Commit(_ context.Context, cs *storage.ChangeSet) error {
	if cs == nil {
		return storage.ErrInvalidInput
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.validate(cs); err != nil {
		return err
	}

	for _, f := range cs.CreatedFactories {
		factoryCopy := *f
		l.factories[f.Address] = &factoryCopy
	}
	for _, f := range cs.UpdatedFactories {
		factoryCopy := *f
		l.factories[f.Address] = &factoryCopy
	}
	for _, m := range cs.CreatedMints {
		l.mints[m.Address] = copyMint(m)
	}
	for _, m := range cs.UpdatedMints {
		l.mints[m.Address] = copyMint(m)
	}
	for _, a := range cs.CreatedTokenAccounts {
		accountCopy := *a
		l.tokenAccounts[a.Address] = &accountCopy
	}
	for _, a := range cs.UpdatedTokenAccounts {
		accountCopy := *a
		l.tokenAccounts[a.Address] = &accountCopy
	}
	for _, r := range cs.Records {
		recordCopy := *r
		l.registry[r.Factory] = append(l.registry[r.Factory], &recordCopy)
		l.recordByMint[r.Mint] = &recordCopy
		l.records = append(l.records, &recordCopy)
	}
	for _, e := range cs.Events {
		l.insertEventLocked(e)
	}

	if cs.Slot > l.latestSlot {
		l.latestSlot = cs.Slot
	}
	return nil
}

func (l *Ledger) validate(cs *storage.ChangeSet) error {
	seen := make(map[string]bool)
	created := func(addr string, exists bool) error {
		if addr == "" {
			return storage.ErrInvalidInput
		}
		if exists || seen[addr] {
			return storage.ErrDuplicateKey
		}
		seen[addr] = true
		return nil
	}

	for _, f := range cs.CreatedFactories {
		if err := created(f.Address, l.occupied(f.Address)); err != nil {
			return err
		}
	}
	for _, m := range cs.CreatedMints {
		if err := created(m.Address, l.occupied(m.Address)); err != nil {
			return err
		}
	}
	for _, a := range cs.CreatedTokenAccounts {
		if err := created(a.Address, l.occupied(a.Address)); err != nil {
			return err
		}
	}

	for _, f := range cs.UpdatedFactories {
		if _, ok := l.factories[f.Address]; !ok {
			return storage.ErrNotFound
		}
	}
	for _, m := range cs.UpdatedMints {
		if _, ok := l.mints[m.Address]; !ok {
			return storage.ErrNotFound
		}
	}
	for _, a := range cs.UpdatedTokenAccounts {
		if _, ok := l.tokenAccounts[a.Address]; !ok {
			return storage.ErrNotFound
		}
	}

	for _, r := range cs.Records {
		if r.Factory == "" || r.Mint == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := l.recordByMint[r.Mint]; exists {
			return storage.ErrDuplicateKey
		}
	}
	for _, e := range cs.Events {
		if e.ID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := l.events[e.ID]; exists {
			return storage.ErrDuplicateKey
		}
	}
	return nil
}

// occupied reports whether any account type already lives at address.
func (l *Ledger) occupied(address string) bool {
	if _, ok := l.factories[address]; ok {
		return true
	}
	if _, ok := l.mints[address]; ok {
		return true
	}
	_, ok := l.tokenAccounts[address]
	return ok
}

// ListByFactory retrieves all records of a factory, ordered by index ASC.
func (l *Ledger) ListByFactory(_ context.Context, factory string) ([]*domain.TokenRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	records := l.registry[factory]
	result := make([]*domain.TokenRecord, len(records))
	for i, r := range records {
		recordCopy := *r
		result[i] = &recordCopy
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Index < result[j].Index
	})
	return result, nil
}

// GetByMint retrieves the registry record of a mint. Returns ErrNotFound if not exists.
func (l *Ledger) GetByMint(_ context.Context, mint string) (*domain.TokenRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.recordByMint[mint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	recordCopy := *r
	return &recordCopy, nil
}

// ListRecent retrieves up to limit records across all factories, newest first.
func (l *Ledger) ListRecent(_ context.Context, limit int) ([]*domain.TokenRecord, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*domain.TokenRecord, 0, min(limit, len(l.records)))
	for i := len(l.records) - 1; i >= 0 && len(result) < limit; i-- {
		recordCopy := *l.records[i]
		result = append(result, &recordCopy)
	}
	return result, nil
}

func copyMint(m *domain.Mint) *domain.Mint {
	mintCopy := *m
	if m.MintAuthority != nil {
		auth := *m.MintAuthority
		mintCopy.MintAuthority = &auth
	}
	if m.FreezeAuthority != nil {
		auth := *m.FreezeAuthority
		mintCopy.FreezeAuthority = &auth
	}
	return &mintCopy
}

var (
	_ storage.LedgerStore   = (*Ledger)(nil)
	_ storage.RegistryStore = (*Ledger)(nil)
)
