package runtime

import (
	"context"
	"fmt"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/program/system"
	"github.com/blocto/solana-go-sdk/types"

	"hypertoken/internal/anchor"
	"hypertoken/internal/domain"
	"hypertoken/internal/idhash"
	"hypertoken/internal/storage"
)

type staged[T any] struct {
	value   *T
	created bool
}

// overlay buffers writes of one account type in first-write order.
type overlay[T any] struct {
	entries map[string]*staged[T]
	order   []string
}

func newOverlay[T any]() *overlay[T] {
	return &overlay[T]{entries: make(map[string]*staged[T])}
}

func (o *overlay[T]) put(address string, v *T, created bool) {
	if e, ok := o.entries[address]; ok {
		e.value = v
		return
	}
	o.entries[address] = &staged[T]{value: v, created: created}
	o.order = append(o.order, address)
}

func (o *overlay[T]) split() (created, updated []*T) {
	for _, addr := range o.order {
		e := o.entries[addr]
		if e.created {
			created = append(created, e.value)
		} else {
			updated = append(updated, e.value)
		}
	}
	return created, updated
}

// Tx is the staged view of the ledger inside one Execute call. Reads see staged writes.
// Nothing reaches the store unless the whole call succeeds.
type Tx struct {
	ctx       context.Context
	store     storage.LedgerStore
	signature string
	slot      uint64
	blockTime int64
	payer     string
	programID string
	writable  map[string]bool

	factories     *overlay[domain.TokenFactory]
	mints         *overlay[domain.Mint]
	tokenAccounts *overlay[domain.TokenAccount]
	records       []*domain.TokenRecord
	events        []*domain.EventRecord

	logs         []string
	instructions []types.Instruction
	rent         uint64
	depth        int
}

// Context returns the context of the Execute call.
func (tx *Tx) Context() context.Context { return tx.ctx }

// Signature returns the transaction signature.
func (tx *Tx) Signature() string { return tx.signature }

// Slot returns the slot the transaction executes in.
func (tx *Tx) Slot() uint64 { return tx.slot }

// BlockTime returns the block time in ms.
func (tx *Tx) BlockTime() int64 { return tx.blockTime }

// Payer returns the fee payer.
func (tx *Tx) Payer() string { return tx.payer }

// ProgramID returns the top-level program being executed.
func (tx *Tx) ProgramID() string { return tx.programID }

func (tx *Tx) checkWritable(address string) error {
	if !tx.writable[address] {
		return fmt.Errorf("%w: %s", ErrAccountNotWritable, address)
	}
	return nil
}

func load[T any](tx *Tx, o *overlay[T], address string, get func(context.Context, string) (*T, error), clone func(*T) *T) (*T, error) {
	if e, ok := o.entries[address]; ok {
		return clone(e.value), nil
	}
	v, err := get(tx.ctx, address)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
		}
		return nil, err
	}
	return v, nil
}

func exists[T any](tx *Tx, o *overlay[T], address string, get func(context.Context, string) (*T, error)) (bool, error) {
	if _, ok := o.entries[address]; ok {
		return true, nil
	}
	_, err := get(tx.ctx, address)
	if err == nil {
		return true, nil
	}
	if storage.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// create stages a new account. The address must be free across every account type,
// staged or committed, and must not be the fee payer.
func create[T any](tx *Tx, o *overlay[T], address string, v *T) error {
	if err := tx.checkWritable(address); err != nil {
		return err
	}
	found, err := tx.occupied(address)
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("%w: %s", ErrAccountInUse, address)
	}
	o.put(address, v, true)
	return nil
}

// occupied reports whether address already holds an account of any type.
func (tx *Tx) occupied(address string) (bool, error) {
	if address == tx.payer {
		return true, nil
	}
	if found, err := exists(tx, tx.factories, address, tx.store.GetFactory); err != nil || found {
		return found, err
	}
	if found, err := exists(tx, tx.mints, address, tx.store.GetMint); err != nil || found {
		return found, err
	}
	return exists(tx, tx.tokenAccounts, address, tx.store.GetTokenAccount)
}

func update[T any](tx *Tx, o *overlay[T], address string, v *T, get func(context.Context, string) (*T, error)) error {
	if err := tx.checkWritable(address); err != nil {
		return err
	}
	found, err := exists(tx, o, address, get)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}
	o.put(address, v, false)
	return nil
}

// Factory reads a factory record.
func (tx *Tx) Factory(address string) (*domain.TokenFactory, error) {
	return load(tx, tx.factories, address, tx.store.GetFactory, cloneFactory)
}

// CreateFactory stages a new factory record. Fails with ErrAccountInUse if it exists.
func (tx *Tx) CreateFactory(f *domain.TokenFactory) error {
	return create(tx, tx.factories, f.Address, cloneFactory(f))
}

// UpdateFactory stages a write to an existing factory record.
func (tx *Tx) UpdateFactory(f *domain.TokenFactory) error {
	return update(tx, tx.factories, f.Address, cloneFactory(f), tx.store.GetFactory)
}

// Mint reads a mint.
func (tx *Tx) Mint(address string) (*domain.Mint, error) {
	return load(tx, tx.mints, address, tx.store.GetMint, cloneMint)
}

// MintExists reports whether a mint account exists.
func (tx *Tx) MintExists(address string) (bool, error) {
	return exists(tx, tx.mints, address, tx.store.GetMint)
}

// CreateMint stages a new mint account.
func (tx *Tx) CreateMint(m *domain.Mint) error {
	return create(tx, tx.mints, m.Address, cloneMint(m))
}

// UpdateMint stages a write to an existing mint.
func (tx *Tx) UpdateMint(m *domain.Mint) error {
	return update(tx, tx.mints, m.Address, cloneMint(m), tx.store.GetMint)
}

// TokenAccount reads a token account.
func (tx *Tx) TokenAccount(address string) (*domain.TokenAccount, error) {
	return load(tx, tx.tokenAccounts, address, tx.store.GetTokenAccount, cloneTokenAccount)
}

// TokenAccountExists reports whether a token account exists.
func (tx *Tx) TokenAccountExists(address string) (bool, error) {
	return exists(tx, tx.tokenAccounts, address, tx.store.GetTokenAccount)
}

// CreateTokenAccount stages a new token account.
func (tx *Tx) CreateTokenAccount(a *domain.TokenAccount) error {
	return create(tx, tx.tokenAccounts, a.Address, cloneTokenAccount(a))
}

// UpdateTokenAccount stages a write to an existing token account.
func (tx *Tx) UpdateTokenAccount(a *domain.TokenAccount) error {
	return update(tx, tx.tokenAccounts, a.Address, cloneTokenAccount(a), tx.store.GetTokenAccount)
}

// AppendRecord stages a registry entry stamped with this transaction.
func (tx *Tx) AppendRecord(r *domain.TokenRecord) {
	recordCopy := *r
	recordCopy.Signature = tx.signature
	recordCopy.Slot = tx.slot
	recordCopy.CreatedAt = tx.blockTime
	tx.records = append(tx.records, &recordCopy)
}

// Emit logs ev as program data and stages it for the event log.
func (tx *Tx) Emit(ev domain.Event) error {
	line, err := anchor.EventLogLine(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Kind(), err)
	}
	tx.logs = append(tx.logs, line)

	rec := domain.NewEventRecord(ev, tx.signature, tx.slot, len(tx.events), tx.blockTime)
	rec.ID = idhash.ComputeEventID(tx.signature, rec.Index)
	tx.events = append(tx.events, rec)
	return nil
}

// Log appends a "Program log:" line.
func (tx *Tx) Log(format string, args ...interface{}) {
	tx.logs = append(tx.logs, "Program log: "+fmt.Sprintf(format, args...))
}

// Invoke records a cross-program invocation of ix and runs its effect.
func (tx *Tx) Invoke(ix types.Instruction, effect func() error) error {
	programID := ix.ProgramID.ToBase58()

	tx.depth++
	defer func() { tx.depth-- }()

	tx.logs = append(tx.logs, fmt.Sprintf("Program %s invoke [%d]", programID, tx.depth))
	tx.instructions = append(tx.instructions, ix)

	if effect != nil {
		if err := effect(); err != nil {
			tx.logs = append(tx.logs, fmt.Sprintf("Program %s failed: %v", programID, err))
			return err
		}
	}

	tx.logs = append(tx.logs, fmt.Sprintf("Program %s success", programID))
	return nil
}

// CreateAccount invokes the system program to fund a new account of space bytes owned
// by owner, paid by the fee payer. Fails with ErrAccountInUse if the address is taken.
// Returns the rent paid.
func (tx *Tx) CreateAccount(address, owner string, space uint64) (uint64, error) {
	if err := tx.checkWritable(address); err != nil {
		return 0, err
	}
	found, err := tx.occupied(address)
	if err != nil {
		return 0, err
	}
	if found {
		return 0, fmt.Errorf("%w: %s", ErrAccountInUse, address)
	}

	lamports := RentExemptMinimum(space)
	ix := system.CreateAccount(system.CreateAccountParam{
		From:     common.PublicKeyFromString(tx.payer),
		New:      common.PublicKeyFromString(address),
		Owner:    common.PublicKeyFromString(owner),
		Lamports: lamports,
		Space:    space,
	})
	if err := tx.Invoke(ix, nil); err != nil {
		return 0, err
	}

	tx.rent += lamports
	return lamports, nil
}

func (tx *Tx) changeSet() *storage.ChangeSet {
	cs := &storage.ChangeSet{
		Signature: tx.signature,
		Slot:      tx.slot,
		Records:   tx.records,
		Events:    tx.events,
	}
	cs.CreatedFactories, cs.UpdatedFactories = tx.factories.split()
	cs.CreatedMints, cs.UpdatedMints = tx.mints.split()
	cs.CreatedTokenAccounts, cs.UpdatedTokenAccounts = tx.tokenAccounts.split()
	return cs
}

func cloneFactory(f *domain.TokenFactory) *domain.TokenFactory {
	factoryCopy := *f
	return &factoryCopy
}

func cloneMint(m *domain.Mint) *domain.Mint {
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

func cloneTokenAccount(a *domain.TokenAccount) *domain.TokenAccount {
	accountCopy := *a
	return &accountCopy
}
