package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"hypertoken/internal/domain"
	"hypertoken/internal/storage"
)

// Ledger implements storage.LedgerStore and storage.RegistryStore using PostgreSQL.
// Commit applies a change set in one SQL transaction.
type Ledger struct {
	pool *Pool
}

// NewLedger creates a new Ledger.
func NewLedger(pool *Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Compile-time interface checks.
var (
	_ storage.LedgerStore   = (*Ledger)(nil)
	_ storage.RegistryStore = (*Ledger)(nil)
)

// GetFactory retrieves a factory by address. Returns ErrNotFound if not exists.
func (l *Ledger) GetFactory(ctx context.Context, address string) (f *domain.TokenFactory, err error) {
	start := time.Now()
	defer func() { observe("get_factory", start, err) }()

	query := `
		SELECT address, authority, token_count::text, bump
		FROM token_factories
		WHERE address = $1
	`

	var (
		factory domain.TokenFactory
		count   string
		bump    int16
	)
	err = l.pool.QueryRow(ctx, query, address).Scan(&factory.Address, &factory.Authority, &count, &bump)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get factory: %w", err)
	}
	factory.Bump = uint8(bump)
	if factory.TokenCount, err = parseNumeric(count); err != nil {
		return nil, err
	}
	return &factory, nil
}

// GetMint retrieves a mint by address. Returns ErrNotFound if not exists.
func (l *Ledger) GetMint(ctx context.Context, address string) (m *domain.Mint, err error) {
	start := time.Now()
	defer func() { observe("get_mint", start, err) }()

	query := `
		SELECT address, decimals, supply::text, mint_authority, freeze_authority, is_initialized
		FROM mints
		WHERE address = $1
	`

	var (
		mint     domain.Mint
		decimals int16
		supply   string
	)
	err = l.pool.QueryRow(ctx, query, address).Scan(
		&mint.Address,
		&decimals,
		&supply,
		&mint.MintAuthority,
		&mint.FreezeAuthority,
		&mint.IsInitialized,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get mint: %w", err)
	}
	mint.Decimals = uint8(decimals)
	if mint.Supply, err = parseNumeric(supply); err != nil {
		return nil, err
	}
	return &mint, nil
}

// GetTokenAccount retrieves a token account by address. Returns ErrNotFound if not exists.
func (l *Ledger) GetTokenAccount(ctx context.Context, address string) (a *domain.TokenAccount, err error) {
	start := time.Now()
	defer func() { observe("get_token_account", start, err) }()

	query := `
		SELECT address, mint, owner, amount::text, state
		FROM token_accounts
		WHERE address = $1
	`

	var (
		account domain.TokenAccount
		amount  string
		state   int16
	)
	err = l.pool.QueryRow(ctx, query, address).Scan(&account.Address, &account.Mint, &account.Owner, &amount, &state)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token account: %w", err)
	}
	account.State = domain.TokenAccountState(state)
	if account.Amount, err = parseNumeric(amount); err != nil {
		return nil, err
	}
	return &account, nil
}

// ListTokenAccountsByOwner retrieves every token account of owner, ordered by mint ASC.
func (l *Ledger) ListTokenAccountsByOwner(ctx context.Context, owner string) (accounts []*domain.TokenAccount, err error) {
	start := time.Now()
	defer func() { observe("list_token_accounts", start, err) }()

	query := `
		SELECT address, mint, owner, amount::text, state
		FROM token_accounts
		WHERE owner = $1
		ORDER BY mint ASC, address ASC
	`

	rows, err := l.pool.Query(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("list token accounts: %w", err)
	}
	defer rows.Close()

	accounts = []*domain.TokenAccount{}
	for rows.Next() {
		var (
			account domain.TokenAccount
			amount  string
			state   int16
		)
		if err := rows.Scan(&account.Address, &account.Mint, &account.Owner, &amount, &state); err != nil {
			return nil, fmt.Errorf("scan token account: %w", err)
		}
		account.State = domain.TokenAccountState(state)
		if account.Amount, err = parseNumeric(amount); err != nil {
			return nil, err
		}
		accounts = append(accounts, &account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate token accounts: %w", err)
	}
	return accounts, nil
}

// LatestSlot returns the highest committed slot.
func (l *Ledger) LatestSlot(ctx context.Context) (uint64, error) {
	var slot int64
	err := l.pool.QueryRow(ctx, `SELECT latest_slot FROM ledger_meta WHERE id = 1`).Scan(&slot)
	if err != nil {
		if isNotFoundError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("get latest slot: %w", err)
	}
	return uint64(slot), nil
}

// Commit applies cs in one transaction. Constraint violations map to
// ErrDuplicateKey (created rows) and ErrNotFound (updated rows).
func (l *Ledger) Commit(ctx context.Context, cs *storage.ChangeSet) (err error) {
	if cs == nil {
		return storage.ErrInvalidInput
	}
	if err := validateChangeSet(cs); err != nil {
		return err
	}

	start := time.Now()
	defer func() { observe("commit", start, err) }()

	err = pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		return applyChangeSet(ctx, tx, cs)
	})
	switch {
	case err == nil:
		return nil
	case isDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", storage.ErrDuplicateKey, err)
	case isForeignKeyError(err):
		return fmt.Errorf("%w: %v", storage.ErrNotFound, err)
	default:
		return err
	}
}

func validateChangeSet(cs *storage.ChangeSet) error {
	for _, f := range cs.CreatedFactories {
		if f.Address == "" {
			return storage.ErrInvalidInput
		}
	}
	for _, m := range cs.CreatedMints {
		if m.Address == "" {
			return storage.ErrInvalidInput
		}
	}
	for _, a := range cs.CreatedTokenAccounts {
		if a.Address == "" {
			return storage.ErrInvalidInput
		}
	}
	for _, r := range cs.Records {
		if r.Factory == "" || r.Mint == "" {
			return storage.ErrInvalidInput
		}
	}
	for _, e := range cs.Events {
		if e.ID == "" {
			return storage.ErrInvalidInput
		}
	}
	return nil
}

// applyChangeSet writes rows in dependency order: factories and mints before
// the accounts and registry entries that reference them.
func applyChangeSet(ctx context.Context, tx pgx.Tx, cs *storage.ChangeSet) error {
	if err := claimAddresses(ctx, tx, cs); err != nil {
		return err
	}

	for _, f := range cs.CreatedFactories {
		_, err := tx.Exec(ctx, `
			INSERT INTO token_factories (address, authority, token_count, bump)
			VALUES ($1, $2, $3::numeric, $4)
		`, f.Address, f.Authority, numeric(f.TokenCount), int16(f.Bump))
		if err != nil {
			return fmt.Errorf("insert factory %s: %w", f.Address, err)
		}
	}
	for _, f := range cs.UpdatedFactories {
		tag, err := tx.Exec(ctx, `
			UPDATE token_factories SET token_count = $2::numeric, updated_at = now()
			WHERE address = $1
		`, f.Address, numeric(f.TokenCount))
		if err != nil {
			return fmt.Errorf("update factory %s: %w", f.Address, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("update factory %s: %w", f.Address, storage.ErrNotFound)
		}
	}

	for _, m := range cs.CreatedMints {
		_, err := tx.Exec(ctx, `
			INSERT INTO mints (address, decimals, supply, mint_authority, freeze_authority, is_initialized)
			VALUES ($1, $2, $3::numeric, $4, $5, $6)
		`, m.Address, int16(m.Decimals), numeric(m.Supply), m.MintAuthority, m.FreezeAuthority, m.IsInitialized)
		if err != nil {
			return fmt.Errorf("insert mint %s: %w", m.Address, err)
		}
	}
	for _, m := range cs.UpdatedMints {
		tag, err := tx.Exec(ctx, `
			UPDATE mints
			SET decimals = $2, supply = $3::numeric, mint_authority = $4, freeze_authority = $5, is_initialized = $6
			WHERE address = $1
		`, m.Address, int16(m.Decimals), numeric(m.Supply), m.MintAuthority, m.FreezeAuthority, m.IsInitialized)
		if err != nil {
			return fmt.Errorf("update mint %s: %w", m.Address, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("update mint %s: %w", m.Address, storage.ErrNotFound)
		}
	}

	for _, a := range cs.CreatedTokenAccounts {
		_, err := tx.Exec(ctx, `
			INSERT INTO token_accounts (address, mint, owner, amount, state)
			VALUES ($1, $2, $3, $4::numeric, $5)
		`, a.Address, a.Mint, a.Owner, numeric(a.Amount), int16(a.State))
		if err != nil {
			return fmt.Errorf("insert token account %s: %w", a.Address, err)
		}
	}
	for _, a := range cs.UpdatedTokenAccounts {
		tag, err := tx.Exec(ctx, `
			UPDATE token_accounts SET amount = $2::numeric, state = $3
			WHERE address = $1
		`, a.Address, numeric(a.Amount), int16(a.State))
		if err != nil {
			return fmt.Errorf("update token account %s: %w", a.Address, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("update token account %s: %w", a.Address, storage.ErrNotFound)
		}
	}

	for _, r := range cs.Records {
		_, err := tx.Exec(ctx, `
			INSERT INTO token_registry (factory, idx, mint, creator, token_account, signature, slot, created_at)
			VALUES ($1, $2::numeric, $3, $4, $5, $6, $7, $8)
		`, r.Factory, numeric(r.Index), r.Mint, r.Creator, r.TokenAccount, r.Signature, int64(r.Slot), r.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert registry record %s: %w", r.Mint, err)
		}
	}

	for _, e := range cs.Events {
		if err := insertEvent(ctx, tx, e); err != nil {
			return err
		}
	}

	_, err := tx.Exec(ctx, `
		UPDATE ledger_meta SET latest_slot = GREATEST(latest_slot, $1) WHERE id = 1
	`, int64(cs.Slot))
	if err != nil {
		return fmt.Errorf("update latest slot: %w", err)
	}
	return nil
}

// claimAddresses reserves the address of every created account in the shared
// accounts table, so one address never holds two account types.
func claimAddresses(ctx context.Context, tx pgx.Tx, cs *storage.ChangeSet) error {
	claim := func(address, kind string) error {
		_, err := tx.Exec(ctx, `INSERT INTO accounts (address, kind) VALUES ($1, $2)`, address, kind)
		if err != nil {
			return fmt.Errorf("claim %s address %s: %w", kind, address, err)
		}
		return nil
	}
	for _, f := range cs.CreatedFactories {
		if err := claim(f.Address, "factory"); err != nil {
			return err
		}
	}
	for _, m := range cs.CreatedMints {
		if err := claim(m.Address, "mint"); err != nil {
			return err
		}
	}
	for _, a := range cs.CreatedTokenAccounts {
		if err := claim(a.Address, "token_account"); err != nil {
			return err
		}
	}
	return nil
}

// ListByFactory retrieves all records of a factory, ordered by index ASC.
func (l *Ledger) ListByFactory(ctx context.Context, factory string) (records []*domain.TokenRecord, err error) {
	start := time.Now()
	defer func() { observe("list_registry", start, err) }()

	query := `
		SELECT factory, idx::text, mint, creator, token_account, signature, slot, created_at
		FROM token_registry
		WHERE factory = $1
		ORDER BY idx ASC
	`

	rows, err := l.pool.Query(ctx, query, factory)
	if err != nil {
		return nil, fmt.Errorf("list registry: %w", err)
	}
	defer rows.Close()

	records = []*domain.TokenRecord{}
	for rows.Next() {
		r, err := scanTokenRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registry record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registry: %w", err)
	}
	return records, nil
}

// GetByMint retrieves the registry record of a mint. Returns ErrNotFound if not exists.
func (l *Ledger) GetByMint(ctx context.Context, mint string) (r *domain.TokenRecord, err error) {
	start := time.Now()
	defer func() { observe("get_registry_record", start, err) }()

	query := `
		SELECT factory, idx::text, mint, creator, token_account, signature, slot, created_at
		FROM token_registry
		WHERE mint = $1
	`

	r, err = scanTokenRecord(l.pool.QueryRow(ctx, query, mint))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get registry record: %w", err)
	}
	return r, nil
}

// ListRecent retrieves up to limit records across all factories, newest first.
func (l *Ledger) ListRecent(ctx context.Context, limit int) (records []*domain.TokenRecord, err error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	start := time.Now()
	defer func() { observe("list_recent_registry", start, err) }()

	query := `
		SELECT factory, idx::text, mint, creator, token_account, signature, slot, created_at
		FROM token_registry
		ORDER BY slot DESC, created_at DESC, idx DESC
		LIMIT $1
	`

	rows, err := l.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent registry: %w", err)
	}
	defer rows.Close()

	records = []*domain.TokenRecord{}
	for rows.Next() {
		r, err := scanTokenRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registry record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registry: %w", err)
	}
	return records, nil
}

func scanTokenRecord(row pgx.Row) (*domain.TokenRecord, error) {
	var (
		r     domain.TokenRecord
		index string
		slot  int64
	)
	err := row.Scan(&r.Factory, &index, &r.Mint, &r.Creator, &r.TokenAccount, &r.Signature, &slot, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if r.Index, err = parseNumeric(index); err != nil {
		return nil, err
	}
	r.Slot = uint64(slot)
	return &r, nil
}
