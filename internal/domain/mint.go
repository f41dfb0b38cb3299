package domain

// Mint is the token program's record of a fungible token type.
// Corresponds to mints table in PostgreSQL.
type Mint struct {
	Address         string
	Decimals        uint8
	Supply          uint64
	MintAuthority   *string // nil once the authority is revoked
	FreezeAuthority *string
	IsInitialized   bool
}

// HasMintAuthority reports whether authority is the mint's current mint authority.
// A mint without an authority matches nobody.
func (m *Mint) HasMintAuthority(authority string) bool {
	return m.MintAuthority != nil && *m.MintAuthority == authority
}

// TokenAccountState mirrors the SPL token account state byte.
type TokenAccountState uint8

const (
	TokenAccountUninitialized TokenAccountState = iota
	TokenAccountInitialized
	TokenAccountFrozen
)

// TokenAccount holds a balance of one mint for one owner.
// Corresponds to token_accounts table in PostgreSQL.
type TokenAccount struct {
	Address string
	Mint    string
	Owner   string
	Amount  uint64
	State   TokenAccountState
}
