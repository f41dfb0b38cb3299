package domain

// TokenFactory is the per-authority counter record of the token factory program.
// Corresponds to token_factories table in PostgreSQL.
type TokenFactory struct {
	Address    string // program-derived address of ["token_factory", authority]
	Authority  string // owner of the record (base58 pubkey)
	TokenCount uint64 // number of successful create_token calls, never decreases
	Bump       uint8  // PDA bump seed
}

// TokenRecord is one entry in a factory's token registry.
// Corresponds to token_registry table in PostgreSQL.
type TokenRecord struct {
	Factory      string // factory address
	Index        uint64 // token_count after the create_token that produced it (1-based)
	Mint         string // mint address
	Creator      string // authority that created the token
	TokenAccount string // creator's associated token account
	Signature    string // transaction signature
	Slot         uint64 // slot of the creating transaction
	CreatedAt    int64  // block time (ms)
}
