package tokenprogram

import "errors"

// Token program errors. Any of them aborts the enclosing transaction.
var (
	// ErrAlreadyInUse is returned when initializing an account that already exists.
	ErrAlreadyInUse = errors.New("account or token already in use")

	// ErrUninitializedState is returned when the mint or account is not initialized.
	ErrUninitializedState = errors.New("state is uninitialized")

	// ErrOwnerMismatch is returned when the signer is not the required authority.
	ErrOwnerMismatch = errors.New("owner does not match")

	// ErrMintMismatch is returned when a token account belongs to another mint.
	ErrMintMismatch = errors.New("account not associated with this mint")

	// ErrAccountFrozen is returned when minting into a frozen account.
	ErrAccountFrozen = errors.New("account is frozen")

	// ErrOverflow is returned when an amount would overflow u64.
	ErrOverflow = errors.New("operation overflowed")
)
