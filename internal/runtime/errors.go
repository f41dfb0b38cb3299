package runtime

import "errors"

// Host-level errors. They abort the transaction like program errors do.
var (
	// ErrAccountInUse is returned when creating an account that already exists.
	ErrAccountInUse = errors.New("account already in use")

	// ErrAccountNotFound is returned when reading an account that does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountNotWritable is returned when writing an account the call did not declare.
	ErrAccountNotWritable = errors.New("account not declared writable")

	// ErrMissingPayer is returned when a call has no fee payer.
	ErrMissingPayer = errors.New("missing fee payer")
)
