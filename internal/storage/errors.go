package storage

import "errors"

// Storage errors shared by every backend. Driver errors are mapped onto these.
var (
	// ErrNotFound is returned when a record, or the target of an update, does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a created account, registry entry or event
	// already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when a record is missing its key fields.
	ErrInvalidInput = errors.New("invalid input")
)

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateKey reports whether err is or wraps ErrDuplicateKey.
func IsDuplicateKey(err error) bool {
	return errors.Is(err, ErrDuplicateKey)
}
