package factory

import (
	"errors"
	"fmt"
)

// ProgramError is a terminal error raised by the factory program. Codes follow the
// Anchor convention of starting custom errors at 6000.
type ProgramError struct {
	Code uint32
	Name string
	Msg  string
}

func (e *ProgramError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Msg)
}

// Program errors.
var (
	ErrInvalidName     = &ProgramError{Code: 6000, Name: "InvalidName", Msg: "Invalid token name"}
	ErrInvalidSymbol   = &ProgramError{Code: 6001, Name: "InvalidSymbol", Msg: "Invalid token symbol"}
	ErrInvalidDecimals = &ProgramError{Code: 6002, Name: "InvalidDecimals", Msg: "Invalid decimals (must be <= 9)"}
	ErrInvalidSupply   = &ProgramError{Code: 6003, Name: "InvalidSupply", Msg: "Invalid initial supply"}
	ErrUnauthorized    = &ProgramError{Code: 6004, Name: "Unauthorized", Msg: "Unauthorized"}
)

// Errors raised before a transaction is submitted.
var (
	// ErrInvalidAddress is returned for a malformed base58 public key.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrCounterOverflow is returned when token_count cannot be incremented.
	ErrCounterOverflow = errors.New("token count overflow")
)

// AsProgramError extracts a ProgramError from err.
func AsProgramError(err error) (*ProgramError, bool) {
	var pe *ProgramError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
