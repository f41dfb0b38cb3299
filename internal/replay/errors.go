package replay

import "errors"

var (
	// ErrInvalidOrdering is returned when events are not in log order.
	ErrInvalidOrdering = errors.New("events are not in deterministic order")
	// ErrInvalidRange is returned when the start slot is past the end slot.
	ErrInvalidRange = errors.New("invalid slot range")
)
