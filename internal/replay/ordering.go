package replay

import (
	"sort"

	"hypertoken/internal/domain"
)

// SortEvents orders events by (slot ASC, signature ASC, index ASC, kind ASC).
func SortEvents(events []*domain.EventRecord) {
	sort.SliceStable(events, func(i, j int) bool {
		return compareEvents(events[i], events[j]) < 0
	})
}

// CheckOrder returns ErrInvalidOrdering unless events are strictly increasing in log order.
func CheckOrder(events []*domain.EventRecord) error {
	for i := 1; i < len(events); i++ {
		if compareEvents(events[i-1], events[i]) >= 0 {
			return ErrInvalidOrdering
		}
	}
	return nil
}

// compareEvents returns a negative number when a precedes b, zero when the keys are equal.
// Kind breaks ties so the order is total even for malformed input.
func compareEvents(a, b *domain.EventRecord) int {
	if a.Slot != b.Slot {
		if a.Slot < b.Slot {
			return -1
		}
		return 1
	}
	if a.Signature != b.Signature {
		if a.Signature < b.Signature {
			return -1
		}
		return 1
	}
	if a.Index != b.Index {
		return a.Index - b.Index
	}
	if a.Kind != b.Kind {
		if a.Kind < b.Kind {
			return -1
		}
		return 1
	}
	return 0
}
