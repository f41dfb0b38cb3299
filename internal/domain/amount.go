package domain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// UIAmount converts a raw token amount to display units.
func UIAmount(raw uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), -int32(decimals))
}

// FormatUIAmount renders raw with exactly decimals fractional digits.
func FormatUIAmount(raw uint64, decimals uint8) string {
	return UIAmount(raw, decimals).StringFixed(int32(decimals))
}

// ParseUIAmount converts a display amount such as "1.5" to raw units.
// It rejects negative values, more than decimals fractional digits and
// results that do not fit in a u64.
func ParseUIAmount(s string, decimals uint8) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount %q is negative", s)
	}

	raw := d.Shift(int32(decimals))
	if !raw.Equal(raw.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has more than %d decimal places", s, decimals)
	}

	n := raw.BigInt()
	if !n.IsUint64() {
		return 0, fmt.Errorf("amount %q overflows u64", s)
	}
	return n.Uint64(), nil
}
