package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidUnits = errors.New("invalid token amount")

// FormatUnits renders a raw token amount with decimals places, e.g.
// FormatUnits(1500000, 6) == "1.5".
func FormatUnits(raw uint64, decimals int) string {
	d, _ := decimal.NewFromString(strconv.FormatUint(raw, 10))
	return d.Shift(int32(-decimals)).String()
}

// ParseUnits converts a UI amount such as "1.5" into raw units. Amounts with
// more fractional digits than decimals are rejected rather than rounded.
func ParseUnits(s string, decimals int) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidUnits, s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidUnits, s)
	}
	raw := d.Shift(int32(decimals))
	if !raw.IsInteger() {
		return 0, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidUnits, s, decimals)
	}
	b := raw.BigInt()
	if !b.IsUint64() {
		return 0, fmt.Errorf("%w: %q overflows u64", ErrInvalidUnits, s)
	}
	return b.Uint64(), nil
}
