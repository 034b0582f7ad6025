package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// FromCents converts integer minor units into a decimal major-unit amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// ToCents converts a major-unit amount to minor units. Fractions of a cent
// are rejected rather than rounded.
func ToCents(amount decimal.Decimal) (int64, error) {
	scaled := amount.Mul(hundred)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than two decimal places", amount.String())
	}
	if !scaled.Truncate(0).BigInt().IsInt64() {
		return 0, fmt.Errorf("amount %s out of range", amount.String())
	}
	return scaled.IntPart(), nil
}

// ParseCents parses a decimal string such as "100.00" into minor units.
func ParseCents(raw string) (int64, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return ToCents(amount)
}

// Format renders cents as a fixed two-decimal string, e.g. 10050 -> "100.50".
func Format(cents int64) string {
	return FromCents(cents).StringFixed(2)
}

// LineTotal multiplies a unit cost by a quantity in minor units.
func LineTotal(unitCents, quantity int64) int64 {
	return decimal.NewFromInt(unitCents).Mul(decimal.NewFromInt(quantity)).IntPart()
}

// NormalizeCurrency lowercases an ISO currency code, defaulting when blank.
func NormalizeCurrency(code, fallback string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return strings.ToLower(fallback)
	}
	return code
}
