package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Currency is an ISO 4217 currency with its minor-unit scale (2 for USD, 0 for JPY)
type Currency struct {
	Code  string // lower-case, as the payment provider expects it
	Scale int32
}

// ParseCurrency validates an ISO 4217 code and resolves its standard scale
func ParseCurrency(code string) (Currency, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return Currency{}, fmt.Errorf("invalid currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return Currency{
		Code:  strings.ToLower(unit.String()),
		Scale: int32(scale),
	}, nil
}

// FromMinor converts an amount in minor units to a decimal in major units
func (c Currency) FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -c.Scale)
}

// ToMinor converts a decimal amount in major units to minor units.
// Amounts with more precision than the currency allows are rejected.
func (c Currency) ToMinor(amount decimal.Decimal) (int64, error) {
	shifted := amount.Shift(c.Scale)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("amount %s has more precision than %s allows", amount.String(), strings.ToUpper(c.Code))
	}
	return shifted.IntPart(), nil
}

// Format renders minor units as a fixed-point string ("48.60")
func (c Currency) Format(minor int64) string {
	return c.FromMinor(minor).StringFixed(c.Scale)
}
