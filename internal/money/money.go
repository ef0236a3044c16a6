// Package money holds currency-aware decimal helpers.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

var minTolerance = decimal.New(1, -2)

// ParseCurrency normalizes and validates an ISO 4217 code.
func ParseCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("money: unknown currency %q", code)
	}
	return unit.String(), nil
}

// Scale returns the number of minor-unit digits for code. Unknown codes use 2.
func Scale(code string) int32 {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

// Round rounds d half away from zero to the currency's minor unit.
func Round(d decimal.Decimal, code string) decimal.Decimal {
	return d.Round(Scale(code))
}

// Tolerance is the largest debit/credit difference still considered balanced:
// one minor unit, never finer than 0.01.
func Tolerance(code string) decimal.Decimal {
	unit := decimal.New(1, -Scale(code))
	if unit.LessThan(minTolerance) {
		return minTolerance
	}
	return unit
}

// WithinTolerance reports whether |a-b| is within the currency tolerance.
func WithinTolerance(a, b decimal.Decimal, code string) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance(code))
}

// Percent returns part/whole*100 rounded to two places, or false when whole is zero.
func Percent(part, whole decimal.Decimal) (decimal.Decimal, bool) {
	if whole.IsZero() {
		return decimal.Zero, false
	}
	return part.Div(whole).Mul(decimal.NewFromInt(100)).Round(2), true
}
