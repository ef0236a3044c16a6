package fx

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MissingRateError reports a pair without a usable rate.
type MissingRateError struct {
	Pair   string
	Method Method
}

func (e *MissingRateError) Error() string {
	return fmt.Sprintf("fx: missing %s rate for %s", e.Method, e.Pair)
}

// Converter applies FX policy rules to amounts.
type Converter struct {
	policy Policy
	quotes map[string]Quote
}

// NewConverter constructs a converter over quotes keyed by Pair.
func NewConverter(policy Policy, quotes map[string]Quote) *Converter {
	normalized := make(map[string]Quote, len(quotes))
	for pair, q := range quotes {
		normalized[strings.ToUpper(pair)] = q
	}
	policy.ReportingCurrency = strings.ToUpper(policy.ReportingCurrency)
	if policy.ProfitLossMethod == "" {
		policy.ProfitLossMethod = MethodAverage
	}
	if policy.BalanceSheetMethod == "" {
		policy.BalanceSheetMethod = MethodClosing
	}
	return &Converter{policy: policy, quotes: normalized}
}

// Policy returns the effective policy.
func (c *Converter) Policy() Policy {
	return c.policy
}

// Rate resolves the multiplier converting one unit of currency into the reporting currency.
// Same-currency conversion is 1; an inverse quote is used when only the opposite pair exists.
func (c *Converter) Rate(currency string, method Method) (decimal.Decimal, error) {
	currency = strings.ToUpper(currency)
	if currency == c.policy.ReportingCurrency {
		return decimal.NewFromInt(1), nil
	}
	pair := Pair(currency, c.policy.ReportingCurrency)
	if q, ok := c.quotes[pair]; ok {
		if rate, ok := q.Rate(method); ok {
			return rate, nil
		}
	}
	if q, ok := c.quotes[Pair(c.policy.ReportingCurrency, currency)]; ok {
		if rate, ok := q.Rate(method); ok {
			return decimal.NewFromInt(1).DivRound(rate, 16), nil
		}
	}
	return decimal.Zero, &MissingRateError{Pair: pair, Method: method}
}

// Convert converts amount from currency into the reporting currency.
func (c *Converter) Convert(amount decimal.Decimal, currency string, method Method) (decimal.Decimal, error) {
	rate, err := c.Rate(currency, method)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate), nil
}

// Line is an amount eligible for FX conversion.
type Line struct {
	AccountCode   string
	LocalCurrency string
	LocalAmount   decimal.Decimal
	GroupAmount   decimal.Decimal
}

// ConvertProfitLoss applies the P&L method and returns the converted lines with the
// difference against the previously stated group amounts.
func (c *Converter) ConvertProfitLoss(input []Line) ([]Line, decimal.Decimal, error) {
	return c.convertLines(input, c.policy.ProfitLossMethod)
}

// ConvertBalanceSheet applies the balance sheet method.
func (c *Converter) ConvertBalanceSheet(input []Line) ([]Line, decimal.Decimal, error) {
	return c.convertLines(input, c.policy.BalanceSheetMethod)
}

func (c *Converter) convertLines(input []Line, method Method) ([]Line, decimal.Decimal, error) {
	out := make([]Line, 0, len(input))
	delta := decimal.Zero
	for _, line := range input {
		converted, err := c.Convert(line.LocalAmount, line.LocalCurrency, method)
		if err != nil {
			return nil, decimal.Zero, err
		}
		delta = delta.Add(converted.Sub(line.GroupAmount))
		line.GroupAmount = converted
		out = append(out, line)
	}
	return out, delta, nil
}
