// Package fx converts amounts into a reporting currency at report time.
package fx

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Policy describes which rate each statement converts with.
type Policy struct {
	ReportingCurrency  string
	ProfitLossMethod   Method
	BalanceSheetMethod Method
}

// Method enumerates supported FX conversion methods.
type Method string

const (
	// MethodAverage represents average rate usage for P&L.
	MethodAverage Method = "AVERAGE"
	// MethodClosing represents closing rate usage for balance sheet and trial balance.
	MethodClosing Method = "CLOSING"
)

// DefaultPolicy returns AVERAGE for P&L and CLOSING for balance sheet.
func DefaultPolicy(reporting string) Policy {
	return Policy{
		ReportingCurrency:  strings.ToUpper(reporting),
		ProfitLossMethod:   MethodAverage,
		BalanceSheetMethod: MethodClosing,
	}
}

// Quote is the pair of rates for one currency pair: one unit of base in quote currency.
type Quote struct {
	Average decimal.Decimal `json:"average"`
	Closing decimal.Decimal `json:"closing"`
}

// Rate returns the rate for method when it is configured.
func (q Quote) Rate(method Method) (decimal.Decimal, bool) {
	var rate decimal.Decimal
	switch method {
	case MethodAverage:
		rate = q.Average
	case MethodClosing:
		rate = q.Closing
	default:
		return decimal.Zero, false
	}
	return rate, rate.IsPositive()
}

// Pair returns the lookup key converting from into to, e.g. IDRUSD.
func Pair(from, to string) string {
	return strings.ToUpper(strings.TrimSpace(from)) + strings.ToUpper(strings.TrimSpace(to))
}
