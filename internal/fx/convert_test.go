package fx

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestConvertProfitLossAverage(t *testing.T) {
	policy := Policy{ReportingCurrency: "USD", ProfitLossMethod: MethodAverage}
	quotes := map[string]Quote{
		"IDRUSD": {Average: d("0.00007"), Closing: d("0.00006")},
	}
	converter := NewConverter(policy, quotes)
	lines, delta, err := converter.ConvertProfitLoss([]Line{{
		AccountCode:   "4000",
		LocalCurrency: "idr",
		LocalAmount:   d("1000000"),
		GroupAmount:   d("65"),
	}})
	if err != nil {
		t.Fatalf("ConvertProfitLoss returned error: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected one line got %d", len(lines))
	}
	if !lines[0].GroupAmount.Equal(d("70")) {
		t.Fatalf("expected converted amount 70 got %s", lines[0].GroupAmount)
	}
	if !delta.Equal(d("5")) {
		t.Fatalf("unexpected delta %s", delta)
	}
}

func TestConvertBalanceSheetClosing(t *testing.T) {
	policy := Policy{ReportingCurrency: "USD", BalanceSheetMethod: MethodClosing}
	quotes := map[string]Quote{
		"JPYUSD": {Average: d("0.009"), Closing: d("0.0095")},
	}
	converter := NewConverter(policy, quotes)
	lines, delta, err := converter.ConvertBalanceSheet([]Line{{
		AccountCode:   "1000",
		LocalCurrency: "JPY",
		LocalAmount:   d("10000"),
		GroupAmount:   d("80"),
	}})
	if err != nil {
		t.Fatalf("ConvertBalanceSheet returned error: %v", err)
	}
	if !lines[0].GroupAmount.Equal(d("95")) {
		t.Fatalf("expected converted amount 95 got %s", lines[0].GroupAmount)
	}
	if !delta.Equal(d("15")) {
		t.Fatalf("expected delta 15 got %s", delta)
	}
}

func TestConvertMissingRate(t *testing.T) {
	converter := NewConverter(Policy{ReportingCurrency: "USD"}, map[string]Quote{})
	_, _, err := converter.ConvertProfitLoss([]Line{{
		AccountCode:   "4000",
		LocalCurrency: "EUR",
		LocalAmount:   d("100"),
		GroupAmount:   d("110"),
	}})
	var missing *MissingRateError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingRateError got %T", err)
	}
	if missing.Pair != "EURUSD" || missing.Method != MethodAverage {
		t.Fatalf("unexpected gap %+v", missing)
	}
}

func TestConvertDefaultsToParity(t *testing.T) {
	converter := NewConverter(Policy{ReportingCurrency: "USD"}, map[string]Quote{})
	lines, delta, err := converter.ConvertProfitLoss([]Line{{
		AccountCode:   "4000",
		LocalCurrency: "USD",
		LocalAmount:   d("50"),
		GroupAmount:   d("40"),
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !lines[0].GroupAmount.Equal(d("50")) {
		t.Fatalf("expected amount 50 got %s", lines[0].GroupAmount)
	}
	if !delta.Equal(d("10")) {
		t.Fatalf("expected delta 10 got %s", delta)
	}
}

func TestConvertUsesInverseQuote(t *testing.T) {
	converter := NewConverter(Policy{ReportingCurrency: "EUR"}, map[string]Quote{
		"EURUSD": {Closing: d("1.25")},
	})
	got, err := converter.Convert(d("125"), "USD", MethodClosing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Round(6).Equal(d("100")) {
		t.Fatalf("expected 100 got %s", got)
	}
}
