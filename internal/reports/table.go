package reports

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// Table is a flat rendering of a report used by exporters.
type Table struct {
	Header  Header
	Columns []string
	Rows    [][]string
	Summary []SummaryRow
}

// SummaryRow is a labelled total printed under the table.
type SummaryRow struct {
	Label string
	Value string
}

// Tabular is implemented by every report.
type Tabular interface {
	Table() Table
}

func amount(d decimal.Decimal) string { return d.StringFixed(2) }

func optional(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.StringFixed(2)
}

// Table renders the trial balance.
func (r TrialBalance) Table() Table {
	t := Table{
		Header:  r.Header,
		Columns: []string{"Code", "Account", "Type", "Normal", "Opening", "Debit", "Credit", "Closing"},
	}
	for _, line := range r.Lines {
		t.Rows = append(t.Rows, []string{
			line.Code, line.Name, string(line.Section), string(line.NormalBalance),
			amount(line.Opening), amount(line.Debit), amount(line.Credit), amount(line.Closing),
		})
	}
	t.Summary = []SummaryRow{
		{"Total debit", amount(r.Summary.TotalDebit)},
		{"Total credit", amount(r.Summary.TotalCredit)},
		{"Difference", amount(r.Summary.Difference)},
		{"Balanced", strconv.FormatBool(r.Summary.IsBalanced)},
	}
	return t
}

// Table renders the P&L, one row per account plus a total row per section.
func (r ProfitAndLoss) Table() Table {
	t := Table{
		Header:  r.Header,
		Columns: []string{"Section", "Code", "Account", "Amount", "Previous period", "Budget"},
	}
	for _, sec := range r.Sections {
		for _, line := range sec.Lines {
			t.Rows = append(t.Rows, []string{
				sec.Label, line.Code, line.Name, amount(line.Amount),
				comparisonAmount(line.PreviousPeriod), comparisonAmount(line.Budget),
			})
		}
		t.Rows = append(t.Rows, []string{
			sec.Label, "", "Total " + sec.Label, amount(sec.Total),
			comparisonAmount(sec.PreviousPeriod), comparisonAmount(sec.Budget),
		})
	}
	t.Summary = []SummaryRow{
		{"Revenue", amount(r.Summary.Revenue)},
		{"Gross profit", amount(r.Summary.GrossProfit)},
		{"Operating income", amount(r.Summary.OperatingIncome)},
		{"Net income", amount(r.Summary.NetIncome)},
		{"Gross margin %", optional(r.Summary.GrossMargin)},
		{"Net margin %", optional(r.Summary.NetMargin)},
	}
	return t
}

func comparisonAmount(c *Comparison) string {
	if c == nil {
		return ""
	}
	return amount(c.Amount)
}

// Table renders the balance sheet.
func (r BalanceSheet) Table() Table {
	t := Table{
		Header:  r.Header,
		Columns: []string{"Section", "Code", "Account", "Current", "Balance"},
	}
	for _, sec := range []BalanceSheetSection{r.Assets, r.Liabilities, r.Equity} {
		for _, line := range sec.Lines {
			t.Rows = append(t.Rows, []string{
				sec.Label, line.Code, line.Name, strconv.FormatBool(line.Current), amount(line.Balance),
			})
		}
		t.Rows = append(t.Rows, []string{sec.Label, "", "Total " + sec.Label, "", amount(sec.Total)})
	}
	t.Summary = []SummaryRow{
		{"Total assets", amount(r.Summary.TotalAssets)},
		{"Total liabilities and equity", amount(r.Summary.TotalLiabilitiesAndEquity)},
		{"Working capital", amount(r.Summary.WorkingCapital)},
		{"Balanced", strconv.FormatBool(r.Summary.IsBalanced)},
	}
	if ratios := r.Summary.Ratios; ratios != nil {
		t.Summary = append(t.Summary,
			SummaryRow{"Current ratio", optionalRatio(ratios.CurrentRatio)},
			SummaryRow{"Quick ratio", optionalRatio(ratios.QuickRatio)},
			SummaryRow{"Debt to equity", optionalRatio(ratios.DebtToEquity)},
			SummaryRow{"Debt ratio", optionalRatio(ratios.DebtRatio)},
		)
	}
	return t
}

func optionalRatio(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.StringFixed(4)
}
