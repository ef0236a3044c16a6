package reports

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/smartcode"
)

// profitAndLossSections is the statement order of P&L sections.
var profitAndLossSections = []struct {
	section smartcode.Section
	label   string
}{
	{smartcode.SectionRevenue, "Revenue"},
	{smartcode.SectionCOGS, "Cost of goods sold"},
	{smartcode.SectionOperatingExpense, "Operating expenses"},
	{smartcode.SectionOtherIncome, "Other income"},
	{smartcode.SectionOtherExpense, "Other expenses"},
}

// ProfitAndLossLine is an account row of the P&L.
type ProfitAndLossLine struct {
	AccountID      uuid.UUID         `json:"account_id"`
	Code           string            `json:"code"`
	Name           string            `json:"name"`
	Section        smartcode.Section `json:"section"`
	DisplayOrder   int               `json:"display_order"`
	Amount         decimal.Decimal   `json:"amount"`
	PreviousPeriod *Comparison       `json:"previous_period,omitempty"`
	Budget         *Comparison       `json:"budget,omitempty"`
	SubAccountIDs  []uuid.UUID       `json:"sub_account_ids,omitempty"`
	TransactionIDs []uuid.UUID       `json:"transaction_ids,omitempty"`
}

// ProfitAndLossSection groups accounts by nature.
type ProfitAndLossSection struct {
	Section        smartcode.Section   `json:"section"`
	Label          string              `json:"label"`
	Lines          []ProfitAndLossLine `json:"lines"`
	Total          decimal.Decimal     `json:"total"`
	PreviousPeriod *Comparison         `json:"previous_period,omitempty"`
	Budget         *Comparison         `json:"budget,omitempty"`
}

// ProfitAndLossSummary holds the statement totals and margins.
type ProfitAndLossSummary struct {
	Revenue           decimal.Decimal    `json:"total_revenue"`
	COGS              decimal.Decimal    `json:"total_cogs"`
	GrossProfit       decimal.Decimal    `json:"gross_profit"`
	OperatingExpenses decimal.Decimal    `json:"total_operating_expenses"`
	OperatingIncome   decimal.Decimal    `json:"operating_income"`
	OtherIncome       decimal.Decimal    `json:"other_income"`
	OtherExpenses     decimal.Decimal    `json:"other_expenses"`
	NetIncome         decimal.Decimal    `json:"net_income"`
	GrossMargin       *decimal.Decimal   `json:"gross_margin_pct,omitempty"`
	OperatingMargin   *decimal.Decimal   `json:"operating_margin_pct,omitempty"`
	NetMargin         *decimal.Decimal   `json:"net_margin_pct,omitempty"`
	PreviousNetIncome *Comparison        `json:"previous_period_net_income,omitempty"`
	BudgetNetIncome   *Comparison        `json:"budget_net_income,omitempty"`
	Performance       PerformanceMetrics `json:"performance_metrics"`
}

// ProfitAndLoss is the P&L report envelope.
type ProfitAndLoss struct {
	Header             Header                 `json:"report_header"`
	Summary            ProfitAndLossSummary   `json:"summary"`
	Sections           []ProfitAndLossSection `json:"sections"`
	Lines              []ProfitAndLossLine    `json:"line_items"`
	DrillDownAvailable bool                   `json:"drill_down_available"`
}

// sectionAmount is the period movement towards the section's natural side, so contra
// accounts reduce their section.
func sectionAmount(acc AccountBalance) decimal.Decimal {
	if acc.Section.NormalBalance() == smartcode.Credit {
		return acc.Credit.Sub(acc.Debit)
	}
	return acc.Debit.Sub(acc.Credit)
}

type plTotals struct {
	revenue, cogs, opex, otherIncome, otherExpense decimal.Decimal
}

func (t *plTotals) add(section smartcode.Section, amount decimal.Decimal) {
	switch section {
	case smartcode.SectionRevenue:
		t.revenue = t.revenue.Add(amount)
	case smartcode.SectionCOGS:
		t.cogs = t.cogs.Add(amount)
	case smartcode.SectionOperatingExpense:
		t.opex = t.opex.Add(amount)
	case smartcode.SectionOtherIncome:
		t.otherIncome = t.otherIncome.Add(amount)
	case smartcode.SectionOtherExpense:
		t.otherExpense = t.otherExpense.Add(amount)
	}
}

func (t plTotals) grossProfit() decimal.Decimal { return t.revenue.Sub(t.cogs) }

func (t plTotals) operatingIncome() decimal.Decimal { return t.grossProfit().Sub(t.opex) }

func (t plTotals) netIncome() decimal.Decimal {
	return t.operatingIncome().Add(t.otherIncome).Sub(t.otherExpense)
}

func totalsOf(accounts []AccountBalance) plTotals {
	var t plTotals
	for _, acc := range accounts {
		t.add(acc.Section, sectionAmount(acc))
	}
	return t
}

// BuildProfitAndLoss groups income statement accounts into sections. previous and budget
// are nil when the comparison was not requested.
func BuildProfitAndLoss(header Header, actual, previous, budget []AccountBalance) ProfitAndLoss {
	type comparable struct {
		acc      AccountBalance
		previous decimal.Decimal
		budget   decimal.Decimal
	}
	rows := make(map[uuid.UUID]*comparable)
	var order []uuid.UUID
	upsert := func(acc AccountBalance) *comparable {
		row, ok := rows[acc.AccountID]
		if !ok {
			base := acc
			base.Debit, base.Credit, base.Opening = decimal.Zero, decimal.Zero, decimal.Zero
			base.TransactionIDs, base.SubAccountIDs = nil, nil
			row = &comparable{acc: base}
			rows[acc.AccountID] = row
			order = append(order, acc.AccountID)
		}
		return row
	}
	for _, acc := range actual {
		if !isProfitAndLoss(acc.Section) {
			continue
		}
		upsert(acc).acc = acc
	}
	for _, acc := range previous {
		if isProfitAndLoss(acc.Section) {
			row := upsert(acc)
			row.previous = row.previous.Add(sectionAmount(acc))
		}
	}
	for _, acc := range budget {
		if isProfitAndLoss(acc.Section) {
			row := upsert(acc)
			row.budget = row.budget.Add(sectionAmount(acc))
		}
	}

	bySection := make(map[smartcode.Section][]ProfitAndLossLine)
	for _, id := range order {
		row := rows[id]
		line := ProfitAndLossLine{
			AccountID:      row.acc.AccountID,
			Code:           row.acc.Code,
			Name:           row.acc.Name,
			Section:        row.acc.Section,
			DisplayOrder:   row.acc.DisplayOrder,
			Amount:         sectionAmount(row.acc),
			SubAccountIDs:  row.acc.SubAccountIDs,
			TransactionIDs: row.acc.TransactionIDs,
		}
		if previous != nil {
			line.PreviousPeriod = Compare(line.Amount, row.previous)
		}
		if budget != nil {
			line.Budget = Compare(line.Amount, row.budget)
		}
		bySection[line.Section] = append(bySection[line.Section], line)
	}

	result := ProfitAndLoss{Header: header}
	var actualTotals, previousTotals, budgetTotals plTotals
	for _, def := range profitAndLossSections {
		lines := bySection[def.section]
		sort.Slice(lines, func(i, j int) bool {
			if lines[i].DisplayOrder != lines[j].DisplayOrder {
				return lines[i].DisplayOrder < lines[j].DisplayOrder
			}
			return lines[i].Code < lines[j].Code
		})
		section := ProfitAndLossSection{Section: def.section, Label: def.label, Lines: lines}
		if section.Lines == nil {
			section.Lines = []ProfitAndLossLine{}
		}
		var prevTotal, budgetTotal decimal.Decimal
		for _, line := range lines {
			section.Total = section.Total.Add(line.Amount)
			if line.PreviousPeriod != nil {
				prevTotal = prevTotal.Add(line.PreviousPeriod.Amount)
			}
			if line.Budget != nil {
				budgetTotal = budgetTotal.Add(line.Budget.Amount)
			}
		}
		if previous != nil {
			section.PreviousPeriod = Compare(section.Total, prevTotal)
			previousTotals.add(def.section, prevTotal)
		}
		if budget != nil {
			section.Budget = Compare(section.Total, budgetTotal)
			budgetTotals.add(def.section, budgetTotal)
		}
		actualTotals.add(def.section, section.Total)
		result.Sections = append(result.Sections, section)
		result.Lines = append(result.Lines, lines...)
	}
	if result.Lines == nil {
		result.Lines = []ProfitAndLossLine{}
	}

	s := &result.Summary
	s.Revenue = actualTotals.revenue
	s.COGS = actualTotals.cogs
	s.GrossProfit = actualTotals.grossProfit()
	s.OperatingExpenses = actualTotals.opex
	s.OperatingIncome = actualTotals.operatingIncome()
	s.OtherIncome = actualTotals.otherIncome
	s.OtherExpenses = actualTotals.otherExpense
	s.NetIncome = actualTotals.netIncome()
	s.GrossMargin = percentOf(s.GrossProfit, s.Revenue)
	s.OperatingMargin = percentOf(s.OperatingIncome, s.Revenue)
	s.NetMargin = percentOf(s.NetIncome, s.Revenue)
	if previous != nil {
		s.PreviousNetIncome = Compare(s.NetIncome, previousTotals.netIncome())
	}
	if budget != nil {
		s.BudgetNetIncome = Compare(s.NetIncome, budgetTotals.netIncome())
	}
	result.DrillDownAvailable = len(result.Lines) > 0
	return result
}

func isProfitAndLoss(section smartcode.Section) bool {
	return section != "" && !section.IsBalanceSheet()
}

func percentOf(part, whole decimal.Decimal) *decimal.Decimal {
	pct, ok := money.Percent(part, whole)
	if !ok {
		return nil
	}
	return &pct
}
