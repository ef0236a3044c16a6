package reports

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/smartcode"
)

// CurrentEarningsCode labels the synthetic equity line carrying unclosed P&L.
const CurrentEarningsCode = "CURRENT-EARNINGS"

// BalanceSheetLine summarises an account for assets, liabilities, or equity.
type BalanceSheetLine struct {
	AccountID      uuid.UUID         `json:"account_id,omitempty"`
	Code           string            `json:"code"`
	Name           string            `json:"name"`
	Section        smartcode.Section `json:"section"`
	Current        bool              `json:"is_current"`
	LiquidityRank  int               `json:"liquidity_rank,omitempty"`
	Balance        decimal.Decimal   `json:"balance"`
	SubAccountIDs  []uuid.UUID       `json:"sub_account_ids,omitempty"`
	TransactionIDs []uuid.UUID       `json:"transaction_ids,omitempty"`
	inventory      bool
}

// BalanceSheetSection contains the lines and totals for a classification.
type BalanceSheetSection struct {
	Section    smartcode.Section  `json:"section"`
	Label      string             `json:"label"`
	Lines      []BalanceSheetLine `json:"lines"`
	Total      decimal.Decimal    `json:"total"`
	Current    decimal.Decimal    `json:"current"`
	NonCurrent decimal.Decimal    `json:"non_current"`
}

func (s *BalanceSheetSection) add(line BalanceSheetLine) {
	s.Lines = append(s.Lines, line)
	s.Total = s.Total.Add(line.Balance)
	if line.Current {
		s.Current = s.Current.Add(line.Balance)
	} else {
		s.NonCurrent = s.NonCurrent.Add(line.Balance)
	}
}

// Ratios is the optional ratio block. A ratio is nil when its denominator is zero.
type Ratios struct {
	CurrentRatio *decimal.Decimal `json:"current_ratio"`
	QuickRatio   *decimal.Decimal `json:"quick_ratio"`
	DebtToEquity *decimal.Decimal `json:"debt_to_equity"`
	DebtRatio    *decimal.Decimal `json:"debt_ratio"`
}

// LiquidityEntry ranks an asset line, most liquid first.
type LiquidityEntry struct {
	Rank      int             `json:"rank"`
	AccountID uuid.UUID       `json:"account_id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	Current   bool            `json:"is_current"`
}

// BalanceSheetSummary holds the statement totals.
type BalanceSheetSummary struct {
	TotalAssets               decimal.Decimal    `json:"total_assets"`
	TotalLiabilities          decimal.Decimal    `json:"total_liabilities"`
	TotalEquity               decimal.Decimal    `json:"total_equity"`
	TotalLiabilitiesAndEquity decimal.Decimal    `json:"total_liabilities_and_equity"`
	CurrentEarnings           decimal.Decimal    `json:"current_earnings"`
	CurrentAssets             decimal.Decimal    `json:"current_assets"`
	CurrentLiabilities        decimal.Decimal    `json:"current_liabilities"`
	WorkingCapital            decimal.Decimal    `json:"working_capital"`
	Difference                decimal.Decimal    `json:"difference"`
	IsBalanced                bool               `json:"is_balanced"`
	Ratios                    *Ratios            `json:"ratios,omitempty"`
	Performance               PerformanceMetrics `json:"performance_metrics"`
}

// BalanceSheet is the balance sheet report envelope.
type BalanceSheet struct {
	Header             Header              `json:"report_header"`
	Summary            BalanceSheetSummary `json:"summary"`
	Assets             BalanceSheetSection `json:"assets"`
	Liabilities        BalanceSheetSection `json:"liabilities"`
	Equity             BalanceSheetSection `json:"equity"`
	Liquidity          []LiquidityEntry    `json:"liquidity_ranking,omitempty"`
	Lines              []BalanceSheetLine  `json:"line_items"`
	DrillDownAvailable bool                `json:"drill_down_available"`
}

// sectionBalance is the closing balance signed towards the section's natural side.
func sectionBalance(acc AccountBalance) decimal.Decimal {
	closing := acc.Closing()
	if acc.NormalBalance != acc.Section.NormalBalance() {
		return closing.Neg()
	}
	return closing
}

// BuildBalanceSheet aggregates cumulative balances into assets, liabilities and equity.
// Income statement accounts are folded into equity as current earnings.
func BuildBalanceSheet(header Header, accounts []AccountBalance, includeRatios bool) BalanceSheet {
	assets := BalanceSheetSection{Section: smartcode.SectionAsset, Label: "Assets", Lines: []BalanceSheetLine{}}
	liabilities := BalanceSheetSection{Section: smartcode.SectionLiability, Label: "Liabilities", Lines: []BalanceSheetLine{}}
	equity := BalanceSheetSection{Section: smartcode.SectionEquity, Label: "Equity", Lines: []BalanceSheetLine{}}

	earnings := plTotals{}
	var earningsTxs []uuid.UUID
	for _, acc := range accounts {
		if isProfitAndLoss(acc.Section) {
			earnings.add(acc.Section, sectionBalance(acc))
			earningsTxs = append(earningsTxs, acc.TransactionIDs...)
			continue
		}
		line := BalanceSheetLine{
			AccountID:      acc.AccountID,
			Code:           acc.Code,
			Name:           acc.Name,
			Section:        acc.Section,
			Current:        acc.Current,
			LiquidityRank:  acc.LiquidityRank,
			Balance:        sectionBalance(acc),
			SubAccountIDs:  acc.SubAccountIDs,
			TransactionIDs: acc.TransactionIDs,
			inventory:      acc.Inventory,
		}
		switch acc.Section {
		case smartcode.SectionAsset:
			assets.add(line)
		case smartcode.SectionLiability:
			liabilities.add(line)
		case smartcode.SectionEquity:
			equity.add(line)
		}
	}

	currentEarnings := earnings.netIncome()
	if !currentEarnings.IsZero() {
		sortIDs(earningsTxs)
		equity.add(BalanceSheetLine{
			Code:           CurrentEarningsCode,
			Name:           "Current earnings",
			Section:        smartcode.SectionEquity,
			Balance:        currentEarnings,
			TransactionIDs: dedupeIDs(earningsTxs),
		})
	}

	for _, sec := range []*BalanceSheetSection{&assets, &liabilities, &equity} {
		sort.SliceStable(sec.Lines, func(i, j int) bool { return sec.Lines[i].Code < sec.Lines[j].Code })
	}

	result := BalanceSheet{Header: header, Assets: assets, Liabilities: liabilities, Equity: equity}
	s := &result.Summary
	s.TotalAssets = assets.Total
	s.TotalLiabilities = liabilities.Total
	s.TotalEquity = equity.Total
	s.TotalLiabilitiesAndEquity = liabilities.Total.Add(equity.Total)
	s.CurrentEarnings = currentEarnings
	s.CurrentAssets = assets.Current
	s.CurrentLiabilities = liabilities.Current
	s.WorkingCapital = assets.Current.Sub(liabilities.Current)
	s.Difference = s.TotalAssets.Sub(s.TotalLiabilitiesAndEquity)
	s.IsBalanced = money.WithinTolerance(s.TotalAssets, s.TotalLiabilitiesAndEquity, header.Currency)
	if includeRatios {
		s.Ratios = ratiosOf(assets, liabilities, equity)
		result.Liquidity = rankLiquidity(assets.Lines)
	}

	result.Lines = make([]BalanceSheetLine, 0, len(assets.Lines)+len(liabilities.Lines)+len(equity.Lines))
	result.Lines = append(result.Lines, assets.Lines...)
	result.Lines = append(result.Lines, liabilities.Lines...)
	result.Lines = append(result.Lines, equity.Lines...)
	result.DrillDownAvailable = len(result.Lines) > 0
	return result
}

func ratiosOf(assets, liabilities, equity BalanceSheetSection) *Ratios {
	inventory := decimal.Zero
	for _, line := range assets.Lines {
		if line.Current && line.inventory {
			inventory = inventory.Add(line.Balance)
		}
	}
	return &Ratios{
		CurrentRatio: ratio(assets.Current, liabilities.Current),
		QuickRatio:   ratio(assets.Current.Sub(inventory), liabilities.Current),
		DebtToEquity: ratio(liabilities.Total, equity.Total),
		DebtRatio:    ratio(liabilities.Total, assets.Total),
	}
}

func ratio(num, den decimal.Decimal) *decimal.Decimal {
	if den.IsZero() {
		return nil
	}
	r := num.DivRound(den, 4)
	return &r
}

// rankLiquidity orders asset lines by explicit liquidity rank, then current before
// non-current, then code. Unranked lines follow ranked ones.
func rankLiquidity(lines []BalanceSheetLine) []LiquidityEntry {
	ordered := append([]BalanceSheetLine(nil), lines...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if (a.LiquidityRank > 0) != (b.LiquidityRank > 0) {
			return a.LiquidityRank > 0
		}
		if a.LiquidityRank != b.LiquidityRank {
			return a.LiquidityRank < b.LiquidityRank
		}
		if a.Current != b.Current {
			return a.Current
		}
		return a.Code < b.Code
	})
	out := make([]LiquidityEntry, 0, len(ordered))
	for i, line := range ordered {
		out = append(out, LiquidityEntry{
			Rank:      i + 1,
			AccountID: line.AccountID,
			Code:      line.Code,
			Name:      line.Name,
			Balance:   line.Balance,
			Current:   line.Current,
		})
	}
	return out
}

func dedupeIDs(sorted []uuid.UUID) []uuid.UUID {
	out := sorted[:0]
	for i, id := range sorted {
		if i > 0 && id == sorted[i-1] {
			continue
		}
		out = append(out, id)
	}
	return out
}
