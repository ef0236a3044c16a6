package reports

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/fx"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/smartcode"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func usdHeader(kind Kind) Header {
	return Header{Report: kind, Title: kind.Title(), Currency: "USD", EndDate: time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)}
}

func bal(code string, section smartcode.Section, opening, debit, credit string) AccountBalance {
	return AccountBalance{
		AccountID:     uuid.New(),
		Code:          code,
		Name:          code,
		Section:       section,
		NormalBalance: section.NormalBalance(),
		Opening:       d(opening),
		Debit:         d(debit),
		Credit:        d(credit),
	}
}

func identityConverter() *fx.Converter {
	return fx.NewConverter(fx.DefaultPolicy("USD"), nil)
}

func TestBuildTrialBalance(t *testing.T) {
	accounts := []AccountBalance{
		bal("1000", smartcode.SectionAsset, "1000", "200", "150"),
		bal("2000", smartcode.SectionLiability, "300", "10", "60"),
		bal("4000", smartcode.SectionRevenue, "0", "0", "0"),
	}
	tb := BuildTrialBalance(usdHeader(KindTrialBalance), accounts)
	if len(tb.Lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(tb.Lines))
	}
	if !tb.Lines[0].Closing.Equal(d("1050")) {
		t.Fatalf("debit-normal closing should be opening+debit-credit, got %s", tb.Lines[0].Closing)
	}
	if !tb.Lines[1].Closing.Equal(d("350")) {
		t.Fatalf("credit-normal closing should be opening+credit-debit, got %s", tb.Lines[1].Closing)
	}
	if !tb.Summary.TotalDebit.Equal(d("210")) || !tb.Summary.TotalCredit.Equal(d("210")) {
		t.Fatalf("unexpected totals %s/%s", tb.Summary.TotalDebit, tb.Summary.TotalCredit)
	}
	if !tb.Summary.IsBalanced || !tb.DrillDownAvailable {
		t.Fatalf("expected balanced report with drill down")
	}
}

func TestBuildTrialBalanceToleranceAndEmpty(t *testing.T) {
	empty := BuildTrialBalance(usdHeader(KindTrialBalance), nil)
	if !empty.Summary.IsBalanced || len(empty.Lines) != 0 || empty.DrillDownAvailable {
		t.Fatalf("empty trial balance must be balanced: %+v", empty.Summary)
	}
	off := BuildTrialBalance(usdHeader(KindTrialBalance), []AccountBalance{
		bal("1000", smartcode.SectionAsset, "0", "100.02", "0"),
		bal("3000", smartcode.SectionEquity, "0", "0", "100"),
	})
	if off.Summary.IsBalanced {
		t.Fatalf("difference of 0.02 must not balance")
	}
	near := BuildTrialBalance(usdHeader(KindTrialBalance), []AccountBalance{
		bal("1000", smartcode.SectionAsset, "0", "100.01", "0"),
		bal("3000", smartcode.SectionEquity, "0", "0", "100"),
	})
	if !near.Summary.IsBalanced {
		t.Fatalf("difference of 0.01 is within tolerance")
	}
}

func TestBuildProfitAndLoss(t *testing.T) {
	sales := bal("4000", smartcode.SectionRevenue, "0", "0", "1200")
	returns := bal("4100", smartcode.SectionRevenue, "0", "200", "0")
	returns.NormalBalance = smartcode.Debit
	cogs := bal("5000", smartcode.SectionCOGS, "0", "300", "0")
	marketing := bal("6100", smartcode.SectionOperatingExpense, "0", "200", "0")
	marketing.DisplayOrder = 2
	rent := bal("6200", smartcode.SectionOperatingExpense, "0", "100", "0")
	rent.DisplayOrder = 1
	interest := bal("8000", smartcode.SectionOtherExpense, "0", "50", "0")
	cash := bal("1000", smartcode.SectionAsset, "0", "900", "0")

	pl := BuildProfitAndLoss(usdHeader(KindProfitAndLoss), []AccountBalance{sales, returns, cogs, marketing, rent, interest, cash}, nil, nil)
	if !pl.Summary.Revenue.Equal(d("1000")) {
		t.Fatalf("contra revenue should reduce revenue, got %s", pl.Summary.Revenue)
	}
	if !pl.Summary.GrossProfit.Equal(d("700")) {
		t.Fatalf("expected gross profit 700 got %s", pl.Summary.GrossProfit)
	}
	if !pl.Summary.OperatingIncome.Equal(d("400")) {
		t.Fatalf("expected operating income 400 got %s", pl.Summary.OperatingIncome)
	}
	if !pl.Summary.NetIncome.Equal(d("350")) {
		t.Fatalf("expected net income 350 got %s", pl.Summary.NetIncome)
	}
	if pl.Summary.GrossMargin == nil || !pl.Summary.GrossMargin.Equal(d("70")) {
		t.Fatalf("expected gross margin 70%%, got %v", pl.Summary.GrossMargin)
	}
	if pl.Summary.NetMargin == nil || !pl.Summary.NetMargin.Equal(d("35")) {
		t.Fatalf("expected net margin 35%%, got %v", pl.Summary.NetMargin)
	}
	if len(pl.Sections) != 5 {
		t.Fatalf("expected every section present, got %d", len(pl.Sections))
	}
	opex := pl.Sections[2]
	if opex.Section != smartcode.SectionOperatingExpense || opex.Lines[0].Code != "6200" {
		t.Fatalf("operating expenses should follow display order, got %+v", opex.Lines)
	}
	if len(pl.Lines) != 6 {
		t.Fatalf("balance sheet accounts must be excluded, got %d lines", len(pl.Lines))
	}
	if pl.Summary.PreviousNetIncome != nil || pl.Lines[0].Budget != nil {
		t.Fatalf("comparisons must be absent when not requested")
	}
}

func TestBuildProfitAndLossComparisons(t *testing.T) {
	sales := bal("4000", smartcode.SectionRevenue, "0", "0", "1200")
	previous := sales
	previous.Credit = d("1000")
	budget := sales
	budget.Credit = d("0")

	pl := BuildProfitAndLoss(usdHeader(KindProfitAndLoss), []AccountBalance{sales}, []AccountBalance{previous}, []AccountBalance{budget})
	line := pl.Lines[0]
	if line.PreviousPeriod == nil || !line.PreviousPeriod.Variance.Equal(d("200")) {
		t.Fatalf("unexpected previous variance %+v", line.PreviousPeriod)
	}
	if line.PreviousPeriod.VariancePct == nil || !line.PreviousPeriod.VariancePct.Equal(d("20")) {
		t.Fatalf("expected 20%% variance, got %v", line.PreviousPeriod.VariancePct)
	}
	if line.Budget == nil || line.Budget.VariancePct != nil {
		t.Fatalf("variance pct against a zero budget must be nil, got %+v", line.Budget)
	}
	if pl.Summary.PreviousNetIncome == nil || !pl.Summary.PreviousNetIncome.Amount.Equal(d("1000")) {
		t.Fatalf("unexpected previous net income %+v", pl.Summary.PreviousNetIncome)
	}
}

func TestCompareNegativeBase(t *testing.T) {
	c := Compare(d("-50"), d("-100"))
	if !c.Variance.Equal(d("50")) || c.VariancePct == nil || !c.VariancePct.Equal(d("50")) {
		t.Fatalf("variance pct uses the absolute comparison, got %+v", c)
	}
}

func TestBuildBalanceSheet(t *testing.T) {
	cash := bal("1000", smartcode.SectionAsset, "0", "1000", "200")
	cash.Current = true
	cash.LiquidityRank = 1
	stock := bal("1300", smartcode.SectionAsset, "0", "300", "0")
	stock.Current = true
	stock.Inventory = true
	stock.LiquidityRank = 3
	equipment := bal("1500", smartcode.SectionAsset, "0", "500", "0")
	depreciation := bal("1590", smartcode.SectionAsset, "0", "0", "100")
	depreciation.NormalBalance = smartcode.Credit
	payables := bal("2000", smartcode.SectionLiability, "0", "0", "400")
	payables.Current = true
	capital := bal("3000", smartcode.SectionEquity, "0", "0", "900")
	sales := bal("4000", smartcode.SectionRevenue, "0", "0", "500")
	costs := bal("6000", smartcode.SectionOperatingExpense, "0", "300", "0")

	bs := BuildBalanceSheet(usdHeader(KindBalanceSheet), []AccountBalance{cash, stock, equipment, depreciation, payables, capital, sales, costs}, true)
	if !bs.Summary.TotalAssets.Equal(d("1500")) {
		t.Fatalf("expected assets 1500 got %s", bs.Summary.TotalAssets)
	}
	if !bs.Summary.CurrentEarnings.Equal(d("200")) {
		t.Fatalf("expected current earnings 200 got %s", bs.Summary.CurrentEarnings)
	}
	if !bs.Summary.TotalEquity.Equal(d("1100")) || !bs.Summary.IsBalanced {
		t.Fatalf("expected balanced sheet with equity 1100, got %s (%s)", bs.Summary.TotalEquity, bs.Summary.Difference)
	}
	if !bs.Summary.WorkingCapital.Equal(d("700")) {
		t.Fatalf("expected working capital 700 got %s", bs.Summary.WorkingCapital)
	}
	r := bs.Summary.Ratios
	if r == nil || !r.CurrentRatio.Equal(d("2.75")) || !r.QuickRatio.Equal(d("2")) {
		t.Fatalf("unexpected ratios %+v", r)
	}
	if !r.DebtToEquity.Equal(d("0.3636")) || !r.DebtRatio.Equal(d("0.2667")) {
		t.Fatalf("unexpected leverage ratios %s %s", r.DebtToEquity, r.DebtRatio)
	}
	if len(bs.Liquidity) != 4 || bs.Liquidity[0].Code != "1000" || bs.Liquidity[1].Code != "1300" || bs.Liquidity[2].Code != "1500" {
		t.Fatalf("unexpected liquidity ranking %+v", bs.Liquidity)
	}
	last := bs.Equity.Lines[len(bs.Equity.Lines)-1]
	if last.Code != CurrentEarningsCode {
		t.Fatalf("current earnings should be an equity line, got %+v", bs.Equity.Lines)
	}
}

func TestBuildBalanceSheetRatiosWithoutDenominator(t *testing.T) {
	cash := bal("1000", smartcode.SectionAsset, "0", "100", "0")
	capital := bal("3000", smartcode.SectionEquity, "0", "0", "100")
	bs := BuildBalanceSheet(usdHeader(KindBalanceSheet), []AccountBalance{cash, capital}, true)
	if bs.Summary.Ratios.CurrentRatio != nil || bs.Summary.Ratios.QuickRatio != nil {
		t.Fatalf("ratios over zero current liabilities must be nil")
	}
	if !bs.Summary.Ratios.DebtToEquity.IsZero() {
		t.Fatalf("expected zero debt to equity")
	}
	plain := BuildBalanceSheet(usdHeader(KindBalanceSheet), []AccountBalance{cash, capital}, false)
	if plain.Summary.Ratios != nil || plain.Liquidity != nil {
		t.Fatalf("ratios block must be omitted when not requested")
	}
}

func TestClassifyTier(t *testing.T) {
	cases := map[time.Duration]Tier{
		0:                       TierEnterprise,
		499 * time.Millisecond:  TierEnterprise,
		500 * time.Millisecond:  TierPremium,
		1999 * time.Millisecond: TierPremium,
		2 * time.Second:         TierStandard,
	}
	for in, want := range cases {
		if got := ClassifyTier(in); got != want {
			t.Fatalf("ClassifyTier(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestPreviousPeriod(t *testing.T) {
	from, to := PreviousPeriod(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC))
	if !from.Equal(time.Date(2025, 1, 29, 0, 0, 0, 0, time.UTC)) || !to.Equal(time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected previous window %s..%s", from, to)
	}
}

func TestTaxonomyRollsUpSubAccounts(t *testing.T) {
	parent := Account{ID: uuid.New(), Code: "1000", Name: "Cash", Section: smartcode.SectionAsset, NormalBalance: smartcode.Debit}
	child := Account{ID: uuid.New(), Code: "1010", Name: "Petty cash", Section: smartcode.SectionAsset, NormalBalance: smartcode.Debit, CostCenter: "HQ"}
	grandchild := Account{ID: uuid.New(), Code: "1011", Name: "Till", Section: smartcode.SectionAsset, NormalBalance: smartcode.Debit}
	tax := NewTaxonomy([]Account{parent, child, grandchild}, []Edge{
		{Parent: parent.ID, Child: child.ID},
		{Parent: child.ID, Child: grandchild.ID},
		{Parent: grandchild.ID, Child: parent.ID},
	})
	if got := tax.Descendants(parent.ID); len(got) != 2 {
		t.Fatalf("expected 2 descendants, got %v", got)
	}
	if acc, _ := tax.Get(parent.ID); acc.ParentID != nil {
		t.Fatalf("edge closing a loop must be ignored")
	}
	txA, txB := uuid.New(), uuid.New()
	rows := []ledger.ActivityRow{
		{AccountID: child.ID, Currency: "USD", Debit: d("10"), TransactionIDs: []uuid.UUID{txA}},
		{AccountID: grandchild.ID, Currency: "USD", Debit: d("5"), Credit: d("1"), TransactionIDs: []uuid.UUID{txB}},
	}
	conv := identityConverter()

	flat, err := aggregate(tax, rows, conv, balanceOptions{Currency: "USD", Method: fx.MethodClosing})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(flat) != 2 {
		t.Fatalf("zero-balance parent should be filtered, got %d lines", len(flat))
	}

	rolled, err := aggregate(tax, rows, conv, balanceOptions{Currency: "USD", Method: fx.MethodClosing, SubAccounts: true})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(rolled) != 1 || rolled[0].AccountID != parent.ID {
		t.Fatalf("expected one rolled-up parent line, got %+v", rolled)
	}
	if !rolled[0].Closing().Equal(d("14")) || len(rolled[0].SubAccountIDs) != 2 || len(rolled[0].TransactionIDs) != 2 {
		t.Fatalf("unexpected rolled line %+v", rolled[0])
	}

	filtered, err := aggregate(tax, rows, conv, balanceOptions{Currency: "USD", Method: fx.MethodClosing, CostCenter: "hq"})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(filtered) != 1 || filtered[0].AccountID != child.ID {
		t.Fatalf("cost center filter should keep only the child, got %+v", filtered)
	}
}

func TestRolledUpLineListsSharedTransactionOnce(t *testing.T) {
	parent := Account{ID: uuid.New(), Code: "1000", Name: "Cash", Section: smartcode.SectionAsset, NormalBalance: smartcode.Debit}
	till := Account{ID: uuid.New(), Code: "1010", Name: "Till", Section: smartcode.SectionAsset, NormalBalance: smartcode.Debit}
	safe := Account{ID: uuid.New(), Code: "1020", Name: "Safe", Section: smartcode.SectionAsset, NormalBalance: smartcode.Debit}
	tax := NewTaxonomy([]Account{parent, till, safe}, []Edge{
		{Parent: parent.ID, Child: till.ID},
		{Parent: parent.ID, Child: safe.ID},
	})
	transfer, deposit := uuid.New(), uuid.New()
	rows := []ledger.ActivityRow{
		{AccountID: till.ID, Currency: "USD", Credit: d("40"), TransactionIDs: []uuid.UUID{transfer}},
		{AccountID: safe.ID, Currency: "USD", Debit: d("140"), TransactionIDs: []uuid.UUID{transfer, deposit}},
	}

	rolled, err := aggregate(tax, rows, identityConverter(), balanceOptions{Currency: "USD", Method: fx.MethodClosing, SubAccounts: true})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(rolled) != 1 {
		t.Fatalf("expected one rolled-up line, got %d", len(rolled))
	}
	if got := rolled[0].TransactionIDs; len(got) != 2 {
		t.Fatalf("expected each transaction once, got %v", got)
	}
}
