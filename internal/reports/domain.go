// Package reports reconstructs the trial balance, profit and loss and balance
// sheet from posted ledger activity and the account taxonomy.
package reports

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind names a report.
type Kind string

// Supported reports.
const (
	KindTrialBalance  Kind = "trial_balance"
	KindProfitAndLoss Kind = "profit_and_loss"
	KindBalanceSheet  Kind = "balance_sheet"
)

// Title is the human name used in headers and error messages.
func (k Kind) Title() string {
	switch k {
	case KindTrialBalance:
		return "Trial balance"
	case KindProfitAndLoss:
		return "Profit and loss"
	case KindBalanceSheet:
		return "Balance sheet"
	}
	return string(k)
}

// ParseKind accepts the report names used on the wire.
func ParseKind(raw string) (Kind, bool) {
	switch Kind(raw) {
	case KindTrialBalance, KindProfitAndLoss, KindBalanceSheet:
		return Kind(raw), true
	case "trial-balance", "tb":
		return KindTrialBalance, true
	case "pl", "profit-and-loss", "income_statement":
		return KindProfitAndLoss, true
	case "bs", "balance-sheet":
		return KindBalanceSheet, true
	}
	return "", false
}

// Config is the input shared by every report. The balance sheet reads balances
// as of EndDate and ignores StartDate.
type Config struct {
	OrgID                 uuid.UUID `json:"organization_id"`
	StartDate             time.Time `json:"start_date"`
	EndDate               time.Time `json:"end_date"`
	Currency              string    `json:"currency,omitempty" validate:"omitempty,len=3"`
	IncludeSubAccounts    bool      `json:"include_sub_accounts,omitempty"`
	IncludeZeroBalances   bool      `json:"include_zero_balances,omitempty"`
	AccountFilter         string    `json:"account_filter,omitempty" validate:"max=64"`
	CostCenterFilter      string    `json:"cost_center_filter,omitempty" validate:"max=64"`
	ComparePreviousPeriod bool      `json:"compare_previous_period,omitempty"`
	CompareBudget         bool      `json:"compare_budget,omitempty"`
	IncludeRatios         bool      `json:"include_ratios,omitempty"`
}

// cacheFilters lists the parameters that shape a report besides org, dates and currency.
type cacheFilters struct {
	SubAccounts  bool   `json:"sub,omitempty"`
	ZeroBalances bool   `json:"zero,omitempty"`
	Account      string `json:"account,omitempty"`
	CostCenter   string `json:"cost_center,omitempty"`
	Previous     bool   `json:"previous,omitempty"`
	Budget       bool   `json:"budget,omitempty"`
	Ratios       bool   `json:"ratios,omitempty"`
}

func (c Config) filters() cacheFilters {
	return cacheFilters{
		SubAccounts:  c.IncludeSubAccounts,
		ZeroBalances: c.IncludeZeroBalances,
		Account:      c.AccountFilter,
		CostCenter:   c.CostCenterFilter,
		Previous:     c.ComparePreviousPeriod,
		Budget:       c.CompareBudget,
		Ratios:       c.IncludeRatios,
	}
}

// Tier classifies how long a report took.
type Tier string

// Performance tiers.
const (
	TierEnterprise Tier = "ENTERPRISE"
	TierPremium    Tier = "PREMIUM"
	TierStandard   Tier = "STANDARD"
)

// Tier thresholds.
const (
	EnterpriseThreshold = 500 * time.Millisecond
	PremiumThreshold    = 2000 * time.Millisecond
)

// ClassifyTier maps a processing duration onto a tier.
func ClassifyTier(d time.Duration) Tier {
	switch {
	case d < EnterpriseThreshold:
		return TierEnterprise
	case d < PremiumThreshold:
		return TierPremium
	}
	return TierStandard
}

// PerformanceMetrics describes the cost of producing a report.
type PerformanceMetrics struct {
	ProcessingTimeMS int64     `json:"processing_time_ms"`
	CacheHit         bool      `json:"cache_hit"`
	Tier             Tier      `json:"performance_tier"`
	DataFreshness    time.Time `json:"data_freshness"`
}

// Header identifies a generated report.
type Header struct {
	Report      Kind      `json:"report_type"`
	Title       string    `json:"title"`
	OrgID       uuid.UUID `json:"organization_id"`
	StartDate   time.Time `json:"start_date,omitempty"`
	EndDate     time.Time `json:"end_date"`
	Currency    string    `json:"currency"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Comparison holds a comparison figure and the variance of the actual against it.
type Comparison struct {
	Amount      decimal.Decimal  `json:"amount"`
	Variance    decimal.Decimal  `json:"variance"`
	VariancePct *decimal.Decimal `json:"variance_pct,omitempty"`
}

// Compare computes actual − comparison and its percentage of |comparison|.
func Compare(actual, comparison decimal.Decimal) *Comparison {
	out := &Comparison{Amount: comparison, Variance: actual.Sub(comparison)}
	if !comparison.IsZero() {
		pct := out.Variance.Div(comparison.Abs()).Mul(decimal.NewFromInt(100)).Round(2)
		out.VariancePct = &pct
	}
	return out
}
