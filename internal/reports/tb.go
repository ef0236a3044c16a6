package reports

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/smartcode"
)

// TrialBalanceLine is one account row of the trial balance.
type TrialBalanceLine struct {
	AccountID      uuid.UUID         `json:"account_id"`
	Code           string            `json:"code"`
	Name           string            `json:"name"`
	Section        smartcode.Section `json:"type,omitempty"`
	NormalBalance  smartcode.Side    `json:"normal_balance"`
	Opening        decimal.Decimal   `json:"opening"`
	Debit          decimal.Decimal   `json:"debit"`
	Credit         decimal.Decimal   `json:"credit"`
	Closing        decimal.Decimal   `json:"closing"`
	Currency       string            `json:"currency"`
	SubAccountIDs  []uuid.UUID       `json:"sub_account_ids,omitempty"`
	TransactionIDs []uuid.UUID       `json:"transaction_ids,omitempty"`
}

// TrialBalanceSummary holds the column totals.
type TrialBalanceSummary struct {
	TotalDebit   decimal.Decimal    `json:"total_debit"`
	TotalCredit  decimal.Decimal    `json:"total_credit"`
	Difference   decimal.Decimal    `json:"difference"`
	IsBalanced   bool               `json:"is_balanced"`
	AccountCount int                `json:"account_count"`
	Performance  PerformanceMetrics `json:"performance_metrics"`
}

// TrialBalance is the trial balance report envelope.
type TrialBalance struct {
	Header             Header              `json:"report_header"`
	Summary            TrialBalanceSummary `json:"summary"`
	Lines              []TrialBalanceLine  `json:"line_items"`
	DrillDownAvailable bool                `json:"drill_down_available"`
}

// BuildTrialBalance lists each account's opening, movement and closing balance.
// An empty set of accounts is a balanced report.
func BuildTrialBalance(header Header, accounts []AccountBalance) TrialBalance {
	result := TrialBalance{Header: header, Lines: make([]TrialBalanceLine, 0, len(accounts))}
	for _, acc := range accounts {
		result.Lines = append(result.Lines, TrialBalanceLine{
			AccountID:      acc.AccountID,
			Code:           acc.Code,
			Name:           acc.Name,
			Section:        acc.Section,
			NormalBalance:  acc.NormalBalance,
			Opening:        acc.Opening,
			Debit:          acc.Debit,
			Credit:         acc.Credit,
			Closing:        acc.Closing(),
			Currency:       header.Currency,
			SubAccountIDs:  acc.SubAccountIDs,
			TransactionIDs: acc.TransactionIDs,
		})
		result.Summary.TotalDebit = result.Summary.TotalDebit.Add(acc.Debit)
		result.Summary.TotalCredit = result.Summary.TotalCredit.Add(acc.Credit)
	}
	result.Summary.AccountCount = len(result.Lines)
	result.Summary.Difference = result.Summary.TotalDebit.Sub(result.Summary.TotalCredit)
	result.Summary.IsBalanced = money.WithinTolerance(result.Summary.TotalDebit, result.Summary.TotalCredit, header.Currency)
	result.DrillDownAvailable = len(result.Lines) > 0
	return result
}
