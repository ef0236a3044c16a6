package reports

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/fx"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/smartcode"
)

// SubAccount is a child account reachable from a drilled line.
type SubAccount struct {
	ID   uuid.UUID `json:"id"`
	Code string    `json:"code"`
	Name string    `json:"name"`
}

// DrillDown expands one report line into its constituents.
type DrillDown struct {
	AccountID      uuid.UUID         `json:"account_id"`
	Code           string            `json:"code"`
	Name           string            `json:"name"`
	Section        smartcode.Section `json:"section,omitempty"`
	Currency       string            `json:"currency"`
	Opening        decimal.Decimal   `json:"opening"`
	Debit          decimal.Decimal   `json:"debit"`
	Credit         decimal.Decimal   `json:"credit"`
	Closing        decimal.Decimal   `json:"closing"`
	SubAccounts    []SubAccount      `json:"sub_accounts"`
	FoldedAccounts []uuid.UUID       `json:"folded_account_ids,omitempty"`
	TransactionIDs []uuid.UUID       `json:"transaction_ids"`
}

// DrillDown lists the transactions behind accountID's line and its direct sub-accounts,
// which can be drilled in turn. A zero StartDate drills cumulative balances.
func (s *Service) DrillDown(ctx context.Context, cfg Config, accountID uuid.UUID) (DrillDown, error) {
	const op = "reports.drill_down"
	kind := KindTrialBalance
	if cfg.StartDate.IsZero() {
		kind = KindBalanceSheet
	}
	cfg, err := s.prepare(ctx, op, kind, cfg)
	if err != nil {
		return DrillDown{}, err
	}
	tax, err := retry(ctx, s.retryInitial, func() (*Taxonomy, error) {
		return s.taxonomy(ctx, cfg.OrgID)
	})
	if err != nil {
		return DrillDown{}, s.fail(op, kind, err)
	}
	acc, ok := tax.Get(accountID)
	if !ok {
		return DrillDown{}, shared.NotFound(op, "account")
	}
	rollup := cfg.IncludeSubAccounts
	cfg.IncludeZeroBalances = true
	cfg.IncludeSubAccounts = false
	balances, err := s.balances(ctx, op, cfg, ledger.ActivityQuery{From: cfg.StartDate, To: cfg.EndDate}, fx.MethodClosing)
	if err != nil {
		return DrillDown{}, s.fail(op, kind, err)
	}
	members := map[uuid.UUID]struct{}{accountID: {}}
	if rollup {
		for _, id := range tax.Descendants(accountID) {
			members[id] = struct{}{}
		}
	}
	line := balanceFor(acc)
	found := false
	txs := make(map[uuid.UUID]struct{})
	for _, b := range balances {
		if _, ok := members[b.AccountID]; !ok {
			continue
		}
		found = true
		opening := b.Opening
		if b.NormalBalance != line.NormalBalance {
			opening = opening.Neg()
		}
		line.Opening = line.Opening.Add(opening)
		line.Debit = line.Debit.Add(b.Debit)
		line.Credit = line.Credit.Add(b.Credit)
		if b.AccountID != accountID {
			line.SubAccountIDs = append(line.SubAccountIDs, b.AccountID)
		}
		for _, id := range b.TransactionIDs {
			txs[id] = struct{}{}
		}
	}
	if !found {
		return DrillDown{}, shared.NotFound(op, "account")
	}
	for id := range txs {
		line.TransactionIDs = append(line.TransactionIDs, id)
	}
	sortIDs(line.SubAccountIDs)
	sortIDs(line.TransactionIDs)
	out := DrillDown{
		AccountID:      line.AccountID,
		Code:           line.Code,
		Name:           line.Name,
		Section:        line.Section,
		Currency:       cfg.Currency,
		Opening:        line.Opening,
		Debit:          line.Debit,
		Credit:         line.Credit,
		Closing:        line.Closing(),
		SubAccounts:    []SubAccount{},
		FoldedAccounts: line.SubAccountIDs,
		TransactionIDs: line.TransactionIDs,
	}
	if out.TransactionIDs == nil {
		out.TransactionIDs = []uuid.UUID{}
	}
	for _, childID := range acc.Children {
		child, _ := tax.Get(childID)
		out.SubAccounts = append(out.SubAccounts, SubAccount{ID: child.ID, Code: child.Code, Name: child.Name})
	}
	return out, nil
}
