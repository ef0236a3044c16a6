package reports

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/fx"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/smartcode"
)

// AccountBalance captures account movement for a reporting window in the reporting currency.
// Opening is signed towards the account's normal balance.
type AccountBalance struct {
	AccountID      uuid.UUID         `json:"account_id"`
	Code           string            `json:"code"`
	Name           string            `json:"name"`
	Section        smartcode.Section `json:"section,omitempty"`
	NormalBalance  smartcode.Side    `json:"normal_balance"`
	DisplayOrder   int               `json:"display_order"`
	Current        bool              `json:"is_current"`
	LiquidityRank  int               `json:"liquidity_rank,omitempty"`
	Inventory      bool              `json:"-"`
	Opening        decimal.Decimal   `json:"opening"`
	Debit          decimal.Decimal   `json:"debit"`
	Credit         decimal.Decimal   `json:"credit"`
	SubAccountIDs  []uuid.UUID       `json:"sub_account_ids,omitempty"`
	TransactionIDs []uuid.UUID       `json:"transaction_ids,omitempty"`
}

// Movement is the period change towards the normal balance.
func (a AccountBalance) Movement() decimal.Decimal {
	if a.NormalBalance == smartcode.Credit {
		return a.Credit.Sub(a.Debit)
	}
	return a.Debit.Sub(a.Credit)
}

// Closing returns the closing balance.
func (a AccountBalance) Closing() decimal.Decimal {
	return a.Opening.Add(a.Movement())
}

// IsZero reports an account without opening balance or movement.
func (a AccountBalance) IsZero() bool {
	return a.Opening.IsZero() && a.Debit.IsZero() && a.Credit.IsZero()
}

func balanceFor(acc Account) AccountBalance {
	return AccountBalance{
		AccountID:     acc.ID,
		Code:          acc.Code,
		Name:          acc.Name,
		Section:       acc.Section,
		NormalBalance: acc.NormalBalance,
		DisplayOrder:  acc.DisplayOrder,
		Current:       acc.Current,
		LiquidityRank: acc.LiquidityRank,
		Inventory:     acc.Inventory,
	}
}

// balanceOptions shapes aggregation of activity rows.
type balanceOptions struct {
	Currency     string
	Method       fx.Method
	SubAccounts  bool
	ZeroBalances bool
	Account      string
	CostCenter   string
}

func (o balanceOptions) matches(acc Account) bool {
	if o.Account != "" && !strings.HasPrefix(acc.Code, o.Account) {
		return false
	}
	if o.CostCenter != "" && !strings.EqualFold(acc.CostCenter, o.CostCenter) {
		return false
	}
	return true
}

// aggregate folds activity rows into per-account balances in the reporting currency.
// Rows for accounts missing from the taxonomy are kept as unclassified debit-normal lines
// so totals still reconcile with the ledger.
func aggregate(tax *Taxonomy, rows []ledger.ActivityRow, conv *fx.Converter, opts balanceOptions) ([]AccountBalance, error) {
	type raw struct {
		openDebit, openCredit, debit, credit decimal.Decimal
		txs                                  map[uuid.UUID]struct{}
	}
	perAccount := make(map[uuid.UUID]*raw)
	for _, row := range rows {
		amounts := [4]decimal.Decimal{row.OpeningDebit, row.OpeningCredit, row.Debit, row.Credit}
		for i := range amounts {
			converted, err := conv.Convert(amounts[i], row.Currency, opts.Method)
			if err != nil {
				return nil, err
			}
			amounts[i] = converted
		}
		r, ok := perAccount[row.AccountID]
		if !ok {
			r = &raw{txs: make(map[uuid.UUID]struct{})}
			perAccount[row.AccountID] = r
		}
		r.openDebit = r.openDebit.Add(amounts[0])
		r.openCredit = r.openCredit.Add(amounts[1])
		r.debit = r.debit.Add(amounts[2])
		r.credit = r.credit.Add(amounts[3])
		for _, id := range row.TransactionIDs {
			r.txs[id] = struct{}{}
		}
	}

	accounts := tax.Accounts()
	for id := range perAccount {
		if _, ok := tax.Get(id); !ok {
			accounts = append(accounts, Account{ID: id, Code: id.String(), Name: "Unclassified account", NormalBalance: smartcode.Debit})
		}
	}

	lines := make(map[uuid.UUID]*AccountBalance)
	lineTxs := make(map[uuid.UUID]map[uuid.UUID]struct{})
	order := make([]uuid.UUID, 0, len(accounts))
	for _, acc := range accounts {
		if !opts.matches(acc) {
			continue
		}
		target := acc.ID
		if opts.SubAccounts {
			target = topIncluded(tax, acc, opts)
		}
		line, ok := lines[target]
		if !ok {
			owner, known := tax.Get(target)
			if !known {
				owner = acc
			}
			b := balanceFor(owner)
			line = &b
			lines[target] = line
			lineTxs[target] = make(map[uuid.UUID]struct{})
			order = append(order, target)
		}
		if target != acc.ID {
			line.SubAccountIDs = append(line.SubAccountIDs, acc.ID)
		}
		r, ok := perAccount[acc.ID]
		if !ok {
			continue
		}
		opening := r.openDebit.Sub(r.openCredit)
		if line.NormalBalance == smartcode.Credit {
			opening = opening.Neg()
		}
		line.Opening = line.Opening.Add(opening)
		line.Debit = line.Debit.Add(r.debit)
		line.Credit = line.Credit.Add(r.credit)
		for id := range r.txs {
			if _, dup := lineTxs[target][id]; dup {
				continue
			}
			lineTxs[target][id] = struct{}{}
			line.TransactionIDs = append(line.TransactionIDs, id)
		}
	}

	out := make([]AccountBalance, 0, len(order))
	for _, id := range order {
		line := lines[id]
		line.Opening = money.Round(line.Opening, opts.Currency)
		line.Debit = money.Round(line.Debit, opts.Currency)
		line.Credit = money.Round(line.Credit, opts.Currency)
		if !opts.ZeroBalances && line.IsZero() {
			continue
		}
		sortIDs(line.SubAccountIDs)
		sortIDs(line.TransactionIDs)
		out = append(out, *line)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// topIncluded climbs to the highest ancestor that passes the filters.
func topIncluded(tax *Taxonomy, acc Account, opts balanceOptions) uuid.UUID {
	top := acc.ID
	seen := map[uuid.UUID]struct{}{acc.ID: {}}
	cur := acc
	for cur.ParentID != nil {
		parent, ok := tax.Get(*cur.ParentID)
		if !ok {
			break
		}
		if _, loop := seen[parent.ID]; loop {
			break
		}
		seen[parent.ID] = struct{}{}
		if opts.matches(parent) {
			top = parent.ID
		}
		cur = parent
	}
	return top
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}
