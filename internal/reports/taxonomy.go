package reports

import (
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/entities"
	"github.com/odyssey-erp/odyssey-ledger/internal/smartcode"
)

// Account attribute names read from the entity store.
const (
	AttrAccountType   = "account_type"
	AttrNormalBalance = "normal_balance"
	AttrSection       = "section"
	AttrDisplayOrder  = "display_order"
	AttrIsCurrent     = "is_current"
	AttrLiquidityRank = "liquidity_rank"
	AttrCostCenter    = "cost_center"
)

// Account is one node of the chart of accounts.
type Account struct {
	ID            uuid.UUID         `json:"id"`
	Code          string            `json:"code"`
	Name          string            `json:"name"`
	Section       smartcode.Section `json:"section,omitempty"`
	NormalBalance smartcode.Side    `json:"normal_balance"`
	DisplayOrder  int               `json:"display_order"`
	Current       bool              `json:"is_current"`
	LiquidityRank int               `json:"liquidity_rank,omitempty"`
	CostCenter    string            `json:"cost_center,omitempty"`
	Inventory     bool              `json:"-"`
	ParentID      *uuid.UUID        `json:"parent_id,omitempty"`
	Children      []uuid.UUID       `json:"children,omitempty"`
}

// Edge links a parent account to a child account.
type Edge struct {
	Parent uuid.UUID
	Child  uuid.UUID
}

// Taxonomy indexes accounts and their hierarchy.
type Taxonomy struct {
	byID map[uuid.UUID]*Account
}

// NewTaxonomy indexes accounts and attaches edges whose ends are both known.
// A child keeps the first parent it is given and edges closing a loop are ignored.
func NewTaxonomy(accounts []Account, edges []Edge) *Taxonomy {
	t := &Taxonomy{byID: make(map[uuid.UUID]*Account, len(accounts))}
	for i := range accounts {
		acc := accounts[i]
		acc.ParentID = nil
		acc.Children = nil
		t.byID[acc.ID] = &acc
	}
	for _, e := range edges {
		parent, ok := t.byID[e.Parent]
		if !ok {
			continue
		}
		child, ok := t.byID[e.Child]
		if !ok || child.ParentID != nil || t.reaches(e.Parent, e.Child) {
			continue
		}
		id := e.Parent
		child.ParentID = &id
		parent.Children = append(parent.Children, e.Child)
	}
	for _, acc := range t.byID {
		sort.Slice(acc.Children, func(i, j int) bool {
			return t.byID[acc.Children[i]].Code < t.byID[acc.Children[j]].Code
		})
	}
	return t
}

// reaches reports whether walking up from id arrives at target.
func (t *Taxonomy) reaches(id, target uuid.UUID) bool {
	for hops := 0; hops <= len(t.byID); hops++ {
		if id == target {
			return true
		}
		acc := t.byID[id]
		if acc == nil || acc.ParentID == nil {
			return false
		}
		id = *acc.ParentID
	}
	return true
}

// Len counts accounts.
func (t *Taxonomy) Len() int {
	return len(t.byID)
}

// Get returns the account with id.
func (t *Taxonomy) Get(id uuid.UUID) (Account, bool) {
	acc, ok := t.byID[id]
	if !ok {
		return Account{}, false
	}
	return *acc, true
}

// Accounts lists every account ordered by code.
func (t *Taxonomy) Accounts() []Account {
	out := make([]Account, 0, len(t.byID))
	for _, acc := range t.byID {
		out = append(out, *acc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Descendants lists every account below id, breadth first.
func (t *Taxonomy) Descendants(id uuid.UUID) []uuid.UUID {
	root, ok := t.byID[id]
	if !ok {
		return nil
	}
	var out []uuid.UUID
	visited := map[uuid.UUID]struct{}{id: {}}
	queue := append([]uuid.UUID(nil), root.Children...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if _, seen := visited[next]; seen {
			continue
		}
		visited[next] = struct{}{}
		out = append(out, next)
		if acc, ok := t.byID[next]; ok {
			queue = append(queue, acc.Children...)
		}
	}
	return out
}

// AccountFromEntity derives an Account from an ACCOUNT entity and its attributes.
// Attributes win over the smart-code classification.
func AccountFromEntity(e entities.Entity, attrs map[string]entities.Value, registry *smartcode.Registry) Account {
	class, _ := registry.Classify(e.SmartCode)
	acc := Account{
		ID:        e.ID,
		Code:      e.Code,
		Name:      e.Name,
		Section:   class.Section,
		Current:   class.Current,
		Inventory: e.SmartCode.Contains("INVENTORY"),
	}
	if v, ok := attrs[AttrAccountType]; ok {
		if section, ok := parseSection(v.AsString()); ok {
			acc.Section = section
		}
	}
	if v, ok := attrs[AttrSection]; ok {
		if section, ok := parseSection(v.AsString()); ok {
			acc.Section = section
		}
	}
	acc.NormalBalance = acc.Section.NormalBalance()
	if acc.Section == "" {
		acc.NormalBalance = smartcode.Debit
	}
	if v, ok := attrs[AttrNormalBalance]; ok {
		side := smartcode.Side(strings.ToUpper(strings.TrimSpace(v.AsString())))
		if side.Valid() {
			acc.NormalBalance = side
		}
	}
	if v, ok := attrs[AttrDisplayOrder]; ok {
		acc.DisplayOrder = intValue(v)
	}
	if v, ok := attrs[AttrIsCurrent]; ok {
		acc.Current = v.AsBool()
	}
	if v, ok := attrs[AttrLiquidityRank]; ok {
		acc.LiquidityRank = intValue(v)
	}
	if v, ok := attrs[AttrCostCenter]; ok {
		acc.CostCenter = strings.TrimSpace(v.AsString())
	}
	return acc
}

func parseSection(raw string) (smartcode.Section, bool) {
	switch s := smartcode.Section(strings.ToUpper(strings.TrimSpace(raw))); s {
	case smartcode.SectionAsset, smartcode.SectionLiability, smartcode.SectionEquity,
		smartcode.SectionRevenue, smartcode.SectionCOGS, smartcode.SectionOperatingExpense,
		smartcode.SectionOtherIncome, smartcode.SectionOtherExpense:
		return s, true
	case "INCOME", "SALES":
		return smartcode.SectionRevenue, true
	case "EXPENSE", "OPEX":
		return smartcode.SectionOperatingExpense, true
	case "COST_OF_GOODS_SOLD":
		return smartcode.SectionCOGS, true
	}
	return "", false
}

func intValue(v entities.Value) int {
	if v.Type == entities.ValueNumber {
		return int(v.Number.IntPart())
	}
	n, err := strconv.Atoi(strings.TrimSpace(v.AsString()))
	if err != nil {
		return 0
	}
	return n
}
