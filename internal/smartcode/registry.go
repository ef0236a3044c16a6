package smartcode

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Section places an account in a financial statement.
type Section string

// Statement sections.
const (
	SectionAsset            Section = "ASSET"
	SectionLiability        Section = "LIABILITY"
	SectionEquity           Section = "EQUITY"
	SectionRevenue          Section = "REVENUE"
	SectionCOGS             Section = "COGS"
	SectionOperatingExpense Section = "OPERATING_EXPENSE"
	SectionOtherIncome      Section = "OTHER_INCOME"
	SectionOtherExpense     Section = "OTHER_EXPENSE"
)

// Side is the debit/credit side of an entry or an account's normal balance.
type Side string

// Entry sides.
const (
	Debit  Side = "DEBIT"
	Credit Side = "CREDIT"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == Debit || s == Credit
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Debit {
		return Credit
	}
	return Debit
}

// Role classifies what a transaction line represents.
type Role string

// Line roles.
const (
	RoleItem   Role = "ITEM"
	RoleLedger Role = "LEDGER"
	RoleTax    Role = "TAX"
)

// IsBalanceSheet reports whether the section belongs to the balance sheet.
func (s Section) IsBalanceSheet() bool {
	switch s {
	case SectionAsset, SectionLiability, SectionEquity:
		return true
	}
	return false
}

// NormalBalance returns the side that increases accounts in the section.
func (s Section) NormalBalance() Side {
	switch s {
	case SectionAsset, SectionCOGS, SectionOperatingExpense, SectionOtherExpense:
		return Debit
	}
	return Credit
}

// Classification is the dispatch result for a smart code.
type Classification struct {
	Section       Section
	NormalBalance Side
	Side          Side
	Role          Role
	Current       bool
}

type entry struct {
	pattern   []string
	wildcards int
	class     Classification
}

// Registry maps smart-code namespace patterns to classifications.
// Patterns are dotted segment prefixes; "*" matches any single segment.
// The pattern with the most segments wins, ties go to the one with fewer wildcards.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds or replaces the classification for pattern.
func (r *Registry) Register(pattern string, class Classification) error {
	pattern = strings.Trim(strings.TrimSpace(pattern), ".")
	if pattern == "" {
		return fmt.Errorf("smartcode: empty pattern")
	}
	segs := strings.Split(pattern, ".")
	wild := 0
	for _, seg := range segs {
		if seg == "*" {
			wild++
			continue
		}
		if !validSegment(seg) {
			return fmt.Errorf("smartcode: invalid pattern segment %q", seg)
		}
	}
	if class.NormalBalance == "" && class.Section != "" {
		class.NormalBalance = class.Section.NormalBalance()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if strings.Join(e.pattern, ".") == pattern {
			r.entries[i].class = class
			return nil
		}
	}
	r.entries = append(r.entries, entry{pattern: segs, wildcards: wild, class: class})
	sort.SliceStable(r.entries, func(i, j int) bool {
		if len(r.entries[i].pattern) != len(r.entries[j].pattern) {
			return len(r.entries[i].pattern) > len(r.entries[j].pattern)
		}
		return r.entries[i].wildcards < r.entries[j].wildcards
	})
	return nil
}

// Classify returns the best classification for code.
func (r *Registry) Classify(code Code) (Classification, bool) {
	if r == nil || code.IsZero() {
		return Classification{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if matches(e.pattern, code.segments) {
			return e.class, true
		}
	}
	return Classification{}, false
}

func matches(pattern, segments []string) bool {
	if len(pattern) > len(segments) {
		return false
	}
	for i, seg := range pattern {
		if seg != "*" && seg != segments[i] {
			return false
		}
	}
	return true
}

// DefaultRegistry returns the classification table shipped with the platform.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	defaults := []struct {
		pattern string
		class   Classification
	}{
		{"*.FIN.GL.ASSET", Classification{Section: SectionAsset}},
		{"*.FIN.GL.ASSET.CURRENT", Classification{Section: SectionAsset, Current: true}},
		{"*.FIN.GL.ASSET.CASH", Classification{Section: SectionAsset, Current: true}},
		{"*.FIN.GL.ASSET.AR", Classification{Section: SectionAsset, Current: true}},
		{"*.FIN.GL.ASSET.INVENTORY", Classification{Section: SectionAsset, Current: true}},
		{"*.FIN.GL.LIABILITY", Classification{Section: SectionLiability}},
		{"*.FIN.GL.LIABILITY.CURRENT", Classification{Section: SectionLiability, Current: true}},
		{"*.FIN.GL.LIABILITY.AP", Classification{Section: SectionLiability, Current: true}},
		{"*.FIN.GL.LIABILITY.TAX", Classification{Section: SectionLiability, Current: true}},
		{"*.FIN.GL.EQUITY", Classification{Section: SectionEquity}},
		{"*.FIN.GL.REVENUE", Classification{Section: SectionRevenue}},
		{"*.FIN.GL.COGS", Classification{Section: SectionCOGS}},
		{"*.FIN.GL.EXPENSE", Classification{Section: SectionOperatingExpense}},
		{"*.FIN.GL.OTHER_INCOME", Classification{Section: SectionOtherIncome}},
		{"*.FIN.GL.OTHER_EXPENSE", Classification{Section: SectionOtherExpense}},
		{"*.FIN.GL.LINE.DEBIT", Classification{Role: RoleLedger, Side: Debit}},
		{"*.FIN.GL.LINE.CREDIT", Classification{Role: RoleLedger, Side: Credit}},
		{"*.FIN.GL.LINE", Classification{Role: RoleLedger}},
		{"*.FIN.TAX", Classification{Role: RoleTax}},
		{"*.TAX.LINE", Classification{Role: RoleTax}},
		{"*.*.SALE.LINE", Classification{Role: RoleItem}},
	}
	for _, d := range defaults {
		if err := r.Register(d.pattern, d.class); err != nil {
			panic(err)
		}
	}
	return r
}
