// Package ledger stores transaction headers and lines. Rows are append-only:
// the only mutation after posting is the status change to cancelled.
package ledger

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/smartcode"
)

var (
	// ErrStatusChanged indicates a guarded status update lost a race.
	ErrStatusChanged = errors.New("ledger: status changed concurrently")
	// ErrDuplicateIdempotencyKey indicates the (org, idempotency key) pair is already used.
	ErrDuplicateIdempotencyKey = errors.New("ledger: duplicate idempotency key")
)

// Status is the transaction lifecycle state.
type Status string

const (
	// StatusScheduled is a draft that still accepts lines.
	StatusScheduled Status = "scheduled"
	// StatusPosted is committed to the ledger.
	StatusPosted Status = "posted"
	// StatusCancelled is a posting netted out by a reversal, or a discarded draft.
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is known.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusPosted, StatusCancelled:
		return true
	}
	return false
}

// Type discriminates transaction headers.
type Type string

// Transaction types.
const (
	TypeSale          Type = "SALE"
	TypeGLPosting     Type = "GL_POSTING"
	TypeTaxCollection Type = "TAX_COLLECTION"
	TypeReversal      Type = "REVERSAL"
	TypeBudget        Type = "BUDGET"
	TypeJournal       Type = "JOURNAL"
)

// ParseType normalizes raw into a known Type.
func ParseType(raw string) (Type, bool) {
	t := Type(strings.ToUpper(strings.TrimSpace(raw)))
	switch t {
	case TypeSale, TypeGLPosting, TypeTaxCollection, TypeReversal, TypeBudget, TypeJournal:
		return t, true
	}
	return t, false
}

// Dependent reports whether the type must reference an upstream transaction.
func (t Type) Dependent() bool {
	switch t {
	case TypeGLPosting, TypeTaxCollection, TypeReversal:
		return true
	}
	return false
}

// AlwaysLedger reports whether the type is a double-entry record regardless of
// what the caller asks for.
func (t Type) AlwaysLedger() bool {
	return t == TypeGLPosting
}

// Header is one business or accounting event.
type Header struct {
	ID             uuid.UUID       `json:"id"`
	OrgID          uuid.UUID       `json:"organization_id"`
	Type           Type            `json:"transaction_type"`
	Number         string          `json:"transaction_number,omitempty"`
	Date           time.Time       `json:"transaction_date"`
	Currency       string          `json:"currency"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	SourceEntityID *uuid.UUID      `json:"source_entity_id,omitempty"`
	TargetEntityID *uuid.UUID      `json:"target_entity_id,omitempty"`
	// References lists upstream transaction ids, immediate upstream first.
	References     []uuid.UUID     `json:"reference_ids"`
	IsLedger       bool            `json:"is_ledger"`
	Status         Status          `json:"status"`
	SmartCode      smartcode.Code  `json:"smart_code"`
	Description    string          `json:"description,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	PostedAt       *time.Time      `json:"posted_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
}

// Line is one row of a transaction.
type Line struct {
	TransactionID uuid.UUID           `json:"transaction_id"`
	OrgID         uuid.UUID           `json:"organization_id"`
	LineNumber    int                 `json:"line_number"`
	Type          smartcode.Role      `json:"line_type"`
	EntityID      *uuid.UUID          `json:"entity_id,omitempty"`
	AccountID     *uuid.UUID          `json:"account_id,omitempty"`
	Side          smartcode.Side      `json:"side,omitempty"`
	Quantity      decimal.Decimal     `json:"quantity"`
	UnitAmount    decimal.Decimal     `json:"unit_amount"`
	Amount        decimal.Decimal     `json:"line_amount"`
	TaxRate       decimal.NullDecimal `json:"tax_rate"`
	UpstreamIDs   []uuid.UUID         `json:"upstream_ids,omitempty"`
	SmartCode     smartcode.Code      `json:"smart_code"`
	Description   string              `json:"description,omitempty"`
}

// Transaction is a header with its lines ordered by line number.
type Transaction struct {
	Header
	Lines []Line `json:"lines"`
}

// Totals sums the debit and credit lines.
func (t Transaction) Totals() (debit, credit decimal.Decimal) {
	return SumSides(t.Lines)
}

// SumSides sums line amounts per side. Lines without a side are ignored.
func SumSides(lines []Line) (debit, credit decimal.Decimal) {
	for _, line := range lines {
		switch line.Side {
		case smartcode.Debit:
			debit = debit.Add(line.Amount)
		case smartcode.Credit:
			credit = credit.Add(line.Amount)
		}
	}
	return debit, credit
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	Type        Type
	Status      Status
	From        time.Time
	To          time.Time
	ReferenceID *uuid.UUID
	LedgerOnly  bool
	WithLines   bool
	Limit       int
	Offset      int
}

// Basis selects actual postings or budget figures for activity aggregation.
type Basis string

const (
	// BasisActual aggregates every posted ledger transaction except budgets.
	BasisActual Basis = "ACTUAL"
	// BasisBudget aggregates BUDGET transactions only.
	BasisBudget Basis = "BUDGET"
)

// ActivityQuery selects the window aggregated by Activity.
// Lines dated before From are folded into the opening columns; a zero From
// puts everything up to To into the period columns.
type ActivityQuery struct {
	From  time.Time
	To    time.Time
	Basis Basis
}

// ActivityRow is the aggregated movement of one account in one currency.
type ActivityRow struct {
	AccountID      uuid.UUID
	Currency       string
	OpeningDebit   decimal.Decimal
	OpeningCredit  decimal.Decimal
	Debit          decimal.Decimal
	Credit         decimal.Decimal
	TransactionIDs []uuid.UUID
}
