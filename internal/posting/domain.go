// Package posting materializes business events as balanced ledger transactions
// and keeps the upstream reference chain between dependent postings intact.
package posting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/smartcode"
)

// Guard blocks writes into closed fiscal periods.
type Guard interface {
	EnsureWritable(ctx context.Context, orgID uuid.UUID, date time.Time) error
}

// Invalidator drops cached reports of an organization after its ledger changes.
type Invalidator interface {
	Invalidate(ctx context.Context, orgID uuid.UUID) error
}

// EntityChecker confirms referenced accounts and entities exist in the organization.
type EntityChecker interface {
	Exists(ctx context.Context, orgID, id uuid.UUID) (bool, error)
}

// LineInput describes one line to post. Side and Type default to the smart code classification.
type LineInput struct {
	Type        smartcode.Role      `json:"line_type,omitempty"`
	EntityID    *uuid.UUID          `json:"entity_id,omitempty"`
	AccountID   *uuid.UUID          `json:"account_id,omitempty"`
	Side        smartcode.Side      `json:"side,omitempty"`
	Quantity    decimal.Decimal     `json:"quantity"`
	UnitAmount  decimal.Decimal     `json:"unit_amount"`
	Amount      decimal.Decimal     `json:"line_amount"`
	TaxRate     decimal.NullDecimal `json:"tax_rate"`
	UpstreamIDs []uuid.UUID         `json:"upstream_ids,omitempty"`
	SmartCode   string              `json:"smart_code" validate:"required"`
	Description string              `json:"description,omitempty"`
}

// PostInput is one header with its lines.
type PostInput struct {
	OrgID          uuid.UUID       `json:"organization_id"`
	Type           string          `json:"transaction_type" validate:"required"`
	Number         string          `json:"transaction_number,omitempty" validate:"max=64"`
	Date           time.Time       `json:"transaction_date" validate:"required"`
	Currency       string          `json:"currency" validate:"required,len=3"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	SourceEntityID *uuid.UUID      `json:"source_entity_id,omitempty"`
	TargetEntityID *uuid.UUID      `json:"target_entity_id,omitempty"`
	References     []uuid.UUID     `json:"reference_ids,omitempty"`
	IsLedger       bool            `json:"is_ledger"`
	// Status is posted when empty; scheduled keeps the transaction open for AppendLines.
	Status         ledger.Status `json:"status,omitempty"`
	SmartCode      string        `json:"smart_code" validate:"required"`
	Description    string        `json:"description,omitempty"`
	IdempotencyKey string        `json:"idempotency_key,omitempty" validate:"max=128"`
	Lines          []LineInput   `json:"lines" validate:"dive"`
}

// ReverseInput requests a compensating reversal of a posted transaction.
type ReverseInput struct {
	OrgID         uuid.UUID `json:"organization_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	// Date defaults to the original transaction date.
	Date   time.Time `json:"date,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

// SaleItem is one sold product, service or tip.
type SaleItem struct {
	EntityID         *uuid.UUID      `json:"entity_id,omitempty"`
	RevenueAccountID uuid.UUID       `json:"revenue_account_id"`
	Quantity         decimal.Decimal `json:"quantity"`
	UnitAmount       decimal.Decimal `json:"unit_amount"`
	Amount           decimal.Decimal `json:"line_amount"`
	SmartCode        string          `json:"smart_code"`
	Description      string          `json:"description,omitempty"`
}

// SaleInput drives the sale, GL posting and tax collection chain.
type SaleInput struct {
	OrgID               uuid.UUID       `json:"organization_id"`
	Number              string          `json:"transaction_number,omitempty"`
	Date                time.Time       `json:"transaction_date"`
	Currency            string          `json:"currency"`
	CustomerID          *uuid.UUID      `json:"customer_id,omitempty"`
	SmartCode           string          `json:"smart_code"`
	Items               []SaleItem      `json:"items"`
	TaxRate             decimal.Decimal `json:"tax_rate"`
	ReceivableAccountID uuid.UUID       `json:"receivable_account_id"`
	TaxPayableAccountID *uuid.UUID      `json:"tax_payable_account_id,omitempty"`
	GLSmartCode         string          `json:"gl_smart_code,omitempty"`
	TaxSmartCode        string          `json:"tax_smart_code,omitempty"`
	// IdempotencyKey makes the chain resumable: each step derives its own key from it.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ChainStep names a step of the sale chain.
type ChainStep string

// Chain steps in execution order.
const (
	StepSale          ChainStep = "SALE"
	StepGLPosting     ChainStep = "GL_POSTING"
	StepTaxCollection ChainStep = "TAX_COLLECTION"
)

// ChainResult lists the transactions a chain committed.
type ChainResult struct {
	SaleID          uuid.UUID       `json:"sale_id"`
	GLPostingID     uuid.UUID       `json:"gl_posting_id"`
	TaxCollectionID *uuid.UUID      `json:"tax_collection_id,omitempty"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
	Total           decimal.Decimal `json:"total"`
}

// ChainError reports the failed step. Completed steps stay committed; the caller
// compensates with Reverse.
type ChainError struct {
	Step      ChainStep
	Completed ChainResult
	Err       error
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("posting chain failed at %s: %v", e.Step, e.Err)
}

// Unwrap exposes the step failure.
func (e *ChainError) Unwrap() error {
	return e.Err
}

// AsChainError extracts a *ChainError from err.
func AsChainError(err error) (*ChainError, bool) {
	var chainErr *ChainError
	ok := errors.As(err, &chainErr)
	return chainErr, ok
}
