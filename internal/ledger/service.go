package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Service is the tenant-checked read side of the ledger store.
type Service struct {
	repo Repository
}

// NewService constructs the read service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Get returns a transaction with its lines.
func (s *Service) Get(ctx context.Context, orgID, id uuid.UUID) (Transaction, error) {
	const op = "ledger.get"
	if err := shared.EnsureTenant(ctx, op, orgID); err != nil {
		return Transaction{}, err
	}
	tx, err := s.repo.Get(ctx, orgID, id)
	if errors.Is(err, shared.ErrNotFound) {
		return Transaction{}, shared.NotFound(op, "transaction")
	}
	if err != nil {
		return Transaction{}, shared.WrapOp(op, err)
	}
	return tx, nil
}

// List returns transactions matching filter.
func (s *Service) List(ctx context.Context, orgID uuid.UUID, filter ListFilter) ([]Transaction, error) {
	const op = "ledger.list"
	if err := shared.EnsureTenant(ctx, op, orgID); err != nil {
		return nil, err
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, shared.Validation(op, "unknown status "+string(filter.Status))
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, shared.Validation(op, "to date precedes from date")
	}
	out, err := s.repo.List(ctx, orgID, filter)
	if err != nil {
		return nil, shared.WrapOp(op, err)
	}
	return out, nil
}

// Dependents lists transactions that reference id.
func (s *Service) Dependents(ctx context.Context, orgID, id uuid.UUID) ([]Transaction, error) {
	return s.List(ctx, orgID, ListFilter{ReferenceID: &id, Limit: shared.MaxPageSize})
}

// Activity aggregates posted ledger movement per account.
func (s *Service) Activity(ctx context.Context, orgID uuid.UUID, q ActivityQuery) ([]ActivityRow, error) {
	const op = "ledger.activity"
	if err := shared.EnsureTenant(ctx, op, orgID); err != nil {
		return nil, err
	}
	if q.Basis == "" {
		q.Basis = BasisActual
	}
	rows, err := s.repo.Activity(ctx, orgID, q)
	if err != nil {
		return nil, shared.WrapOp(op, err)
	}
	return rows, nil
}

// LatestPostedAt returns the newest posting time of ledger transactions dated in range.
func (s *Service) LatestPostedAt(ctx context.Context, orgID uuid.UUID, from, to time.Time) (time.Time, bool, error) {
	const op = "ledger.freshness"
	if err := shared.EnsureTenant(ctx, op, orgID); err != nil {
		return time.Time{}, false, err
	}
	at, ok, err := s.repo.LatestPostedAt(ctx, orgID, from, to)
	if err != nil {
		return time.Time{}, false, shared.WrapOp(op, err)
	}
	return at, ok, nil
}
