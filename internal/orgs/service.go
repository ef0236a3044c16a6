package orgs

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Service exposes tenant registry operations.
type Service struct {
	repo     Repository
	validate *validator.Validate
	now      func() time.Time
}

// NewService constructs the service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, validate: validator.New(), now: func() time.Time { return time.Now().UTC() }}
}

// Create onboards a tenant. It is the only operation that runs without a tenant in context.
func (s *Service) Create(ctx context.Context, input CreateInput) (Organization, error) {
	const op = "orgs.create"
	if err := s.validate.Struct(input); err != nil {
		return Organization{}, shared.Wrap(shared.KindValidation, op, err)
	}
	code, err := money.ParseCurrency(input.BaseCurrency)
	if err != nil {
		return Organization{}, shared.Wrap(shared.KindValidation, op, err)
	}
	org := Organization{ID: uuid.New(), Name: input.Name, BaseCurrency: code, CreatedAt: s.now()}
	if err := s.repo.Insert(ctx, org); err != nil {
		return Organization{}, shared.WrapOp(op, err)
	}
	return org, nil
}

// Get returns the caller's organization.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Organization, error) {
	const op = "orgs.get"
	if err := shared.EnsureTenant(ctx, op, id); err != nil {
		return Organization{}, err
	}
	org, err := s.repo.Get(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return Organization{}, shared.NotFound(op, "organization")
	}
	if err != nil {
		return Organization{}, shared.WrapOp(op, err)
	}
	return org, nil
}

// BaseCurrency returns the reporting currency of the caller's organization.
func (s *Service) BaseCurrency(ctx context.Context, id uuid.UUID) (string, error) {
	org, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return org.BaseCurrency, nil
}

// ListAll returns every tenant. Reserved for background jobs running as the system.
func (s *Service) ListAll(ctx context.Context) ([]Organization, error) {
	orgs, err := s.repo.List(ctx)
	if err != nil {
		return nil, shared.WrapOp("orgs.list", err)
	}
	return orgs, nil
}
