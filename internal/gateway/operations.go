package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/entities"
	"github.com/odyssey-erp/odyssey-ledger/internal/export"
	"github.com/odyssey-erp/odyssey-ledger/internal/fiscal"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/orgs"
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/relationships"
	"github.com/odyssey-erp/odyssey-ledger/internal/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type orgService interface {
	Create(ctx context.Context, input orgs.CreateInput) (orgs.Organization, error)
	Get(ctx context.Context, id uuid.UUID) (orgs.Organization, error)
}

type entityService interface {
	CreateEntity(ctx context.Context, input entities.CreateEntityInput) (entities.Entity, error)
	SetAttribute(ctx context.Context, input entities.SetAttributeInput) (entities.DynamicField, error)
	GetEntity(ctx context.Context, orgID uuid.UUID, entityType, code string) (entities.Entity, error)
	GetEntityByID(ctx context.Context, orgID, id uuid.UUID) (entities.Entity, error)
	ListEntities(ctx context.Context, orgID uuid.UUID, entityType string, filter entities.ListFilter) ([]entities.Entity, error)
	SetStatus(ctx context.Context, orgID, id uuid.UUID, status entities.Status) (entities.Entity, error)
	GetAttributes(ctx context.Context, orgID, id uuid.UUID) ([]entities.DynamicField, error)
}

type relationshipService interface {
	Link(ctx context.Context, input relationships.LinkInput) (relationships.Relationship, error)
	Unlink(ctx context.Context, orgID, fromID, toID uuid.UUID, relType string) error
	Neighbors(ctx context.Context, orgID, entityID uuid.UUID, relType string, dir relationships.Direction) ([]relationships.Relationship, error)
	Ancestors(ctx context.Context, orgID, id uuid.UUID, relType string) ([]uuid.UUID, error)
}

type ledgerService interface {
	Get(ctx context.Context, orgID, id uuid.UUID) (ledger.Transaction, error)
	List(ctx context.Context, orgID uuid.UUID, filter ledger.ListFilter) ([]ledger.Transaction, error)
}

type postingService interface {
	Post(ctx context.Context, input posting.PostInput) (ledger.Transaction, error)
	AppendLines(ctx context.Context, orgID, txID uuid.UUID, inputs []posting.LineInput) (ledger.Transaction, error)
	Finalize(ctx context.Context, orgID, txID uuid.UUID) (ledger.Transaction, error)
	Cancel(ctx context.Context, orgID, txID uuid.UUID) error
	Reverse(ctx context.Context, input posting.ReverseInput) (ledger.Transaction, error)
	PostSale(ctx context.Context, input posting.SaleInput) (posting.ChainResult, error)
}

type fiscalService interface {
	CreatePeriod(ctx context.Context, in fiscal.CreatePeriodInput) (fiscal.Period, error)
	ListPeriods(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]fiscal.Period, error)
	BeginClose(ctx context.Context, orgID, id uuid.UUID) (fiscal.Period, error)
	Close(ctx context.Context, orgID, id uuid.UUID) (fiscal.Period, error)
	Reopen(ctx context.Context, orgID, id uuid.UUID) (fiscal.Period, error)
	ValidatePeriod(ctx context.Context, orgID uuid.UUID, date time.Time) (fiscal.Result, error)
	ValidateRange(ctx context.Context, orgID uuid.UUID, start, end time.Time) (fiscal.Result, error)
}

type reportService interface {
	TrialBalance(ctx context.Context, cfg reports.Config) (reports.TrialBalance, error)
	ProfitAndLoss(ctx context.Context, cfg reports.Config) (reports.ProfitAndLoss, error)
	BalanceSheet(ctx context.Context, cfg reports.Config) (reports.BalanceSheet, error)
	DrillDown(ctx context.Context, cfg reports.Config, accountID uuid.UUID) (reports.DrillDown, error)
}

type exportService interface {
	ExportReport(ctx context.Context, req export.Request) (export.Result, error)
}

type cacheInvalidator interface {
	Invalidate(ctx context.Context, orgID uuid.UUID) error
}

// Services are the domain services behind the gateway. Nil services leave their operations unregistered.
type Services struct {
	Orgs          orgService
	Entities      entityService
	Relationships relationshipService
	Ledger        ledgerService
	Posting       postingService
	Fiscal        fiscalService
	Reports       reportService
	Export        exportService
	Cache         cacheInvalidator
}

type orgParams struct {
	OrgID uuid.UUID `json:"organization_id"`
}

type entityRef struct {
	OrgID    uuid.UUID `json:"organization_id"`
	EntityID uuid.UUID `json:"entity_id"`
}

type entityByCode struct {
	OrgID uuid.UUID `json:"organization_id"`
	Type  string    `json:"entity_type"`
	Code  string    `json:"entity_code"`
}

type entityList struct {
	OrgID uuid.UUID `json:"organization_id"`
	Type  string    `json:"entity_type"`
	entities.ListFilter
}

type entityStatus struct {
	OrgID    uuid.UUID       `json:"organization_id"`
	EntityID uuid.UUID       `json:"entity_id"`
	Status   entities.Status `json:"status"`
}

type entityWithAttributes struct {
	entities.Entity
	Attributes []entities.DynamicField `json:"dynamic_fields"`
}

type unlinkParams struct {
	OrgID  uuid.UUID `json:"organization_id"`
	FromID uuid.UUID `json:"from_entity_id"`
	ToID   uuid.UUID `json:"to_entity_id"`
	Type   string    `json:"relationship_type"`
}

type neighborParams struct {
	OrgID     uuid.UUID               `json:"organization_id"`
	EntityID  uuid.UUID               `json:"entity_id"`
	Type      string                  `json:"relationship_type"`
	Direction relationships.Direction `json:"direction"`
}

type txRef struct {
	OrgID         uuid.UUID `json:"organization_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
}

type ledgerListParams struct {
	OrgID       uuid.UUID  `json:"organization_id"`
	Type        string     `json:"transaction_type"`
	Status      string     `json:"status"`
	From        time.Time  `json:"from"`
	To          time.Time  `json:"to"`
	ReferenceID *uuid.UUID `json:"reference_id"`
	LedgerOnly  bool       `json:"ledger_only"`
	WithLines   bool       `json:"with_lines"`
	Limit       int        `json:"limit"`
	Offset      int        `json:"offset"`
}

type appendParams struct {
	OrgID         uuid.UUID           `json:"organization_id"`
	TransactionID uuid.UUID           `json:"transaction_id"`
	Lines         []posting.LineInput `json:"lines"`
}

type periodRef struct {
	OrgID    uuid.UUID `json:"organization_id"`
	PeriodID uuid.UUID `json:"period_id"`
}

type periodList struct {
	OrgID  uuid.UUID `json:"organization_id"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

type validateParams struct {
	OrgID     uuid.UUID `json:"organization_id"`
	Date      time.Time `json:"date"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

type drillParams struct {
	reports.Config
	AccountID uuid.UUID `json:"account_id"`
}

type done struct {
	OK bool `json:"ok"`
}

func (s Services) register(g *Gateway) {
	if s.Orgs != nil {
		g.Register("orgs.create", handler("orgs.create", s.Orgs.Create))
		g.Register("orgs.get", handler("orgs.get", func(ctx context.Context, p orgParams) (orgs.Organization, error) {
			return s.Orgs.Get(ctx, p.OrgID)
		}))
	}
	if s.Entities != nil {
		s.registerEntities(g)
	}
	if s.Relationships != nil {
		s.registerRelationships(g)
	}
	if s.Ledger != nil {
		g.Register("ledger.get", handler("ledger.get", func(ctx context.Context, p txRef) (ledger.Transaction, error) {
			return s.Ledger.Get(ctx, p.OrgID, p.TransactionID)
		}))
		g.Register("ledger.list", handler("ledger.list", s.listTransactions))
	}
	if s.Posting != nil {
		s.registerPosting(g)
	}
	if s.Fiscal != nil {
		s.registerFiscal(g)
	}
	if s.Reports != nil {
		g.Register("reports.trial_balance", handler("reports.trial_balance", s.Reports.TrialBalance))
		g.Register("reports.profit_and_loss", handler("reports.profit_and_loss", s.Reports.ProfitAndLoss))
		g.Register("reports.balance_sheet", handler("reports.balance_sheet", s.Reports.BalanceSheet))
		g.Register("reports.drill_down", handler("reports.drill_down", func(ctx context.Context, p drillParams) (reports.DrillDown, error) {
			return s.Reports.DrillDown(ctx, p.Config, p.AccountID)
		}))
	}
	if s.Export != nil {
		g.Register("reports.export", handler("reports.export", s.Export.ExportReport))
	}
	if s.Cache != nil {
		g.Register("cache.invalidate", handler("cache.invalidate", func(ctx context.Context, p orgParams) (done, error) {
			if err := shared.EnsureTenant(ctx, "cache.invalidate", p.OrgID); err != nil {
				return done{}, err
			}
			if err := s.Cache.Invalidate(ctx, p.OrgID); err != nil {
				return done{}, shared.WrapOp("cache.invalidate", err)
			}
			return done{OK: true}, nil
		}))
	}
}

func (s Services) registerEntities(g *Gateway) {
	g.Register("entities.create", handler("entities.create", s.Entities.CreateEntity))
	g.Register("entities.set_attribute", handler("entities.set_attribute", s.Entities.SetAttribute))
	g.Register("entities.get", handler("entities.get", func(ctx context.Context, p entityByCode) (entities.Entity, error) {
		return s.Entities.GetEntity(ctx, p.OrgID, p.Type, p.Code)
	}))
	g.Register("entities.get_by_id", handler("entities.get_by_id", func(ctx context.Context, p entityRef) (entityWithAttributes, error) {
		e, err := s.Entities.GetEntityByID(ctx, p.OrgID, p.EntityID)
		if err != nil {
			return entityWithAttributes{}, err
		}
		fields, err := s.Entities.GetAttributes(ctx, p.OrgID, p.EntityID)
		if err != nil {
			return entityWithAttributes{}, err
		}
		return entityWithAttributes{Entity: e, Attributes: fields}, nil
	}))
	g.Register("entities.list", handler("entities.list", func(ctx context.Context, p entityList) ([]entities.Entity, error) {
		return s.Entities.ListEntities(ctx, p.OrgID, p.Type, p.ListFilter)
	}))
	g.Register("entities.set_status", handler("entities.set_status", func(ctx context.Context, p entityStatus) (entities.Entity, error) {
		return s.Entities.SetStatus(ctx, p.OrgID, p.EntityID, p.Status)
	}))
}

func (s Services) registerRelationships(g *Gateway) {
	g.Register("relationships.link", handler("relationships.link", s.Relationships.Link))
	g.Register("relationships.unlink", handler("relationships.unlink", func(ctx context.Context, p unlinkParams) (done, error) {
		if err := s.Relationships.Unlink(ctx, p.OrgID, p.FromID, p.ToID, p.Type); err != nil {
			return done{}, err
		}
		return done{OK: true}, nil
	}))
	g.Register("relationships.neighbors", handler("relationships.neighbors", func(ctx context.Context, p neighborParams) ([]relationships.Relationship, error) {
		dir := p.Direction
		if dir == "" {
			dir = relationships.Outgoing
		}
		return s.Relationships.Neighbors(ctx, p.OrgID, p.EntityID, p.Type, dir)
	}))
	g.Register("relationships.ancestors", handler("relationships.ancestors", func(ctx context.Context, p neighborParams) ([]uuid.UUID, error) {
		return s.Relationships.Ancestors(ctx, p.OrgID, p.EntityID, p.Type)
	}))
}

func (s Services) registerPosting(g *Gateway) {
	g.Register("posting.post", handler("posting.post", s.Posting.Post))
	g.Register("posting.append_lines", handler("posting.append_lines", func(ctx context.Context, p appendParams) (ledger.Transaction, error) {
		return s.Posting.AppendLines(ctx, p.OrgID, p.TransactionID, p.Lines)
	}))
	g.Register("posting.finalize", handler("posting.finalize", func(ctx context.Context, p txRef) (ledger.Transaction, error) {
		return s.Posting.Finalize(ctx, p.OrgID, p.TransactionID)
	}))
	g.Register("posting.cancel", handler("posting.cancel", func(ctx context.Context, p txRef) (done, error) {
		if err := s.Posting.Cancel(ctx, p.OrgID, p.TransactionID); err != nil {
			return done{}, err
		}
		return done{OK: true}, nil
	}))
	g.Register("posting.reverse", handler("posting.reverse", s.Posting.Reverse))
	g.Register("posting.sale", handler("posting.sale", s.postSale))
}

// postSale reports which chain steps committed before a failure.
func (s Services) postSale(ctx context.Context, p posting.SaleInput) (posting.ChainResult, error) {
	result, err := s.Posting.PostSale(ctx, p)
	if err == nil {
		return result, nil
	}
	if chain, ok := posting.AsChainError(err); ok {
		return chain.Completed, withViolation(err, fmt.Sprintf("failed at %s; completed: %s", chain.Step, completedSteps(chain.Completed)))
	}
	return result, err
}

func completedSteps(r posting.ChainResult) string {
	out := "none"
	if r.SaleID != uuid.Nil {
		out = "SALE " + r.SaleID.String()
	}
	if r.GLPostingID != uuid.Nil {
		out += ", GL_POSTING " + r.GLPostingID.String()
	}
	return out
}

func withViolation(err error, violation string) error {
	return &shared.Error{
		Kind:       shared.KindOf(err),
		Op:         "posting.sale",
		Message:    err.Error(),
		Violations: []string{violation},
		Err:        err,
	}
}

func (s Services) listTransactions(ctx context.Context, p ledgerListParams) ([]ledger.Transaction, error) {
	filter := ledger.ListFilter{
		Status:      ledger.Status(p.Status),
		From:        p.From,
		To:          p.To,
		ReferenceID: p.ReferenceID,
		LedgerOnly:  p.LedgerOnly,
		WithLines:   p.WithLines,
		Limit:       p.Limit,
		Offset:      p.Offset,
	}
	if p.Type != "" {
		t, ok := ledger.ParseType(p.Type)
		if !ok {
			return nil, shared.Validation("ledger.list", fmt.Sprintf("unknown transaction type %q", p.Type))
		}
		filter.Type = t
	}
	if p.Status != "" && !filter.Status.Valid() {
		return nil, shared.Validation("ledger.list", fmt.Sprintf("unknown status %q", p.Status))
	}
	return s.Ledger.List(ctx, p.OrgID, filter)
}

func (s Services) registerFiscal(g *Gateway) {
	g.Register("fiscal.create_period", handler("fiscal.create_period", s.Fiscal.CreatePeriod))
	g.Register("fiscal.list", handler("fiscal.list", func(ctx context.Context, p periodList) ([]fiscal.Period, error) {
		return s.Fiscal.ListPeriods(ctx, p.OrgID, p.Limit, p.Offset)
	}))
	g.Register("fiscal.begin_close", handler("fiscal.begin_close", func(ctx context.Context, p periodRef) (fiscal.Period, error) {
		return s.Fiscal.BeginClose(ctx, p.OrgID, p.PeriodID)
	}))
	g.Register("fiscal.close", handler("fiscal.close", func(ctx context.Context, p periodRef) (fiscal.Period, error) {
		return s.Fiscal.Close(ctx, p.OrgID, p.PeriodID)
	}))
	g.Register("fiscal.reopen", handler("fiscal.reopen", func(ctx context.Context, p periodRef) (fiscal.Period, error) {
		return s.Fiscal.Reopen(ctx, p.OrgID, p.PeriodID)
	}))
	g.Register("fiscal.validate", handler("fiscal.validate", func(ctx context.Context, p validateParams) (fiscal.Result, error) {
		switch {
		case !p.StartDate.IsZero() || !p.EndDate.IsZero():
			if p.StartDate.IsZero() || p.EndDate.IsZero() {
				return fiscal.Result{}, shared.Validation("fiscal.validate", "start_date and end_date are both required for a range")
			}
			return s.Fiscal.ValidateRange(ctx, p.OrgID, p.StartDate, p.EndDate)
		case !p.Date.IsZero():
			return s.Fiscal.ValidatePeriod(ctx, p.OrgID, p.Date)
		}
		return fiscal.Result{}, shared.Validation("fiscal.validate", "date or start_date/end_date required")
	}))
}
