package fiscal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/lock"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const dateLayout = "2006-01-02"

// Options tunes the guardrail.
type Options struct {
	// RequireDefinedPeriod turns a date outside every period into a violation instead of a warning.
	RequireDefinedPeriod bool
}

// Service orchestrates the fiscal period lifecycle and the guardrail checks.
type Service struct {
	repo   Repository
	locker lock.Locker
	audit  shared.AuditRecorder
	logger *slog.Logger
	opts   Options
	now    func() time.Time
}

// NewService constructs a Service instance. locker and audit may be nil.
func NewService(repo Repository, locker lock.Locker, audit shared.AuditRecorder, logger *slog.Logger, opts Options) *Service {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		locker: locker,
		audit:  audit,
		logger: logger,
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreatePeriod inserts a new OPEN period after validating overlap.
func (s *Service) CreatePeriod(ctx context.Context, in CreatePeriodInput) (Period, error) {
	const op = "fiscal.create_period"
	if err := shared.EnsureTenant(ctx, op, in.OrgID); err != nil {
		return Period{}, err
	}
	if err := in.Validate(); err != nil {
		return Period{}, shared.Wrap(shared.KindValidation, op, err)
	}
	now := s.now()
	period := Period{
		ID:        uuid.New(),
		OrgID:     in.OrgID,
		Name:      strings.TrimSpace(in.Name),
		StartDate: shared.DateOnly(in.StartDate),
		EndDate:   shared.DateOnly(in.EndDate),
		Status:    PeriodStatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := lock.With(ctx, s.locker, shared.PeriodLockKey(in.OrgID), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if err := tx.LockPeriods(ctx, in.OrgID); err != nil {
				return err
			}
			conflict, err := tx.PeriodRangeConflict(ctx, in.OrgID, period.StartDate, period.EndDate)
			if err != nil {
				return err
			}
			if conflict {
				return ErrPeriodOverlap
			}
			return tx.InsertPeriod(ctx, period)
		})
	})
	if err != nil {
		if errors.Is(err, ErrPeriodOverlap) {
			return Period{}, shared.Wrap(shared.KindConflict, op, err)
		}
		return Period{}, s.lockOrBackend(op, err)
	}
	s.record(ctx, "period.create", period)
	return period, nil
}

// ListPeriods returns periods ordered by start date.
func (s *Service) ListPeriods(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]Period, error) {
	const op = "fiscal.list"
	if err := shared.EnsureTenant(ctx, op, orgID); err != nil {
		return nil, err
	}
	periods, err := s.repo.ListPeriods(ctx, orgID, shared.NewPage(limit, offset))
	if err != nil {
		return nil, shared.WrapOp(op, err)
	}
	return periods, nil
}

// GetPeriod returns a single period.
func (s *Service) GetPeriod(ctx context.Context, orgID, id uuid.UUID) (Period, error) {
	const op = "fiscal.get"
	if err := shared.EnsureTenant(ctx, op, orgID); err != nil {
		return Period{}, err
	}
	p, err := s.repo.LoadPeriod(ctx, orgID, id)
	if errors.Is(err, shared.ErrNotFound) {
		return Period{}, shared.NotFound(op, "fiscal period")
	}
	if err != nil {
		return Period{}, shared.WrapOp(op, err)
	}
	return p, nil
}

// BeginClose moves an OPEN period to CLOSING. Writes still pass with a warning.
func (s *Service) BeginClose(ctx context.Context, orgID, id uuid.UUID) (Period, error) {
	return s.transition(ctx, "fiscal.begin_close", orgID, id, PeriodStatusClosing)
}

// Close moves a CLOSING period to CLOSED. CLOSED is terminal.
func (s *Service) Close(ctx context.Context, orgID, id uuid.UUID) (Period, error) {
	return s.transition(ctx, "fiscal.close", orgID, id, PeriodStatusClosed)
}

// Reopen moves a CLOSING period back to OPEN.
func (s *Service) Reopen(ctx context.Context, orgID, id uuid.UUID) (Period, error) {
	return s.transition(ctx, "fiscal.reopen", orgID, id, PeriodStatusOpen)
}

func (s *Service) transition(ctx context.Context, op string, orgID, id uuid.UUID, target PeriodStatus) (Period, error) {
	if err := shared.EnsureTenant(ctx, op, orgID); err != nil {
		return Period{}, err
	}
	var period Period
	err := lock.With(ctx, s.locker, shared.PeriodLockKey(orgID), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := tx.LoadPeriodForUpdate(ctx, orgID, id)
			if err != nil {
				return err
			}
			if current.Status == target {
				return shared.ErrInvalidPeriodTransition
			}
			if err := shared.ValidatePeriodTransition(string(current.Status), string(target)); err != nil {
				return err
			}
			now := s.now()
			var closedAt *time.Time
			if target == PeriodStatusClosed {
				closedAt = &now
			}
			if err := tx.UpdatePeriodStatus(ctx, orgID, id, target, closedAt, now); err != nil {
				return err
			}
			period = current
			period.Status = target
			period.ClosedAt = closedAt
			period.UpdatedAt = now
			return nil
		})
	})
	switch {
	case err == nil:
	case errors.Is(err, shared.ErrNotFound):
		return Period{}, shared.NotFound(op, "fiscal period")
	case errors.Is(err, shared.ErrInvalidPeriodTransition):
		return Period{}, shared.Validation(op, fmt.Sprintf("cannot move period to %s", target))
	default:
		return Period{}, s.lockOrBackend(op, err)
	}
	s.record(ctx, strings.Replace(op, "fiscal.", "period.", 1), period)
	s.logger.Info("fiscal period transition", slog.String("org_id", orgID.String()), slog.String("period", period.Name), slog.String("status", string(target)))
	return period, nil
}

// ValidatePeriod checks one date against the guardrail.
func (s *Service) ValidatePeriod(ctx context.Context, orgID uuid.UUID, date time.Time) (Result, error) {
	const op = "fiscal.validate"
	if err := shared.EnsureTenant(ctx, op, orgID); err != nil {
		return Result{}, err
	}
	if date.IsZero() {
		return Result{}, shared.Validation(op, "date required")
	}
	periods, err := s.repo.Covering(ctx, orgID, shared.DateOnly(date))
	if err != nil {
		return Result{}, shared.WrapOp(op, err)
	}
	res := Result{Violations: []string{}, Warnings: []string{}, Periods: periods}
	day := date.Format(dateLayout)
	if len(periods) == 0 {
		msg := fmt.Sprintf("No fiscal period defined for %s", day)
		if s.opts.RequireDefinedPeriod {
			res.Violations = append(res.Violations, msg)
		} else {
			res.Warnings = append(res.Warnings, msg)
		}
	}
	for _, p := range periods {
		switch p.Status {
		case PeriodStatusClosed:
			res.Violations = append(res.Violations, fmt.Sprintf("Fiscal period %s (%s to %s) is CLOSED; %s cannot be used",
				p.Name, p.StartDate.Format(dateLayout), p.EndDate.Format(dateLayout), day))
		case PeriodStatusClosing:
			res.Warnings = append(res.Warnings, fmt.Sprintf("Fiscal period %s is CLOSING", p.Name))
		}
	}
	res.Passed = len(res.Violations) == 0
	return res, nil
}

// ValidateRange checks both ends of [start, end], then every period lying
// between them, and merges the verdicts.
func (s *Service) ValidateRange(ctx context.Context, orgID uuid.UUID, start, end time.Time) (Result, error) {
	res, err := s.ValidatePeriod(ctx, orgID, start)
	if err != nil {
		return Result{}, err
	}
	from, to := shared.DateOnly(start), shared.DateOnly(end)
	if to.Equal(from) {
		return res, nil
	}
	other, err := s.ValidatePeriod(ctx, orgID, end)
	if err != nil {
		return Result{}, err
	}
	res.merge(other)

	inner, err := s.repo.Overlapping(ctx, orgID, from, to)
	if err != nil {
		return Result{}, shared.WrapOp("fiscal.validate", err)
	}
	between := Result{Violations: []string{}, Warnings: []string{}}
	for _, p := range inner {
		if res.has(p.ID) {
			continue
		}
		between.Periods = append(between.Periods, p)
		switch p.Status {
		case PeriodStatusClosed:
			between.Violations = append(between.Violations, fmt.Sprintf("Fiscal period %s (%s to %s) is CLOSED and lies inside %s to %s",
				p.Name, p.StartDate.Format(dateLayout), p.EndDate.Format(dateLayout), from.Format(dateLayout), to.Format(dateLayout)))
		case PeriodStatusClosing:
			between.Warnings = append(between.Warnings, fmt.Sprintf("Fiscal period %s is CLOSING", p.Name))
		}
	}
	res.merge(between)
	return res, nil
}

// EnsureWritable fails with FiscalPeriodViolation when date cannot take postings.
func (s *Service) EnsureWritable(ctx context.Context, orgID uuid.UUID, date time.Time) error {
	res, err := s.ValidatePeriod(ctx, orgID, date)
	if err != nil {
		return err
	}
	if !res.Passed {
		return shared.FiscalViolation("fiscal.ensure_writable", res.Violations)
	}
	return nil
}

// EnsureReadable fails with FiscalPeriodViolation when [start, end] cannot be reported on.
func (s *Service) EnsureReadable(ctx context.Context, orgID uuid.UUID, start, end time.Time) error {
	res, err := s.ValidateRange(ctx, orgID, start, end)
	if err != nil {
		return err
	}
	if !res.Passed {
		return shared.FiscalViolation("fiscal.ensure_readable", res.Violations)
	}
	return nil
}

func (s *Service) lockOrBackend(op string, err error) error {
	if errors.Is(err, lock.ErrNotObtained) {
		return shared.Wrap(shared.KindTransient, op, err)
	}
	return shared.WrapOp(op, err)
}

func (s *Service) record(ctx context.Context, action string, p Period) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		OrgID:    p.OrgID,
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "fiscal_period",
		EntityID: p.ID.String(),
		Meta:     map[string]any{"name": p.Name, "status": string(p.Status)},
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
