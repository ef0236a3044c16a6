package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/lock"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/smartcode"
)

// Dependencies wires the posting engine. Only Repo and Guard are required.
type Dependencies struct {
	Repo        ledger.Repository
	Guard       Guard
	Entities    EntityChecker
	Locker      lock.Locker
	Registry    *smartcode.Registry
	Invalidator Invalidator
	Audit       shared.AuditRecorder
	Metrics     *Metrics
	Logger      *slog.Logger
}

// Service is the posting engine.
type Service struct {
	repo        ledger.Repository
	guard       Guard
	entities    EntityChecker
	locker      lock.Locker
	registry    *smartcode.Registry
	invalidator Invalidator
	audit       shared.AuditRecorder
	metrics     *Metrics
	logger      *slog.Logger
	validate    *validator.Validate
	now         func() time.Time
}

// NewService constructs the posting engine.
func NewService(deps Dependencies) *Service {
	if deps.Locker == nil {
		deps.Locker = lock.NewLocalLocker()
	}
	if deps.Registry == nil {
		deps.Registry = smartcode.DefaultRegistry()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		repo:        deps.Repo,
		guard:       deps.Guard,
		entities:    deps.Entities,
		locker:      deps.Locker,
		registry:    deps.Registry,
		invalidator: deps.Invalidator,
		audit:       deps.Audit,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		validate:    validator.New(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Post validates input and commits the header and its lines atomically.
// A repeated idempotency key returns the transaction committed the first time.
func (s *Service) Post(ctx context.Context, input PostInput) (ledger.Transaction, error) {
	const op = "posting.post"
	txType := strings.ToUpper(strings.TrimSpace(input.Type))
	out, replayed, err := s.post(ctx, op, input)
	switch {
	case err != nil:
		s.metrics.observe(txType, err)
	case replayed:
		s.metrics.replayed(txType)
	default:
		s.metrics.observe(txType, nil)
		s.afterCommit(ctx, out.OrgID, "transaction.post", out.ID, map[string]any{
			"type":       out.Type,
			"status":     out.Status,
			"smart_code": out.SmartCode.String(),
			"total":      out.TotalAmount.String(),
		})
	}
	return out, err
}

func (s *Service) post(ctx context.Context, op string, input PostInput) (ledger.Transaction, bool, error) {
	if err := shared.EnsureTenant(ctx, op, input.OrgID); err != nil {
		return ledger.Transaction{}, false, err
	}
	header, err := s.buildHeader(op, input)
	if err != nil {
		return ledger.Transaction{}, false, err
	}
	lines, err := s.buildLines(op, header, input.Lines, 1)
	if err != nil {
		return ledger.Transaction{}, false, err
	}
	if header.Status == ledger.StatusPosted {
		if len(lines) == 0 {
			return ledger.Transaction{}, false, shared.Validation(op, "a posted transaction requires at least one line")
		}
		if err := checkBalance(op, header, lines); err != nil {
			return ledger.Transaction{}, false, err
		}
	}
	if header.TotalAmount.IsZero() {
		header.TotalAmount = totalOf(header, lines)
	}
	if header.Type.Dependent() && len(header.References) == 0 {
		return ledger.Transaction{}, false, shared.NewError(shared.KindDataIntegrity, op,
			fmt.Sprintf("%s requires the id of its upstream transaction", header.Type))
	}
	if err := s.guard.EnsureWritable(ctx, header.OrgID, header.Date); err != nil {
		return ledger.Transaction{}, false, err
	}
	if err := s.checkEntities(ctx, op, header, lines); err != nil {
		return ledger.Transaction{}, false, err
	}

	var (
		out      ledger.Transaction
		replayed bool
	)
	lockKey := shared.TransactionLockKey(header.OrgID, header.ID)
	if header.IdempotencyKey != "" {
		lockKey = shared.IdempotencyLockKey(header.OrgID, header.IdempotencyKey)
	}
	err = lock.With(ctx, s.locker, lockKey, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
			if header.IdempotencyKey != "" {
				existing, ok, err := tx.FindByIdempotencyKey(ctx, header.OrgID, header.IdempotencyKey)
				if err != nil {
					return err
				}
				if ok {
					stored, err := tx.Lines(ctx, existing.OrgID, existing.ID)
					if err != nil {
						return err
					}
					out = ledger.Transaction{Header: existing, Lines: stored}
					replayed = true
					return nil
				}
			}
			if err := s.guard.EnsureWritable(ctx, header.OrgID, header.Date); err != nil {
				return err
			}
			if err := checkReferences(ctx, op, tx, header, lines); err != nil {
				return err
			}
			if err := tx.InsertHeader(ctx, header); err != nil {
				return err
			}
			if err := tx.InsertLines(ctx, lines); err != nil {
				return err
			}
			out = ledger.Transaction{Header: header, Lines: lines}
			return nil
		})
	})
	if err != nil {
		return ledger.Transaction{}, false, mapWriteError(op, err)
	}
	return out, replayed, nil
}

// AppendLines adds lines to a scheduled transaction. Line numbers continue after
// the highest stored number; posted transactions reject new lines.
func (s *Service) AppendLines(ctx context.Context, orgID, txID uuid.UUID, inputs []LineInput) (ledger.Transaction, error) {
	const op = "posting.append_lines"
	if err := shared.EnsureTenant(ctx, op, orgID); err != nil {
		return ledger.Transaction{}, err
	}
	if len(inputs) == 0 {
		return ledger.Transaction{}, shared.Validation(op, "at least one line is required")
	}
	for i := range inputs {
		if err := s.validate.Struct(inputs[i]); err != nil {
			return ledger.Transaction{}, shared.Wrap(shared.KindValidation, op, err)
		}
	}
	var out ledger.Transaction
	err := lock.With(ctx, s.locker, shared.TransactionLockKey(orgID, txID), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
			header, err := tx.LockHeader(ctx, orgID, txID)
			if err != nil {
				return err
			}
			if header.Status != ledger.StatusScheduled {
				return shared.Validation(op, fmt.Sprintf("transaction %s is %s; only scheduled transactions accept lines", header.ID, header.Status))
			}
			if err := s.guard.EnsureWritable(ctx, orgID, header.Date); err != nil {
				return err
			}
			highest, err := tx.MaxLineNumber(ctx, orgID, txID)
			if err != nil {
				return err
			}
			lines, err := s.buildLines(op, header, inputs, highest+1)
			if err != nil {
				return err
			}
			if err := s.checkEntities(ctx, op, ledger.Header{OrgID: orgID}, lines); err != nil {
				return err
			}
			if err := checkReferences(ctx, op, tx, header, lines); err != nil {
				return err
			}
			if err := tx.InsertLines(ctx, lines); err != nil {
				return err
			}
			all, err := tx.Lines(ctx, orgID, txID)
			if err != nil {
				return err
			}
			header.TotalAmount = totalOf(header, all)
			if err := tx.SetTotal(ctx, orgID, txID, header.TotalAmount); err != nil {
				return err
			}
			out = ledger.Transaction{Header: header, Lines: all}
			return nil
		})
	})
	if err != nil {
		return ledger.Transaction{}, mapWriteError(op, err)
	}
	s.record(ctx, orgID, "transaction.append_lines", txID, map[string]any{"lines": len(inputs)})
	return out, nil
}

// Finalize posts a scheduled transaction once its lines balance.
func (s *Service) Finalize(ctx context.Context, orgID, txID uuid.UUID) (ledger.Transaction, error) {
	const op = "posting.finalize"
	if err := shared.EnsureTenant(ctx, op, orgID); err != nil {
		return ledger.Transaction{}, err
	}
	current, err := s.repo.Get(ctx, orgID, txID)
	if err != nil {
		return ledger.Transaction{}, mapWriteError(op, err)
	}
	if err := s.guard.EnsureWritable(ctx, orgID, current.Date); err != nil {
		s.metrics.observe(string(current.Type), err)
		return ledger.Transaction{}, err
	}
	var out ledger.Transaction
	err = lock.With(ctx, s.locker, shared.TransactionLockKey(orgID, txID), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
			header, err := tx.LockHeader(ctx, orgID, txID)
			if err != nil {
				return err
			}
			if header.Status != ledger.StatusScheduled {
				return shared.Validation(op, fmt.Sprintf("transaction %s is %s; only scheduled transactions can be posted", header.ID, header.Status))
			}
			if err := s.guard.EnsureWritable(ctx, orgID, header.Date); err != nil {
				return err
			}
			lines, err := tx.Lines(ctx, orgID, txID)
			if err != nil {
				return err
			}
			if len(lines) == 0 {
				return shared.Validation(op, "a posted transaction requires at least one line")
			}
			if err := checkBalance(op, header, lines); err != nil {
				return err
			}
			if err := checkReferences(ctx, op, tx, header, lines); err != nil {
				return err
			}
			at := s.now()
			if err := tx.SetStatus(ctx, orgID, txID, ledger.StatusScheduled, ledger.StatusPosted, at); err != nil {
				return err
			}
			header.Status = ledger.StatusPosted
			header.PostedAt = &at
			out = ledger.Transaction{Header: header, Lines: lines}
			return nil
		})
	})
	s.metrics.observe(string(current.Type), err)
	if err != nil {
		return ledger.Transaction{}, mapWriteError(op, err)
	}
	s.afterCommit(ctx, orgID, "transaction.finalize", txID, nil)
	return out, nil
}

// Cancel discards a scheduled transaction. Posted transactions are undone with Reverse.
func (s *Service) Cancel(ctx context.Context, orgID, txID uuid.UUID) error {
	const op = "posting.cancel"
	if err := shared.EnsureTenant(ctx, op, orgID); err != nil {
		return err
	}
	err := lock.With(ctx, s.locker, shared.TransactionLockKey(orgID, txID), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
			header, err := tx.LockHeader(ctx, orgID, txID)
			if err != nil {
				return err
			}
			if header.Status != ledger.StatusScheduled {
				return shared.Validation(op, fmt.Sprintf("transaction %s is %s; posted transactions are undone by reversal", header.ID, header.Status))
			}
			return tx.SetStatus(ctx, orgID, txID, ledger.StatusScheduled, ledger.StatusCancelled, s.now())
		})
	})
	if err != nil {
		return mapWriteError(op, err)
	}
	s.record(ctx, orgID, "transaction.cancel", txID, nil)
	return nil
}

func (s *Service) buildHeader(op string, input PostInput) (ledger.Header, error) {
	if err := s.validate.Struct(input); err != nil {
		return ledger.Header{}, shared.Wrap(shared.KindValidation, op, err)
	}
	txType, ok := ledger.ParseType(input.Type)
	if !ok {
		return ledger.Header{}, shared.Validation(op, fmt.Sprintf("unknown transaction type %q", input.Type))
	}
	if txType == ledger.TypeReversal {
		return ledger.Header{}, shared.Validation(op, "reversals are created from the original transaction with posting.reverse")
	}
	isLedger := input.IsLedger || txType.AlwaysLedger()
	code, err := smartcode.Parse(input.SmartCode)
	if err != nil {
		return ledger.Header{}, shared.Wrap(shared.KindValidation, op, err)
	}
	currency, err := money.ParseCurrency(input.Currency)
	if err != nil {
		return ledger.Header{}, shared.Wrap(shared.KindValidation, op, err)
	}
	status := input.Status
	if status == "" {
		status = ledger.StatusPosted
	}
	if status != ledger.StatusPosted && status != ledger.StatusScheduled {
		return ledger.Header{}, shared.Validation(op, fmt.Sprintf("new transactions are posted or scheduled, not %s", status))
	}
	if input.TotalAmount.IsNegative() {
		return ledger.Header{}, shared.Validation(op, "total amount cannot be negative")
	}
	refs, err := dedupeReferences(op, input.References)
	if err != nil {
		return ledger.Header{}, err
	}
	now := s.now()
	header := ledger.Header{
		ID:             uuid.New(),
		OrgID:          input.OrgID,
		Type:           txType,
		Number:         strings.TrimSpace(input.Number),
		Date:           shared.DateOnly(input.Date),
		Currency:       currency,
		TotalAmount:    input.TotalAmount,
		SourceEntityID: input.SourceEntityID,
		TargetEntityID: input.TargetEntityID,
		References:     refs,
		IsLedger:       isLedger,
		Status:         status,
		SmartCode:      code,
		Description:    strings.TrimSpace(input.Description),
		IdempotencyKey: strings.TrimSpace(input.IdempotencyKey),
		CreatedAt:      now,
	}
	if status == ledger.StatusPosted {
		header.PostedAt = &now
	}
	return header, nil
}

func dedupeReferences(op string, refs []uuid.UUID) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(refs))
	seen := make(map[uuid.UUID]struct{}, len(refs))
	for _, id := range refs {
		if id == uuid.Nil {
			return nil, shared.Validation(op, "reference ids cannot be empty")
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// buildLines classifies and numbers lines starting at start. Every problem is
// collected so the caller sees all of them at once.
func (s *Service) buildLines(op string, header ledger.Header, inputs []LineInput, start int) ([]ledger.Line, error) {
	lines := make([]ledger.Line, 0, len(inputs))
	var violations []string
	for i, in := range inputs {
		number := start + i
		code, err := smartcode.Parse(in.SmartCode)
		if err != nil {
			violations = append(violations, fmt.Sprintf("line %d: %v", number, err))
			continue
		}
		class, _ := s.registry.Classify(code)
		side := smartcode.Side(strings.ToUpper(strings.TrimSpace(string(in.Side))))
		if side == "" {
			side = class.Side
		}
		if side != "" && !side.Valid() {
			violations = append(violations, fmt.Sprintf("line %d: unknown side %q", number, in.Side))
		}
		role := smartcode.Role(strings.ToUpper(strings.TrimSpace(string(in.Type))))
		if role == "" {
			role = class.Role
		}
		if role == "" {
			role = smartcode.RoleItem
			if header.IsLedger && side.Valid() {
				role = smartcode.RoleLedger
			}
		}
		quantity := in.Quantity
		if quantity.IsZero() {
			quantity = decimal.NewFromInt(1)
		}
		amount := in.Amount
		if amount.IsZero() && !in.UnitAmount.IsZero() {
			amount = quantity.Mul(in.UnitAmount)
		}
		if amount.IsNegative() || in.UnitAmount.IsNegative() {
			violations = append(violations, fmt.Sprintf("line %d: amounts cannot be negative", number))
		}
		if in.TaxRate.Valid && in.TaxRate.Decimal.IsNegative() {
			violations = append(violations, fmt.Sprintf("line %d: tax rate cannot be negative", number))
		}
		if header.IsLedger && role == smartcode.RoleLedger {
			if !side.Valid() {
				violations = append(violations, fmt.Sprintf("line %d: ledger lines require a DEBIT or CREDIT side", number))
			}
			if in.AccountID == nil || *in.AccountID == uuid.Nil {
				violations = append(violations, fmt.Sprintf("line %d: ledger lines require an account", number))
			}
		}
		upstream := in.UpstreamIDs
		if len(upstream) == 0 && len(header.References) > 0 {
			upstream = append([]uuid.UUID(nil), header.References...)
		}
		lines = append(lines, ledger.Line{
			TransactionID: header.ID,
			OrgID:         header.OrgID,
			LineNumber:    number,
			Type:          role,
			EntityID:      in.EntityID,
			AccountID:     in.AccountID,
			Side:          side,
			Quantity:      quantity,
			UnitAmount:    in.UnitAmount,
			Amount:        amount,
			TaxRate:       in.TaxRate,
			UpstreamIDs:   upstream,
			SmartCode:     code,
			Description:   strings.TrimSpace(in.Description),
		})
	}
	if len(violations) > 0 {
		return nil, &shared.Error{Kind: shared.KindValidation, Op: op, Message: strings.Join(violations, "; "), Violations: violations}
	}
	return lines, nil
}

func checkBalance(op string, header ledger.Header, lines []ledger.Line) error {
	if !header.IsLedger {
		return nil
	}
	debit, credit := ledger.SumSides(lines)
	if debit.IsZero() && credit.IsZero() {
		return shared.NewError(shared.KindUnbalanced, op, "ledger transaction has no debit or credit lines")
	}
	if !money.WithinTolerance(debit, credit, header.Currency) {
		return shared.NewError(shared.KindUnbalanced, op,
			fmt.Sprintf("debits %s and credits %s differ by %s %s", debit.StringFixed(money.Scale(header.Currency)),
				credit.StringFixed(money.Scale(header.Currency)), debit.Sub(credit).Abs().String(), header.Currency))
	}
	return nil
}

// totalOf is the debit side of a ledger transaction, or the line sum otherwise.
func totalOf(header ledger.Header, lines []ledger.Line) decimal.Decimal {
	if header.IsLedger {
		debit, _ := ledger.SumSides(lines)
		return debit
	}
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Amount)
	}
	return total
}

// checkEntities confirms every referenced entity and account lives in the organization.
func (s *Service) checkEntities(ctx context.Context, op string, header ledger.Header, lines []ledger.Line) error {
	if s.entities == nil {
		return nil
	}
	seen := make(map[uuid.UUID]string)
	add := func(id *uuid.UUID, what string) {
		if id != nil && *id != uuid.Nil {
			if _, ok := seen[*id]; !ok {
				seen[*id] = what
			}
		}
	}
	add(header.SourceEntityID, "source entity")
	add(header.TargetEntityID, "target entity")
	for _, line := range lines {
		add(line.AccountID, "account")
		add(line.EntityID, "entity")
	}
	for id, what := range seen {
		ok, err := s.entities.Exists(ctx, header.OrgID, id)
		if err != nil {
			return shared.WrapOp(op, err)
		}
		if !ok {
			return shared.NewError(shared.KindDataIntegrity, op, fmt.Sprintf("%s %s does not exist in the organization", what, id))
		}
	}
	return nil
}

// checkReferences enforces the chain: every upstream id is a posted transaction
// of the same organization and every line carries the immediate upstream.
func checkReferences(ctx context.Context, op string, tx ledger.TxRepository, header ledger.Header, lines []ledger.Line) error {
	ids := append([]uuid.UUID(nil), header.References...)
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	for _, line := range lines {
		for _, id := range line.UpstreamIDs {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return nil
	}
	found, err := tx.Headers(ctx, header.OrgID, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == header.ID {
			return shared.NewError(shared.KindDataIntegrity, op, "a transaction cannot reference itself")
		}
		upstream, ok := found[id]
		if !ok {
			return shared.NewError(shared.KindDataIntegrity, op, fmt.Sprintf("upstream transaction %s not found", id))
		}
		if upstream.Status != ledger.StatusPosted {
			return shared.NewError(shared.KindDataIntegrity, op, fmt.Sprintf("upstream transaction %s is %s", id, upstream.Status))
		}
	}
	if len(header.References) == 0 {
		return nil
	}
	immediate := header.References[0]
	for _, line := range lines {
		if !containsID(line.UpstreamIDs, immediate) {
			return shared.NewError(shared.KindDataIntegrity, op,
				fmt.Sprintf("line %d does not reference upstream transaction %s", line.LineNumber, immediate))
		}
	}
	return nil
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func mapWriteError(op string, err error) error {
	var typed *shared.Error
	switch {
	case errors.As(err, &typed):
		return err
	case errors.Is(err, lock.ErrNotObtained):
		return shared.Wrap(shared.KindTransient, op, err)
	case errors.Is(err, ledger.ErrDuplicateIdempotencyKey):
		return shared.Wrap(shared.KindConflict, op, err)
	case errors.Is(err, ledger.ErrStatusChanged):
		return shared.Wrap(shared.KindConflict, op, err)
	case errors.Is(err, shared.ErrNotFound):
		return shared.NotFound(op, "transaction")
	}
	return shared.WrapOp(op, err)
}

// afterCommit records the audit entry and drops cached reports of the organization.
func (s *Service) afterCommit(ctx context.Context, orgID uuid.UUID, action string, id uuid.UUID, meta map[string]any) {
	s.record(ctx, orgID, action, id, meta)
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx, orgID); err != nil {
		s.logger.Error("report cache invalidation failed",
			slog.String("org_id", orgID.String()), slog.String("transaction_id", id.String()), slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, orgID uuid.UUID, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		OrgID:    orgID,
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "transaction",
		EntityID: id.String(),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
