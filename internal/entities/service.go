package entities

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/smartcode"
)

// Service coordinates entity and attribute writes.
type Service struct {
	repo     Repository
	audit    shared.AuditRecorder
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewService constructs the entity service. audit may be nil.
func NewService(repo Repository, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		audit:    audit,
		logger:   logger,
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock, used in tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// CreateEntity registers a typed business object.
func (s *Service) CreateEntity(ctx context.Context, input CreateEntityInput) (Entity, error) {
	const op = "entities.create"
	if err := shared.EnsureTenant(ctx, op, input.OrgID); err != nil {
		return Entity{}, err
	}
	if err := s.validate.Struct(input); err != nil {
		return Entity{}, shared.Wrap(shared.KindValidation, op, err)
	}
	code, err := smartcode.Parse(input.SmartCode)
	if err != nil {
		return Entity{}, shared.Wrap(shared.KindValidation, op, err)
	}
	entityType := NormalizeType(input.Type)
	entityCode := strings.TrimSpace(input.Code)
	id := uuid.New()
	if entityCode == "" {
		entityCode = fmt.Sprintf("%s-%s", entityType, strings.ToUpper(id.String()[:8]))
	}
	now := s.now()
	entity := Entity{
		ID:        id,
		OrgID:     input.OrgID,
		Type:      entityType,
		Code:      entityCode,
		Name:      strings.TrimSpace(input.Name),
		Status:    StatusActive,
		SmartCode: code,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.InsertEntity(ctx, entity); err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			return Entity{}, &shared.Error{Kind: shared.KindConflict, Op: op, Message: fmt.Sprintf("%s %s already exists", entityType, entityCode), Err: err}
		}
		return Entity{}, shared.WrapOp(op, err)
	}
	s.record(ctx, entity.OrgID, "entity.create", entity.ID, map[string]any{"type": entity.Type, "code": entity.Code, "smart_code": entity.SmartCode.String()})
	return entity, nil
}

// SetAttribute writes a typed attribute, enforcing the per-organization field type.
func (s *Service) SetAttribute(ctx context.Context, input SetAttributeInput) (DynamicField, error) {
	const op = "entities.set_attribute"
	if err := shared.EnsureTenant(ctx, op, input.OrgID); err != nil {
		return DynamicField{}, err
	}
	if err := s.validate.Struct(input); err != nil {
		return DynamicField{}, shared.Wrap(shared.KindValidation, op, err)
	}
	code, err := smartcode.Parse(input.SmartCode)
	if err != nil {
		return DynamicField{}, shared.Wrap(shared.KindValidation, op, err)
	}
	if err := input.Value.Validate(); err != nil {
		return DynamicField{}, shared.Wrap(shared.KindValidation, op, err)
	}
	entity, err := s.repo.GetEntityByID(ctx, input.OrgID, input.EntityID)
	if errors.Is(err, shared.ErrNotFound) {
		return DynamicField{}, shared.NotFound(op, "entity")
	}
	if err != nil {
		return DynamicField{}, shared.WrapOp(op, err)
	}
	if entity.Status != StatusActive {
		return DynamicField{}, shared.Validation(op, fmt.Sprintf("entity %s is %s", entity.Code, entity.Status))
	}
	name := NormalizeFieldName(input.Name)
	declared, err := s.repo.DeclareFieldType(ctx, input.OrgID, name, input.Value.Type)
	if err != nil {
		return DynamicField{}, shared.WrapOp(op, err)
	}
	if declared != input.Value.Type {
		return DynamicField{}, shared.NewError(shared.KindTypeConflict, op,
			fmt.Sprintf("field %q is declared as %s, got %s", name, declared, input.Value.Type))
	}
	field := DynamicField{
		OrgID:     input.OrgID,
		EntityID:  entity.ID,
		Name:      name,
		Value:     input.Value,
		SmartCode: code,
		UpdatedAt: s.now(),
	}
	if err := s.repo.UpsertField(ctx, field); err != nil {
		return DynamicField{}, shared.WrapOp(op, err)
	}
	return field, nil
}

// GetEntity looks an entity up by (org, type, code).
func (s *Service) GetEntity(ctx context.Context, orgID uuid.UUID, entityType, code string) (Entity, error) {
	const op = "entities.get"
	if err := shared.EnsureTenant(ctx, op, orgID); err != nil {
		return Entity{}, err
	}
	entity, err := s.repo.GetEntityByCode(ctx, orgID, NormalizeType(entityType), strings.TrimSpace(code))
	if errors.Is(err, shared.ErrNotFound) {
		return Entity{}, shared.NotFound(op, fmt.Sprintf("%s %s", NormalizeType(entityType), code))
	}
	if err != nil {
		return Entity{}, shared.WrapOp(op, err)
	}
	return entity, nil
}

// GetEntityByID loads an entity by id.
func (s *Service) GetEntityByID(ctx context.Context, orgID, id uuid.UUID) (Entity, error) {
	const op = "entities.get_by_id"
	if err := shared.EnsureTenant(ctx, op, orgID); err != nil {
		return Entity{}, err
	}
	entity, err := s.repo.GetEntityByID(ctx, orgID, id)
	if errors.Is(err, shared.ErrNotFound) {
		return Entity{}, shared.NotFound(op, "entity")
	}
	if err != nil {
		return Entity{}, shared.WrapOp(op, err)
	}
	return entity, nil
}

// ListEntities lists entities of a type; an empty type lists all types.
func (s *Service) ListEntities(ctx context.Context, orgID uuid.UUID, entityType string, filter ListFilter) ([]Entity, error) {
	const op = "entities.list"
	if err := shared.EnsureTenant(ctx, op, orgID); err != nil {
		return nil, err
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, shared.Validation(op, fmt.Sprintf("invalid status %q", filter.Status))
	}
	out, err := s.repo.ListEntities(ctx, orgID, NormalizeType(entityType), filter, shared.NewPage(filter.Limit, filter.Offset))
	if err != nil {
		return nil, shared.WrapOp(op, err)
	}
	return out, nil
}

// SetStatus performs a logical status change. Archiving is the only form of deletion.
func (s *Service) SetStatus(ctx context.Context, orgID, id uuid.UUID, status Status) (Entity, error) {
	const op = "entities.set_status"
	if err := shared.EnsureTenant(ctx, op, orgID); err != nil {
		return Entity{}, err
	}
	if !status.Valid() {
		return Entity{}, shared.Validation(op, fmt.Sprintf("invalid status %q", status))
	}
	entity, err := s.repo.UpdateStatus(ctx, orgID, id, status)
	if errors.Is(err, shared.ErrNotFound) {
		return Entity{}, shared.NotFound(op, "entity")
	}
	if err != nil {
		return Entity{}, shared.WrapOp(op, err)
	}
	s.record(ctx, orgID, "entity.status", id, map[string]any{"status": string(status)})
	return entity, nil
}

// GetAttributes returns every attribute of an entity.
func (s *Service) GetAttributes(ctx context.Context, orgID, id uuid.UUID) ([]DynamicField, error) {
	const op = "entities.get_attributes"
	if _, err := s.GetEntityByID(ctx, orgID, id); err != nil {
		return nil, err
	}
	fields, err := s.repo.ListFields(ctx, orgID, id)
	if err != nil {
		return nil, shared.WrapOp(op, err)
	}
	return fields, nil
}

// AttributesFor loads attributes for many entities keyed by field name.
func (s *Service) AttributesFor(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]map[string]Value, error) {
	const op = "entities.attributes_for"
	if err := shared.EnsureTenant(ctx, op, orgID); err != nil {
		return nil, err
	}
	raw, err := s.repo.FieldsFor(ctx, orgID, ids)
	if err != nil {
		return nil, shared.WrapOp(op, err)
	}
	out := make(map[uuid.UUID]map[string]Value, len(raw))
	for id, fields := range raw {
		byName := make(map[string]Value, len(fields))
		for _, f := range fields {
			byName[f.Name] = f.Value
		}
		out[id] = byName
	}
	return out, nil
}

func (s *Service) record(ctx context.Context, orgID uuid.UUID, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		OrgID:    orgID,
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "entity",
		EntityID: id.String(),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

// Exists reports whether id is an entity of orgID.
func (s *Service) Exists(ctx context.Context, orgID, id uuid.UUID) (bool, error) {
	_, err := s.GetEntityByID(ctx, orgID, id)
	if shared.IsKind(err, shared.KindNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
