package relationships

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/lock"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/smartcode"
)

// Service manages typed edges between entities.
type Service struct {
	repo      Repository
	entities  EntityChecker
	locker    lock.Locker
	audit     shared.AuditRecorder
	logger    *slog.Logger
	validate  *validator.Validate
	hierarchy map[string]struct{}
	now       func() time.Time
}

// NewService constructs the graph service with the default hierarchy types. locker and audit may be nil.
func NewService(repo Repository, entities EntityChecker, locker lock.Locker, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:      repo,
		entities:  entities,
		locker:    locker,
		audit:     audit,
		logger:    logger,
		validate:  validator.New(),
		hierarchy: make(map[string]struct{}),
		now:       func() time.Time { return time.Now().UTC() },
	}
	s.SetHierarchyTypes(DefaultHierarchyTypes...)
	return s
}

// SetHierarchyTypes replaces the set of relationship types validated acyclic.
func (s *Service) SetHierarchyTypes(types ...string) {
	s.hierarchy = make(map[string]struct{}, len(types))
	for _, t := range types {
		s.hierarchy[NormalizeType(t)] = struct{}{}
	}
}

// IsHierarchy reports whether relType is validated acyclic.
func (s *Service) IsHierarchy(relType string) bool {
	_, ok := s.hierarchy[NormalizeType(relType)]
	return ok
}

// Link creates or refreshes the (from, to, type) edge.
func (s *Service) Link(ctx context.Context, input LinkInput) (Relationship, error) {
	const op = "relationships.link"
	if err := shared.EnsureTenant(ctx, op, input.OrgID); err != nil {
		return Relationship{}, err
	}
	if err := s.validate.Struct(input); err != nil {
		return Relationship{}, shared.Wrap(shared.KindValidation, op, err)
	}
	code, err := smartcode.Parse(input.SmartCode)
	if err != nil {
		return Relationship{}, shared.Wrap(shared.KindValidation, op, err)
	}
	if input.FromID == uuid.Nil || input.ToID == uuid.Nil {
		return Relationship{}, shared.Validation(op, "from and to entity ids are required")
	}
	relType := NormalizeType(input.Type)
	for _, id := range []uuid.UUID{input.FromID, input.ToID} {
		ok, err := s.entities.Exists(ctx, input.OrgID, id)
		if err != nil {
			return Relationship{}, shared.WrapOp(op, err)
		}
		if !ok {
			return Relationship{}, shared.NotFound(op, fmt.Sprintf("entity %s", id))
		}
	}
	strength := 1.0
	if input.Strength != nil {
		strength = *input.Strength
	}
	now := s.now()
	rel := Relationship{
		ID:        uuid.New(),
		OrgID:     input.OrgID,
		FromID:    input.FromID,
		ToID:      input.ToID,
		Type:      relType,
		Strength:  strength,
		Metadata:  input.Metadata,
		SmartCode: code,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !s.IsHierarchy(relType) {
		stored, err := s.repo.Upsert(ctx, rel)
		if err != nil {
			return Relationship{}, shared.WrapOp(op, err)
		}
		s.record(ctx, stored)
		return stored, nil
	}
	if input.FromID == input.ToID {
		return Relationship{}, shared.Validation(op, fmt.Sprintf("%s cannot link an entity to itself", relType))
	}
	var stored Relationship
	err = lock.With(ctx, s.locker, shared.HierarchyLockKey(input.OrgID, relType), func(ctx context.Context) error {
		if err := s.checkAcyclic(ctx, input.OrgID, input.FromID, input.ToID, relType); err != nil {
			return err
		}
		var err error
		stored, err = s.repo.Upsert(ctx, rel)
		return err
	})
	if err != nil {
		if errors.Is(err, lock.ErrNotObtained) {
			return Relationship{}, shared.Wrap(shared.KindTransient, op, err)
		}
		if shared.KindOf(err) == shared.KindValidation {
			return Relationship{}, err
		}
		return Relationship{}, shared.WrapOp(op, err)
	}
	s.record(ctx, stored)
	return stored, nil
}

func (s *Service) record(ctx context.Context, rel Relationship) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		OrgID:    rel.OrgID,
		Actor:    shared.ActorFromContext(ctx),
		Action:   "relationship.link",
		Entity:   "relationship",
		EntityID: rel.ID.String(),
		Meta:     map[string]any{"from": rel.FromID.String(), "to": rel.ToID.String(), "type": rel.Type},
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("relationship_id", rel.ID.String()), slog.Any("error", err))
	}
}

// checkAcyclic rejects the edge when toID is already an ancestor of fromID.
func (s *Service) checkAcyclic(ctx context.Context, orgID, fromID, toID uuid.UUID, relType string) error {
	const op = "relationships.link"
	frontier := []uuid.UUID{fromID}
	visited := map[uuid.UUID]struct{}{fromID: {}}
	for depth := 0; len(frontier) > 0; depth++ {
		if depth >= MaxAncestorDepth {
			return shared.Validation(op, fmt.Sprintf("%s hierarchy deeper than %d levels", relType, MaxAncestorDepth))
		}
		next := make([]uuid.UUID, 0, len(frontier))
		for _, id := range frontier {
			parents, err := s.repo.Parents(ctx, orgID, id, relType)
			if err != nil {
				return err
			}
			for _, parent := range parents {
				if parent == toID {
					return shared.Validation(op, fmt.Sprintf("%s edge would create a cycle", relType))
				}
				if _, seen := visited[parent]; seen {
					continue
				}
				visited[parent] = struct{}{}
				next = append(next, parent)
			}
		}
		frontier = next
	}
	return nil
}

// Unlink logically removes an edge.
func (s *Service) Unlink(ctx context.Context, orgID, fromID, toID uuid.UUID, relType string) error {
	const op = "relationships.unlink"
	if err := shared.EnsureTenant(ctx, op, orgID); err != nil {
		return err
	}
	err := s.repo.Deactivate(ctx, orgID, fromID, toID, NormalizeType(relType))
	if errors.Is(err, shared.ErrNotFound) {
		return shared.NotFound(op, "relationship")
	}
	if err != nil {
		return shared.WrapOp(op, err)
	}
	return nil
}

// Neighbors lists active edges touching entityID. An empty relType matches every type.
func (s *Service) Neighbors(ctx context.Context, orgID, entityID uuid.UUID, relType string, dir Direction) ([]Relationship, error) {
	const op = "relationships.neighbors"
	if err := shared.EnsureTenant(ctx, op, orgID); err != nil {
		return nil, err
	}
	switch dir {
	case "":
		dir = Outgoing
	case Outgoing, Incoming, Both:
	default:
		return nil, shared.Validation(op, fmt.Sprintf("invalid direction %q", dir))
	}
	out, err := s.repo.Neighbors(ctx, orgID, entityID, NormalizeType(relType), dir)
	if err != nil {
		return nil, shared.WrapOp(op, err)
	}
	return out, nil
}

// Edges lists every active edge of relType in the organization.
func (s *Service) Edges(ctx context.Context, orgID uuid.UUID, relType string) ([]Relationship, error) {
	const op = "relationships.edges"
	if err := shared.EnsureTenant(ctx, op, orgID); err != nil {
		return nil, err
	}
	out, err := s.repo.Edges(ctx, orgID, NormalizeType(relType))
	if err != nil {
		return nil, shared.WrapOp(op, err)
	}
	return out, nil
}

// Ancestors walks relType edges upward from id, nearest first, bounded by MaxAncestorDepth.
func (s *Service) Ancestors(ctx context.Context, orgID, id uuid.UUID, relType string) ([]uuid.UUID, error) {
	const op = "relationships.ancestors"
	if err := shared.EnsureTenant(ctx, op, orgID); err != nil {
		return nil, err
	}
	relType = NormalizeType(relType)
	out := make([]uuid.UUID, 0)
	visited := map[uuid.UUID]struct{}{id: {}}
	frontier := []uuid.UUID{id}
	for depth := 0; len(frontier) > 0 && depth < MaxAncestorDepth; depth++ {
		next := make([]uuid.UUID, 0)
		for _, node := range frontier {
			parents, err := s.repo.Parents(ctx, orgID, node, relType)
			if err != nil {
				return nil, shared.WrapOp(op, err)
			}
			for _, p := range parents {
				if _, seen := visited[p]; seen {
					continue
				}
				visited[p] = struct{}{}
				out = append(out, p)
				next = append(next, p)
			}
		}
		frontier = next
	}
	return out, nil
}
