package relationships

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists edges. Every method is scoped by org.
type Repository interface {
	// Upsert inserts rel or, when (org, from, to, type) exists, refreshes its metadata and reactivates it.
	Upsert(ctx context.Context, rel Relationship) (Relationship, error)
	Deactivate(ctx context.Context, orgID, fromID, toID uuid.UUID, relType string) error
	Neighbors(ctx context.Context, orgID, entityID uuid.UUID, relType string, dir Direction) ([]Relationship, error)
	// Edges lists every active edge of relType.
	Edges(ctx context.Context, orgID uuid.UUID, relType string) ([]Relationship, error)
	// Parents returns the sources of active edges of relType pointing at id.
	Parents(ctx context.Context, orgID, id uuid.UUID, relType string) ([]uuid.UUID, error)
}

// EntityChecker confirms an entity exists in an organization.
type EntityChecker interface {
	Exists(ctx context.Context, orgID, id uuid.UUID) (bool, error)
}
