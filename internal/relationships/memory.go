package relationships

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type edgeKey struct {
	org  uuid.UUID
	from uuid.UUID
	to   uuid.UUID
	typ  string
}

// MemoryRepository keeps edges in process.
type MemoryRepository struct {
	mu    sync.RWMutex
	edges map[edgeKey]Relationship
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{edges: make(map[edgeKey]Relationship)}
}

// Upsert inserts or refreshes the edge keyed by (org, from, to, type).
func (r *MemoryRepository) Upsert(_ context.Context, rel Relationship) (Relationship, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := edgeKey{org: rel.OrgID, from: rel.FromID, to: rel.ToID, typ: rel.Type}
	if existing, ok := r.edges[key]; ok {
		existing.Strength = rel.Strength
		existing.Metadata = rel.Metadata
		existing.SmartCode = rel.SmartCode
		existing.Status = rel.Status
		existing.UpdatedAt = rel.UpdatedAt
		r.edges[key] = existing
		return existing, nil
	}
	r.edges[key] = rel
	return rel, nil
}

// Deactivate marks the edge inactive.
func (r *MemoryRepository) Deactivate(_ context.Context, orgID, fromID, toID uuid.UUID, relType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := edgeKey{org: orgID, from: fromID, to: toID, typ: relType}
	rel, ok := r.edges[key]
	if !ok || rel.Status != StatusActive {
		return shared.ErrNotFound
	}
	rel.Status = StatusInactive
	rel.UpdatedAt = time.Now().UTC()
	r.edges[key] = rel
	return nil
}

// Neighbors lists active edges touching entityID.
func (r *MemoryRepository) Neighbors(_ context.Context, orgID, entityID uuid.UUID, relType string, dir Direction) ([]Relationship, error) {
	r.mu.RLock()
	out := make([]Relationship, 0)
	for key, rel := range r.edges {
		if key.org != orgID || rel.Status != StatusActive {
			continue
		}
		if relType != "" && key.typ != relType {
			continue
		}
		outgoing := key.from == entityID
		in := key.to == entityID
		switch dir {
		case Outgoing:
			if !outgoing {
				continue
			}
		case Incoming:
			if !in {
				continue
			}
		default:
			if !outgoing && !in {
				continue
			}
		}
		out = append(out, rel)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// Edges lists active relType edges ordered by id.
func (r *MemoryRepository) Edges(_ context.Context, orgID uuid.UUID, relType string) ([]Relationship, error) {
	r.mu.RLock()
	out := make([]Relationship, 0)
	for key, rel := range r.edges {
		if key.org == orgID && key.typ == relType && rel.Status == StatusActive {
			out = append(out, rel)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// Parents returns the sources of active relType edges into id.
func (r *MemoryRepository) Parents(_ context.Context, orgID, id uuid.UUID, relType string) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]uuid.UUID, 0, 1)
	for key, rel := range r.edges {
		if key.org == orgID && key.to == id && key.typ == relType && rel.Status == StatusActive {
			out = append(out, key.from)
		}
	}
	return out, nil
}

// Count returns the number of stored edges regardless of status.
func (r *MemoryRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.edges)
}
