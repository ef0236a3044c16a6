package entities

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type codeKey struct {
	org  uuid.UUID
	typ  string
	code string
}

type schemaKey struct {
	org  uuid.UUID
	name string
}

// MemoryRepository keeps entities in process with the same indexes as the Postgres schema.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]Entity
	byCode  map[codeKey]uuid.UUID
	schemas map[schemaKey]ValueType
	fields  map[uuid.UUID]map[string]DynamicField
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[uuid.UUID]Entity),
		byCode:  make(map[codeKey]uuid.UUID),
		schemas: make(map[schemaKey]ValueType),
		fields:  make(map[uuid.UUID]map[string]DynamicField),
	}
}

// InsertEntity stores e, enforcing (org, type, code) uniqueness.
func (r *MemoryRepository) InsertEntity(_ context.Context, e Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := codeKey{org: e.OrgID, typ: e.Type, code: e.Code}
	if _, ok := r.byCode[key]; ok {
		return ErrDuplicateCode
	}
	r.byID[e.ID] = e
	r.byCode[key] = e.ID
	return nil
}

// GetEntityByCode is an O(1) lookup on the code index.
func (r *MemoryRepository) GetEntityByCode(_ context.Context, orgID uuid.UUID, entityType, code string) (Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byCode[codeKey{org: orgID, typ: entityType, code: code}]
	if !ok {
		return Entity{}, shared.ErrNotFound
	}
	return r.byID[id], nil
}

// GetEntityByID loads an entity owned by orgID.
func (r *MemoryRepository) GetEntityByID(_ context.Context, orgID, id uuid.UUID) (Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok || e.OrgID != orgID {
		return Entity{}, shared.ErrNotFound
	}
	return e, nil
}

// ListEntities filters and pages entities of orgID.
func (r *MemoryRepository) ListEntities(_ context.Context, orgID uuid.UUID, entityType string, filter ListFilter, page shared.Page) ([]Entity, error) {
	r.mu.RLock()
	matched := make([]Entity, 0)
	for _, e := range r.byID {
		if e.OrgID != orgID {
			continue
		}
		if entityType != "" && e.Type != entityType {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.CodePrefix != "" && !strings.HasPrefix(e.Code, filter.CodePrefix) {
			continue
		}
		if filter.SmartCodePrefix != "" && !e.SmartCode.HasPrefix(filter.SmartCodePrefix) {
			continue
		}
		matched = append(matched, e)
	}
	r.mu.RUnlock()
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Type != matched[j].Type {
			return matched[i].Type < matched[j].Type
		}
		return matched[i].Code < matched[j].Code
	})
	start, end := page.Slice(len(matched))
	return matched[start:end], nil
}

// UpdateStatus changes the logical status.
func (r *MemoryRepository) UpdateStatus(_ context.Context, orgID, id uuid.UUID, status Status) (Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok || e.OrgID != orgID {
		return Entity{}, shared.ErrNotFound
	}
	e.Status = status
	e.UpdatedAt = time.Now().UTC()
	r.byID[id] = e
	return e, nil
}

// DeclareFieldType records the first declaration of name and returns the type on record.
func (r *MemoryRepository) DeclareFieldType(_ context.Context, orgID uuid.UUID, name string, vt ValueType) (ValueType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := schemaKey{org: orgID, name: name}
	if declared, ok := r.schemas[key]; ok {
		return declared, nil
	}
	r.schemas[key] = vt
	return vt, nil
}

// UpsertField writes the attribute.
func (r *MemoryRepository) UpsertField(_ context.Context, f DynamicField) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byID[f.EntityID]; !ok || e.OrgID != f.OrgID {
		return shared.ErrNotFound
	}
	byName := r.fields[f.EntityID]
	if byName == nil {
		byName = make(map[string]DynamicField)
		r.fields[f.EntityID] = byName
	}
	byName[f.Name] = f
	return nil
}

// ListFields returns attributes ordered by name.
func (r *MemoryRepository) ListFields(_ context.Context, orgID, entityID uuid.UUID) ([]DynamicField, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fieldsLocked(orgID, entityID), nil
}

// FieldsFor loads attributes for many entities.
func (r *MemoryRepository) FieldsFor(_ context.Context, orgID uuid.UUID, entityIDs []uuid.UUID) (map[uuid.UUID][]DynamicField, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[uuid.UUID][]DynamicField, len(entityIDs))
	for _, id := range entityIDs {
		if fields := r.fieldsLocked(orgID, id); len(fields) > 0 {
			out[id] = fields
		}
	}
	return out, nil
}

func (r *MemoryRepository) fieldsLocked(orgID, entityID uuid.UUID) []DynamicField {
	out := make([]DynamicField, 0, len(r.fields[entityID]))
	for _, f := range r.fields[entityID] {
		if f.OrgID == orgID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
