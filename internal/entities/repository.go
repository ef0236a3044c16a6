package entities

import (
	"context"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Repository persists entities and their dynamic fields. Every method is scoped by org.
type Repository interface {
	InsertEntity(ctx context.Context, e Entity) error
	GetEntityByCode(ctx context.Context, orgID uuid.UUID, entityType, code string) (Entity, error)
	GetEntityByID(ctx context.Context, orgID, id uuid.UUID) (Entity, error)
	ListEntities(ctx context.Context, orgID uuid.UUID, entityType string, filter ListFilter, page shared.Page) ([]Entity, error)
	UpdateStatus(ctx context.Context, orgID, id uuid.UUID, status Status) (Entity, error)
	// DeclareFieldType records vt for name if undeclared and returns the type now on record.
	DeclareFieldType(ctx context.Context, orgID uuid.UUID, name string, vt ValueType) (ValueType, error)
	UpsertField(ctx context.Context, field DynamicField) error
	ListFields(ctx context.Context, orgID, entityID uuid.UUID) ([]DynamicField, error)
	FieldsFor(ctx context.Context, orgID uuid.UUID, entityIDs []uuid.UUID) (map[uuid.UUID][]DynamicField, error)
}
