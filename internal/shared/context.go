package shared

import (
	"context"

	"github.com/google/uuid"
)

type tenantContextKey struct{}

type actorContextKey struct{}

// WithTenant stores the caller's organization in context.
func WithTenant(ctx context.Context, orgID uuid.UUID) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, orgID)
}

// TenantFromContext extracts the caller's organization.
func TenantFromContext(ctx context.Context) (uuid.UUID, bool) {
	orgID, ok := ctx.Value(tenantContextKey{}).(uuid.UUID)
	if !ok || orgID == uuid.Nil {
		return uuid.Nil, false
	}
	return orgID, true
}

// EnsureTenant rejects a missing or mismatched organization id.
// It is never relaxed: every exported operation that accepts an org id calls it first.
func EnsureTenant(ctx context.Context, op string, orgID uuid.UUID) error {
	caller, ok := TenantFromContext(ctx)
	if !ok || orgID == uuid.Nil || caller != orgID {
		return TenantViolation(op)
	}
	return nil
}

// WithActor stores the acting principal used for audit records.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the acting principal or "system".
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorContextKey{}).(string)
	if actor == "" {
		return "system"
	}
	return actor
}
