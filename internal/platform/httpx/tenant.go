package httpx

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Request headers that identify the caller.
const (
	OrgHeader   = "X-Organization-ID"
	ActorHeader = "X-Actor-ID"
)

// Tenant copies the caller's organization and actor headers into the request context.
// A missing or malformed organization leaves the context without a tenant, so tenant-scoped
// operations reject the call.
func Tenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if raw := strings.TrimSpace(r.Header.Get(OrgHeader)); raw != "" {
			if orgID, err := uuid.Parse(raw); err == nil {
				ctx = shared.WithTenant(ctx, orgID)
			}
		}
		if actor := strings.TrimSpace(r.Header.Get(ActorHeader)); actor != "" {
			ctx = shared.WithActor(ctx, actor)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
