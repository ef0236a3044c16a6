package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func TestTenantMiddleware(t *testing.T) {
	var gotOrg uuid.UUID
	var gotOK bool
	var gotActor string
	h := Tenant(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOrg, gotOK = shared.TenantFromContext(r.Context())
		gotActor = shared.ActorFromContext(r.Context())
	}))

	org := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/ops/orgs.get", nil)
	req.Header.Set(OrgHeader, org.String())
	req.Header.Set(ActorHeader, "clerk@example.com")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, gotOK)
	assert.Equal(t, org, gotOrg)
	assert.Equal(t, "clerk@example.com", gotActor)

	req = httptest.NewRequest(http.MethodPost, "/v1/ops/orgs.get", nil)
	req.Header.Set(OrgHeader, "not-a-uuid")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.False(t, gotOK)
}
