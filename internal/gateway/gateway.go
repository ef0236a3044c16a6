// Package gateway exposes every core operation behind a single operation(name, params) call.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const maxParamsBytes = 1 << 20

// Operation handles one named call. params is the raw JSON object sent by the caller.
type Operation func(ctx context.Context, params json.RawMessage) (any, error)

// Gateway dispatches named operations.
type Gateway struct {
	logger *slog.Logger
	ops    map[string]Operation
}

// New builds a gateway with the operations served by svc registered.
func New(svc Services, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{logger: logger, ops: make(map[string]Operation)}
	svc.register(g)
	return g
}

// Register adds or replaces an operation.
func (g *Gateway) Register(name string, op Operation) {
	g.ops[name] = op
}

// Operations lists the registered operation names in order.
func (g *Gateway) Operations() []string {
	names := make([]string, 0, len(g.ops))
	for name := range g.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call runs the named operation.
func (g *Gateway) Call(ctx context.Context, name string, params json.RawMessage) (any, error) {
	op, ok := g.ops[name]
	if !ok {
		return nil, shared.NotFound("gateway.call", fmt.Sprintf("operation %q", name))
	}
	result, err := op(ctx, params)
	if err != nil {
		g.logFailure(ctx, name, err)
		return nil, err
	}
	return result, nil
}

func (g *Gateway) logFailure(ctx context.Context, name string, err error) {
	kind := shared.KindOf(err)
	attrs := []any{slog.String("operation", name), slog.String("kind", string(kind))}
	if org, ok := shared.TenantFromContext(ctx); ok {
		attrs = append(attrs, slog.String("org_id", org.String()))
	}
	switch kind {
	case shared.KindTenant:
		g.logger.WarnContext(ctx, "tenant violation", attrs...)
	case shared.KindInternal, shared.KindBackend, shared.KindTransient, shared.KindDataIntegrity:
		g.logger.ErrorContext(ctx, "operation failed", append(attrs, slog.Any("error", err))...)
	default:
		g.logger.DebugContext(ctx, "operation rejected", append(attrs, slog.Any("error", err))...)
	}
}

// MountRoutes registers POST /ops/{operation} and GET /ops.
func (g *Gateway) MountRoutes(r chi.Router) {
	r.Get("/ops", g.handleList)
	r.Post("/ops/{operation}", g.handleCall)
}

func (g *Gateway) handleList(w http.ResponseWriter, _ *http.Request) {
	httpx.OK(w, map[string]any{"operations": g.Operations()})
}

func (g *Gateway) handleCall(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "operation")
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxParamsBytes+1))
	if err != nil {
		httpx.RespondError(w, shared.Validation("gateway.call", "unreadable request body"))
		return
	}
	if len(raw) > maxParamsBytes {
		httpx.RespondError(w, shared.Validation("gateway.call", "request body too large"))
		return
	}
	result, err := g.Call(r.Context(), name, raw)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, result)
}

// handler adapts a typed operation. Unknown fields are rejected.
func handler[P any, R any](name string, fn func(ctx context.Context, p P) (R, error)) Operation {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p P
		if trimmed := bytes.TrimSpace(params); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
			dec := json.NewDecoder(bytes.NewReader(trimmed))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&p); err != nil {
				return nil, shared.Validation(name, "invalid params: "+err.Error())
			}
		}
		return fn(ctx, p)
	}
}
