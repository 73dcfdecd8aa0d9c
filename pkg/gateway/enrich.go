// Package gateway implements the edge: per-request enrichment, policy
// evaluation (IP allow/deny, CORS, rate-limit reporting), a dynamic output
// cache keyed by tenant cache-version, and the reverse proxy to logical
// upstreams.
package gateway

import (
	"context"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/wisbric/tansucloud/internal/httpserver"
	"github.com/wisbric/tansucloud/pkg/tenantid"
)

// RequestScope carries the fields every gateway log line is scoped to.
type RequestScope struct {
	CorrelationID string
	Tenant        string
	RouteBase     string
	RouteTemplate string
	TraceID       string
	SpanID        string
}

type scopeCtxKey struct{}

// ScopeFromContext extracts the RequestScope stashed by Enrich.
func ScopeFromContext(ctx context.Context) RequestScope {
	v, _ := ctx.Value(scopeCtxKey{}).(RequestScope)
	return v
}

// Enrich is the first middleware in the gateway chain: it propagates or
// generates X-Correlation-ID (echoing it on the response), resolves the
// tenant (see pkg/tenantid.Resolve), derives route_base from the first path
// segment, and stashes a RequestScope carrying trace/span ids for every
// subsequent handler and log line.
func Enrich(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := r.Header.Get("X-Correlation-ID")
			if correlationID == "" {
				correlationID = httpserver.RequestIDFromContext(r.Context())
			}
			r.Header.Set("X-Correlation-ID", correlationID)
			w.Header().Set("X-Correlation-ID", correlationID)

			tc := tenantid.Resolve(r)
			ctx := tenantid.NewContext(r.Context(), tc)

			span := trace.SpanFromContext(ctx)
			sc := span.SpanContext()

			scope := RequestScope{
				CorrelationID: correlationID,
				Tenant:        tc.ID,
				RouteBase:     routeBase(r.URL.Path),
				RouteTemplate: r.URL.Path,
			}
			if sc.HasTraceID() {
				scope.TraceID = sc.TraceID().String()
			}
			if sc.HasSpanID() {
				scope.SpanID = sc.SpanID().String()
			}

			ctx = context.WithValue(ctx, scopeCtxKey{}, scope)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// routeBase is the first non-empty path segment, used to key reverse-proxy
// routes and policy evaluation (e.g. "dashboard", "identity", "db", "storage").
func routeBase(path string) string {
	trimmed := path
	for len(trimmed) > 0 && trimmed[0] == '/' {
		trimmed = trimmed[1:]
	}
	for i := 0; i < len(trimmed); i++ {
		if trimmed[i] == '/' {
			return trimmed[:i]
		}
	}
	return trimmed
}
