package tenantid

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/tansucloud/internal/platform"
)

type connCtxKey struct{}

// ConnFromContext extracts the tenant-scoped connection stashed by Middleware.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	v, _ := ctx.Value(connCtxKey{}).(*pgxpool.Conn)
	return v
}

// Middleware resolves the request's tenant (resolution order) and, if
// a tenant was resolved and pool is non-nil, acquires a connection with
// search_path set to the tenant's schema for the lifetime of the request.
// Requests with no resolvable tenant proceed with a nil tenant Context;
// handlers that require one must check FromContext themselves.
func Middleware(pool *pgxpool.Pool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc := Resolve(r)
			ctx := NewContext(r.Context(), tc)

			if tc.Source == SourceNone || pool == nil {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			conn, err := pool.Acquire(ctx)
			if err != nil {
				logger.Error("acquiring tenant connection", "error", err, "tenant", tc.ID)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			defer conn.Release()

			if _, err := conn.Exec(ctx, "SELECT set_config('search_path', $1 || ', public', true)", tc.Schema); err != nil {
				logger.Error("setting tenant search_path", "error", err, "tenant", tc.ID)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			ctx = context.WithValue(ctx, connCtxKey{}, conn)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
