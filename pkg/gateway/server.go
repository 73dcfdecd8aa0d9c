package gateway

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/tansucloud/pkg/cacheversion"
	"github.com/wisbric/tansucloud/pkg/tenantid"
)

// Config configures the edge: policies and upstream routes. Assembled by
// the caller (internal/app) from internal/config.Config.
type Config struct {
	Upstreams     []UpstreamRoute
	IPFilter      *IPFilter
	CORS          []*CORSPolicy
	CachePolicies map[string]*CachePolicy // keyed by route base
	RateLimit     *RateLimitAggregator

	// TokenVerifier enforces the bearer token contract on every route
	// named in ProtectedResources. Nil disables enforcement,
	// for local development without an issuer configured.
	TokenVerifier *TokenVerifier
	// ProtectedResources maps a route base to the resource name its
	// token audience/scope must satisfy, e.g. "storage" -> "tansu.storage".
	ProtectedResources map[string]string
}

// NewHandler builds the gateway's HTTP handler: Enrich -> IP filter -> CORS
// -> token contract (per route) -> dynamic cache (per route) -> reverse
// proxy, in the order the policy model requires (IP-deny -> IP-allow ->
// CORS -> auth -> cache/rate-limit).
func NewHandler(cfg Config, versions *cacheversion.Counter, logger *slog.Logger) (http.Handler, error) {
	router, err := NewRouter(cfg.Upstreams)
	if err != nil {
		return nil, err
	}

	cache := NewCache(versions)
	tenantOf := func(r *http.Request) string {
		if tc := tenantid.FromContext(r.Context()); tc != nil {
			return tc.ID
		}
		return ""
	}

	var handler http.Handler = http.HandlerFunc(router.ServeHTTP)

	for base, policy := range cfg.CachePolicies {
		wrapped := cache.MiddlewareWithBreaker(policy, tenantOf, nil, router.Breaker.Open)
		handler = withRouteBase(base, wrapped, handler)
	}

	for base, resource := range cfg.ProtectedResources {
		wrapped := RequireScope(cfg.TokenVerifier, resource)
		handler = withRouteBase(base, wrapped, handler)
	}

	for _, corsPolicy := range cfg.CORS {
		handler = wrapCORS(corsPolicy, handler)
	}

	if cfg.IPFilter != nil {
		handler = cfg.IPFilter.Middleware(handler)
	}

	handler = Enrich(logger)(handler)

	r := chi.NewRouter()
	r.Mount("/", handler)
	return r, nil
}

// withRouteBase applies wrapped only to requests whose route_base matches
// base; all other requests fall through to next unchanged.
func withRouteBase(base string, wrapped func(http.Handler) http.Handler, next http.Handler) http.Handler {
	scoped := wrapped(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if routeBase(r.URL.Path) == base {
			scoped.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func wrapCORS(policy *CORSPolicy, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if policy.Apply(w, r, nil) {
			return
		}
		next.ServeHTTP(w, r)
	})
}
