package gateway

import (
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wisbric/tansucloud/pkg/cacheversion"
	"github.com/wisbric/tansucloud/pkg/etagutil"
)

// CachePolicy configures the dynamic output cache for a route. The first
// enabled policy wins; ordering by route specificity is future work.
type CachePolicy struct {
	ID                string
	Mode              Mode
	TTLSeconds         int
	VaryByHost        bool
	VaryByQuery       []string
	VaryByHeaders     []string
	VaryByRouteValues []string
}

// entry is a single cached response.
type entry struct {
	body        []byte
	contentType string
	etag        string
	expiresAt   time.Time
}

// Cache is an in-memory dynamic output cache keyed by tenant, policy id,
// the tenant's cache-version token, and the policy's vary-by fields. A
// cache-version bump makes every previously issued key for that tenant
// unreachable without explicit eviction.
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]entry
	versions *cacheversion.Counter
}

// NewCache creates a Cache backed by the given version counter.
func NewCache(versions *cacheversion.Counter) *Cache {
	return &Cache{entries: make(map[string]entry), versions: versions}
}

// Key composes the cache key for a request under policy, for tenant,
// with routeValues resolved by the caller's router.
func (c *Cache) Key(policy *CachePolicy, tenant string, r *http.Request, routeValues map[string]string) string {
	var b strings.Builder
	b.WriteString(tenant)
	b.WriteByte('|')
	b.WriteString(policy.ID)
	b.WriteByte('|')
	b.WriteString(strconv.FormatUint(c.versions.Get(tenant), 10))
	b.WriteByte('|')
	b.WriteString(r.URL.Path)

	if policy.VaryByHost {
		b.WriteByte('|')
		b.WriteString(r.Host)
	}

	if len(policy.VaryByQuery) > 0 {
		q := r.URL.Query()
		keys := append([]string(nil), policy.VaryByQuery...)
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteByte('|')
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(q.Get(k))
		}
	}

	if len(policy.VaryByHeaders) > 0 {
		keys := append([]string(nil), policy.VaryByHeaders...)
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteByte('|')
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(r.Header.Get(k))
		}
	}

	if len(policy.VaryByRouteValues) > 0 {
		keys := append([]string(nil), policy.VaryByRouteValues...)
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteByte('|')
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(routeValues[k])
		}
	}

	return b.String()
}

// get returns the cached entry for key if present and unexpired.
func (c *Cache) get(key string) (entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return entry{}, false
	}
	return e, true
}

// getStale returns the cached entry for key regardless of expiry, for the
// circuit-breaker-open fallback path. An entry evicted by a cache-version
// bump is still absent (it is keyed by version), but one that merely aged
// past its TTL remains available here.
func (c *Cache) getStale(key string) (entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *Cache) put(key string, e entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = e
}

// Middleware wraps next with conditional-GET and cache-policy semantics.
// tenantOf and routeValuesOf let the caller supply its own tenant/router
// resolution without this package depending on a specific router. It does
// not consult the circuit breaker; MiddlewareWithBreaker adds that.
func (c *Cache) Middleware(policy *CachePolicy, tenantOf func(*http.Request) string, routeValuesOf func(*http.Request) map[string]string) func(http.Handler) http.Handler {
	return c.middleware(policy, tenantOf, routeValuesOf, nil)
}

// MiddlewareWithBreaker is Middleware plus circuit-breaker-aware stale
// serving: breakerOpen(base) reports whether the route's upstream circuit
// is currently open.
func (c *Cache) MiddlewareWithBreaker(policy *CachePolicy, tenantOf func(*http.Request) string, routeValuesOf func(*http.Request) map[string]string, breakerOpen func(base string) bool) func(http.Handler) http.Handler {
	return c.middleware(policy, tenantOf, routeValuesOf, breakerOpen)
}

func (c *Cache) middleware(policy *CachePolicy, tenantOf func(*http.Request) string, routeValuesOf func(*http.Request) map[string]string, breakerOpen func(string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}

			tenant := tenantOf(r)
			var routeValues map[string]string
			if routeValuesOf != nil {
				routeValues = routeValuesOf(r)
			}
			key := c.Key(policy, tenant, r, routeValues)

			if breakerOpen != nil && breakerOpen(routeBase(r.URL.Path)) {
				if stale, ok := c.getStale(key); ok {
					w.Header().Set("ETag", stale.etag)
					w.Header().Set("Content-Type", stale.contentType)
					w.Header().Set("X-Cache", "STALE")
					w.WriteHeader(http.StatusServiceUnavailable)
					_, _ = w.Write(stale.body)
					return
				}
			}

			if cached, ok := c.get(key); ok {
				if inm := r.Header.Get("If-None-Match"); inm != "" && etagutil.Match(inm, cached.etag) {
					w.Header().Set("ETag", cached.etag)
					w.WriteHeader(http.StatusNotModified)
					return
				}
				w.Header().Set("ETag", cached.etag)
				w.Header().Set("Content-Type", cached.contentType)
				w.Header().Set("X-Cache", "HIT")
				_, _ = w.Write(cached.body)
				return
			}

			rec := httptest.NewRecorder()
			next.ServeHTTP(rec, r)

			if rec.Code != http.StatusOK || policy.Mode == ModeShadow {
				copyResponse(w, rec)
				return
			}

			body := rec.Body.Bytes()
			etag := etagutil.WeakETag(body)

			if policy.Mode == ModeEnforce || policy.Mode == ModeAuditOnly {
				ttl := time.Duration(policy.TTLSeconds) * time.Second
				c.put(key, entry{body: body, contentType: rec.Header().Get("Content-Type"), etag: etag, expiresAt: time.Now().Add(ttl)})
			}

			rec.Header().Set("ETag", etag)
			rec.Header().Set("X-Cache", "MISS")
			copyResponse(w, rec)
		})
	}
}

// CheckIfMatch enforces the If-Match precondition on a write. It returns
// true if the request should proceed, having already written a 412
// response if not.
func CheckIfMatch(w http.ResponseWriter, r *http.Request, currentETag string) bool {
	ifMatch := r.Header.Get("If-Match")
	if ifMatch == "" {
		return true
	}
	if etagutil.Match(ifMatch, currentETag) {
		return true
	}
	w.WriteHeader(http.StatusPreconditionFailed)
	return false
}

func copyResponse(w http.ResponseWriter, rec *httptest.ResponseRecorder) {
	for k, vv := range rec.Header() {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(rec.Code)
	_, _ = w.Write(rec.Body.Bytes())
}

