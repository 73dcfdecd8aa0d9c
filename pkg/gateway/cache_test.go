package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wisbric/tansucloud/pkg/cacheversion"
)

func TestCacheKeyVariesByVersion(t *testing.T) {
	versions := cacheversion.NewCounter()
	c := NewCache(versions)
	policy := &CachePolicy{ID: "p1", TTLSeconds: 60}

	req := httptest.NewRequest(http.MethodGet, "/db/collections", nil)
	k1 := c.Key(policy, "acme", req, nil)

	versions.Increment("acme")
	k2 := c.Key(policy, "acme", req, nil)

	if k1 == k2 {
		t.Fatal("cache key should change after a cache-version bump")
	}
}

func TestCacheKeyVariesByQuery(t *testing.T) {
	versions := cacheversion.NewCounter()
	c := NewCache(versions)
	policy := &CachePolicy{ID: "p1", TTLSeconds: 60, VaryByQuery: []string{"limit"}}

	req1 := httptest.NewRequest(http.MethodGet, "/db/collections?limit=10", nil)
	req2 := httptest.NewRequest(http.MethodGet, "/db/collections?limit=20", nil)

	if c.Key(policy, "acme", req1, nil) == c.Key(policy, "acme", req2, nil) {
		t.Fatal("cache key should vary by the configured query parameter")
	}
}

func TestCacheMiddlewareServesFromCacheOnSecondRequest(t *testing.T) {
	versions := cacheversion.NewCounter()
	c := NewCache(versions)
	policy := &CachePolicy{ID: "p1", Mode: ModeEnforce, TTLSeconds: 60}

	calls := 0
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	handler := c.Middleware(policy, func(*http.Request) string { return "acme" }, nil)(inner)

	req1 := httptest.NewRequest(http.MethodGet, "/db/collections", nil)
	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, req1)

	req2 := httptest.NewRequest(http.MethodGet, "/db/collections", nil)
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req2)

	if calls != 1 {
		t.Fatalf("inner handler called %d times, want 1 (second request should hit cache)", calls)
	}
	if w2.Header().Get("X-Cache") != "HIT" {
		t.Errorf("X-Cache = %q, want HIT", w2.Header().Get("X-Cache"))
	}
	if w1.Body.String() != w2.Body.String() {
		t.Error("cached body should match original response body")
	}
}

func TestCacheMiddlewareConditionalGet(t *testing.T) {
	versions := cacheversion.NewCounter()
	c := NewCache(versions)
	policy := &CachePolicy{ID: "p1", Mode: ModeEnforce, TTLSeconds: 60}

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	handler := c.Middleware(policy, func(*http.Request) string { return "acme" }, nil)

	wrapped := handler(inner)
	req1 := httptest.NewRequest(http.MethodGet, "/db/collections", nil)
	w1 := httptest.NewRecorder()
	wrapped.ServeHTTP(w1, req1)
	etag := w1.Header().Get("ETag")

	req2 := httptest.NewRequest(http.MethodGet, "/db/collections", nil)
	req2.Header.Set("If-None-Match", etag)
	w2 := httptest.NewRecorder()
	wrapped.ServeHTTP(w2, req2)

	if w2.Code != http.StatusNotModified {
		t.Fatalf("status = %d, want 304", w2.Code)
	}
}

func TestCacheMiddlewareServesStaleOnBreakerOpen(t *testing.T) {
	versions := cacheversion.NewCounter()
	c := NewCache(versions)
	policy := &CachePolicy{ID: "p1", Mode: ModeEnforce, TTLSeconds: 60}
	tenantOf := func(*http.Request) string { return "acme" }

	calls := 0
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	open := false
	handler := c.MiddlewareWithBreaker(policy, tenantOf, nil, func(string) bool { return open })(inner)

	req1 := httptest.NewRequest(http.MethodGet, "/db/collections", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req1)

	open = true
	req2 := httptest.NewRequest(http.MethodGet, "/db/collections", nil)
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req2)

	if calls != 1 {
		t.Fatalf("inner handler called %d times, want 1 (breaker-open request should serve stale cache)", calls)
	}
	if w2.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w2.Code)
	}
	if w2.Header().Get("X-Cache") != "STALE" {
		t.Errorf("X-Cache = %q, want STALE", w2.Header().Get("X-Cache"))
	}
	if w2.Body.String() != `{"ok":true}` {
		t.Errorf("stale body = %q, want cached response body", w2.Body.String())
	}
}

func TestCacheMiddlewareBreakerOpenWithNoCacheFallsThrough(t *testing.T) {
	versions := cacheversion.NewCounter()
	c := NewCache(versions)
	policy := &CachePolicy{ID: "p1", Mode: ModeEnforce, TTLSeconds: 60}

	calls := 0
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	handler := c.MiddlewareWithBreaker(policy, func(*http.Request) string { return "acme" }, nil, func(string) bool { return true })(inner)

	req := httptest.NewRequest(http.MethodGet, "/db/collections", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if calls != 1 {
		t.Fatalf("inner handler called %d times, want 1 (no stale entry, should fall through)", calls)
	}
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}
