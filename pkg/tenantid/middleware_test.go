package tenantid

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewareResolvesTenantWithNilPool(t *testing.T) {
	var resolved *Context
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resolved = FromContext(r.Context())
	})

	mw := Middleware(nil, slog.Default())
	req := httptest.NewRequest(http.MethodGet, "/t/acme/db/api", nil)
	mw(inner).ServeHTTP(httptest.NewRecorder(), req)

	if resolved == nil || resolved.Source != SourcePath {
		t.Fatalf("resolved = %+v, want Source = Path", resolved)
	}
}

func TestMiddlewarePassesThroughWithNoTenant(t *testing.T) {
	called := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if tc := FromContext(r.Context()); tc == nil || tc.Source != SourceNone {
			t.Errorf("expected a None-source context, got %+v", tc)
		}
	})

	mw := Middleware(nil, slog.Default())
	req := httptest.NewRequest(http.MethodGet, "/db/health/live", nil)
	mw(inner).ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Fatal("inner handler was not called")
	}
}
