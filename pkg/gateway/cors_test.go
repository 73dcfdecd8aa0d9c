package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORSPreflightAllowed(t *testing.T) {
	policy := &CORSPolicy{
		ID: "p1", Mode: ModeEnforce,
		Origins: []string{"https://app.example.com"},
		Methods: []string{"GET", "POST"},
	}

	req := httptest.NewRequest(http.MethodOptions, "/db/collections", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()

	handled := policy.Apply(w, req, nil)
	if !handled {
		t.Fatal("expected preflight to be fully handled")
	}
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestCORSWildcardOrigin(t *testing.T) {
	policy := &CORSPolicy{ID: "p1", Mode: ModeEnforce, Origins: []string{"*"}, Methods: []string{"GET"}}

	req := httptest.NewRequest(http.MethodGet, "/db/collections", nil)
	req.Header.Set("Origin", "https://anything.example.com")
	w := httptest.NewRecorder()

	policy.Apply(w, req, nil)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://anything.example.com" {
		t.Errorf("Allow-Origin = %q, want echoed origin", got)
	}
}

func TestCORSRejectsUnlistedOriginInEnforce(t *testing.T) {
	policy := &CORSPolicy{ID: "p1", Mode: ModeEnforce, Origins: []string{"https://app.example.com"}, Methods: []string{"GET"}}

	req := httptest.NewRequest(http.MethodOptions, "/db/collections", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()

	handled := policy.Apply(w, req, nil)
	if handled {
		t.Fatal("unlisted origin must not be handled as a successful preflight")
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin should be unset for rejected origin, got %q", got)
	}
}

func TestCORSPreflightEmitsCredentialsExposeAndMaxAge(t *testing.T) {
	policy := &CORSPolicy{
		ID: "p1", Mode: ModeEnforce,
		Origins:          []string{"https://app.example.com"},
		Methods:          []string{"GET", "POST"},
		ExposedHeaders:   []string{"ETag", "X-Export-Count"},
		AllowCredentials: true,
		MaxAgeSeconds:    600,
	}

	req := httptest.NewRequest(http.MethodOptions, "/db/collections", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()

	if !policy.Apply(w, req, nil) {
		t.Fatal("expected preflight to be fully handled")
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Allow-Credentials = %q, want true", got)
	}
	if got := w.Header().Get("Access-Control-Max-Age"); got != "600" {
		t.Errorf("Max-Age = %q, want 600", got)
	}
	if got := w.Header().Get("Access-Control-Expose-Headers"); got != "ETag, X-Export-Count" {
		t.Errorf("Expose-Headers = %q", got)
	}
}

func TestCORSAuditOnlyNeverBlocks(t *testing.T) {
	policy := &CORSPolicy{ID: "p1", Mode: ModeAuditOnly, Origins: []string{"https://app.example.com"}, Methods: []string{"GET"}}

	req := httptest.NewRequest(http.MethodOptions, "/db/collections", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()

	handled := policy.Apply(w, req, nil)
	if handled {
		t.Fatal("AuditOnly must never short-circuit as a handled preflight")
	}
}
