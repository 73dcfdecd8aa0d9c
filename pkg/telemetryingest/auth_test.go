package telemetryingest

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthenticatorBearerHeader(t *testing.T) {
	a := NewAuthenticator("secret-key")

	called := false
	handler := a.Middleware("/login")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called {
		t.Fatal("valid bearer token should reach the wrapped handler")
	}
}

func TestAuthenticatorInvalidBearerRedirects(t *testing.T) {
	a := NewAuthenticator("secret-key")
	handler := a.Middleware("/login")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if got := w.Header().Get("Location"); got != "/login?reason=InvalidAuthorizationHeader" {
		t.Errorf("Location = %q", got)
	}
}

func TestAuthenticatorMissingSessionRedirects(t *testing.T) {
	a := NewAuthenticator("secret-key")
	handler := a.Middleware("/login")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Location"); got != "/login?reason=MissingSession" {
		t.Errorf("Location = %q", got)
	}
}

func TestAuthenticatorLoginSetsCookie(t *testing.T) {
	a := NewAuthenticator("secret-key")

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	w := httptest.NewRecorder()

	if !a.Login(w, req, "secret-key") {
		t.Fatal("Login with correct key should succeed")
	}

	resp := w.Result()
	var found bool
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookieName {
			found = true
			if !c.HttpOnly {
				t.Error("session cookie must be HttpOnly")
			}
			if c.SameSite != http.SameSiteStrictMode {
				t.Error("session cookie must be SameSite=Strict")
			}
		}
	}
	if !found {
		t.Fatal("expected session cookie to be set")
	}
}

func TestAuthenticatorLoginRejectsWrongKey(t *testing.T) {
	a := NewAuthenticator("secret-key")
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	w := httptest.NewRecorder()

	if a.Login(w, req, "wrong-key") {
		t.Fatal("Login with wrong key should fail")
	}
}
