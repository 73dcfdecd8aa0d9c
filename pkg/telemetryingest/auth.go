package telemetryingest

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"
)

const sessionCookieName = "tansu_telemetry_admin"

// Authenticator enforces the telemetry admin UI's static-key auth: either a
// Bearer header or a session cookie minted after POST of the key to /login.
type Authenticator struct {
	apiKey  string
	session *sessionManager
}

// NewAuthenticator creates an Authenticator for the given static key. The
// session cookie is a signed JWT (HS256, keyed on apiKey) rather than the
// raw key, so it expires independently and never appears in browser storage
// in a directly replayable form for a different purpose.
func NewAuthenticator(apiKey string) *Authenticator {
	return &Authenticator{apiKey: apiKey, session: newSessionManager(apiKey, 8*time.Hour)}
}

// constantTimeEqual compares two strings in constant time over their UTF-8
// bytes, never short-circuiting on a length mismatch, to avoid a
// length-probing side channel on the admin key. Both sides are hashed to
// fixed-length SHA-256 digests before the comparison.
func constantTimeEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}

// Login validates key and, on success, mints a signed session cookie.
func (a *Authenticator) Login(w http.ResponseWriter, r *http.Request, key string) bool {
	if !constantTimeEqual(key, a.apiKey) {
		return false
	}

	token, err := a.session.issue()
	if err != nil {
		return false
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int((8 * time.Hour).Seconds()),
		Path:     "/",
	})
	return true
}

// Reason enumerates why Middleware redirected to the login page.
type Reason string

const (
	ReasonMissingSession             Reason = "MissingSession"
	ReasonInvalidSession             Reason = "InvalidSession"
	ReasonInvalidAuthorizationHeader Reason = "InvalidAuthorizationHeader"
)

// Middleware authenticates requests via Bearer header or session cookie,
// redirecting unauthenticated requests to loginPath with a reason code.
func (a *Authenticator) Middleware(loginPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth := r.Header.Get("Authorization"); auth != "" {
				const prefix = "Bearer "
				if !strings.HasPrefix(auth, prefix) {
					a.redirect(w, r, loginPath, ReasonInvalidAuthorizationHeader)
					return
				}
				if !constantTimeEqual(strings.TrimPrefix(auth, prefix), a.apiKey) {
					a.redirect(w, r, loginPath, ReasonInvalidAuthorizationHeader)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			cookie, err := r.Cookie(sessionCookieName)
			if err != nil {
				a.redirect(w, r, loginPath, ReasonMissingSession)
				return
			}
			if err := a.session.validate(cookie.Value); err != nil {
				a.redirect(w, r, loginPath, ReasonInvalidSession)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (a *Authenticator) redirect(w http.ResponseWriter, r *http.Request, loginPath string, reason Reason) {
	http.Redirect(w, r, loginPath+"?reason="+string(reason), http.StatusFound)
}
