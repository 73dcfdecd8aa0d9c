package gateway

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/wisbric/tansucloud/internal/httpserver"
)

// RemoteIP extracts the request's client IP, preferring X-Forwarded-For
// over RemoteAddr, mirroring the audit pipeline's clientIP resolution.
func RemoteIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if ip := strings.TrimSpace(parts[0]); net.ParseIP(ip) != nil {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := strings.TrimSpace(xri); net.ParseIP(ip) != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware wraps an IPFilter as a policy-enforcement middleware. A
// blocking match responds 403 application/problem+json; Shadow/AuditOnly
// matches pass through regardless.
func (f *IPFilter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RemoteIP(r)
		blocked, reason := f.Evaluate(r, ip)
		if blocked {
			httpserver.RespondProblem(w, httpserver.Problem{
				Type:     "https://tansucloud.dev/problems/ip-filter",
				Title:    "Forbidden",
				Status:   http.StatusForbidden,
				Detail:   fmt.Sprintf("%s %s", ip, ipFilterDetail(reason)),
				Instance: r.URL.Path,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ipFilterDetail renders an Evaluate reason code as the human-readable
// phrase a Problem's detail field carries.
func ipFilterDetail(reason string) string {
	switch reason {
	case "ip_denied":
		return "is in deny list"
	case "ip_not_allowed":
		return "is not in allow list"
	default:
		return "is blocked"
	}
}
