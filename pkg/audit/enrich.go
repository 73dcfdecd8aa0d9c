package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/wisbric/tansucloud/internal/httpserver"
	"github.com/wisbric/tansucloud/pkg/tenantid"
)

const maxUserAgentBytes = 128

// EnrichFromRequest fills any of the request-derived fields on e that are
// still zero-valued. ipHashSalt may be empty, in which case ClientIPHash
// is left unset.
func EnrichFromRequest(e *Event, r *http.Request, service, environment, ipHashSalt string) {
	if e.Service == "" {
		e.Service = service
	}
	if e.Environment == "" {
		e.Environment = environment
	}

	if e.TenantID == "" {
		if tc := tenantid.FromContext(r.Context()); tc != nil {
			e.TenantID = tc.ID
		}
	}

	if e.CorrelationID == "" {
		e.CorrelationID = r.Header.Get("X-Correlation-ID")
	}

	if e.RouteTemplate == "" {
		e.RouteTemplate = r.URL.Path
	}

	if e.ClientIPHash == "" && ipHashSalt != "" {
		if ip := clientIP(r); ip.IsValid() {
			e.ClientIPHash = hashIP(ipHashSalt, ip)
		}
	}

	if e.UserAgent == "" {
		ua := r.Header.Get("User-Agent")
		if len(ua) > maxUserAgentBytes {
			ua = ua[:maxUserAgentBytes]
		}
		e.UserAgent = ua
	}
}

func hashIP(salt string, ip netip.Addr) string {
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(ip.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// clientIP extracts the client IP, preferring X-Forwarded-For / X-Real-IP
// over RemoteAddr.
func clientIP(r *http.Request) netip.Addr {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if addr, err := netip.ParseAddr(strings.TrimSpace(parts[0])); err == nil {
			return addr
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if addr, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
			return addr
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, _ := netip.ParseAddr(host)
	return addr
}

// RequestIDAsCorrelation is a convenience fallback for routes that haven't
// yet adopted X-Correlation-ID: it falls back to the ambient request id.
func RequestIDAsCorrelation(r *http.Request) string {
	if c := r.Header.Get("X-Correlation-ID"); c != "" {
		return c
	}
	return httpserver.RequestIDFromContext(r.Context())
}
