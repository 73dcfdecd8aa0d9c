package gateway

import (
	"net/http"
	"strconv"
	"time"
)

// CORSPolicy describes one CORS rule. Origin match is exact or the
// wildcard "*"; Methods lists the allowed methods for a preflight request.
type CORSPolicy struct {
	ID               string
	Mode             Mode
	Origins          []string
	Methods          []string
	Headers          []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAgeSeconds    int
}

// Apply evaluates the CORS policy against r and writes the appropriate
// Access-Control-* headers to w. It reports whether the request is a
// preflight that was fully handled (204) and should not continue to the
// next handler.
func (p *CORSPolicy) Apply(w http.ResponseWriter, r *http.Request, m *Metrics) (handled bool) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}

	start := time.Now()
	allowedOrigin := p.matchOrigin(origin)
	isPreflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

	violated := !allowedOrigin
	if isPreflight && allowedOrigin {
		method := r.Header.Get("Access-Control-Request-Method")
		if !p.allowsMethod(method) {
			violated = true
		}
	}

	if m != nil {
		m.observe(p.ID, "cors", p.Mode, time.Since(start), violated)
	}

	if p.Mode == ModeShadow {
		return false
	}

	if violated && p.Mode == ModeEnforce {
		return false
	}

	if !allowedOrigin {
		return false
	}

	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Vary", "Origin")
	if len(p.Headers) > 0 {
		w.Header().Set("Access-Control-Allow-Headers", joinComma(p.Headers))
	}
	w.Header().Set("Access-Control-Allow-Methods", joinComma(p.Methods))
	if len(p.ExposedHeaders) > 0 {
		w.Header().Set("Access-Control-Expose-Headers", joinComma(p.ExposedHeaders))
	}
	if p.AllowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}

	if isPreflight {
		if violated {
			return false
		}
		if p.MaxAgeSeconds > 0 {
			w.Header().Set("Access-Control-Max-Age", strconv.Itoa(p.MaxAgeSeconds))
		}
		w.WriteHeader(http.StatusNoContent)
		return true
	}

	return false
}

func (p *CORSPolicy) matchOrigin(origin string) bool {
	for _, o := range p.Origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (p *CORSPolicy) allowsMethod(method string) bool {
	for _, m := range p.Methods {
		if m == method {
			return true
		}
	}
	return false
}

func joinComma(items []string) string {
	out := ""
	for i, it := range items {
		if i > 0 {
			out += ", "
		}
		out += it
	}
	return out
}
