package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"
)

// UpstreamRoute maps a route base to a logical upstream.
type UpstreamRoute struct {
	RouteBase    string
	TargetURL    string
	MaxBodyBytes int64
	Timeout      time.Duration
}

const (
	breakerFailureThreshold = 5
	breakerCooldown         = 30 * time.Second
)

type breakerState struct {
	mu       sync.Mutex
	failures int
	openedAt time.Time
}

// CircuitBreaker trips per route base after consecutive upstream transport
// failures and stays open for a cooldown window, so a known-down upstream
// is not hammered on every request. Open(base) is consulted both by the
// Router (to skip the failing upstream entirely) and by Cache.MiddlewareWithBreaker
// (to serve a stale cached response instead of a bare error, when one
// exists for the failing route).
type CircuitBreaker struct {
	mu     sync.Mutex
	states map[string]*breakerState
}

// NewCircuitBreaker creates an empty breaker; state is allocated lazily
// per route base on first use.
func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{states: make(map[string]*breakerState)}
}

func (cb *CircuitBreaker) state(base string) *breakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	s, ok := cb.states[base]
	if !ok {
		s = &breakerState{}
		cb.states[base] = s
	}
	return s
}

// Open reports whether base's breaker is tripped and still cooling down.
// Once the cooldown elapses it returns false again, letting one trial
// request through (the reverse proxy's own success/failure recording
// decides whether the breaker re-opens or resets).
func (cb *CircuitBreaker) Open(base string) bool {
	s := cb.state(base)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures < breakerFailureThreshold {
		return false
	}
	return time.Since(s.openedAt) < breakerCooldown
}

func (cb *CircuitBreaker) recordFailure(base string) {
	s := cb.state(base)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	if s.failures >= breakerFailureThreshold {
		s.openedAt = time.Now()
	}
}

func (cb *CircuitBreaker) recordSuccess(base string) {
	s := cb.state(base)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = 0
}

// Router keys reverse-proxy routes by first path segment: a route lookup
// followed by a single-host reverse proxy with header rewriting.
type Router struct {
	routes  map[string]*httputil.ReverseProxy
	raw     map[string]UpstreamRoute
	Breaker *CircuitBreaker
}

// NewRouter builds a Router from a set of upstream routes.
func NewRouter(routes []UpstreamRoute) (*Router, error) {
	r := &Router{
		routes:  make(map[string]*httputil.ReverseProxy),
		raw:     make(map[string]UpstreamRoute),
		Breaker: NewCircuitBreaker(),
	}
	for _, route := range routes {
		target, err := url.Parse(route.TargetURL)
		if err != nil {
			return nil, fmt.Errorf("parsing upstream URL for route %q: %w", route.RouteBase, err)
		}

		base := route.RouteBase
		proxy := httputil.NewSingleHostReverseProxy(target)
		originalDirector := proxy.Director
		proxy.Director = func(req *http.Request) {
			originalDirector(req)
			req.Host = target.Host
			// Path is preserved: NewSingleHostReverseProxy only rewrites
			// the scheme/host, never the path, which keeps route_base
			// visible to the upstream.
		}
		proxy.ModifyResponse = func(resp *http.Response) error {
			r.Breaker.recordSuccess(base)
			return nil
		}
		proxy.ErrorHandler = func(w http.ResponseWriter, req *http.Request, err error) {
			r.Breaker.recordFailure(base)
			w.Header().Set("Content-Type", "application/problem+json")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"title":"Bad Gateway","status":502}`))
		}

		r.routes[base] = proxy
		r.raw[base] = route
	}
	return r, nil
}

// ServeHTTP proxies the request to the upstream matching its route_base,
// forwarding tenant, correlation, and trace headers unchanged (Enrich sets
// X-Correlation-ID on the request; tenant and trace headers are passed on
// as the client sent them), enforcing the route's
// body-size limit and timeout.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	base := routeBase(req.URL.Path)
	proxy, ok := r.routes[base]
	if !ok {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"title":"Not Found","status":404,"detail":"no upstream for route"}`))
		return
	}

	if r.Breaker.Open(base) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"title":"Service Unavailable","status":503,"detail":"upstream circuit open"}`))
		return
	}

	route := r.raw[base]
	if route.MaxBodyBytes > 0 {
		req.Body = http.MaxBytesReader(w, req.Body, route.MaxBodyBytes)
	}

	if route.Timeout > 0 && !isUpgrade(req) {
		ctx, cancel := context.WithTimeout(req.Context(), route.Timeout)
		defer cancel()
		req = req.WithContext(ctx)
	}

	proxy.ServeHTTP(w, req)
}

// isUpgrade reports whether the request is a protocol upgrade (e.g.
// WebSocket), which must not be subject to the route's response timeout.
func isUpgrade(r *http.Request) bool {
	return r.Header.Get("Upgrade") != ""
}
