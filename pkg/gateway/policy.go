package gateway

import (
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Mode controls how a policy violation is handled.
type Mode string

const (
	// ModeShadow evaluates and records metrics but never alters the response.
	ModeShadow Mode = "Shadow"
	// ModeAuditOnly applies the policy's side effects (CORS headers, etc.)
	// and records metrics, but never rejects with 403.
	ModeAuditOnly Mode = "AuditOnly"
	// ModeEnforce applies the policy and rejects violations with 403.
	ModeEnforce Mode = "Enforce"
)

// EventType labels a policy metric observation.
type EventType string

const (
	EventEvaluation EventType = "evaluation"
	EventViolation  EventType = "violation"
	EventBlock      EventType = "block"
)

// Metrics are the counters and histogram required by policy enforcement.
type Metrics struct {
	Evaluations *prometheus.CounterVec
	Violations  *prometheus.CounterVec
	Blocks      *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
}

// NewMetrics registers the policy metric family under reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	labels := []string{"policy_id", "policy_type", "mode"}
	m := &Metrics{
		Evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tansucloud", Subsystem: "gateway", Name: "policy_evaluations_total",
			Help: "Total policy evaluations.",
		}, labels),
		Violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tansucloud", Subsystem: "gateway", Name: "policy_violations_total",
			Help: "Total policy violations.",
		}, labels),
		Blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tansucloud", Subsystem: "gateway", Name: "policy_blocks_total",
			Help: "Total requests blocked by an Enforce-mode policy.",
		}, labels),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tansucloud", Subsystem: "gateway", Name: "policy_evaluation_duration_ms",
			Help:    "Policy evaluation duration in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, labels),
	}
	reg.MustRegister(m.Evaluations, m.Violations, m.Blocks, m.Duration)
	return m
}

// observe records one evaluation outcome for a policy.
func (m *Metrics) observe(policyID, policyType string, mode Mode, dur time.Duration, violated bool) {
	labels := prometheus.Labels{"policy_id": policyID, "policy_type": policyType, "mode": string(mode)}
	m.Evaluations.With(labels).Inc()
	m.Duration.With(labels).Observe(float64(dur.Microseconds()) / 1000)
	if violated {
		m.Violations.With(labels).Inc()
		if mode == ModeEnforce {
			m.Blocks.With(labels).Inc()
		}
	}
}

// IPRule is a single allow/deny entry: a bare IP or CIDR.
type IPRule struct {
	ID   string
	CIDR string
	Mode Mode
}

// IPFilter evaluates a request's remote address against deny rules then
// allow rules, in that order: IP-deny wins over IP-allow.
type IPFilter struct {
	Deny    []IPRule
	Allow   []IPRule
	Metrics *Metrics
}

// Evaluate returns (blocked, reason). blocked is only ever true when some
// matching rule's Mode is ModeEnforce; Shadow/AuditOnly matches still emit
// metrics via m but never block.
func (f *IPFilter) Evaluate(r *http.Request, remoteIP string) (blocked bool, reason string) {
	ip := net.ParseIP(remoteIP)
	if ip == nil {
		return false, ""
	}

	for _, rule := range f.Deny {
		start := time.Now()
		matched := matchCIDR(rule.CIDR, ip)
		if f.Metrics != nil {
			f.Metrics.observe(rule.ID, "ip_deny", rule.Mode, time.Since(start), matched)
		}
		if matched && rule.Mode == ModeEnforce {
			return true, "ip_denied"
		}
	}

	if len(f.Allow) == 0 {
		return false, ""
	}

	for _, rule := range f.Allow {
		start := time.Now()
		matched := matchCIDR(rule.CIDR, ip)
		if f.Metrics != nil {
			f.Metrics.observe(rule.ID, "ip_allow", rule.Mode, time.Since(start), !matched)
		}
		if matched {
			return false, ""
		}
	}

	for _, rule := range f.Allow {
		if rule.Mode == ModeEnforce {
			return true, "ip_not_allowed"
		}
	}
	return false, ""
}

// matchCIDR supports a bare IP (exact compare) or a CIDR ("a.b.c.d/N" or
// IPv6) pattern. Both addresses must be the same family.
func matchCIDR(pattern string, ip net.IP) bool {
	if _, network, err := net.ParseCIDR(pattern); err == nil {
		return sameFamily(network.IP, ip) && network.Contains(ip)
	}

	candidate := net.ParseIP(pattern)
	if candidate == nil {
		return false
	}
	if !sameFamily(candidate, ip) {
		return false
	}
	return candidate.Equal(ip)
}

func sameFamily(a, b net.IP) bool {
	return (a.To4() != nil) == (b.To4() != nil)
}
