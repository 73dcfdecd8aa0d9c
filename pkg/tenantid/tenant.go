// Package tenantid resolves and normalizes tenant identity from inbound
// requests and carries the resolved TenantContext through request-scoped
// context.Context, using the gateway's header/path/subdomain resolution
// order instead of a single authenticated-identity lookup.
package tenantid

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
)

// SchemaPrefix is prepended to a normalized tenant id to derive both the
// tenant's database name and its object-storage root.
const SchemaPrefix = "tansu_tenant_"

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Normalize lowercases id, replaces every run of non-alphanumeric
// characters with a single underscore, and trims leading/trailing
// underscores. Two caller-supplied strings that normalize identically
// share the same tenant namespace.
func Normalize(id string) string {
	lower := strings.ToLower(strings.TrimSpace(id))
	replaced := nonAlnum.ReplaceAllString(lower, "_")
	return strings.Trim(replaced, "_")
}

// DatabaseName returns the Postgres-safe database/schema name for a tenant id.
func DatabaseName(id string) string {
	return SchemaPrefix + Normalize(id)
}

// Source records where a request's tenant was resolved from.
type Source string

const (
	SourceNone      Source = "None"
	SourcePath      Source = "Path"
	SourceSubdomain Source = "Subdomain"
	SourceBoth      Source = "Both"
)

// Context holds the resolved tenant for the lifetime of a request.
type Context struct {
	Raw    string
	ID     string // normalized
	Schema string
	Source Source
}

type ctxKey struct{}

// NewContext stores the tenant Context on ctx.
func NewContext(ctx context.Context, tc *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// FromContext extracts the tenant Context, or nil when none was resolved.
func FromContext(ctx context.Context) *Context {
	v, _ := ctx.Value(ctxKey{}).(*Context)
	return v
}

var pathTenantPattern = regexp.MustCompile(`^/(?:[a-zA-Z0-9_-]+/)?t/([^/]+)`)

// reservedLabels are first-label hostnames that are never treated as a
// subdomain-encoded tenant.
var reservedLabels = map[string]bool{
	"www":       true,
	"localhost": true,
}

// Resolve determines the request's tenant following the precedence path >
// subdomain. Path wins; when both a path tenant and a subdomain tenant are
// present, the source is reported as Both even if their raw values differ.
func Resolve(r *http.Request) *Context {
	var pathTenant, hostTenant string

	if m := pathTenantPattern.FindStringSubmatch(r.URL.Path); m != nil {
		pathTenant = m[1]
	}

	if t := headerTenant(r); t != "" && pathTenant == "" {
		pathTenant = t
	}

	hostTenant = subdomainTenant(r.Host)

	switch {
	case pathTenant != "" && hostTenant != "":
		return build(pathTenant, SourceBoth)
	case pathTenant != "":
		return build(pathTenant, SourcePath)
	case hostTenant != "":
		return build(hostTenant, SourceSubdomain)
	default:
		return &Context{Source: SourceNone}
	}
}

// headerTenant reads the trusted internal tenant header. Callers MUST only
// trust this header from upstream/internal hops, never directly from a
// browser, when using the result for authorization decisions.
func headerTenant(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Tansu-Tenant"))
}

// subdomainTenant extracts a tenant id from the host's first label, ignoring
// reserved hosts: bare IPs, localhost, www, and hosts with fewer than 3 labels.
func subdomainTenant(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "" {
		return ""
	}
	if net.ParseIP(host) != nil {
		return ""
	}

	labels := strings.Split(host, ".")
	if len(labels) < 3 {
		return ""
	}

	first := strings.ToLower(labels[0])
	if reservedLabels[first] || first == "" {
		return ""
	}

	return first
}

func build(raw string, source Source) *Context {
	id := Normalize(raw)
	return &Context{
		Raw:    raw,
		ID:     id,
		Schema: SchemaPrefix + id,
		Source: source,
	}
}
