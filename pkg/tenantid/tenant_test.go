package tenantid

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"already normal", "acme", "acme"},
		{"uppercase", "Acme", "acme"},
		{"punctuation collapses", "Acme, Inc.", "acme_inc"},
		{"leading trailing trimmed", "--acme--", "acme"},
		{"whitespace trimmed", "  acme  ", "acme"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDatabaseName(t *testing.T) {
	if got := DatabaseName("Acme Corp"); got != "tansu_tenant_acme_corp" {
		t.Errorf("DatabaseName() = %q", got)
	}
}

func TestResolvePathTenantWinsWithBothSource(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/t/pathTenant/db/api", nil)
	req.Host = "contoso.example.com"

	tc := Resolve(req)
	if tc.Source != SourceBoth {
		t.Fatalf("Source = %v, want Both", tc.Source)
	}
	if tc.Raw != "pathTenant" {
		t.Fatalf("Raw = %q, want pathTenant", tc.Raw)
	}
	if tc.ID != "pathtenant" {
		t.Fatalf("ID = %q, want pathtenant", tc.ID)
	}
}

func TestResolveReservedHostIgnored(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/db/health/live", nil)
	req.Host = "www.example.com"

	tc := Resolve(req)
	if tc.Source != SourceNone {
		t.Fatalf("Source = %v, want None", tc.Source)
	}
}

func TestResolveSubdomainOnly(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/db/api", nil)
	req.Host = "acme.tansucloud.dev"

	tc := Resolve(req)
	if tc.Source != SourceSubdomain {
		t.Fatalf("Source = %v, want Subdomain", tc.Source)
	}
	if tc.Raw != "acme" {
		t.Fatalf("Raw = %q, want acme", tc.Raw)
	}
}

func TestResolvePathOnly(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/t/acme/db/api", nil)
	req.Host = "gateway.internal"

	tc := Resolve(req)
	if tc.Source != SourcePath {
		t.Fatalf("Source = %v, want Path", tc.Source)
	}
	if tc.Raw != "acme" {
		t.Fatalf("Raw = %q, want acme", tc.Raw)
	}
}

func TestResolveHeaderFillsPathTenantWhenPathAbsent(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/db/api", nil)
	req.Host = "gateway.internal"
	req.Header.Set("X-Tansu-Tenant", "acme")

	tc := Resolve(req)
	if tc.Source != SourcePath {
		t.Fatalf("Source = %v, want Path", tc.Source)
	}
	if tc.Raw != "acme" {
		t.Fatalf("Raw = %q, want acme", tc.Raw)
	}
}

func TestResolveBareIPHostNeverTreatedAsTenant(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/db/api", nil)
	req.Host = "127.0.0.1"

	tc := Resolve(req)
	if tc.Source != SourceNone {
		t.Fatalf("Source = %v, want None", tc.Source)
	}
}

func TestResolveNoTenantAnywhere(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/db/health/live", nil)
	req.Host = "gateway.internal"

	tc := Resolve(req)
	if tc.Source != SourceNone {
		t.Fatalf("Source = %v, want None", tc.Source)
	}
}
