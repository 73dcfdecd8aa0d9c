// Package provisioning creates and reconciles per-tenant databases: naming,
// schema-version bookkeeping, extension installation/upgrade, migrations,
// and the pool-admin sidecar integration, one database per tenant with an
// extension allowlist and pool-admin reconciliation.
package provisioning

import (
	"github.com/wisbric/tansucloud/pkg/tenantid"
)

// DatabaseName returns the Postgres database name for a tenant id.
func DatabaseName(tenantID string) string {
	return tenantid.DatabaseName(tenantID)
}

// DefaultExtensions is the allowlist installed into every freshly
// provisioned tenant database.
var DefaultExtensions = []string{"citus", "vector"}

// OptionalExtensions are installed only if available on the server.
var OptionalExtensions = []string{"pg_trgm"}
