package provisioning

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/tansucloud/internal/platform"
)

// SchemaTargetVersion is the schema version every freshly provisioned or
// reconciled tenant database is brought to.
const SchemaTargetVersion = "1.0.0"

// MigrationLockID is the fixed Postgres advisory lock id serializing
// concurrent tenant migrations across racing provisioning requests.
const MigrationLockID = 837462920

// Provisioner creates and tears down per-tenant databases: DB creation,
// extension install, migrations, schema-version bookkeeping, and optional
// pool-admin registration, one database per tenant rather than a shared
// schema, with an extension allowlist and pool-admin reconciliation.
type Provisioner struct {
	AdminPool     *pgxpool.Pool // connected to the Postgres maintenance database
	DatabaseURL   string        // base connection URL; database name is swapped per tenant
	MigrationsDir string
	PoolSize      int
	PoolAdmin     *PoolAdminClient // optional; nil disables pool registration
	Logger        *slog.Logger
}

// Info describes a provisioned tenant database.
type Info struct {
	TenantID string
	Database string
	Version  string
}

// Provision creates tenant T's database if absent, installs the extension
// allowlist, runs migrations to SchemaTargetVersion, records the schema
// version, and (if configured) registers a connection pool. Each step is
// idempotent so retries after partial failure are safe.
func (p *Provisioner) Provision(ctx context.Context, tenantID string) (*Info, error) {
	dbName := DatabaseName(tenantID)

	exists, err := p.databaseExists(ctx, dbName)
	if err != nil {
		return nil, err
	}
	if !exists {
		if _, err := p.AdminPool.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", quoteIdent(dbName))); err != nil {
			return nil, fmt.Errorf("creating database %s: %w", dbName, err)
		}
		p.Logger.Info("tenant database created", "tenant_id", tenantID, "database", dbName)
	}

	tenantURL, err := withDatabase(p.DatabaseURL, dbName)
	if err != nil {
		return nil, fmt.Errorf("building tenant database URL: %w", err)
	}

	tenantPool, err := platform.NewPostgresPool(ctx, tenantURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to tenant database %s: %w", dbName, err)
	}
	defer tenantPool.Close()

	if err := InstallExtensions(ctx, tenantPool, p.Logger); err != nil {
		return nil, fmt.Errorf("installing extensions on %s: %w", dbName, err)
	}

	if err := platform.RunMigrationsWithAdvisoryLock(ctx, tenantPool, MigrationLockID, tenantURL, p.MigrationsDir); err != nil {
		return nil, fmt.Errorf("running tenant migrations on %s: %w", dbName, err)
	}

	if err := EnsureSchemaVersionTable(ctx, tenantPool); err != nil {
		return nil, err
	}
	current, err := GetCurrentVersion(ctx, tenantPool)
	if err != nil {
		return nil, err
	}
	if current != SchemaTargetVersion {
		if err := RecordSchemaVersion(ctx, tenantPool, SchemaTargetVersion, "provisioned", nil); err != nil {
			return nil, err
		}
	}

	if p.PoolAdmin != nil {
		poolSize := p.PoolSize
		if poolSize <= 0 {
			poolSize = 10
		}
		if err := p.PoolAdmin.AddPool(ctx, dbName, poolSize); err != nil {
			p.Logger.Error("registering tenant pool", "tenant_id", tenantID, "database", dbName, "error", err)
		}
	}

	p.Logger.Info("tenant provisioned", "tenant_id", tenantID, "database", dbName, "version", SchemaTargetVersion)

	return &Info{TenantID: tenantID, Database: dbName, Version: SchemaTargetVersion}, nil
}

// Deprovision drops the tenant's database and, if configured, removes its
// connection pool. Both operations are idempotent.
func (p *Provisioner) Deprovision(ctx context.Context, tenantID string) error {
	dbName := DatabaseName(tenantID)

	if p.PoolAdmin != nil {
		if err := p.PoolAdmin.RemovePool(ctx, dbName); err != nil {
			p.Logger.Error("removing tenant pool", "tenant_id", tenantID, "database", dbName, "error", err)
		}
	}

	if _, err := p.AdminPool.Exec(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s WITH (FORCE)", quoteIdent(dbName))); err != nil {
		return fmt.Errorf("dropping database %s: %w", dbName, err)
	}

	p.Logger.Info("tenant deprovisioned", "tenant_id", tenantID, "database", dbName)
	return nil
}

func (p *Provisioner) databaseExists(ctx context.Context, dbName string) (bool, error) {
	var exists bool
	err := p.AdminPool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", dbName).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking database existence: %w", err)
	}
	return exists, nil
}

// withDatabase swaps the database name in a Postgres connection URL.
func withDatabase(databaseURL, dbName string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing database URL: %w", err)
	}
	u.Path = "/" + strings.TrimPrefix(dbName, "/")
	return u.String(), nil
}
