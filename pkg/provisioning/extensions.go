package provisioning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// InstallExtensions creates every extension in DefaultExtensions, then every
// extension in OptionalExtensions best-effort (missing availability is
// logged, not fatal).
func InstallExtensions(ctx context.Context, db *pgxpool.Pool, logger *slog.Logger) error {
	for _, ext := range DefaultExtensions {
		if _, err := db.Exec(ctx, fmt.Sprintf("CREATE EXTENSION IF NOT EXISTS %s", quoteIdent(ext))); err != nil {
			return fmt.Errorf("creating required extension %s: %w", ext, err)
		}
	}

	for _, ext := range OptionalExtensions {
		if _, err := db.Exec(ctx, fmt.Sprintf("CREATE EXTENSION IF NOT EXISTS %s", quoteIdent(ext))); err != nil {
			logger.Warn("optional extension unavailable", "extension", ext, "error", err)
		}
	}

	return nil
}

// ExtensionVersions reports the installed version of each extension on db,
// keyed by extension name. Extensions not installed are omitted.
func ExtensionVersions(ctx context.Context, db *pgxpool.Pool, extensions []string) (map[string]string, error) {
	rows, err := db.Query(ctx, `SELECT extname, extversion FROM pg_extension WHERE extname = ANY($1)`, extensions)
	if err != nil {
		return nil, fmt.Errorf("reading extension versions: %w", err)
	}
	defer rows.Close()

	versions := make(map[string]string)
	for rows.Next() {
		var name, version string
		if err := rows.Scan(&name, &version); err != nil {
			return nil, fmt.Errorf("scanning extension version: %w", err)
		}
		versions[name] = version
	}
	return versions, rows.Err()
}

// ReconcileExtensions runs ALTER EXTENSION ... UPDATE for every installed
// extension in the allowlist, recording each version change via record.
// Failures are returned to the caller, who decides whether to fail startup
// (production) or merely log (development).
func ReconcileExtensions(ctx context.Context, db *pgxpool.Pool, extensions []string, record func(ext, from, to string)) error {
	before, err := ExtensionVersions(ctx, db, extensions)
	if err != nil {
		return err
	}

	for _, ext := range extensions {
		if _, ok := before[ext]; !ok {
			continue
		}
		if _, err := db.Exec(ctx, fmt.Sprintf("ALTER EXTENSION %s UPDATE", quoteIdent(ext))); err != nil {
			return fmt.Errorf("updating extension %s: %w", ext, err)
		}
	}

	after, err := ExtensionVersions(ctx, db, extensions)
	if err != nil {
		return err
	}

	for ext, to := range after {
		if from := before[ext]; from != to && record != nil {
			record(ext, from, to)
		}
	}

	return nil
}

// Degraded reports whether the given per-database extension version maps
// disagree on any shared extension, meaning the fleet has drifted.
func Degraded(perDB map[string]map[string]string) bool {
	seen := make(map[string]string)
	for _, versions := range perDB {
		for ext, v := range versions {
			if existing, ok := seen[ext]; ok && existing != v {
				return true
			}
			seen[ext] = v
		}
	}
	return false
}

// quoteIdent guards against SQL injection for extension names, which are
// always drawn from the fixed allowlists above, never user input.
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
