package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SchemaVersion is a single recorded schema migration against a database.
type SchemaVersion struct {
	Version     string
	Description string
	Metadata    json.RawMessage
	AppliedAt   time.Time
}

// EnsureSchemaVersionTable creates the __SchemaVersion bookkeeping table and
// its indexes if they do not already exist.
func EnsureSchemaVersionTable(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS "__SchemaVersion" (
			version     text NOT NULL,
			description text,
			metadata    jsonb,
			applied_at  timestamptz NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_schemaversion_applied_at ON "__SchemaVersion" (applied_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("ensuring schema version table: %w", err)
	}
	return nil
}

// RecordSchemaVersion inserts a new schema version row.
func RecordSchemaVersion(ctx context.Context, db *pgxpool.Pool, version, description string, metadata json.RawMessage) error {
	if metadata == nil {
		metadata = json.RawMessage(`{}`)
	}
	_, err := db.Exec(ctx,
		`INSERT INTO "__SchemaVersion" (version, description, metadata) VALUES ($1, $2, $3)`,
		version, description, metadata,
	)
	if err != nil {
		return fmt.Errorf("recording schema version %s: %w", version, err)
	}
	return nil
}

// GetCurrentVersion returns the most recently applied schema version, or
// ("", nil) if no version has ever been recorded.
func GetCurrentVersion(ctx context.Context, db *pgxpool.Pool) (string, error) {
	var version string
	err := db.QueryRow(ctx, `SELECT version FROM "__SchemaVersion" ORDER BY applied_at DESC LIMIT 1`).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading current schema version: %w", err)
	}
	return version, nil
}

// Validate reports whether a schema version has ever been recorded and
// whether the current one matches expected.
func Validate(ctx context.Context, db *pgxpool.Pool, expected string) (exists bool, matches bool, current string, err error) {
	current, err = GetCurrentVersion(ctx, db)
	if err != nil {
		return false, false, "", err
	}
	if current == "" {
		return false, false, "", nil
	}
	return true, current == expected, current, nil
}
