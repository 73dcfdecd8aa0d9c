package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/tansucloud/internal/platform"
)

// LockID is the fixed Postgres advisory lock id audit migrations serialize
// on, so multiple service instances racing on startup don't collide.
const LockID int64 = 837462910

// Migrate applies the audit_events table migrations under the advisory lock.
func Migrate(ctx context.Context, pool *pgxpool.Pool, lockID int64, databaseURL, migrationsDir string) error {
	if lockID == 0 {
		lockID = LockID
	}
	if err := platform.RunMigrationsWithAdvisoryLock(ctx, pool, lockID, databaseURL, migrationsDir); err != nil {
		return fmt.Errorf("running audit migrations: %w", err)
	}
	return nil
}
