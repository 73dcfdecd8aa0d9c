package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Usage is a tenant's current storage consumption.
type Usage struct {
	Tenant     string
	Bytes      int64
	ObjectCount int64
}

// Limits bounds a tenant's storage usage. A zero value disables that check.
type Limits struct {
	MaxBytes       int64
	MaxObjectCount int64
}

// Violation names the first constraint an incoming write would breach.
type Violation string

const (
	ViolationNone       Violation = ""
	ViolationBytes      Violation = "max_bytes_exceeded"
	ViolationObjectCount Violation = "max_object_count_exceeded"
)

// QuotaTracker maintains a last-scanned Usage per tenant and evaluates
// prospective writes against configured Limits.
type QuotaTracker struct {
	store  *Store
	logger *slog.Logger

	mu     sync.Mutex
	usage  map[string]Usage
	limits map[string]Limits
}

// NewQuotaTracker creates a QuotaTracker over store.
func NewQuotaTracker(store *Store, logger *slog.Logger) *QuotaTracker {
	return &QuotaTracker{
		store:  store,
		logger: logger,
		usage:  make(map[string]Usage),
		limits: make(map[string]Limits),
	}
}

// SetLimits configures the limits enforced for a tenant.
func (q *QuotaTracker) SetLimits(tenant string, limits Limits) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.limits[tenant] = limits
}

// Evaluate reports the first constraint that incomingBytes (added as one
// new object) would violate for tenant, based on the last scan. Returns
// ViolationNone if within limits or no limits are configured.
func (q *QuotaTracker) Evaluate(tenant string, incomingBytes int64) Violation {
	q.mu.Lock()
	limits, hasLimits := q.limits[tenant]
	usage := q.usage[tenant]
	q.mu.Unlock()

	if !hasLimits {
		return ViolationNone
	}
	if limits.MaxBytes > 0 && usage.Bytes+incomingBytes > limits.MaxBytes {
		return ViolationBytes
	}
	if limits.MaxObjectCount > 0 && usage.ObjectCount+1 > limits.MaxObjectCount {
		return ViolationObjectCount
	}
	return ViolationNone
}

// Scan walks a tenant's storage and refreshes its cached Usage.
func (q *QuotaTracker) Scan(tenant string) (Usage, error) {
	dir := q.store.layout.TenantDir(tenant)

	var usage Usage
	usage.Tenant = tenant
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || IsMetaFile(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		usage.Bytes += info.Size()
		usage.ObjectCount++
		return nil
	})
	if err != nil {
		return Usage{}, fmt.Errorf("scanning usage for tenant %s: %w", tenant, err)
	}

	q.mu.Lock()
	q.usage[tenant] = usage
	q.mu.Unlock()
	return usage, nil
}

// Run periodically rescans every tenant named in tenants, logging the
// refreshed usage. Intended to be started once as a background worker.
func (q *QuotaTracker) Run(ctx context.Context, interval time.Duration, tenants func() []string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, tenant := range tenants() {
				usage, err := q.Scan(tenant)
				if err != nil {
					q.logger.Error("scanning tenant storage usage", "tenant", tenant, "error", err)
					continue
				}
				q.logger.Info("storage usage scanned", "tenant", tenant, "bytes", usage.Bytes, "objects", usage.ObjectCount)
			}
		}
	}
}
