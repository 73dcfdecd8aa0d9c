package gateway

import (
	"testing"
	"time"

	"github.com/wisbric/tansucloud/internal/telemetry"
)

func TestRateLimitAggregatorFlushResetsCounts(t *testing.T) {
	logger := telemetry.NewLogger("text", "error")
	a := NewRateLimitAggregator(time.Minute, logger, nil)

	a.Report("db", "acme", "tenant:acme")
	a.Report("db", "acme", "tenant:acme")
	a.Report("db", "globex", "tenant:globex")

	if len(a.counts) != 2 {
		t.Fatalf("counts has %d partitions, want 2", len(a.counts))
	}

	a.flush()

	if len(a.counts) != 0 {
		t.Fatalf("counts after flush has %d partitions, want 0", len(a.counts))
	}
}

func TestRateLimitAggregatorDebugCallback(t *testing.T) {
	logger := telemetry.NewLogger("text", "debug")
	calls := 0
	a := NewRateLimitAggregator(time.Minute, logger, func(category string) bool {
		calls++
		return category == "ratelimit"
	})

	a.Report("db", "acme", "tenant:acme")

	if calls != 1 {
		t.Fatalf("debug callback invoked %d times, want 1", calls)
	}
}
