package gateway

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// partitionKey identifies a rate-limit partition within a route/tenant pair.
type partitionKey struct {
	route     string
	tenant    string
	partition string
}

// RateLimitAggregator batches rate-limit rejections into one summary log
// line per window: an in-process windowed counter with top-N reporting,
// instead of logging every individual rejection.
type RateLimitAggregator struct {
	mu       sync.Mutex
	counts   map[partitionKey]int
	window   time.Duration
	logger   *slog.Logger
	debugger func(category string) bool
}

// NewRateLimitAggregator creates an aggregator with the given window
// (default 60s if window <= 0). debugEnabled reports whether a dynamic log
// override for "ratelimit" is at Debug or finer, in which case every
// rejection additionally emits a RateLimitRejectedDebug line.
func NewRateLimitAggregator(window time.Duration, logger *slog.Logger, debugEnabled func(category string) bool) *RateLimitAggregator {
	if window <= 0 {
		window = 60 * time.Second
	}
	return &RateLimitAggregator{
		counts:   make(map[partitionKey]int),
		window:   window,
		logger:   logger,
		debugger: debugEnabled,
	}
}

// Report records one rejection for (route, tenant, partition).
func (a *RateLimitAggregator) Report(route, tenant, partition string) {
	a.mu.Lock()
	a.counts[partitionKey{route, tenant, partition}]++
	a.mu.Unlock()

	if a.debugger != nil && a.debugger("ratelimit") {
		a.logger.Debug("RateLimitRejectedDebug", "route", route, "tenant", tenant, "partition", partition)
	}
}

// Run flushes accumulated rejections once per window until ctx is done.
func (a *RateLimitAggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.flush()
		}
	}
}

type partitionCount struct {
	partitionKey
	count int
}

func (a *RateLimitAggregator) flush() {
	a.mu.Lock()
	snapshot := a.counts
	a.counts = make(map[partitionKey]int)
	a.mu.Unlock()

	if len(snapshot) == 0 {
		return
	}

	ranked := make([]partitionCount, 0, len(snapshot))
	for k, c := range snapshot {
		ranked = append(ranked, partitionCount{k, c})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].count > ranked[j].count })
	if len(ranked) > 3 {
		ranked = ranked[:3]
	}

	top := make([]map[string]any, 0, len(ranked))
	for _, r := range ranked {
		top = append(top, map[string]any{
			"route": r.route, "tenant": r.tenant, "partition": r.partition, "count": r.count,
		})
	}

	a.logger.Info("RateLimitRejectedSummary", "window_seconds", a.window.Seconds(), "top_partitions", top)
}
