package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the audit subsystem's Prometheus counters, registered once
// into the process-wide registry by the caller.
type Metrics struct {
	Enqueued          prometheus.Counter
	Dropped           prometheus.Counter
	WriteFailures     prometheus.Counter
	DroppedOnFailure  prometheus.Counter
}

// NewMetrics builds the audit Metrics collector set.
func NewMetrics() *Metrics {
	return &Metrics{
		Enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tansucloud", Subsystem: "audit", Name: "enqueued_total",
			Help: "Total number of audit events successfully enqueued.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tansucloud", Subsystem: "audit", Name: "dropped_total",
			Help: "Total number of audit events dropped because the buffer was full.",
		}),
		WriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tansucloud", Subsystem: "audit", Name: "write_failures_total",
			Help: "Total number of audit batch writes that failed.",
		}),
		DroppedOnFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tansucloud", Subsystem: "audit", Name: "dropped_on_failure_total",
			Help: "Total number of audit events dropped because their batch write failed.",
		}),
	}
}

// Collectors returns the metrics for registration into a prometheus.Registry.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.Enqueued, m.Dropped, m.WriteFailures, m.DroppedOnFailure}
}

// WriterConfig configures buffering and batching behavior.
type WriterConfig struct {
	BufferCapacity  int
	BatchSize       int
	FlushInterval   time.Duration
	WaitOnFull      bool // true only for tests; blocks TryEnqueue when the buffer is full
	MaxDetailsBytes int
}

// Writer is an async, buffered audit log writer: a bounded channel fed by
// many request-handling goroutines, drained by a single background task
// that batches writes into the relational store.
type Writer struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics *Metrics
	cfg     WriterConfig
	entries chan Event
	wg      sync.WaitGroup
}

const (
	defaultBufferCapacity = 10000
	defaultBatchSize      = 256
	defaultFlushInterval  = 2 * time.Second
)

// NewWriter creates a Writer. Call Start to begin processing entries.
func NewWriter(pool *pgxpool.Pool, logger *slog.Logger, metrics *Metrics, cfg WriterConfig) *Writer {
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = defaultBufferCapacity
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}

	return &Writer{
		pool:    pool,
		logger:  logger,
		metrics: metrics,
		cfg:     cfg,
		entries: make(chan Event, cfg.BufferCapacity),
	}
}

// Start begins the background flush loop and returns immediately. The loop
// exits when ctx is cancelled or Close is called, after flushing the
// entries pending at that point.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close waits for all pending entries to be flushed.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// TryEnqueue finalizes (truncates/derives idempotency key) and enqueues evt.
// Under WaitOnFull it blocks the caller when the buffer is full — intended
// only for tests; the default mode never blocks the request path and drops
// the event instead, incrementing Dropped.
func (w *Writer) TryEnqueue(evt Event) bool {
	if err := evt.Finalize(w.cfg.MaxDetailsBytes); err != nil {
		w.logger.Error("finalizing audit event", "error", err, "action", evt.Action)
		return false
	}

	if w.cfg.WaitOnFull {
		w.entries <- evt
		w.metrics.Enqueued.Inc()
		return true
	}

	select {
	case w.entries <- evt:
		w.metrics.Enqueued.Inc()
		return true
	default:
		w.metrics.Dropped.Inc()
		w.logger.Warn("audit buffer full, dropping event", "action", evt.Action, "category", evt.Category)
		return false
	}
}

func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, w.cfg.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case evt, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, evt)
			if len(batch) >= w.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case evt, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, evt)
				default:
					flush()
					return
				}
			}
		}
	}
}

// flush writes a batch within a single transaction, using
// INSERT ... ON CONFLICT DO NOTHING keyed on idempotency_key for dedupe. On
// failure the whole batch is dropped after one retry-free attempt and flush
// sleeps 2s before returning, which pauses the writer loop.
func (w *Writer) flush(batch []Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		w.logger.Error("beginning audit flush transaction", "error", err, "count", len(batch))
		w.metrics.WriteFailures.Inc()
		w.metrics.DroppedOnFailure.Add(float64(len(batch)))
		time.Sleep(2 * time.Second)
		return
	}
	defer tx.Rollback(ctx)

	for _, e := range batch {
		_, err := tx.Exec(ctx, `
			INSERT INTO audit_events (
				id, when_utc, service, environment, version, tenant_id, subject, action,
				category, route_template, correlation_id, trace_id, span_id,
				client_ip_hash, user_agent, outcome, reason_code, details,
				impersonated_by, source_host, unique_key, idempotency_key
			) VALUES (
				$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22
			)
			ON CONFLICT (idempotency_key) DO NOTHING
		`,
			e.ID, e.WhenUTC, e.Service, e.Environment, e.Version, e.TenantID, e.Subject, e.Action,
			e.Category, e.RouteTemplate, e.CorrelationID, e.TraceID, e.SpanID,
			nullableString(e.ClientIPHash), nullableString(e.UserAgent), nullableString(e.Outcome), nullableString(e.ReasonCode), e.Details,
			nullableString(e.ImpersonatedBy), nullableString(e.SourceHost), nullableString(e.UniqueKey), e.IdempotencyKey,
		)
		if err != nil {
			w.logger.Error("writing audit event", "error", err, "action", e.Action)
			w.metrics.WriteFailures.Inc()
			w.metrics.DroppedOnFailure.Add(float64(len(batch)))
			time.Sleep(2 * time.Second)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		w.logger.Error("committing audit flush transaction", "error", err, "count", len(batch))
		w.metrics.WriteFailures.Inc()
		w.metrics.DroppedOnFailure.Add(float64(len(batch)))
		time.Sleep(2 * time.Second)
	}
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
