package telemetryingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Worker drains the ingestion queue and persists envelopes to Postgres on
// a ticker, with a final flush on shutdown.
type Worker struct {
	pool      *pgxpool.Pool
	queue     *Queue
	logger    *slog.Logger
	batchSize int
}

// NewWorker creates a persistence worker. batchSize <= 0 uses 64.
func NewWorker(pool *pgxpool.Pool, queue *Queue, logger *slog.Logger, batchSize int) *Worker {
	if batchSize <= 0 {
		batchSize = 64
	}
	return &Worker{pool: pool, queue: queue, logger: logger, batchSize: batchSize}
}

// Run persists batches until ctx is cancelled, waking on either the
// queue's notify channel or a periodic tick so a slow trickle still
// eventually flushes.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush(context.Background())
			return
		case <-w.queue.Notify():
			w.flush(ctx)
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Worker) flush(ctx context.Context) {
	batch := w.queue.DrainBatch(w.batchSize)
	if len(batch) == 0 {
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := w.pool.Begin(writeCtx)
	if err != nil {
		w.logger.Error("beginning telemetry batch transaction", "error", err, "count", len(batch))
		return
	}
	defer func() { _ = tx.Rollback(writeCtx) }()

	for _, e := range batch {
		items, err := json.Marshal(e.Items)
		if err != nil {
			w.logger.Error("marshaling telemetry items", "error", err, "envelope_id", e.ID)
			continue
		}

		_, err = tx.Exec(writeCtx, `
			INSERT INTO telemetry_envelopes
				(id, service, host, environment, severity_threshold, window_minutes, received_at, items)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING
		`, e.ID, e.Service, e.Host, e.Environment, int(e.SeverityThreshold), e.WindowMinutes, e.ReceivedAt, items)
		if err != nil {
			w.logger.Error("inserting telemetry envelope", "error", err, "envelope_id", e.ID)
		}
	}

	if err := tx.Commit(writeCtx); err != nil {
		w.logger.Error("committing telemetry batch", "error", err, "count", len(batch))
	}
}

// Acknowledge sets acknowledged_at on the envelope if not already
// acknowledged and not deleted. Returns whether state changed.
func Acknowledge(ctx context.Context, pool *pgxpool.Pool, id string) (bool, error) {
	tag, err := pool.Exec(ctx, `
		UPDATE telemetry_envelopes SET acknowledged_at = now()
		WHERE id = $1 AND acknowledged_at IS NULL AND deleted_at IS NULL
	`, id)
	if err != nil {
		return false, fmt.Errorf("acknowledging envelope %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// SoftDelete sets deleted_at on the envelope. Returns whether state changed.
func SoftDelete(ctx context.Context, pool *pgxpool.Pool, id string) (bool, error) {
	tag, err := pool.Exec(ctx, `
		UPDATE telemetry_envelopes SET deleted_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return false, fmt.Errorf("soft-deleting envelope %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}
