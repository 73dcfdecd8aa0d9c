package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RetentionMode selects how events older than the cutoff are handled.
type RetentionMode string

const (
	RetentionHardDelete RetentionMode = "hard_delete"
	RetentionRedact     RetentionMode = "redact"
)

// RetentionWorker periodically purges or redacts events older than
// RetentionDays, honoring legal holds that exempt specific tenants.
type RetentionWorker struct {
	pool        *pgxpool.Pool
	writer      *Writer
	logger      *slog.Logger
	mode        RetentionMode
	days        int
	legalHolds  []string
	period      time.Duration
	serviceName string
}

// NewRetentionWorker creates a RetentionWorker. period defaults to 6h.
func NewRetentionWorker(pool *pgxpool.Pool, writer *Writer, logger *slog.Logger, mode RetentionMode, days int, legalHolds []string, period time.Duration, serviceName string) *RetentionWorker {
	if period <= 0 {
		period = 6 * time.Hour
	}
	if days <= 0 {
		days = 365
	}
	return &RetentionWorker{
		pool: pool, writer: writer, logger: logger,
		mode: mode, days: days, legalHolds: legalHolds, period: period, serviceName: serviceName,
	}
}

// Run executes the retention sweep every period until ctx is cancelled.
func (w *RetentionWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.sweep(ctx); err != nil {
				w.logger.Error("audit retention sweep failed", "error", err)
			}
		}
	}
}

func (w *RetentionWorker) sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -w.days)

	var affected int64
	var err error

	switch w.mode {
	case RetentionHardDelete:
		affected, err = w.hardDelete(ctx, cutoff)
	default:
		affected, err = w.redact(ctx, cutoff)
	}
	if err != nil {
		return err
	}

	if w.writer != nil && affected > 0 {
		detail, _ := json.Marshal(map[string]any{
			"cutoff":   cutoff.Format(time.RFC3339),
			"mode":     w.mode,
			"affected": affected,
			"holds":    w.legalHolds,
		})
		evt := NewEvent(w.serviceName, "Retention", "audit")
		evt.Outcome = string(w.mode)
		evt.Details = detail
		w.writer.TryEnqueue(evt)
	}

	w.logger.Info("audit retention sweep complete", "mode", w.mode, "cutoff", cutoff, "affected", affected)
	return nil
}

func (w *RetentionWorker) hardDelete(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := w.pool.Exec(ctx, `
		DELETE FROM audit_events WHERE when_utc < $1 AND NOT (tenant_id = ANY($2))
	`, cutoff, w.legalHolds)
	if err != nil {
		return 0, fmt.Errorf("hard-deleting audit events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (w *RetentionWorker) redact(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := w.pool.Exec(ctx, `
		UPDATE audit_events
		SET details = NULL, outcome = COALESCE(outcome, 'Redacted'), reason_code = 'Retention'
		WHERE when_utc < $1 AND NOT (tenant_id = ANY($2)) AND details IS NOT NULL
	`, cutoff, w.legalHolds)
	if err != nil {
		return 0, fmt.Errorf("redacting audit events: %w", err)
	}
	return tag.RowsAffected(), nil
}
