package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Publisher delivers a single event's payload to the event bus (e.g. a
// Redis pub/sub channel). Implementations should be idempotent from the
// consumer's point of view since dispatch is at-least-once.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload json.RawMessage) error
}

// RedisPublisher publishes outbox events to a fixed Redis pub/sub channel.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

// NewRedisPublisher creates a RedisPublisher bound to channel.
func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel}
}

// Publish implements Publisher by publishing the raw payload verbatim; the
// event type is carried inside the payload by producers that need it.
func (p *RedisPublisher) Publish(ctx context.Context, _ string, payload json.RawMessage) error {
	return p.rdb.Publish(ctx, p.channel, string(payload)).Err()
}

// Dispatcher polls for pending OutboxEvent rows and delivers them in order.
type Dispatcher struct {
	pool      *pgxpool.Pool
	publisher Publisher
	logger    *slog.Logger
	batchSize int
	interval  time.Duration
}

// NewDispatcher creates a Dispatcher. batchSize bounds how many rows are
// claimed per poll; interval is the idle poll period when the table is empty.
func NewDispatcher(pool *pgxpool.Pool, publisher Publisher, logger *slog.Logger, batchSize int, interval time.Duration) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Dispatcher{pool: pool, publisher: publisher, logger: logger, batchSize: batchSize, interval: interval}
}

// Run polls and dispatches pending events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.dispatchBatch(ctx)
			if err != nil {
				d.logger.Error("outbox dispatch batch failed", "error", err)
				continue
			}
			if n > 0 {
				d.logger.Debug("outbox dispatch batch complete", "dispatched", n)
			}
		}
	}
}

// dispatchBatch claims pending rows ordered by next_attempt_at NULLS FIRST,
// occurred_at, publishes each, and updates status. Returns the number of
// rows processed (dispatched or failed).
func (d *Dispatcher) dispatchBatch(ctx context.Context) (int, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, type, payload, attempts
		FROM outbox_events
		WHERE status IN ('pending', 'failed')
		  AND (next_attempt_at IS NULL OR next_attempt_at <= now())
		ORDER BY next_attempt_at NULLS FIRST, occurred_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, d.batchSize)
	if err != nil {
		return 0, err
	}

	type claimed struct {
		id       uuid.UUID
		typ      string
		payload  json.RawMessage
		attempts int
	}
	var batch []claimed
	for rows.Next() {
		var c claimed
		if err := rows.Scan(&c.id, &c.typ, &c.payload, &c.attempts); err != nil {
			rows.Close()
			return 0, err
		}
		batch = append(batch, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, c := range batch {
		if err := d.publisher.Publish(ctx, c.typ, c.payload); err != nil {
			d.fail(ctx, c.id, c.attempts)
			continue
		}
		d.markDispatched(ctx, c.id)
	}

	return len(batch), nil
}

func (d *Dispatcher) markDispatched(ctx context.Context, id uuid.UUID) {
	if _, err := d.pool.Exec(ctx, `UPDATE outbox_events SET status = 'dispatched' WHERE id = $1`, id); err != nil {
		d.logger.Error("marking outbox event dispatched", "error", err, "id", id)
	}
}

// fail increments attempts and schedules the next retry with exponential
// backoff, moving the event to 'dead' after the backoff policy gives up.
func (d *Dispatcher) fail(ctx context.Context, id uuid.UUID, attempts int) {
	bo := backoff.NewExponentialBackOff()
	wait := bo.NextBackOff()
	elapsed := wait
	for i := 0; i < attempts && wait != backoff.Stop; i++ {
		wait = bo.NextBackOff()
		elapsed += wait
	}

	status := string(StatusFailed)
	if wait == backoff.Stop || elapsed > bo.MaxElapsedTime {
		status = string(StatusDead)
	}

	if _, err := d.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = $2, attempts = attempts + 1, next_attempt_at = now() + $3::interval
		WHERE id = $1
	`, id, status, wait.String()); err != nil {
		d.logger.Error("marking outbox event failed", "error", err, "id", id)
	}
}
