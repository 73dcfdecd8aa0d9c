// Package outbox implements the transactional outbox pattern: domain
// mutations insert an OutboxEvent row in the same transaction as the
// mutation, and a separate dispatcher delivers it to the event bus with
// retries, guaranteeing at-least-once delivery without a distributed
// transaction.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Status is the lifecycle state of an OutboxEvent.
type Status string

const (
	StatusPending    Status = "pending"
	StatusDispatched Status = "dispatched"
	StatusFailed     Status = "failed"
	StatusDead       Status = "dead"
)

// Event is a pending domain event awaiting delivery.
type Event struct {
	ID             uuid.UUID
	OccurredAt     time.Time
	Type           string
	Payload        json.RawMessage
	Status         Status
	Attempts       int
	NextAttemptAt  *time.Time
	IdempotencyKey *string
}

// Enqueue inserts a new pending OutboxEvent using tx, so the insert commits
// atomically with the caller's domain mutation. idempotencyKey may be empty;
// when non-empty a partial unique index on the table enforces at-most-once
// insertion across producers (conflicting inserts are treated as already
// enqueued and silently ignored).
func Enqueue(ctx context.Context, tx pgx.Tx, eventType string, payload any, idempotencyKey string) (uuid.UUID, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshaling outbox payload: %w", err)
	}

	id := uuid.New()

	var key pgtype.Text
	if idempotencyKey != "" {
		key = pgtype.Text{String: idempotencyKey, Valid: true}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (id, occurred_at, type, payload, status, attempts, idempotency_key)
		VALUES ($1, now(), $2, $3, 'pending', 0, $4)
		ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
	`, id, eventType, raw, key)
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueueing outbox event: %w", err)
	}

	return id, nil
}
