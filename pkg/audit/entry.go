// Package audit implements the platform's audit pipeline: HTTP-context
// enrichment, a bounded in-memory channel, a batched write-behind writer,
// keyset-paginated query with CSV/JSON export, and a retention worker.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/tansucloud/pkg/etagutil"
)

// Event is an immutable audit record.
type Event struct {
	ID             uuid.UUID
	WhenUTC        time.Time
	Service        string
	Environment    string
	Version        string
	TenantID       string
	Subject        string
	Action         string
	Category       string
	RouteTemplate  string
	CorrelationID  string
	TraceID        string
	SpanID         string
	ClientIPHash   string
	UserAgent      string
	Outcome        string
	ReasonCode     string
	Details        json.RawMessage
	ImpersonatedBy string
	SourceHost     string
	UniqueKey      string
	IdempotencyKey string
}

// DefaultMaxDetailsBytes is used when config leaves AuditMaxDetailsBytes at 0.
const DefaultMaxDetailsBytes = 8192

// NewEvent builds an Event from the required fields, applying defaults:
// Subject defaults to "system", IdempotencyKey and Details are
// derived/truncated by Finalize, not here.
func NewEvent(service, action, category string) Event {
	return Event{
		ID:      uuid.New(),
		WhenUTC: time.Now().UTC(),
		Service: service,
		Subject: "system",
		Action:  action,
		Category: category,
	}
}

// Finalize truncates oversized Details and computes IdempotencyKey if
// absent. maxDetailsBytes <= 0 uses DefaultMaxDetailsBytes.
func (e *Event) Finalize(maxDetailsBytes int) error {
	if maxDetailsBytes <= 0 {
		maxDetailsBytes = DefaultMaxDetailsBytes
	}

	if len(e.Details) > maxDetailsBytes {
		truncated, err := json.Marshal(map[string]any{
			"truncated": true,
			"len":       len(e.Details),
			"preview":   string(e.Details[:min(128, len(e.Details))]),
		})
		if err != nil {
			return fmt.Errorf("marshaling truncated details marker: %w", err)
		}
		e.Details = truncated
	}

	if e.IdempotencyKey == "" {
		e.IdempotencyKey = e.naturalKey()
	}

	return nil
}

// naturalKey computes the idempotency key as a SHA-256 hex digest of
// service|floor(when,1s)|subject|action|correlation_id|unique_key.
func (e *Event) naturalKey() string {
	bucket := e.WhenUTC.Truncate(time.Second).Format(time.RFC3339)
	return etagutil.IdempotencyKey(e.Service, bucket, e.Subject, e.Action, e.CorrelationID, e.UniqueKey)
}
