// Package telemetryingest receives telemetry envelopes over HTTP, buffers
// them in a bounded queue, persists them via a background worker, and
// serves the admin UI's paged listing and acknowledge/soft-delete actions,
// gated by static-key authentication.
package telemetryingest

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Severity orders telemetry items from least to most severe.
type Severity int

const (
	SeverityTrace Severity = iota
	SeverityDebug
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

// Item is a single reported telemetry line within an envelope.
type Item struct {
	Severity  Severity        `json:"severity"`
	EventID   int             `json:"eventId,omitempty"`
	Category  string          `json:"category"`
	Message   string          `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
	Fields    json.RawMessage `json:"fields,omitempty"`
}

// Envelope is a single telemetry submission from a log reporter agent.
type Envelope struct {
	ID                uuid.UUID `json:"id"`
	Service           string    `json:"service"`
	Host              string    `json:"host"`
	Environment       string    `json:"environment"`
	SeverityThreshold Severity  `json:"severityThreshold"`
	WindowMinutes     int       `json:"windowMinutes"`
	ReceivedAt        time.Time `json:"receivedAt"`
	Items             []Item    `json:"items"`
	AcknowledgedAt    *time.Time `json:"acknowledgedAt,omitempty"`
	DeletedAt         *time.Time `json:"deletedAt,omitempty"`
}

// NewEnvelope stamps a freshly decoded envelope with a server-assigned id
// and receipt time.
func NewEnvelope(e Envelope) Envelope {
	e.ID = uuid.New()
	e.ReceivedAt = time.Now().UTC()
	return e
}
