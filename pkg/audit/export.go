package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MaxExportLimit caps admin-only CSV/JSON exports.
const MaxExportLimit = 10000

// csvColumns is the fixed column order for exported rows.
var csvColumns = []string{
	"WhenUtc", "TenantId", "Subject", "Category", "Action", "Service", "Outcome",
	"ReasonCode", "CorrelationId", "TraceId", "SpanId", "RouteTemplate",
	"Environment", "Version", "ClientIpHash", "UserAgent", "ImpersonatedBy",
	"SourceHost", "Details",
}

// QueryExport collects events matching the filter (clamped to limit) ahead
// of any response write, so callers can report the row count in a header
// before streaming the body.
func QueryExport(ctx context.Context, pool *pgxpool.Pool, startUTC, endUTC time.Time, f Filter, limit int) ([]Event, error) {
	if limit <= 0 || limit > MaxExportLimit {
		limit = MaxExportLimit
	}
	return queryAll(ctx, pool, startUTC, endUTC, f, limit)
}

// WriteCSV writes events as RFC 4180 CSV to w.
func WriteCSV(w io.Writer, events []Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvColumns); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}

	for _, e := range events {
		row := []string{
			e.WhenUTC.Format(time.RFC3339Nano), e.TenantID, e.Subject, e.Category, e.Action, e.Service, e.Outcome,
			e.ReasonCode, e.CorrelationID, e.TraceID, e.SpanID, e.RouteTemplate,
			e.Environment, e.Version, e.ClientIPHash, e.UserAgent, e.ImpersonatedBy,
			e.SourceHost, string(e.Details),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing CSV row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteJSON writes events as a JSON array to w.
func WriteJSON(w io.Writer, events []Event) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(events); err != nil {
		return fmt.Errorf("encoding JSON export: %w", err)
	}
	return nil
}

// queryAll walks the keyset cursor until limit rows are collected or the
// result set is exhausted.
func queryAll(ctx context.Context, pool *pgxpool.Pool, startUTC, endUTC time.Time, f Filter, limit int) ([]Event, error) {
	var out []Event
	token := ""

	for len(out) < limit {
		remaining := limit - len(out)
		pageSize := remaining
		if pageSize > MaxPageSize {
			pageSize = MaxPageSize
		}

		page, err := Query(ctx, pool, startUTC, endUTC, pageSize, f, token)
		if err != nil {
			return nil, err
		}

		out = append(out, page.Items...)
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
