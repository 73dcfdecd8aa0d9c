package audit

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Filter narrows a Query to a subset of events. Zero-valued fields are
// unconstrained.
type Filter struct {
	TenantID          string
	Subject           string
	Category          string
	Action            string
	Service           string
	Outcome           string
	CorrelationID     string
	ImpersonationOnly bool
}

// Page is the result of a keyset-paginated query.
type Page struct {
	Items         []Event
	NextPageToken string
}

const (
	MinPageSize = 1
	MaxPageSize = 200
)

// ClampPageSize clamps a requested page size to [1,200].
func ClampPageSize(n int) int {
	if n < MinPageSize {
		return MinPageSize
	}
	if n > MaxPageSize {
		return MaxPageSize
	}
	return n
}

// pageToken is the decoded form of an opaque page_token: "whenTicks:uuid".
type pageToken struct {
	whenTicks int64
	id        uuid.UUID
}

func encodePageToken(t pageToken) string {
	raw := fmt.Sprintf("%d:%s", t.whenTicks, t.id.String())
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// decodePageToken parses a page token. An invalid token yields an error,
// on which the caller short-circuits to an empty Page.
func decodePageToken(s string) (pageToken, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return pageToken{}, fmt.Errorf("decoding page token: %w", err)
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return pageToken{}, fmt.Errorf("invalid page token format")
	}
	ticks, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return pageToken{}, fmt.Errorf("invalid page token ticks: %w", err)
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return pageToken{}, fmt.Errorf("invalid page token id: %w", err)
	}
	return pageToken{whenTicks: ticks, id: id}, nil
}

// Query runs a keyset-paginated lookup over [startUTC, endUTC] ordered by
// (when_utc DESC, id DESC). An invalid pageToken yields an empty Page
// rather than an error.
func Query(ctx context.Context, pool *pgxpool.Pool, startUTC, endUTC time.Time, pageSize int, f Filter, pageToken_ string) (Page, error) {
	pageSize = ClampPageSize(pageSize)

	var after *pageToken
	if pageToken_ != "" {
		tok, err := decodePageToken(pageToken_)
		if err != nil {
			return Page{}, nil
		}
		after = &tok
	}

	clauses := []string{"when_utc BETWEEN $1 AND $2"}
	args := []any{startUTC, endUTC}

	addFilter := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	addFilter("tenant_id", f.TenantID)
	addFilter("subject", f.Subject)
	addFilter("category", f.Category)
	addFilter("action", f.Action)
	addFilter("service", f.Service)
	addFilter("outcome", f.Outcome)
	addFilter("correlation_id", f.CorrelationID)
	if f.ImpersonationOnly {
		clauses = append(clauses, "impersonated_by IS NOT NULL")
	}

	if after != nil {
		args = append(args, after.whenTicks, after.id)
		clauses = append(clauses, fmt.Sprintf(
			"((extract(epoch from when_utc) * 1000000000)::bigint < $%d OR ((extract(epoch from when_utc) * 1000000000)::bigint = $%d AND id < $%d))",
			len(args)-1, len(args)-1, len(args)))
	}

	args = append(args, pageSize+1)
	query := fmt.Sprintf(`
		SELECT id, when_utc, service, environment, version, tenant_id, subject, action,
		       category, route_template, correlation_id, trace_id, span_id,
		       coalesce(client_ip_hash, ''), coalesce(user_agent, ''), coalesce(outcome, ''),
		       coalesce(reason_code, ''), details, coalesce(impersonated_by, ''),
		       coalesce(source_host, ''), coalesce(unique_key, ''), idempotency_key
		FROM audit_events
		WHERE %s
		ORDER BY when_utc DESC, id DESC
		LIMIT $%d
	`, strings.Join(clauses, " AND "), len(args))

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return Page{}, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	var items []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID, &e.WhenUTC, &e.Service, &e.Environment, &e.Version, &e.TenantID, &e.Subject, &e.Action,
			&e.Category, &e.RouteTemplate, &e.CorrelationID, &e.TraceID, &e.SpanID,
			&e.ClientIPHash, &e.UserAgent, &e.Outcome,
			&e.ReasonCode, &e.Details, &e.ImpersonatedBy,
			&e.SourceHost, &e.UniqueKey, &e.IdempotencyKey,
		); err != nil {
			return Page{}, fmt.Errorf("scanning audit event: %w", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return Page{}, err
	}

	page := Page{Items: items}
	if len(items) > pageSize {
		last := items[pageSize]
		page.Items = items[:pageSize]
		page.NextPageToken = encodePageToken(pageToken{whenTicks: last.WhenUTC.UnixNano(), id: last.ID})
	}

	return page, nil
}
