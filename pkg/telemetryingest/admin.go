package telemetryingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ListFilter narrows the admin UI's paged envelope listing.
type ListFilter struct {
	Service            string
	Host               string
	Environment        string
	SeverityThreshold  *Severity
	FromUTC            *time.Time
	ToUTC              *time.Time
	Search             string
	IncludeAcknowledged bool
	IncludeDeleted     bool
	Acknowledged       *bool
	Deleted            *bool
}

const MaxPageSize = 200

// ListResult is a single page of the admin listing.
type ListResult struct {
	Items      []Envelope
	Page       int
	PageSize   int
	TotalCount int
}

// List runs a paged, filtered listing of envelopes. If page exceeds the
// available pages, the caller should redirect to page 1 with the same
// filters (this function itself just reports TotalCount so the caller
// can make that decision).
func List(ctx context.Context, pool *pgxpool.Pool, f ListFilter, page, pageSize int) (ListResult, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		pageSize = 50
	}

	clauses := []string{"1=1"}
	args := []any{}

	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.Service != "" {
		add("service = $%d", f.Service)
	}
	if f.Host != "" {
		add("host = $%d", f.Host)
	}
	if f.Environment != "" {
		add("environment = $%d", f.Environment)
	}
	if f.SeverityThreshold != nil {
		add("severity_threshold >= $%d", int(*f.SeverityThreshold))
	}
	if f.FromUTC != nil {
		add("received_at >= $%d", *f.FromUTC)
	}
	if f.ToUTC != nil {
		add("received_at <= $%d", *f.ToUTC)
	}
	if f.Search != "" {
		add("items::text ILIKE $%d", "%"+f.Search+"%")
	}
	if !f.IncludeAcknowledged {
		clauses = append(clauses, "acknowledged_at IS NULL")
	}
	if !f.IncludeDeleted {
		clauses = append(clauses, "deleted_at IS NULL")
	}
	if f.Acknowledged != nil {
		if *f.Acknowledged {
			clauses = append(clauses, "acknowledged_at IS NOT NULL")
		} else {
			clauses = append(clauses, "acknowledged_at IS NULL")
		}
	}
	if f.Deleted != nil {
		if *f.Deleted {
			clauses = append(clauses, "deleted_at IS NOT NULL")
		} else {
			clauses = append(clauses, "deleted_at IS NULL")
		}
	}

	where := strings.Join(clauses, " AND ")

	var total int
	countQuery := fmt.Sprintf("SELECT count(*) FROM telemetry_envelopes WHERE %s", where)
	if err := pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return ListResult{}, fmt.Errorf("counting telemetry envelopes: %w", err)
	}

	offset := (page - 1) * pageSize
	args = append(args, pageSize, offset)
	query := fmt.Sprintf(`
		SELECT id, service, host, environment, severity_threshold, window_minutes,
		       received_at, items, acknowledged_at, deleted_at
		FROM telemetry_envelopes
		WHERE %s
		ORDER BY received_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return ListResult{}, fmt.Errorf("listing telemetry envelopes: %w", err)
	}
	defer rows.Close()

	var items []Envelope
	for rows.Next() {
		var e Envelope
		var severity int
		var itemsJSON []byte
		if err := rows.Scan(&e.ID, &e.Service, &e.Host, &e.Environment, &severity, &e.WindowMinutes,
			&e.ReceivedAt, &itemsJSON, &e.AcknowledgedAt, &e.DeletedAt); err != nil {
			return ListResult{}, fmt.Errorf("scanning telemetry envelope: %w", err)
		}
		e.SeverityThreshold = Severity(severity)
		if err := json.Unmarshal(itemsJSON, &e.Items); err != nil {
			return ListResult{}, fmt.Errorf("decoding telemetry items: %w", err)
		}
		items = append(items, e)
	}

	return ListResult{Items: items, Page: page, PageSize: pageSize, TotalCount: total}, rows.Err()
}
