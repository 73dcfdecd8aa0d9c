package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/tansucloud/internal/httpserver"
)

// CallerFunc resolves the authenticated caller's tenant id (if any) and
// whether they hold admin.full scope, from the request context populated by
// the gateway's token-contract middleware. Kept as an injected function to
// avoid an import cycle with the gateway package.
type CallerFunc func(r *http.Request) (tenantID string, isAdmin bool)

// Handler serves the audit query/export HTTP surface.
type Handler struct {
	query  queryFunc
	export exportFunc
	writer *Writer
	caller CallerFunc
	logger *slog.Logger
}

type queryFunc func(r *http.Request, start, end time.Time, pageSize int, f Filter, token string) (Page, error)
type exportFunc func(r *http.Request, start, end time.Time, f Filter, limit int) ([]Event, error)

// NewHandler creates a Handler. queryFn and exportFn close over the pool so
// this package's HTTP layer stays decoupled from the pgxpool type.
func NewHandler(queryFn queryFunc, exportFn exportFunc, writer *Writer, caller CallerFunc, logger *slog.Logger) *Handler {
	return &Handler{query: queryFn, export: exportFn, writer: writer, caller: caller, logger: logger}
}

// Routes mounts the audit query/export endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Get("/export/csv", h.handleExport("csv"))
	r.Get("/export/json", h.handleExport("json"))
	return r
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	start, end, f, ok := h.parseCommon(w, r)
	if !ok {
		return
	}

	pageSize := 50
	if v := r.URL.Query().Get("pageSize"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			pageSize = n
		}
	}

	page, err := h.query(r, start, end, pageSize, f, r.URL.Query().Get("pageToken"))
	if err != nil {
		h.logger.Error("querying audit events", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to query audit events")
		return
	}

	resp := struct {
		Items         []Event `json:"items"`
		NextPageToken string  `json:"nextPageToken,omitempty"`
	}{Items: page.Items, NextPageToken: page.NextPageToken}

	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleExport(format string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, isAdmin := h.caller(r)
		if !isAdmin {
			httpserver.RespondError(w, http.StatusForbidden, "forbidden", "export requires admin scope")
			return
		}

		start, end, f, ok := h.parseCommon(w, r)
		if !ok {
			return
		}

		limit := MaxExportLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				limit = n
			}
		}

		events, err := h.export(r, start, end, f, limit)
		if err != nil {
			h.logger.Error("exporting audit events", "error", err, "format", format)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to export audit events")
			return
		}

		w.Header().Set("X-Export-Limit", strconv.Itoa(limit))
		w.Header().Set("X-Export-Count", strconv.Itoa(len(events)))

		switch format {
		case "csv":
			w.Header().Set("Content-Type", "text/csv")
			if err := WriteCSV(w, events); err != nil {
				h.logger.Error("writing CSV export", "error", err)
				return
			}
		default:
			w.Header().Set("Content-Type", "application/json")
			if err := WriteJSON(w, events); err != nil {
				h.logger.Error("writing JSON export", "error", err)
				return
			}
		}

		if h.writer != nil {
			evt := NewEvent("audit", "Export", "audit")
			evt.Outcome = format
			h.writer.TryEnqueue(evt)
		}
	}
}

// parseCommon parses the required startUtc/endUtc window and optional
// filters shared by list and export. RBAC: non-admin callers must supply a
// tenant filter (header or query).
func (h *Handler) parseCommon(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, Filter, bool) {
	q := r.URL.Query()

	start, err := time.Parse(time.RFC3339, q.Get("startUtc"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "startUtc is required and must be RFC3339")
		return time.Time{}, time.Time{}, Filter{}, false
	}
	end, err := time.Parse(time.RFC3339, q.Get("endUtc"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "endUtc is required and must be RFC3339")
		return time.Time{}, time.Time{}, Filter{}, false
	}
	if !end.After(start) {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "endUtc must be after startUtc")
		return time.Time{}, time.Time{}, Filter{}, false
	}

	tenantID, isAdmin := h.caller(r)
	f := Filter{
		TenantID:          q.Get("tenantId"),
		Subject:           q.Get("subject"),
		Category:          q.Get("category"),
		Action:            q.Get("action"),
		Service:           q.Get("service"),
		Outcome:           q.Get("outcome"),
		CorrelationID:     q.Get("correlationId"),
		ImpersonationOnly: q.Get("impersonationOnly") == "true",
	}
	if f.TenantID == "" {
		f.TenantID = tenantID
	}
	if !isAdmin && f.TenantID == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "tenant is required for non-admin callers")
		return time.Time{}, time.Time{}, Filter{}, false
	}

	return start, end, f, true
}
