// Package app wires the platform's runtime modes (gateway, db, audit,
// worker, storage, telemetry, logagent) to infrastructure and starts the
// HTTP server for whichever mode the process is configured to run.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/tansucloud/internal/config"
	"github.com/wisbric/tansucloud/internal/httpserver"
	"github.com/wisbric/tansucloud/internal/platform"
	"github.com/wisbric/tansucloud/internal/telemetry"
	"github.com/wisbric/tansucloud/pkg/audit"
	"github.com/wisbric/tansucloud/pkg/cacheversion"
	"github.com/wisbric/tansucloud/pkg/gateway"
	"github.com/wisbric/tansucloud/pkg/logreporter"
	"github.com/wisbric/tansucloud/pkg/objectstore"
	"github.com/wisbric/tansucloud/pkg/outbox"
	"github.com/wisbric/tansucloud/pkg/provisioning"
	"github.com/wisbric/tansucloud/pkg/telemetryingest"
	"github.com/wisbric/tansucloud/pkg/tenantid"
)

// Version is the build version reported on /status and in trace resources.
var Version = "dev"

// Run reads config, connects to infrastructure, and starts the runtime
// mode named by cfg.Mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting tansucloud", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, cfg.ServiceName, Version)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis client", "error", err)
		}
	}()

	metricsReg := telemetry.NewMetricsRegistry()
	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg, Version)

	switch cfg.Mode {
	case "gateway":
		return runGateway(ctx, cfg, srv, rdb, logger, metricsReg)
	case "db":
		return runProvisioning(ctx, cfg, srv, db, logger)
	case "audit":
		return runAudit(ctx, cfg, srv, db, logger, metricsReg)
	case "worker":
		return runWorker(ctx, cfg, srv, db, rdb, logger)
	case "storage":
		return runStorage(ctx, cfg, srv, logger)
	case "telemetry":
		return runTelemetry(ctx, cfg, srv, db, logger, metricsReg)
	case "logagent":
		return runLogAgent(ctx, cfg, srv, logger)
	default:
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}

// serveHTTP starts srv on cfg's listen address and blocks until ctx is
// cancelled, then shuts down gracefully.
func serveHTTP(ctx context.Context, cfg *config.Config, srv http.Handler, logger *slog.Logger) error {
	httpSrv := &http.Server{Addr: cfg.ListenAddr(), Handler: srv}

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutting down http server", "error", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// runGateway assembles the edge handler (C1): policy-governed IP filter,
// CORS, dynamic output cache fed by the cache-version bus, rate-limit
// aggregation, and the reverse proxy to upstream services.
func runGateway(ctx context.Context, cfg *config.Config, srv *httpserver.Server, rdb *redis.Client, logger *slog.Logger, reg *prometheus.Registry) error {
	counter := cacheversion.NewCounter()
	subscriber := cacheversion.NewSubscriber(rdb, counter, cfg.CacheVersionChannel, logger)
	go subscriber.Run(ctx)

	upstreamTimeout, err := time.ParseDuration(cfg.UpstreamTimeout)
	if err != nil {
		upstreamTimeout = 30 * time.Second
	}
	routes, err := parseUpstreams(cfg.GatewayUpstreams, upstreamTimeout, cfg.RequestBodyMaxBytes)
	if err != nil {
		return err
	}

	mode := gatewayMode(cfg.GatewayPolicyMode)
	policyMetrics := gateway.NewMetrics(reg)

	ipFilter := &gateway.IPFilter{
		Deny:    ipRules(cfg.GatewayIPDenyCIDRs, mode),
		Allow:   ipRules(cfg.GatewayIPAllowCIDRs, mode),
		Metrics: policyMetrics,
	}

	corsPolicies := []*gateway.CORSPolicy{{
		ID:               "default",
		Mode:             mode,
		Origins:          cfg.CORSAllowedOrigins,
		Methods:          []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		Headers:          []string{"Accept", "Authorization", "Content-Type", "X-Tansu-Tenant"},
		ExposedHeaders:   cfg.CORSExposedHeaders,
		AllowCredentials: cfg.CORSAllowCredentials,
		MaxAgeSeconds:    cfg.CORSMaxAgeSeconds,
	}}

	var cachePolicies map[string]*gateway.CachePolicy
	if cfg.GatewayCacheTTL > 0 {
		cachePolicies = make(map[string]*gateway.CachePolicy, len(routes))
		for _, route := range routes {
			cachePolicies[route.RouteBase] = &gateway.CachePolicy{
				ID:         route.RouteBase,
				Mode:       mode,
				TTLSeconds: cfg.GatewayCacheTTL,
				VaryByHost: true,
			}
		}
	}

	window, err := time.ParseDuration(cfg.RateLimitWindow)
	if err != nil {
		window = 60 * time.Second
	}
	rateAgg := gateway.NewRateLimitAggregator(window, logger, func(string) bool { return false })
	go rateAgg.Run(ctx)

	var verifier *gateway.TokenVerifier
	if cfg.OIDCIssuerURL != "" {
		verifier, err = gateway.NewTokenVerifier(ctx, cfg.OIDCIssuerURL, !cfg.IsDevelopment())
		if err != nil {
			return fmt.Errorf("building token verifier: %w", err)
		}
	} else {
		logger.Warn("OIDC_ISSUER_URL not set, gateway token contract is unenforced")
	}
	protected := protectedResources(cfg.GatewayProtectedRoutes)

	handler, err := gateway.NewHandler(gateway.Config{
		Upstreams:          routes,
		IPFilter:           ipFilter,
		CORS:               corsPolicies,
		CachePolicies:      cachePolicies,
		RateLimit:          rateAgg,
		TokenVerifier:      verifier,
		ProtectedResources: protected,
	}, counter, logger)
	if err != nil {
		return fmt.Errorf("building gateway handler: %w", err)
	}

	srv.Router.Mount("/", handler)
	return serveHTTP(ctx, cfg, srv, logger)
}

// parseUpstreams parses "routeBase=targetURL" entries into UpstreamRoutes.
func parseUpstreams(raw []string, timeout time.Duration, maxBody int64) ([]gateway.UpstreamRoute, error) {
	routes := make([]gateway.UpstreamRoute, 0, len(raw))
	for _, entry := range raw {
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid gateway upstream entry %q, expected routeBase=url", entry)
		}
		if _, err := url.Parse(parts[1]); err != nil {
			return nil, fmt.Errorf("parsing upstream URL %q: %w", parts[1], err)
		}
		routes = append(routes, gateway.UpstreamRoute{
			RouteBase:    parts[0],
			TargetURL:    parts[1],
			MaxBodyBytes: maxBody,
			Timeout:      timeout,
		})
	}
	return routes, nil
}

// protectedResources parses "routeBase=resource" entries into a route-base
// to token-resource map for gateway.Config.ProtectedResources.
func protectedResources(raw []string) map[string]string {
	out := make(map[string]string, len(raw))
	for _, entry := range raw {
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		out[parts[0]] = parts[1]
	}
	return out
}

func gatewayMode(raw string) gateway.Mode {
	switch strings.ToLower(raw) {
	case "shadow":
		return gateway.ModeShadow
	case "audit_only", "auditonly":
		return gateway.ModeAuditOnly
	default:
		return gateway.ModeEnforce
	}
}

func ipRules(cidrs []string, mode gateway.Mode) []gateway.IPRule {
	rules := make([]gateway.IPRule, 0, len(cidrs))
	for i, c := range cidrs {
		if c == "" {
			continue
		}
		rules = append(rules, gateway.IPRule{ID: fmt.Sprintf("rule-%d", i), CIDR: c, Mode: mode})
	}
	return rules
}

// runProvisioning exposes tenant database provisioning (C2) over HTTP.
func runProvisioning(ctx context.Context, cfg *config.Config, srv *httpserver.Server, db *pgxpool.Pool, logger *slog.Logger) error {
	var poolAdmin *provisioning.PoolAdminClient
	if cfg.PgCatAdminURL != "" {
		poolAdmin = provisioning.NewPoolAdminClient(cfg.PgCatAdminURL, cfg.PgCatAdminUser, cfg.PgCatAdminPassword)
	}

	prov := &provisioning.Provisioner{
		AdminPool:     db,
		DatabaseURL:   cfg.DatabaseURL,
		MigrationsDir: cfg.MigrationsTenantDir,
		PoolSize:      cfg.DefaultPoolSize,
		PoolAdmin:     poolAdmin,
		Logger:        logger,
	}

	srv.Router.Route("/tenants", func(r chi.Router) {
		r.Post("/{tenantID}", handleProvision(prov))
		r.Delete("/{tenantID}", handleDeprovision(prov))
	})

	return serveHTTP(ctx, cfg, srv, logger)
}

func handleProvision(prov *provisioning.Provisioner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := tenantid.Normalize(chi.URLParam(r, "tenantID"))
		info, err := prov.Provision(r.Context(), tenantID)
		if err != nil {
			httpserver.RespondError(w, http.StatusInternalServerError, "provisioning_failed", err.Error())
			return
		}
		httpserver.Respond(w, http.StatusOK, info)
	}
}

func handleDeprovision(prov *provisioning.Provisioner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := tenantid.Normalize(chi.URLParam(r, "tenantID"))
		if err := prov.Deprovision(r.Context(), tenantID); err != nil {
			httpserver.RespondError(w, http.StatusInternalServerError, "deprovisioning_failed", err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// runAudit wires the async audit writer, query/export HTTP surface, and
// retention worker (C4).
func runAudit(ctx context.Context, cfg *config.Config, srv *httpserver.Server, db *pgxpool.Pool, logger *slog.Logger, reg *prometheus.Registry) error {
	if err := audit.Migrate(ctx, db, cfg.AuditAdvisoryLockID, cfg.DatabaseURL, cfg.MigrationsGlobalDir); err != nil {
		return fmt.Errorf("running audit migrations: %w", err)
	}

	metrics := audit.NewMetrics()
	reg.MustRegister(metrics.Collectors()...)

	writer := audit.NewWriter(db, logger, metrics, audit.WriterConfig{
		BufferCapacity:  cfg.AuditBufferCapacity,
		BatchSize:       cfg.AuditBatchSize,
		WaitOnFull:      cfg.AuditWaitOnFull,
		MaxDetailsBytes: cfg.AuditMaxDetailsBytes,
	})
	writer.Start(ctx)
	defer writer.Close()

	retentionMode := audit.RetentionRedact
	if strings.EqualFold(cfg.AuditRetentionMode, "hard_delete") {
		retentionMode = audit.RetentionHardDelete
	}
	period, err := time.ParseDuration(cfg.AuditRetentionPeriod)
	if err != nil {
		period = 6 * time.Hour
	}
	retention := audit.NewRetentionWorker(db, writer, logger, retentionMode, cfg.AuditRetentionDays, cfg.AuditLegalHolds, period, cfg.ServiceName)
	go retention.Run(ctx)

	caller := func(r *http.Request) (string, bool) {
		tenant := ""
		if tc := tenantid.FromContext(r.Context()); tc != nil {
			tenant = tc.ID
		}
		return tenant, r.Header.Get("X-Admin-Scope") == "admin.full"
	}
	queryFn := func(r *http.Request, start, end time.Time, pageSize int, f audit.Filter, token string) (audit.Page, error) {
		return audit.Query(r.Context(), db, start, end, pageSize, f, token)
	}
	exportFn := func(r *http.Request, start, end time.Time, f audit.Filter, limit int) ([]audit.Event, error) {
		return audit.QueryExport(r.Context(), db, start, end, f, limit)
	}

	handler := audit.NewHandler(queryFn, exportFn, writer, caller, logger)
	srv.Router.Mount("/audit", handler.Routes())

	srv.Router.Post("/events", func(w http.ResponseWriter, r *http.Request) {
		var evt audit.Event
		if !httpserver.DecodeAndValidate(w, r, &evt) {
			return
		}
		audit.EnrichFromRequest(&evt, r, cfg.ServiceName, cfg.Environment, cfg.AuditIPHashSalt)
		if !writer.TryEnqueue(evt) {
			httpserver.RespondError(w, http.StatusServiceUnavailable, "buffer_full", "audit buffer is full")
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	return serveHTTP(ctx, cfg, srv, logger)
}

// runWorker runs every background loop that has no direct HTTP surface:
// outbox dispatch (C3), multipart cleanup and quota scans (C7). It still
// serves the ambient health/metrics endpoints.
func runWorker(ctx context.Context, cfg *config.Config, srv *httpserver.Server, db *pgxpool.Pool, rdb *redis.Client, logger *slog.Logger) error {
	publisher := outbox.NewRedisPublisher(rdb, cfg.CacheVersionChannel)
	dispatcher := outbox.NewDispatcher(db, publisher, logger, cfg.AuditBatchSize, 2*time.Second)
	go dispatcher.Run(ctx)

	store := objectstore.NewStore(cfg.StorageRoot)
	quota := objectstore.NewQuotaTracker(store, logger)
	multipartTimeout, err := time.ParseDuration(cfg.StorageMultipartTimeout)
	if err != nil {
		multipartTimeout = time.Hour
	}
	sweepInterval, err := time.ParseDuration(cfg.StorageMultipartSweep)
	if err != nil {
		sweepInterval = 10 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, tenant := range knownTenants(ctx, db, logger) {
					for _, bucket := range tenantBuckets(store, tenant, logger) {
						if n, err := store.CleanupStaleMultipartUploads(tenant, bucket, multipartTimeout); err != nil {
							logger.Error("sweeping stale multipart uploads", "tenant", tenant, "bucket", bucket, "error", err)
						} else if n > 0 {
							logger.Info("swept stale multipart uploads", "tenant", tenant, "bucket", bucket, "count", n)
						}
					}
				}
			}
		}
	}()

	go quota.Run(ctx, 5*time.Minute, func() []string { return knownTenants(ctx, db, logger) })

	logger.Info("worker running", "outbox_batch_size", cfg.AuditBatchSize)
	return serveHTTP(ctx, cfg, srv, logger)
}

// knownTenants lists tenant ids with a provisioned database, used to scope
// background sweeps that must run per-tenant.
func knownTenants(ctx context.Context, db *pgxpool.Pool, logger *slog.Logger) []string {
	rows, err := db.Query(ctx, "SELECT datname FROM pg_database WHERE datname LIKE 'tansu_tenant_%'")
	if err != nil {
		logger.Error("listing tenant databases", "error", err)
		return nil
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var dbName string
		if err := rows.Scan(&dbName); err != nil {
			continue
		}
		tenants = append(tenants, strings.TrimPrefix(dbName, "tansu_tenant_"))
	}
	return tenants
}

func tenantBuckets(store *objectstore.Store, tenant string, logger *slog.Logger) []string {
	buckets, err := store.ListBuckets(tenant)
	if err != nil {
		logger.Error("listing buckets", "tenant", tenant, "error", err)
		return nil
	}
	return buckets
}

// runStorage exposes the object storage core (C7) over HTTP: bucket and
// object CRUD, multipart upload, presigned URLs, and on-the-fly compression.
func runStorage(ctx context.Context, cfg *config.Config, srv *httpserver.Server, logger *slog.Logger) error {
	store := objectstore.NewStore(cfg.StorageRoot)
	presigner := objectstore.NewPresigner(cfg.StoragePresignSecret)
	quota := objectstore.NewQuotaTracker(store, logger)
	ttl, err := time.ParseDuration(cfg.StorageTransformCacheTTL + "s")
	if err != nil {
		ttl = 5 * time.Minute
	}
	transforms := objectstore.NewTransformCache(cfg.StorageTransformCacheMax, ttl)

	handler := objectstore.NewHandler(store, presigner, quota, transforms, cfg.StorageBrotliLevel, logger)
	srv.Router.Mount("/storage", handler)

	return serveHTTP(ctx, cfg, srv, logger)
}

// runTelemetry wires bounded-queue ingestion, the persistence worker, and
// the admin query surface (C5).
func runTelemetry(ctx context.Context, cfg *config.Config, srv *httpserver.Server, db *pgxpool.Pool, logger *slog.Logger, reg *prometheus.Registry) error {
	metrics := telemetryingest.NewMetrics(reg)
	queue := telemetryingest.NewQueue(cfg.TelemetryQueueCapacity, telemetryingest.PolicyReject, metrics)
	worker := telemetryingest.NewWorker(db, queue, logger, 100)
	go worker.Run(ctx)

	authn := telemetryingest.NewAuthenticator(cfg.TelemetryAdminAPIKey)

	srv.Router.Post("/ingest", func(w http.ResponseWriter, r *http.Request) {
		var env telemetryingest.Envelope
		if !httpserver.DecodeAndValidate(w, r, &env) {
			return
		}
		if !queue.Enqueue(telemetryingest.NewEnvelope(env)) {
			httpserver.RespondError(w, http.StatusTooManyRequests, "queue_full", "telemetry queue is full")
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	srv.Router.Post("/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Key string `json:"key"`
		}
		if !httpserver.DecodeAndValidate(w, r, &body) {
			return
		}
		if !authn.Login(w, r, body.Key) {
			httpserver.RespondError(w, http.StatusUnauthorized, "invalid_key", "invalid API key")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	srv.Router.Group(func(r chi.Router) {
		r.Use(authn.Middleware("/login"))
		r.Get("/admin/events", func(w http.ResponseWriter, r *http.Request) {
			f := telemetryingest.ListFilter{
				Service:     r.URL.Query().Get("service"),
				Environment: r.URL.Query().Get("environment"),
				Search:      r.URL.Query().Get("search"),
			}
			result, err := telemetryingest.List(r.Context(), db, f, 1, cfg.TelemetryMaxPageSize)
			if err != nil {
				httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list telemetry events")
				return
			}
			httpserver.Respond(w, http.StatusOK, result)
		})
		r.Post("/admin/events/{id}/ack", func(w http.ResponseWriter, r *http.Request) {
			ok, err := telemetryingest.Acknowledge(r.Context(), db, chi.URLParam(r, "id"))
			if err != nil {
				httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to acknowledge event")
				return
			}
			if !ok {
				httpserver.RespondError(w, http.StatusNotFound, "not_found", "event not found")
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	})

	return serveHTTP(ctx, cfg, srv, logger)
}

// runLogAgent runs the periodic log-reporter dispatcher (C6). Records are
// fed in by the rest of the fleet through /records; this mode only needs
// to run the dispatch loop and accept submissions.
func runLogAgent(ctx context.Context, cfg *config.Config, srv *httpserver.Server, logger *slog.Logger) error {
	buffer := logreporter.NewBuffer(cfg.LogReportBufferCapacity)

	dispatcher := logreporter.NewDispatcher(buffer, logreporter.Config{
		ReportIntervalMinutes:    cfg.LogReportIntervalMinutes,
		MainServerURL:            cfg.LogReportMainServerURL,
		Bearer:                   cfg.LogReportBearerToken,
		MaxItems:                 cfg.LogReportMaxItems,
		WarningSamplingPercent:   cfg.LogReportWarningSamplingPercent,
		WarningAllowlistPrefixes: cfg.LogReportWarningAllowlist,
		PseudonymizeTenants:      cfg.LogReportPseudonymize,
		PseudonymizationSecret:   cfg.LogReportPseudonymSecret,
	}, logger, func() bool { return cfg.LogReportMainServerURL != "" })
	go dispatcher.Run(ctx)

	srv.Router.Post("/records", func(w http.ResponseWriter, r *http.Request) {
		var rec logreporter.Record
		if !httpserver.DecodeAndValidate(w, r, &rec) {
			return
		}
		buffer.Add(rec)
		w.WriteHeader(http.StatusAccepted)
	})

	return serveHTTP(ctx, cfg, srv, logger)
}
