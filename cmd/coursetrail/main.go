package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/coursetrail/pkg/alerts"
	"github.com/platinummonkey/coursetrail/pkg/audit"
	"github.com/platinummonkey/coursetrail/pkg/config"
	"github.com/platinummonkey/coursetrail/pkg/httputil"
	"github.com/platinummonkey/coursetrail/pkg/identity"
	"github.com/platinummonkey/coursetrail/pkg/observability"
	"github.com/platinummonkey/coursetrail/pkg/ratelimit"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("coursetrail exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	backend, err := openBackend(ctx, cfg, metrics, logger)
	if err != nil {
		return err
	}
	started := false
	defer func() {
		if !started {
			backend.close()
		}
	}()

	opts := []audit.Option{audit.WithLogger(logger), audit.WithMetrics(metrics)}
	var directory identity.Directory
	if cfg.Identity.DirectoryFile != "" {
		dir, err := identity.LoadDirectory(cfg.Identity.DirectoryFile)
		if err != nil {
			return fmt.Errorf("failed to load identity directory: %w", err)
		}
		if cfg.Identity.WatchDirectory {
			if err := dir.Watch(ctx, logger); err != nil {
				return fmt.Errorf("failed to watch identity directory: %w", err)
			}
		}
		directory = dir
		opts = append(opts, audit.WithRosterProvider(dir))
		logger.WithField("path", cfg.Identity.DirectoryFile).Info("Identity directory loaded")
	} else if !cfg.Identity.TrustHeaders && cfg.Identity.OIDCIssuerURL == "" {
		logger.Warn("No identity directory and untrusted headers: every request will be rejected")
	}

	identityMiddleware := identity.NewMiddleware(directory, cfg.Identity.TrustHeaders)
	if cfg.Identity.OIDCIssuerURL != "" {
		verifier, err := identity.NewTokenVerifier(ctx, identity.OIDCConfig{
			IssuerURL:   cfg.Identity.OIDCIssuerURL,
			ClientID:    cfg.Identity.OIDCClientID,
			UserIDClaim: cfg.Identity.OIDCUserIDClaim,
			RolesClaim:  cfg.Identity.OIDCRolesClaim,
		})
		if err != nil {
			return fmt.Errorf("failed to configure bearer tokens: %w", err)
		}
		identityMiddleware.WithTokenVerifier(verifier)
		logger.WithField("issuer", cfg.Identity.OIDCIssuerURL).Info("Bearer ID tokens enabled")
	}

	var notifier *alerts.WebhookNotifier
	if cfg.Alerts.Enabled() {
		endpoints := make([]alerts.Endpoint, 0, len(cfg.Alerts.WebhookURLs))
		for _, u := range cfg.Alerts.WebhookURLs {
			endpoints = append(endpoints, alerts.Endpoint{URL: u, Secret: cfg.Alerts.WebhookSecret})
		}
		notifier, err = alerts.NewWebhookNotifier(ctx, alerts.Config{
			Endpoints: endpoints,
			MinRisk:   audit.RiskLevel(cfg.Alerts.MinRiskLevel),
			Workers:   cfg.Alerts.Workers,
			QueueSize: cfg.Alerts.QueueSize,
			Timeout:   cfg.Alerts.Timeout,
			Retry:     alerts.RetryConfig{MaxAttempts: cfg.Alerts.MaxAttempts},
		}, logger, metrics)
		if err != nil {
			return fmt.Errorf("failed to configure alerts: %w", err)
		}
		opts = append(opts, audit.WithNotifier(notifier))
		logger.WithField("endpoints", len(endpoints)).Info("High-risk alerts enabled")
	}

	service := audit.NewService(backend.repository, opts...)

	router := mux.NewRouter()
	router.Use(observability.HTTPMetricsMiddleware(metrics))
	router.Use(identityMiddleware.Handler)
	if cfg.RateLimit.Enabled {
		router.Use(ratelimit.Middleware(newLimiter(ctx, cfg, backend), metrics, logger))
	}
	audit.NewHandlers(service, metrics).RegisterRoutes(router)

	handler := httputil.Chain(
		httputil.RecoveryMiddleware(logger),
		httputil.LoggingMiddleware(logger),
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
	)(router)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(handler, "coursetrail"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(version, backend.db, backend.redis))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, server, healthServer)
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers)
	})
	if notifier != nil {
		shutdown.Register("alerts", func(ctx context.Context) error {
			return notifier.Close(cfg.Server.ShutdownTimeout)
		})
	}
	backend.registerShutdown(shutdown)
	started = true

	serveErr := make(chan error, 2)
	for _, srv := range []*http.Server{server, healthServer} {
		go func(srv *http.Server) {
			logger.WithField("addr", srv.Addr).Info("HTTP server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("server on %s failed: %w", srv.Addr, err)
			}
		}(srv)
	}

	logger.WithFields(map[string]interface{}{
		"version": version,
		"storage": cfg.Storage.Type,
		"cache":   cfg.Cache.Type,
	}).Info("coursetrail started")

	waitCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case err := <-serveErr:
			logger.WithError(err).Error("HTTP server stopped unexpectedly")
			stop()
		case <-waitCtx.Done():
		}
	}()

	return shutdown.WaitForSignal(waitCtx)
}

// backend bundles the repository stack with the connections behind it
type backend struct {
	repository audit.Repository
	db         *sql.DB
	redis      *redis.Client
}

func openBackend(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *observability.Logger) (*backend, error) {
	b := &backend{}

	var repo audit.Repository
	switch cfg.Storage.Type {
	case config.StoragePostgres:
		db, err := audit.OpenPostgres(ctx, cfg.Storage.PostgresURL,
			cfg.Storage.PostgresMaxConns, cfg.Storage.PostgresMinConns,
			cfg.Storage.PostgresLifetime, cfg.Storage.PostgresTimeout)
		if err != nil {
			return nil, err
		}
		pg, err := audit.NewPostgresRepository(ctx, db)
		if err != nil {
			db.Close()
			return nil, err
		}
		b.db = db
		repo = pg
	case config.StorageSQLite:
		db, err := audit.OpenSQLite(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		lite, err := audit.NewSQLiteRepository(ctx, db)
		if err != nil {
			db.Close()
			return nil, err
		}
		b.db = db
		repo = lite
	default:
		logger.Warn("Using in-memory audit storage; events are lost on restart")
		repo = audit.NewMemoryRepository()
	}
	repo = audit.NewInstrumentedRepository(repo, cfg.Storage.Type, metrics)

	switch cfg.Cache.Type {
	case config.CacheRedis:
		client, err := audit.NewRedisClient(ctx, cfg.Cache.RedisURL, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			b.close()
			return nil, err
		}
		b.redis = client
		repo = audit.NewCachedRepository(repo, audit.NewRedisStatsCache(client, cfg.Cache.TTL), config.CacheRedis, metrics, logger)
	case config.CacheLRU:
		repo = audit.NewCachedRepository(repo, audit.NewLRUStatsCache(cfg.Cache.LRUSize, cfg.Cache.TTL), config.CacheLRU, metrics, logger)
	}

	b.repository = repo
	return b, nil
}

// newLimiter shares counters through Redis when the statistics cache already
// uses it, and keeps them in process otherwise.
func newLimiter(ctx context.Context, cfg *config.Config, b *backend) ratelimit.Limiter {
	limits := ratelimit.Config{
		RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
		Window:            cfg.RateLimit.Window,
		Burst:             cfg.RateLimit.Burst,
	}
	if b.redis != nil {
		return ratelimit.NewRedisLimiter(b.redis, limits, "coursetrail:ratelimit")
	}
	local := ratelimit.NewLocalLimiter(limits)
	local.StartCleanup(ctx)
	return local
}

func (b *backend) registerShutdown(sm *observability.ShutdownManager) {
	if b.db != nil {
		sm.Register("database", func(context.Context) error { return b.db.Close() })
	}
	if b.redis != nil {
		sm.Register("redis", func(context.Context) error { return b.redis.Close() })
	}
}

func (b *backend) close() {
	if b.db != nil {
		b.db.Close()
	}
	if b.redis != nil {
		b.redis.Close()
	}
}
