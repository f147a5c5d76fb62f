// Package observability provides structured logging, Prometheus metrics,
// health checks, graceful shutdown and OpenTelemetry tracing for coursetrail.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("event_type", "folder_deleted").Info("audit event recorded")
//
// Request-scoped logging picks up the request ID and the active span:
//
//	observability.FromContext(ctx).Warn("export truncated")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.EventsRecordedTotal.WithLabelValues("folder_deleted", "high", "success").Inc()
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version, db, redisClient)
//	observability.RegisterHealthRoutes(mux, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer observability.ShutdownOTel(ctx, providers)
package observability
