package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "coursetrail"

// Metrics is every Prometheus collector coursetrail exports
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	EventsRecordedTotal *prometheus.CounterVec
	EventsDeletedTotal  prometheus.Counter
	EventsExportedTotal prometheus.Counter
	AccessDeniedTotal   *prometheus.CounterVec

	RepositoryOperationsTotal   *prometheus.CounterVec
	RepositoryOperationDuration *prometheus.HistogramVec

	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	AlertDeliveriesTotal *prometheus.CounterVec
	RateLimitedTotal     *prometheus.CounterVec
}

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: metricsNamespace, Name: name, Help: help}, labels)
}

func histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: metricsNamespace, Name: name, Help: help, Buckets: buckets}, labels)
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Namespace: metricsNamespace, Name: name, Help: help})
}

// NewMetrics creates the collectors and registers them on registry. It
// panics on duplicate registration, like prometheus.MustRegister.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: counterVec("http_requests_total",
			"HTTP requests by method, route template and status.", "method", "route", "status"),
		HTTPRequestDuration: histogramVec("http_request_duration_seconds",
			"HTTP request latency.", prometheus.DefBuckets, "method", "route"),
		HTTPResponseSize: histogramVec("http_response_size_bytes",
			"HTTP response body size.", prometheus.ExponentialBuckets(128, 8, 7), "method", "route"),

		EventsRecordedTotal: counterVec("events_recorded_total",
			"Audit events recorded, by type, risk level and outcome.", "event_type", "risk_level", "status"),
		EventsDeletedTotal: counter("events_deleted_total",
			"Audit events removed by retention cleanup."),
		EventsExportedTotal: counter("events_exported_total",
			"Audit events written to compliance exports."),
		AccessDeniedTotal: counterVec("access_denied_total",
			"Audit API requests denied by the access policy.", "route"),

		RepositoryOperationsTotal: counterVec("repository_operations_total",
			"Repository calls by operation, backend and outcome.", "operation", "backend", "status"),
		RepositoryOperationDuration: histogramVec("repository_operation_duration_seconds",
			"Repository call latency.", prometheus.DefBuckets, "operation", "backend"),

		CacheHitsTotal:   counterVec("cache_hits_total", "Statistics cache hits.", "cache_type"),
		CacheMissesTotal: counterVec("cache_misses_total", "Statistics cache misses.", "cache_type"),

		AlertDeliveriesTotal: counterVec("alert_deliveries_total",
			"High-risk alert deliveries by outcome (delivered, failed, dropped).", "status"),
		RateLimitedTotal: counterVec("rate_limited_total",
			"Requests rejected by the rate limiter.", "route"),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal, m.HTTPRequestDuration, m.HTTPResponseSize,
		m.EventsRecordedTotal, m.EventsDeletedTotal, m.EventsExportedTotal, m.AccessDeniedTotal,
		m.RepositoryOperationsTotal, m.RepositoryOperationDuration,
		m.CacheHitsTotal, m.CacheMissesTotal,
		m.AlertDeliveriesTotal, m.RateLimitedTotal,
	)
	return m
}

// ObserveRepositoryOperation counts one repository call and its latency.
// It is a no-op on a nil receiver.
func (m *Metrics) ObserveRepositoryOperation(operation, backend string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.RepositoryOperationsTotal.WithLabelValues(operation, backend, outcome).Inc()
	m.RepositoryOperationDuration.WithLabelValues(operation, backend).Observe(time.Since(start).Seconds())
}

// RouteLabel is the mux path template for r, falling back to the raw path.
// Templates keep ids out of label values.
func RouteLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

type sizeRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (s *sizeRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *sizeRecorder) Write(b []byte) (int, error) {
	n, err := s.ResponseWriter.Write(b)
	s.size += n
	return n, err
}

// HTTPMetricsMiddleware records count, latency and size per route template
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			rec := &sizeRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			route := RouteLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(started).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rec.size))
		})
	}
}

// RegisterMetricsEndpoint serves registry on /metrics
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
