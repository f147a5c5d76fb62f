package observability

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	require.NotNil(t, metrics)

	assert.NotNil(t, metrics.HTTPRequestsTotal)
	assert.NotNil(t, metrics.EventsRecordedTotal)
	assert.NotNil(t, metrics.RepositoryOperationDuration)
	assert.NotNil(t, metrics.CacheHitsTotal)

	assert.Panics(t, func() { NewMetrics(registry) }, "duplicate registration must panic")
}

func TestMetrics_ObserveRepositoryOperation(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.ObserveRepositoryOperation("save", "memory", time.Now(), nil)
	metrics.ObserveRepositoryOperation("save", "memory", time.Now(), errors.New("boom"))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RepositoryOperationsTotal.WithLabelValues("save", "memory", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RepositoryOperationsTotal.WithLabelValues("save", "memory", "error")))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() {
		nilMetrics.ObserveRepositoryOperation("save", "memory", time.Now(), nil)
	})
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(metrics))
	router.HandleFunc("/audit/users/{id}/summary", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		io.WriteString(w, "short and stout")
	})

	req := httptest.NewRequest(http.MethodGet, "/audit/users/42/summary", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(
		metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/audit/users/{id}/summary", "418"),
	))
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.EventsDeletedTotal.Add(3)

	serveMux := http.NewServeMux()
	RegisterMetricsEndpoint(serveMux, registry)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	serveMux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "coursetrail_events_deleted_total 3"))
}
