package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const (
	readinessTimeout = 5 * time.Second
	slowProbe        = time.Second
)

// probe checks one dependency. A failing critical probe makes the service
// unhealthy; any other failing probe only degrades it.
type probe struct {
	name     string
	critical bool
	check    func(context.Context) error
}

// HealthChecker answers liveness and readiness for the audit service. The
// database is critical. Redis only backs the statistics cache and the rate
// limiter, so losing it degrades the service.
type HealthChecker struct {
	version string
	probes  []probe
}

// NewHealthChecker builds a checker; db and redis may be nil when the memory
// repository or the local cache is used.
func NewHealthChecker(version string, db *sql.DB, rdb *redis.Client) *HealthChecker {
	h := &HealthChecker{version: version}
	if db != nil {
		h.probes = append(h.probes, probe{name: "database", critical: true, check: pingDatabase(db)})
	}
	if rdb != nil {
		h.probes = append(h.probes, probe{name: "redis", check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	return h
}

func pingDatabase(db *sql.DB) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		var one int
		return db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	}
}

// HealthStatus is the readiness report
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is one probe's result
type DependencyStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Check runs every probe concurrently and folds the results
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	report := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(h.probes)),
	}

	var mu sync.Mutex
	var g errgroup.Group
	for _, p := range h.probes {
		g.Go(func() error {
			dep := runProbe(ctx, p)
			mu.Lock()
			report.Dependencies[p.name] = dep
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, p := range h.probes {
		switch dep := report.Dependencies[p.name]; {
		case dep.Status == StatusUnhealthy && p.critical:
			report.Status = StatusUnhealthy
		case dep.Status != StatusHealthy && report.Status == StatusHealthy:
			report.Status = StatusDegraded
		}
	}
	return report
}

func runProbe(ctx context.Context, p probe) DependencyStatus {
	started := time.Now()
	err := p.check(ctx)
	elapsed := time.Since(started)

	dep := DependencyStatus{Status: StatusHealthy, LatencyMS: elapsed.Milliseconds()}
	switch {
	case err != nil:
		dep.Status = StatusUnhealthy
		dep.Message = err.Error()
	case elapsed > slowProbe:
		dep.Status = StatusDegraded
		dep.Message = "slow response"
	}
	return dep
}

// Liveness reports 200 while the process can serve at all
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, HealthStatus{Status: StatusHealthy, Timestamp: time.Now().UTC(), Version: h.version})
}

// Readiness reports 503 when a critical dependency is down
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	report := h.Check(ctx)
	code := http.StatusOK
	if report.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, report)
}

func writeHealth(w http.ResponseWriter, code int, body HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// RegisterHealthRoutes mounts /health, /health/live and /health/ready
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/health", checker.Readiness)
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
}
