package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/coursetrail/pkg/observability"
)

// InstrumentedRepository records operation counts and latencies of the
// wrapped repository
type InstrumentedRepository struct {
	next    Repository
	backend string
	metrics *observability.Metrics
}

// NewInstrumentedRepository wraps next; backend labels the metrics
func NewInstrumentedRepository(next Repository, backend string, metrics *observability.Metrics) *InstrumentedRepository {
	return &InstrumentedRepository{next: next, backend: backend, metrics: metrics}
}

// Save implements Repository
func (r *InstrumentedRepository) Save(ctx context.Context, event *AuditEvent) error {
	start := time.Now()
	err := r.next.Save(ctx, event)
	r.metrics.ObserveRepositoryOperation("save", r.backend, start, err)
	return err
}

// Search implements Repository
func (r *InstrumentedRepository) Search(ctx context.Context, criteria SearchCriteria) (*SearchResult, error) {
	start := time.Now()
	result, err := r.next.Search(ctx, criteria)
	r.metrics.ObserveRepositoryOperation("search", r.backend, start, err)
	return result, err
}

// GetStatistics implements Repository
func (r *InstrumentedRepository) GetStatistics(ctx context.Context) (*Statistics, error) {
	start := time.Now()
	stats, err := r.next.GetStatistics(ctx)
	r.metrics.ObserveRepositoryOperation("statistics", r.backend, start, err)
	return stats, err
}

// FindByResource implements Repository
func (r *InstrumentedRepository) FindByResource(ctx context.Context, resourceType ResourceType, resourceID string, limit int) ([]*AuditEvent, error) {
	start := time.Now()
	events, err := r.next.FindByResource(ctx, resourceType, resourceID, limit)
	r.metrics.ObserveRepositoryOperation("find_by_resource", r.backend, start, err)
	return events, err
}

// DeleteOlderThan implements Repository
func (r *InstrumentedRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	start := time.Now()
	deleted, err := r.next.DeleteOlderThan(ctx, cutoff)
	r.metrics.ObserveRepositoryOperation("delete_older_than", r.backend, start, err)
	return deleted, err
}
