package audit

import (
	"context"
	"time"
)

// Repository persists and queries audit events
type Repository interface {
	// Save stores event and assigns its ID
	Save(ctx context.Context, event *AuditEvent) error

	// Search returns events matching criteria, newest first
	Search(ctx context.Context, criteria SearchCriteria) (*SearchResult, error)

	// GetStatistics aggregates every stored event
	GetStatistics(ctx context.Context) (*Statistics, error)

	// FindByResource returns the newest events for one resource
	FindByResource(ctx context.Context, resourceType ResourceType, resourceID string, limit int) ([]*AuditEvent, error)

	// DeleteOlderThan removes events with a timestamp before cutoff and
	// returns how many were removed
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
