package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/coursetrail/pkg/identity"
	"github.com/platinummonkey/coursetrail/pkg/observability"
)

// ErrInvalidEvent is returned when a custom event has no event type
var ErrInvalidEvent = errors.New("invalid audit event")

// Service records audit events for the caller found in the request context
// and answers queries over the trail.
type Service struct {
	repo     Repository
	roster   identity.RosterProvider
	logger   *observability.Logger
	metrics  *observability.Metrics
	clock    *monotonicClock
	notifier Notifier
}

// Notifier is told about every high or critical event once it is stored.
// Notify must not block the caller.
type Notifier interface {
	Notify(ctx context.Context, event *AuditEvent)
}

// Option configures a Service
type Option func(*Service)

// WithRosterProvider lets teachers see the events of their students
func WithRosterProvider(roster identity.RosterProvider) Option {
	return func(s *Service) { s.roster = roster }
}

// WithLogger sets the service logger
func WithLogger(logger *observability.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Service) { s.metrics = metrics }
}

// WithNotifier sends stored high-risk events to n
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock replaces the wall clock, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.clock = newMonotonicClock(now) }
}

// NewService creates a Service backed by repo
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		logger: observability.NopLogger(),
		clock:  newMonotonicClock(time.Now),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordFolderCreated records that the caller created folder
func (s *Service) RecordFolderCreated(ctx context.Context, folder FolderInfo) error {
	env, err := s.envelope(ctx)
	if err != nil {
		return err
	}
	return s.save(ctx, NewFolderCreatedEvent(env, folder))
}

// RecordFolderDeleted records that the caller deleted folder
func (s *Service) RecordFolderDeleted(ctx context.Context, folder FolderInfo) error {
	env, err := s.envelope(ctx)
	if err != nil {
		return err
	}
	return s.save(ctx, NewFolderDeletedEvent(env, folder))
}

// RecordItemUploaded records that the caller uploaded item
func (s *Service) RecordItemUploaded(ctx context.Context, item ItemInfo) error {
	env, err := s.envelope(ctx)
	if err != nil {
		return err
	}
	return s.save(ctx, NewItemUploadedEvent(env, item))
}

// RecordItemDeleted records that the caller deleted item
func (s *Service) RecordItemDeleted(ctx context.Context, item ItemInfo) error {
	env, err := s.envelope(ctx)
	if err != nil {
		return err
	}
	return s.save(ctx, NewItemDeletedEvent(env, item))
}

// RecordViewAccessed records that the caller opened view
func (s *Service) RecordViewAccessed(ctx context.Context, view ViewInfo) error {
	env, err := s.envelope(ctx)
	if err != nil {
		return err
	}
	return s.save(ctx, NewViewAccessedEvent(env, view))
}

// RecordCustomEvent records an event kind not covered by the named methods
func (s *Service) RecordCustomEvent(ctx context.Context, eventType EventType, resource ResourceContext, description string, details map[string]interface{}, risk RiskLevel) error {
	if eventType == "" {
		return fmt.Errorf("%w: event type is required", ErrInvalidEvent)
	}
	env, err := s.envelope(ctx)
	if err != nil {
		return err
	}
	return s.save(ctx, NewCustomEvent(env, eventType, resource, description, details, risk))
}

func (s *Service) envelope(ctx context.Context) (Envelope, error) {
	id, err := identity.FromContext(ctx)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		User: UserContext{
			UserID:      id.UserID,
			Username:    id.Username,
			Email:       id.Email,
			IPAddress:   id.IPAddress,
			DisplayName: id.DisplayName,
		},
		Timestamp: s.clock.Now(),
		SessionID: id.SessionID,
		CourseID:  id.CourseID,
	}, nil
}

func (s *Service) save(ctx context.Context, event *AuditEvent) error {
	err := s.repo.Save(ctx, event)

	if s.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.EventsRecordedTotal.WithLabelValues(string(event.EventType), string(event.RiskLevel), status).Inc()
	}

	logger := s.log(ctx).WithFields(map[string]interface{}{
		"event_type": event.EventType,
		"risk_level": event.RiskLevel,
		"user_id":    event.User.UserID,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to record audit event")
		return err
	}
	logger.WithField("event_id", event.ID).Debug("Audit event recorded")

	if s.notifier != nil && event.IsHighRisk() {
		s.notifier.Notify(ctx, event)
	}
	return nil
}

// SearchEvents returns events matching criteria without applying visibility rules
func (s *Service) SearchEvents(ctx context.Context, criteria SearchCriteria) (*SearchResult, error) {
	return s.repo.Search(ctx, criteria)
}

// GetStatistics aggregates the whole trail
func (s *Service) GetStatistics(ctx context.Context) (*Statistics, error) {
	return s.repo.GetStatistics(ctx)
}

// GetRecentHighRiskEvents returns up to limit high or critical events from
// the last hours hours
func (s *Service) GetRecentHighRiskEvents(ctx context.Context, hours, limit int) ([]*AuditEvent, error) {
	result, err := s.repo.Search(ctx, s.highRiskCriteria(hours, limit))
	if err != nil {
		return nil, err
	}
	return result.Events, nil
}

// GetResourceAuditTrail returns the newest events for one resource
func (s *Service) highRiskCriteria(hours, limit int) SearchCriteria {
	return NewSearchCriteria().
		WithHighRiskOnly(true).
		WithFrom(s.clock.Wall().Add(-time.Duration(hours) * time.Hour)).
		WithLimit(limit)
}

func (s *Service) GetResourceAuditTrail(ctx context.Context, resourceType ResourceType, resourceID string, limit int) ([]*AuditEvent, error) {
	return s.repo.FindByResource(ctx, resourceType, resourceID, limit)
}

// CleanOldEvents deletes events older than daysToKeep days and returns the
// number removed
func (s *Service) CleanOldEvents(ctx context.Context, daysToKeep int) (int64, error) {
	return s.deleteBefore(ctx, s.Cutoff(daysToKeep))
}

// Cutoff returns the instant before which events fall outside a retention
// window of daysToKeep days
func (s *Service) Cutoff(daysToKeep int) time.Time {
	return s.clock.Wall().AddDate(0, 0, -daysToKeep)
}

func (s *Service) deleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	deleted, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if s.metrics != nil {
		s.metrics.EventsDeletedTotal.Add(float64(deleted))
	}
	s.log(ctx).WithFields(map[string]interface{}{
		"cutoff":  cutoff.Format(time.RFC3339),
		"deleted": deleted,
	}).Info("Old audit events cleaned")

	return deleted, nil
}

// monotonicClock hands out strictly increasing timestamps at microsecond
// resolution, the precision Postgres keeps.
type monotonicClock struct {
	source func() time.Time

	mu   sync.Mutex
	last time.Time
}

func newMonotonicClock(source func() time.Time) *monotonicClock {
	return &monotonicClock{source: source}
}

// Now returns the next event timestamp
func (c *monotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.source().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}

// Wall returns the current time without reserving a timestamp
func (c *monotonicClock) Wall() time.Time {
	return c.source()
}

func (s *Service) log(ctx context.Context) *observability.Logger {
	return observability.FromContextOr(ctx, s.logger)
}
