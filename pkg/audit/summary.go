package audit

import (
	"context"
	"time"
)

// DateLayout formats the boundaries of a summary window
const DateLayout = "2006-01-02"

// DateRange is a window of calendar days
type DateRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// UserActivitySummary tallies one user's events over a window
type UserActivitySummary struct {
	UserID       int64               `json:"user_id"`
	Days         int                 `json:"days"`
	TotalEvents  int64               `json:"total_events"`
	EventsByType map[EventType]int64 `json:"events_by_type"`
	DateRange    DateRange           `json:"date_range"`
}

// GetUserActivitySummary counts userID's events per type over the last days
// days
func (s *Service) GetUserActivitySummary(ctx context.Context, userID int64, days int) (*UserActivitySummary, error) {
	to := s.clock.Wall()
	from := to.AddDate(0, 0, -days)

	result, err := s.repo.Search(ctx, NewSearchCriteria().
		WithUserID(userID).
		WithDateRange(from, to))
	if err != nil {
		return nil, err
	}

	summary := &UserActivitySummary{
		UserID:       userID,
		Days:         days,
		EventsByType: make(map[EventType]int64),
		DateRange: DateRange{
			From: from.UTC().Format(DateLayout),
			To:   to.UTC().Format(DateLayout),
		},
	}
	for _, e := range result.Events {
		summary.EventsByType[e.EventType]++
	}
	for _, n := range summary.EventsByType {
		summary.TotalEvents += n
	}

	return summary, nil
}

// formatEventTime renders t in UTC, the zone every stored timestamp is
// compared in
func formatEventTime(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
