package audit

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Dashboard window for recent high-risk events
const (
	DashboardHighRiskHours = 24
	DashboardHighRiskLimit = 10
)

// HighRiskSummary is the display form of a high-risk event
type HighRiskSummary struct {
	ID           int64        `json:"id"`
	Timestamp    string       `json:"timestamp"`
	EventType    EventType    `json:"event_type"`
	RiskLevel    RiskLevel    `json:"risk_level"`
	Username     string       `json:"username"`
	ResourceType ResourceType `json:"resource_type"`
	ResourceName string       `json:"resource_name"`
	Description  string       `json:"description"`
}

// Dashboard is the overview shown on the audit landing page
type Dashboard struct {
	Statistics           *Statistics         `json:"statistics"`
	EventsByType         map[EventType]int64 `json:"events_by_type"`
	EventsByRiskLevel    map[RiskLevel]int64 `json:"events_by_risk_level"`
	RecentHighRiskEvents []HighRiskSummary   `json:"recent_high_risk_events"`
	TopUsers             []UserCount         `json:"top_users"`
	TopResources         []ResourceCount     `json:"top_resources"`
}

// GetDashboardData loads statistics and recent high-risk events concurrently
func (s *Service) GetDashboardData(ctx context.Context) (*Dashboard, error) {
	var (
		stats    *Statistics
		highRisk []*AuditEvent
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats, err = s.repo.GetStatistics(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		highRisk, err = s.GetRecentHighRiskEvents(gctx, DashboardHighRiskHours, DashboardHighRiskLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summaries := make([]HighRiskSummary, 0, len(highRisk))
	for _, e := range highRisk {
		if len(summaries) == DashboardHighRiskLimit {
			break
		}
		summaries = append(summaries, HighRiskSummary{
			ID:           e.ID,
			Timestamp:    formatEventTime(e.Timestamp),
			EventType:    e.EventType,
			RiskLevel:    e.RiskLevel,
			Username:     e.User.Username,
			ResourceType: e.Resource.ResourceType,
			ResourceName: e.Resource.ResourceName,
			Description:  e.Description,
		})
	}

	return &Dashboard{
		Statistics:           stats,
		EventsByType:         stats.EventsByType,
		EventsByRiskLevel:    stats.EventsByRiskLevel,
		RecentHighRiskEvents: summaries,
		TopUsers:             stats.TopUsers,
		TopResources:         stats.TopResources,
	}, nil
}
