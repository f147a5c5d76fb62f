package audit

// SearchResult is a page of matching events plus the total number of matches
type SearchResult struct {
	Events []*AuditEvent `json:"events"`
	Total  int64         `json:"total"`
}

// UserCount is one row of the top users ranking
type UserCount struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Count    int64  `json:"count"`
}

// ResourceCount is one row of the top resources ranking
type ResourceCount struct {
	ResourceType ResourceType `json:"resource_type"`
	ResourceID   string       `json:"resource_id"`
	ResourceName string       `json:"resource_name"`
	Count        int64        `json:"count"`
}

// Statistics aggregates the whole audit trail
type Statistics struct {
	TotalEvents       int64               `json:"total_events"`
	EventsByType      map[EventType]int64 `json:"events_by_type"`
	EventsByRiskLevel map[RiskLevel]int64 `json:"events_by_risk_level"`
	UniqueUsers       int64               `json:"unique_users"`
	EventsLast24Hours int64               `json:"events_last_24_hours"`
	TopUsers          []UserCount         `json:"top_users"`
	TopResources      []ResourceCount     `json:"top_resources"`
}

// TopListSize is the length of the top users and top resources rankings
const TopListSize = 10

func newStatistics() *Statistics {
	return &Statistics{
		EventsByType:      make(map[EventType]int64),
		EventsByRiskLevel: make(map[RiskLevel]int64),
		TopUsers:          []UserCount{},
		TopResources:      []ResourceCount{},
	}
}
