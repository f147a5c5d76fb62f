package audit

import (
	"fmt"
	"strings"
	"time"
)

// EventType tags the kind of action an event records
type EventType string

const (
	EventTypeFolderCreated EventType = "folder_created"
	EventTypeFolderDeleted EventType = "folder_deleted"
	EventTypeItemUploaded  EventType = "item_uploaded"
	EventTypeItemDeleted   EventType = "item_deleted"
	EventTypeViewAccessed  EventType = "view_accessed"
)

// RiskLevel classifies how sensitive an action is
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// HighRiskLevels are the levels matched by a high-risk-only search
var HighRiskLevels = []RiskLevel{RiskHigh, RiskCritical}

// IsHighRisk reports whether r is high or critical
func (r RiskLevel) IsHighRisk() bool {
	return r == RiskHigh || r == RiskCritical
}

// ParseRiskLevel parses a risk level name, case-insensitively
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch r := RiskLevel(strings.ToLower(strings.TrimSpace(s))); r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return r, nil
	default:
		return "", fmt.Errorf("unknown risk level: %q", s)
	}
}

// ResourceType is the kind of object an event refers to
type ResourceType string

const (
	ResourceTypeFolder ResourceType = "folder"
	ResourceTypeItem   ResourceType = "item"
	ResourceTypeView   ResourceType = "view"
	ResourceTypeCourse ResourceType = "course"
)

// UserContext is a snapshot of the acting user taken when the event is built
type UserContext struct {
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	IPAddress   string `json:"ip_address,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// ResourceContext identifies the object acted upon
type ResourceContext struct {
	ResourceType ResourceType `json:"resource_type"`
	ResourceID   string       `json:"resource_id"`
	ResourceName string       `json:"resource_name,omitempty"`
}

// AuditEvent is a single recorded action. Events are not modified after
// construction; the repository assigns ID on Save.
type AuditEvent struct {
	ID          int64                  `json:"id"`
	EventType   EventType              `json:"event_type"`
	Timestamp   time.Time              `json:"timestamp"`
	User        UserContext            `json:"user"`
	Resource    ResourceContext        `json:"resource"`
	RiskLevel   RiskLevel              `json:"risk_level"`
	Description string                 `json:"description"`
	Details     map[string]interface{} `json:"details,omitempty"`
	SessionID   string                 `json:"session_id,omitempty"`
	CourseID    int64                  `json:"course_id,omitempty"`
}

// IsHighRisk reports whether the event carries a high or critical risk level
func (e *AuditEvent) IsHighRisk() bool {
	return e.RiskLevel.IsHighRisk()
}
