package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventFactories(t *testing.T) {
	env := Envelope{
		User:      UserContext{UserID: 10, Username: "alice"},
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		SessionID: "s",
		CourseID:  100,
	}
	folder := FolderInfo{ID: "f1", Name: "Week 1", Path: "/course/Week 1", ParentID: "root"}
	item := ItemInfo{ID: "i1", Filename: "notes.pdf", FolderID: "f1", Size: 2048, MimeType: "application/pdf"}
	view := ViewInfo{ID: "v1", Name: "Gallery", Mode: "grid"}

	tests := []struct {
		name     string
		event    *AuditEvent
		kind     EventType
		risk     RiskLevel
		resource ResourceType
		detail   string
	}{
		{"folder created", NewFolderCreatedEvent(env, folder), EventTypeFolderCreated, RiskLow, ResourceTypeFolder, "folder_path"},
		{"folder deleted", NewFolderDeletedEvent(env, folder), EventTypeFolderDeleted, RiskHigh, ResourceTypeFolder, "folder_path"},
		{"item uploaded", NewItemUploadedEvent(env, item), EventTypeItemUploaded, RiskLow, ResourceTypeItem, "mime_type"},
		{"item deleted", NewItemDeletedEvent(env, item), EventTypeItemDeleted, RiskHigh, ResourceTypeItem, "filename"},
		{"view accessed", NewViewAccessedEvent(env, view), EventTypeViewAccessed, RiskLow, ResourceTypeView, "view_mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.event.EventType)
			assert.Equal(t, tt.risk, tt.event.RiskLevel)
			assert.Equal(t, tt.resource, tt.event.Resource.ResourceType)
			assert.Equal(t, env.User, tt.event.User)
			assert.Equal(t, env.Timestamp, tt.event.Timestamp)
			assert.Equal(t, "s", tt.event.SessionID)
			assert.Equal(t, int64(100), tt.event.CourseID)
			assert.Contains(t, tt.event.Details, tt.detail)
			assert.NotEmpty(t, tt.event.Description)
		})
	}

	assert.Equal(t, int64(2048), NewItemUploadedEvent(env, item).Details["size"])
	assert.Equal(t, "Folder 'Week 1' deleted", NewFolderDeletedEvent(env, folder).Description)
}

func TestNewCustomEvent(t *testing.T) {
	details := map[string]interface{}{"grade": 90}
	e := NewCustomEvent(Envelope{}, "grade_changed", ResourceContext{ResourceType: ResourceTypeCourse, ResourceID: "100"}, "Grade changed", details, "")

	assert.Equal(t, EventType("grade_changed"), e.EventType)
	assert.Equal(t, RiskMedium, e.RiskLevel)

	details["grade"] = 10
	assert.Equal(t, 90, e.Details["grade"], "details are copied")

	assert.Equal(t, RiskCritical, NewCustomEvent(Envelope{}, "x", ResourceContext{}, "", nil, RiskCritical).RiskLevel)
}
