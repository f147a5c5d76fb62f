package audit

import (
	"fmt"
	"time"
)

// Envelope carries the fields shared by every event kind
type Envelope struct {
	User      UserContext
	Timestamp time.Time
	SessionID string
	CourseID  int64
}

// FolderInfo describes a folder in a course workspace
type FolderInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Path     string `json:"path,omitempty"`
	ParentID string `json:"parent_id,omitempty"`
}

// ItemInfo describes an uploaded file
type ItemInfo struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	FolderID string `json:"folder_id,omitempty"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// ViewInfo describes a rendered view of the workspace
type ViewInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Mode string `json:"mode,omitempty"`
}

func newEvent(env Envelope, eventType EventType, risk RiskLevel, resource ResourceContext, description string, details map[string]interface{}) *AuditEvent {
	if details == nil {
		details = make(map[string]interface{})
	}
	return &AuditEvent{
		EventType:   eventType,
		Timestamp:   env.Timestamp,
		User:        env.User,
		Resource:    resource,
		RiskLevel:   risk,
		Description: description,
		Details:     details,
		SessionID:   env.SessionID,
		CourseID:    env.CourseID,
	}
}

// NewFolderCreatedEvent builds a low risk folder_created event
func NewFolderCreatedEvent(env Envelope, folder FolderInfo) *AuditEvent {
	details := map[string]interface{}{}
	if folder.Path != "" {
		details["folder_path"] = folder.Path
	}
	if folder.ParentID != "" {
		details["parent_id"] = folder.ParentID
	}
	return newEvent(env, EventTypeFolderCreated, RiskLow,
		ResourceContext{ResourceType: ResourceTypeFolder, ResourceID: folder.ID, ResourceName: folder.Name},
		fmt.Sprintf("Folder '%s' created", folder.Name), details)
}

// NewFolderDeletedEvent builds a high risk folder_deleted event
func NewFolderDeletedEvent(env Envelope, folder FolderInfo) *AuditEvent {
	details := map[string]interface{}{}
	if folder.Path != "" {
		details["folder_path"] = folder.Path
	}
	return newEvent(env, EventTypeFolderDeleted, RiskHigh,
		ResourceContext{ResourceType: ResourceTypeFolder, ResourceID: folder.ID, ResourceName: folder.Name},
		fmt.Sprintf("Folder '%s' deleted", folder.Name), details)
}

// NewItemUploadedEvent builds a low risk item_uploaded event
func NewItemUploadedEvent(env Envelope, item ItemInfo) *AuditEvent {
	details := map[string]interface{}{
		"filename": item.Filename,
		"size":     item.Size,
	}
	if item.MimeType != "" {
		details["mime_type"] = item.MimeType
	}
	if item.FolderID != "" {
		details["folder_id"] = item.FolderID
	}
	return newEvent(env, EventTypeItemUploaded, RiskLow,
		ResourceContext{ResourceType: ResourceTypeItem, ResourceID: item.ID, ResourceName: item.Filename},
		fmt.Sprintf("File '%s' uploaded", item.Filename), details)
}

// NewItemDeletedEvent builds a high risk item_deleted event
func NewItemDeletedEvent(env Envelope, item ItemInfo) *AuditEvent {
	details := map[string]interface{}{
		"filename": item.Filename,
	}
	if item.FolderID != "" {
		details["folder_id"] = item.FolderID
	}
	return newEvent(env, EventTypeItemDeleted, RiskHigh,
		ResourceContext{ResourceType: ResourceTypeItem, ResourceID: item.ID, ResourceName: item.Filename},
		fmt.Sprintf("File '%s' deleted", item.Filename), details)
}

// NewViewAccessedEvent builds a low risk view_accessed event
func NewViewAccessedEvent(env Envelope, view ViewInfo) *AuditEvent {
	details := map[string]interface{}{}
	if view.Mode != "" {
		details["view_mode"] = view.Mode
	}
	return newEvent(env, EventTypeViewAccessed, RiskLow,
		ResourceContext{ResourceType: ResourceTypeView, ResourceID: view.ID, ResourceName: view.Name},
		fmt.Sprintf("View '%s' accessed", view.Name), details)
}

// NewCustomEvent builds an event of a caller-defined type. An empty risk
// level defaults to medium.
func NewCustomEvent(env Envelope, eventType EventType, resource ResourceContext, description string, details map[string]interface{}, risk RiskLevel) *AuditEvent {
	if risk == "" {
		risk = RiskMedium
	}
	copied := make(map[string]interface{}, len(details))
	for k, v := range details {
		copied[k] = v
	}
	return newEvent(env, eventType, risk, resource, description, copied)
}
