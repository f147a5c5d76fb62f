package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// TimestampLayout formats event timestamps in exports and dashboards
const TimestampLayout = "2006-01-02 15:04:05"

// MaxComplianceExport caps the number of events in one compliance export
const MaxComplianceExport = 10000

// ExportFormat represents the encoding of a compliance export
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatNDJSON ExportFormat = "ndjson"
	ExportFormatCSV    ExportFormat = "csv"
)

// ParseExportFormat parses a format name; empty means JSON
func ParseExportFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(s); f {
	case "":
		return ExportFormatJSON, nil
	case ExportFormatJSON, ExportFormatNDJSON, ExportFormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format: %q", s)
	}
}

// ContentType returns the MIME type of the format
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportFormatCSV:
		return "text/csv"
	case ExportFormatNDJSON:
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}

// ComplianceFields names the columns of a compliance export, in order
var ComplianceFields = []string{
	"id", "timestamp", "event_type", "risk_level",
	"user_id", "username", "user_email",
	"resource_type", "resource_id", "resource_name",
	"description", "ip_address", "session_id", "course_id",
}

// ComplianceRecord is one event flattened for compliance export
type ComplianceRecord struct {
	ID           int64  `json:"id"`
	Timestamp    string `json:"timestamp"`
	EventType    string `json:"event_type"`
	RiskLevel    string `json:"risk_level"`
	UserID       int64  `json:"user_id"`
	Username     string `json:"username"`
	UserEmail    string `json:"user_email"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	ResourceName string `json:"resource_name"`
	Description  string `json:"description"`
	IPAddress    string `json:"ip_address"`
	SessionID    string `json:"session_id"`
	CourseID     int64  `json:"course_id"`
}

// NewComplianceRecord flattens e
func NewComplianceRecord(e *AuditEvent) ComplianceRecord {
	return ComplianceRecord{
		ID:           e.ID,
		Timestamp:    formatEventTime(e.Timestamp),
		EventType:    string(e.EventType),
		RiskLevel:    string(e.RiskLevel),
		UserID:       e.User.UserID,
		Username:     e.User.Username,
		UserEmail:    e.User.Email,
		ResourceType: string(e.Resource.ResourceType),
		ResourceID:   e.Resource.ResourceID,
		ResourceName: e.Resource.ResourceName,
		Description:  e.Description,
		IPAddress:    e.User.IPAddress,
		SessionID:    e.SessionID,
		CourseID:     e.CourseID,
	}
}

// Values returns the record as strings in ComplianceFields order
func (r ComplianceRecord) Values() []string {
	return []string{
		strconv.FormatInt(r.ID, 10),
		r.Timestamp,
		r.EventType,
		r.RiskLevel,
		strconv.FormatInt(r.UserID, 10),
		r.Username,
		r.UserEmail,
		r.ResourceType,
		r.ResourceID,
		r.ResourceName,
		r.Description,
		r.IPAddress,
		r.SessionID,
		strconv.FormatInt(r.CourseID, 10),
	}
}

// ExportEventsForCompliance flattens up to MaxComplianceExport events in
// [from, to], optionally restricted to one user
func (s *Service) ExportEventsForCompliance(ctx context.Context, from, to time.Time, userID *int64) ([]ComplianceRecord, error) {
	criteria := NewSearchCriteria().
		WithDateRange(from, to).
		WithLimit(MaxComplianceExport)
	if userID != nil {
		criteria = criteria.WithUserID(*userID)
	}

	result, err := s.repo.Search(ctx, criteria)
	if err != nil {
		return nil, err
	}

	records := make([]ComplianceRecord, 0, len(result.Events))
	for _, e := range result.Events {
		records = append(records, NewComplianceRecord(e))
	}

	if s.metrics != nil {
		s.metrics.EventsExportedTotal.Add(float64(len(records)))
	}

	return records, nil
}

// EncodeComplianceRecords encodes records in format
func EncodeComplianceRecords(records []ComplianceRecord, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatCSV:
		return exportCSV(records)
	case ExportFormatNDJSON:
		return exportNDJSON(records)
	default:
		return exportJSON(records)
	}
}

func exportJSON(records []ComplianceRecord) ([]byte, error) {
	return json.MarshalIndent(records, "", "  ")
}

func exportNDJSON(records []ComplianceRecord) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for _, record := range records {
		if err := encoder.Encode(record); err != nil {
			return nil, fmt.Errorf("failed to encode record: %w", err)
		}
	}

	return buf.Bytes(), nil
}

func exportCSV(records []ComplianceRecord) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(ComplianceFields); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, record := range records {
		if err := writer.Write(record.Values()); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}
