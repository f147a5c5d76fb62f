package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/coursetrail/pkg/observability"
)

// Archiver stores an encoded batch of expired events before they are deleted
type Archiver interface {
	Archive(ctx context.Context, name string, data []byte, contentType string) error
}

// archivePageSize is the number of events read per archive query
const archivePageSize = 1000

// RetentionReport summarises one retention run
type RetentionReport struct {
	Cutoff   time.Time `json:"cutoff"`
	Archived int       `json:"archived"`
	Archive  string    `json:"archive,omitempty"`
	Deleted  int64     `json:"deleted"`
}

// Retainer enforces the retention window, archiving expired events first
// when an Archiver is configured
type Retainer struct {
	service  *Service
	archiver Archiver
	logger   *observability.Logger
}

// NewRetainer creates a Retainer; archiver may be nil
func NewRetainer(service *Service, archiver Archiver, logger *observability.Logger) *Retainer {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Retainer{service: service, archiver: archiver, logger: logger}
}

// Run archives and deletes events older than daysToKeep days. Nothing is
// deleted when archiving fails.
func (r *Retainer) Run(ctx context.Context, daysToKeep int) (*RetentionReport, error) {
	if daysToKeep <= 0 {
		return nil, fmt.Errorf("days to keep must be positive, got %d", daysToKeep)
	}

	report := &RetentionReport{Cutoff: r.service.Cutoff(daysToKeep)}
	logger := r.logger.WithFields(map[string]interface{}{
		"cutoff":       report.Cutoff.Format(time.RFC3339),
		"days_to_keep": daysToKeep,
	})

	if r.archiver != nil {
		records, err := r.expiredRecords(ctx, report.Cutoff)
		if err != nil {
			return nil, err
		}
		if len(records) > 0 {
			data, err := EncodeComplianceRecords(records, ExportFormatNDJSON)
			if err != nil {
				return nil, err
			}
			name := fmt.Sprintf("audit-events-before-%s.ndjson", report.Cutoff.UTC().Format("20060102T150405Z"))
			if err := r.archiver.Archive(ctx, name, data, ExportFormatNDJSON.ContentType()); err != nil {
				return nil, fmt.Errorf("failed to archive expired events: %w", err)
			}
			report.Archived = len(records)
			report.Archive = name
			logger.WithFields(map[string]interface{}{
				"archive": name,
				"events":  len(records),
			}).Info("Expired audit events archived")
		}
	}

	deleted, err := r.service.deleteBefore(ctx, report.Cutoff)
	if err != nil {
		return nil, err
	}
	report.Deleted = deleted

	logger.WithField("deleted", deleted).Info("Retention run complete")
	return report, nil
}

// expiredRecords pages through every event strictly before cutoff
func (r *Retainer) expiredRecords(ctx context.Context, cutoff time.Time) ([]ComplianceRecord, error) {
	// The range is inclusive, so stop one microsecond short of the cutoff.
	criteria := NewSearchCriteria().
		WithDateRange(time.Time{}, cutoff.Add(-time.Microsecond)).
		WithLimit(archivePageSize)

	var records []ComplianceRecord
	for offset := 0; ; offset += archivePageSize {
		result, err := r.service.repo.Search(ctx, criteria.WithOffset(offset))
		if err != nil {
			return nil, fmt.Errorf("failed to read expired events: %w", err)
		}
		for _, e := range result.Events {
			records = append(records, NewComplianceRecord(e))
		}
		if len(result.Events) < archivePageSize {
			return records, nil
		}
	}
}
