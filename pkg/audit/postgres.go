package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("coursetrail/audit")

const eventColumns = `
	id, event_type, timestamp,
	user_id, username, user_email, ip_address, display_name,
	resource_type, resource_id, resource_name,
	risk_level, description, details, session_id, course_id`

// PostgresRepository stores audit events in the audit_events table
type PostgresRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresRepository creates the repository and makes sure the schema exists
func NewPostgresRepository(ctx context.Context, db *sql.DB) (*PostgresRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	repo := &PostgresRepository{db: db, now: time.Now}
	if err := repo.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_events table: %w", err)
	}

	return repo, nil
}

// OpenPostgres opens and pings a pooled connection to url
func OpenPostgres(ctx context.Context, url string, maxConns, minConns int, lifetime, timeout time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)
	db.SetConnMaxLifetime(lifetime)

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return db, nil
}

func (r *PostgresRepository) ensureTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id BIGSERIAL PRIMARY KEY,
		event_type VARCHAR(100) NOT NULL,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		user_id BIGINT NOT NULL,
		username VARCHAR(255) NOT NULL DEFAULT '',
		user_email VARCHAR(255) NOT NULL DEFAULT '',
		ip_address VARCHAR(45) NOT NULL DEFAULT '',
		display_name VARCHAR(255) NOT NULL DEFAULT '',
		resource_type VARCHAR(50) NOT NULL DEFAULT '',
		resource_id VARCHAR(255) NOT NULL DEFAULT '',
		resource_name VARCHAR(255) NOT NULL DEFAULT '',
		risk_level VARCHAR(20) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		details JSONB NOT NULL DEFAULT '{}',
		session_id VARCHAR(255) NOT NULL DEFAULT '',
		course_id BIGINT NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_events_user_id ON audit_events(user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_event_type ON audit_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_events_risk_level ON audit_events(risk_level);
	CREATE INDEX IF NOT EXISTS idx_audit_events_resource ON audit_events(resource_type, resource_id);
	`

	_, err := r.db.ExecContext(ctx, query)
	return err
}

// Save implements Repository
func (r *PostgresRepository) Save(ctx context.Context, event *AuditEvent) (err error) {
	ctx, span := tracer.Start(ctx, "PostgresRepository.Save",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("audit.event_type", string(event.EventType)),
		),
	)
	defer func() { endSpan(span, err) }()

	details := event.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}

	query := `
		INSERT INTO audit_events (
			event_type, timestamp,
			user_id, username, user_email, ip_address, display_name,
			resource_type, resource_id, resource_name,
			risk_level, description, details, session_id, course_id
		) VALUES (
			$1, $2,
			$3, $4, $5, $6, $7,
			$8, $9, $10,
			$11, $12, $13, $14, $15
		) RETURNING id
	`

	err = r.db.QueryRowContext(ctx, query,
		event.EventType, event.Timestamp,
		event.User.UserID, event.User.Username, event.User.Email, event.User.IPAddress, event.User.DisplayName,
		event.Resource.ResourceType, event.Resource.ResourceID, event.Resource.ResourceName,
		event.RiskLevel, event.Description, detailsJSON, event.SessionID, event.CourseID,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	return nil
}

// whereClause renders criteria as a WHERE clause with positional arguments
func whereClause(criteria SearchCriteria) (string, []interface{}) {
	conds := []string{"1=1"}
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if id, ok := criteria.UserID(); ok {
		conds = append(conds, "user_id = "+arg(id))
	}
	if ids, ok := criteria.UserIDs(); ok {
		if len(ids) == 0 {
			conds = append(conds, "FALSE")
		} else {
			conds = append(conds, "user_id = ANY("+arg(pq.Array(ids))+")")
		}
	}
	if from := criteria.From(); !from.IsZero() {
		conds = append(conds, "timestamp >= "+arg(from))
	}
	if to := criteria.To(); !to.IsZero() {
		conds = append(conds, "timestamp <= "+arg(to))
	}
	if level := criteria.RiskLevel(); level != "" {
		conds = append(conds, "risk_level = "+arg(string(level)))
	}
	if criteria.HighRiskOnly() {
		levels := make([]string, len(HighRiskLevels))
		for i, l := range HighRiskLevels {
			levels[i] = string(l)
		}
		conds = append(conds, "risk_level = ANY("+arg(pq.Array(levels))+")")
	}
	if types := criteria.EventTypes(); len(types) > 0 {
		strs := make([]string, len(types))
		for i, t := range types {
			strs[i] = string(t)
		}
		conds = append(conds, "event_type = ANY("+arg(pq.Array(strs))+")")
	}
	if resourceType, resourceID := criteria.Resource(); resourceType != "" || resourceID != "" {
		if resourceType != "" {
			conds = append(conds, "resource_type = "+arg(string(resourceType)))
		}
		if resourceID != "" {
			conds = append(conds, "resource_id = "+arg(resourceID))
		}
	}

	return "WHERE " + strings.Join(conds, " AND "), args
}

// Search implements Repository
func (r *PostgresRepository) Search(ctx context.Context, criteria SearchCriteria) (result *SearchResult, err error) {
	ctx, span := tracer.Start(ctx, "PostgresRepository.Search",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.Int("audit.limit", criteria.Limit()),
		),
	)
	defer func() { endSpan(span, err) }()

	where, args := whereClause(criteria)

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_events "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}

	query := "SELECT " + eventColumns + " FROM audit_events " + where + " ORDER BY timestamp DESC, id DESC"
	if criteria.Limit() > 0 {
		args = append(args, criteria.Limit())
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if criteria.Offset() > 0 {
		args = append(args, criteria.Offset())
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	events, err := r.queryEvents(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int64("audit.total", total))
	return &SearchResult{Events: events, Total: total}, nil
}

// FindByResource implements Repository
func (r *PostgresRepository) FindByResource(ctx context.Context, resourceType ResourceType, resourceID string, limit int) (events []*AuditEvent, err error) {
	ctx, span := tracer.Start(ctx, "PostgresRepository.FindByResource",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("audit.resource_type", string(resourceType)),
			attribute.String("audit.resource_id", resourceID),
		),
	)
	defer func() { endSpan(span, err) }()

	where, args := whereClause(NewSearchCriteria().WithResource(resourceType, resourceID))
	query := "SELECT " + eventColumns + " FROM audit_events " + where + " ORDER BY timestamp DESC, id DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return r.queryEvents(ctx, query, args...)
}

func (r *PostgresRepository) queryEvents(ctx context.Context, query string, args ...interface{}) ([]*AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	events := make([]*AuditEvent, 0)
	for rows.Next() {
		event := &AuditEvent{Details: make(map[string]interface{})}
		var detailsJSON []byte

		err := rows.Scan(
			&event.ID, &event.EventType, &event.Timestamp,
			&event.User.UserID, &event.User.Username, &event.User.Email, &event.User.IPAddress, &event.User.DisplayName,
			&event.Resource.ResourceType, &event.Resource.ResourceID, &event.Resource.ResourceName,
			&event.RiskLevel, &event.Description, &detailsJSON, &event.SessionID, &event.CourseID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}

		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &event.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal details: %w", err)
			}
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}

	return events, nil
}

// GetStatistics implements Repository
func (r *PostgresRepository) GetStatistics(ctx context.Context) (stats *Statistics, err error) {
	ctx, span := tracer.Start(ctx, "PostgresRepository.GetStatistics",
		trace.WithAttributes(attribute.String("db.system", "postgresql")),
	)
	defer func() { endSpan(span, err) }()

	stats = newStatistics()

	err = r.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT user_id) FROM audit_events",
	).Scan(&stats.TotalEvents, &stats.UniqueUsers)
	if err != nil {
		return nil, fmt.Errorf("failed to get total events: %w", err)
	}

	err = r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM audit_events WHERE timestamp >= $1",
		r.now().Add(-24*time.Hour),
	).Scan(&stats.EventsLast24Hours)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent events: %w", err)
	}

	err = scanEach(ctx, r.db, "SELECT event_type, COUNT(*) FROM audit_events GROUP BY event_type", nil, func(rows *sql.Rows) error {
		var eventType EventType
		var count int64
		if err := rows.Scan(&eventType, &count); err != nil {
			return err
		}
		stats.EventsByType[eventType] = count
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get events by type: %w", err)
	}

	err = scanEach(ctx, r.db, "SELECT risk_level, COUNT(*) FROM audit_events GROUP BY risk_level", nil, func(rows *sql.Rows) error {
		var level RiskLevel
		var count int64
		if err := rows.Scan(&level, &count); err != nil {
			return err
		}
		stats.EventsByRiskLevel[level] = count
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get events by risk level: %w", err)
	}

	err = scanEach(ctx, r.db, `
		SELECT user_id, MAX(username), COUNT(*) FROM audit_events
		GROUP BY user_id ORDER BY COUNT(*) DESC, user_id LIMIT $1`,
		[]interface{}{TopListSize},
		func(rows *sql.Rows) error {
			var uc UserCount
			if err := rows.Scan(&uc.UserID, &uc.Username, &uc.Count); err != nil {
				return err
			}
			stats.TopUsers = append(stats.TopUsers, uc)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get top users: %w", err)
	}

	err = scanEach(ctx, r.db, `
		SELECT resource_type, resource_id, MAX(resource_name), COUNT(*) FROM audit_events
		GROUP BY resource_type, resource_id ORDER BY COUNT(*) DESC, resource_type, resource_id LIMIT $1`,
		[]interface{}{TopListSize},
		func(rows *sql.Rows) error {
			var rc ResourceCount
			if err := rows.Scan(&rc.ResourceType, &rc.ResourceID, &rc.ResourceName, &rc.Count); err != nil {
				return err
			}
			stats.TopResources = append(stats.TopResources, rc)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get top resources: %w", err)
	}

	return stats, nil
}

// scanEach runs query and hands every row to scan
func scanEach(ctx context.Context, db *sql.DB, query string, args []interface{}, scan func(*sql.Rows) error) error {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// DeleteOlderThan implements Repository
func (r *PostgresRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (deleted int64, err error) {
	ctx, span := tracer.Start(ctx, "PostgresRepository.DeleteOlderThan",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("audit.cutoff", cutoff.Format(time.RFC3339)),
		),
	)
	defer func() { endSpan(span, err) }()

	result, err := r.db.ExecContext(ctx, "DELETE FROM audit_events WHERE timestamp < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit events: %w", err)
	}

	deleted, err = result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted audit events: %w", err)
	}

	span.SetAttributes(attribute.Int64("audit.deleted", deleted))
	return deleted, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
