package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SQLiteRepository stores audit events in a single SQLite file. Timestamps
// are kept as Unix microseconds so range queries compare integers.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens the database file at path, creating it when missing
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return db, nil
}

// NewSQLiteRepository creates the repository and makes sure the schema exists
func NewSQLiteRepository(ctx context.Context, db *sql.DB) (*SQLiteRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	repo := &SQLiteRepository{db: db, now: time.Now}
	if err := repo.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_events table: %w", err)
	}
	return repo, nil
}

func (r *SQLiteRepository) ensureTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		user_email TEXT NOT NULL DEFAULT '',
		ip_address TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		resource_type TEXT NOT NULL DEFAULT '',
		resource_id TEXT NOT NULL DEFAULT '',
		resource_name TEXT NOT NULL DEFAULT '',
		risk_level TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		details TEXT NOT NULL DEFAULT '{}',
		session_id TEXT NOT NULL DEFAULT '',
		course_id INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_events_user_id ON audit_events(user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_resource ON audit_events(resource_type, resource_id);
	`

	_, err := r.db.ExecContext(ctx, query)
	return err
}

// Save implements Repository
func (r *SQLiteRepository) Save(ctx context.Context, event *AuditEvent) (err error) {
	ctx, span := tracer.Start(ctx, "SQLiteRepository.Save",
		trace.WithAttributes(
			attribute.String("db.system", "sqlite"),
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

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			event_type, timestamp,
			user_id, username, user_email, ip_address, display_name,
			resource_type, resource_id, resource_name,
			risk_level, description, details, session_id, course_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(event.EventType), event.Timestamp.UnixMicro(),
		event.User.UserID, event.User.Username, event.User.Email, event.User.IPAddress, event.User.DisplayName,
		string(event.Resource.ResourceType), event.Resource.ResourceID, event.Resource.ResourceName,
		string(event.RiskLevel), event.Description, string(detailsJSON), event.SessionID, event.CourseID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	event.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read audit event id: %w", err)
	}
	return nil
}

// sqliteWhereClause renders criteria with ? placeholders; sets become IN lists
func sqliteWhereClause(criteria SearchCriteria) (string, []interface{}) {
	conds := []string{"1=1"}
	var args []interface{}
	in := func(column string, values []interface{}) string {
		args = append(args, values...)
		return column + " IN (" + strings.TrimSuffix(strings.Repeat("?,", len(values)), ",") + ")"
	}

	if id, ok := criteria.UserID(); ok {
		conds = append(conds, "user_id = ?")
		args = append(args, id)
	}
	if ids, ok := criteria.UserIDs(); ok {
		if len(ids) == 0 {
			conds = append(conds, "0")
		} else {
			values := make([]interface{}, len(ids))
			for i, id := range ids {
				values[i] = id
			}
			conds = append(conds, in("user_id", values))
		}
	}
	if from := criteria.From(); !from.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, from.UnixMicro())
	}
	if to := criteria.To(); !to.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, to.UnixMicro())
	}
	if level := criteria.RiskLevel(); level != "" {
		conds = append(conds, "risk_level = ?")
		args = append(args, string(level))
	}
	if criteria.HighRiskOnly() {
		values := make([]interface{}, len(HighRiskLevels))
		for i, l := range HighRiskLevels {
			values[i] = string(l)
		}
		conds = append(conds, in("risk_level", values))
	}
	if types := criteria.EventTypes(); len(types) > 0 {
		values := make([]interface{}, len(types))
		for i, t := range types {
			values[i] = string(t)
		}
		conds = append(conds, in("event_type", values))
	}
	if resourceType, resourceID := criteria.Resource(); resourceType != "" || resourceID != "" {
		if resourceType != "" {
			conds = append(conds, "resource_type = ?")
			args = append(args, string(resourceType))
		}
		if resourceID != "" {
			conds = append(conds, "resource_id = ?")
			args = append(args, resourceID)
		}
	}

	return "WHERE " + strings.Join(conds, " AND "), args
}

// Search implements Repository
func (r *SQLiteRepository) Search(ctx context.Context, criteria SearchCriteria) (result *SearchResult, err error) {
	ctx, span := tracer.Start(ctx, "SQLiteRepository.Search",
		trace.WithAttributes(
			attribute.String("db.system", "sqlite"),
			attribute.Int("audit.limit", criteria.Limit()),
		),
	)
	defer func() { endSpan(span, err) }()

	where, args := sqliteWhereClause(criteria)

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_events "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}

	query := "SELECT " + eventColumns + " FROM audit_events " + where + " ORDER BY timestamp DESC, id DESC"
	switch {
	case criteria.Limit() > 0:
		query += " LIMIT ?"
		args = append(args, criteria.Limit())
	case criteria.Offset() > 0:
		query += " LIMIT -1"
	}
	if criteria.Offset() > 0 {
		query += " OFFSET ?"
		args = append(args, criteria.Offset())
	}

	events, err := r.queryEvents(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &SearchResult{Events: events, Total: total}, nil
}

// FindByResource implements Repository
func (r *SQLiteRepository) FindByResource(ctx context.Context, resourceType ResourceType, resourceID string, limit int) ([]*AuditEvent, error) {
	result, err := r.Search(ctx, NewSearchCriteria().WithResource(resourceType, resourceID).WithLimit(limit))
	if err != nil {
		return nil, err
	}
	return result.Events, nil
}

func (r *SQLiteRepository) queryEvents(ctx context.Context, query string, args ...interface{}) ([]*AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	events := make([]*AuditEvent, 0)
	for rows.Next() {
		event := &AuditEvent{Details: make(map[string]interface{})}
		var micros int64
		var detailsJSON string

		err := rows.Scan(
			&event.ID, &event.EventType, &micros,
			&event.User.UserID, &event.User.Username, &event.User.Email, &event.User.IPAddress, &event.User.DisplayName,
			&event.Resource.ResourceType, &event.Resource.ResourceID, &event.Resource.ResourceName,
			&event.RiskLevel, &event.Description, &detailsJSON, &event.SessionID, &event.CourseID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		event.Timestamp = time.UnixMicro(micros).UTC()

		if detailsJSON != "" {
			if err := json.Unmarshal([]byte(detailsJSON), &event.Details); err != nil {
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
func (r *SQLiteRepository) GetStatistics(ctx context.Context) (stats *Statistics, err error) {
	ctx, span := tracer.Start(ctx, "SQLiteRepository.GetStatistics",
		trace.WithAttributes(attribute.String("db.system", "sqlite")),
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
		"SELECT COUNT(*) FROM audit_events WHERE timestamp >= ?",
		r.now().Add(-24*time.Hour).UnixMicro(),
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
		GROUP BY user_id ORDER BY COUNT(*) DESC, user_id LIMIT ?`,
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
		GROUP BY resource_type, resource_id ORDER BY COUNT(*) DESC, resource_type, resource_id LIMIT ?`,
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

// DeleteOlderThan implements Repository
func (r *SQLiteRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (deleted int64, err error) {
	ctx, span := tracer.Start(ctx, "SQLiteRepository.DeleteOlderThan",
		trace.WithAttributes(
			attribute.String("db.system", "sqlite"),
			attribute.String("audit.cutoff", cutoff.Format(time.RFC3339)),
		),
	)
	defer func() { endSpan(span, err) }()

	result, err := r.db.ExecContext(ctx, "DELETE FROM audit_events WHERE timestamp < ?", cutoff.UnixMicro())
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit events: %w", err)
	}
	return result.RowsAffected()
}
