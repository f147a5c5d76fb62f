//go:build integration

package audit

import (
	"context"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgresRepository(t *testing.T) *PostgresRepository {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("coursetrail_test"),
		postgres.WithUsername("coursetrail"),
		postgres.WithPassword("coursetrail"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := OpenPostgres(ctx, connStr, 5, 1, time.Minute, 10*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo, err := NewPostgresRepository(ctx, db)
	require.NoError(t, err)

	// schema creation is idempotent
	_, err = NewPostgresRepository(ctx, db)
	require.NoError(t, err)

	return repo
}

func TestPostgresRepository_Integration(t *testing.T) {
	repo := setupPostgresRepository(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	svc := NewService(repo, WithClock(func() time.Time { return now }))
	require.NoError(t, svc.RecordFolderCreated(asUser(studentUser), FolderInfo{ID: "f1", Name: "Week 1", Path: "/Week 1"}))
	require.NoError(t, svc.RecordItemUploaded(asUser(studentUser), ItemInfo{ID: "i1", Filename: "notes.pdf", Size: 2048}))
	require.NoError(t, svc.RecordItemDeleted(asUser(teacherUser), ItemInfo{ID: "i1", Filename: "notes.pdf"}))

	old := event(0, EventTypeViewAccessed, RiskLow, 10, now.AddDate(-2, 0, 0))
	require.NoError(t, repo.Save(ctx, old))

	t.Run("search newest first", func(t *testing.T) {
		result, err := repo.Search(ctx, NewSearchCriteria().WithUserID(10))
		require.NoError(t, err)
		assert.Equal(t, int64(3), result.Total)
		require.Len(t, result.Events, 3)
		assert.Equal(t, EventTypeItemUploaded, result.Events[0].EventType)
		assert.Equal(t, now.Add(time.Microsecond), result.Events[0].Timestamp.UTC())
		assert.Equal(t, float64(2048), result.Events[0].Details["size"])
		assert.Equal(t, "alice@example.com", result.Events[0].User.Email)
		assert.Equal(t, int64(100), result.Events[0].CourseID)
	})

	t.Run("user sets and high risk", func(t *testing.T) {
		result, err := repo.Search(ctx, NewSearchCriteria().WithUserIDs(2, 99).WithHighRiskOnly(true))
		require.NoError(t, err)
		require.Len(t, result.Events, 1)
		assert.Equal(t, EventTypeItemDeleted, result.Events[0].EventType)

		empty, err := repo.Search(ctx, NewSearchCriteria().WithUserIDs())
		require.NoError(t, err)
		assert.Zero(t, empty.Total)
	})

	t.Run("resource trail", func(t *testing.T) {
		events, err := repo.FindByResource(ctx, ResourceTypeItem, "i1", 10)
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("statistics", func(t *testing.T) {
		stats, err := repo.GetStatistics(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(4), stats.TotalEvents)
		assert.Equal(t, int64(2), stats.UniqueUsers)
		assert.Equal(t, int64(3), stats.EventsLast24Hours)
		assert.Equal(t, int64(1), stats.EventsByRiskLevel[RiskHigh])
		require.NotEmpty(t, stats.TopUsers)
		assert.Equal(t, int64(10), stats.TopUsers[0].UserID)
	})

	t.Run("retention", func(t *testing.T) {
		deleted, err := svc.CleanOldEvents(ctx, 365)
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		result, err := repo.Search(ctx, NewSearchCriteria())
		require.NoError(t, err)
		assert.Equal(t, int64(3), result.Total)
	})
}

func TestPostgresRepository_Contract(t *testing.T) {
	base := time.Now().UTC().Truncate(time.Microsecond)
	testRepositoryContract(t, setupPostgresRepository(t), base)
}
