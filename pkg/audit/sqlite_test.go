package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteRepository(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()

	db, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo, err := NewSQLiteRepository(ctx, db)
	require.NoError(t, err)
	return repo
}

func TestSQLiteRepository_Contract(t *testing.T) {
	base := time.Now().UTC().Truncate(time.Microsecond)
	testRepositoryContract(t, newSQLiteRepository(t), base)
}

func TestNewSQLiteRepository_RequiresDB(t *testing.T) {
	_, err := NewSQLiteRepository(context.Background(), nil)
	assert.EqualError(t, err, "database connection is required")
}

func TestSQLiteRepository_SchemaIsIdempotent(t *testing.T) {
	repo := newSQLiteRepository(t)
	_, err := NewSQLiteRepository(context.Background(), repo.db)
	assert.NoError(t, err)
}

func TestSQLiteRepository_WithService(t *testing.T) {
	repo := newSQLiteRepository(t)
	svc := NewService(repo, WithClock(fixedClock(testNow)))

	require.NoError(t, svc.RecordFolderCreated(asUser(studentUser), FolderInfo{ID: "f1", Name: "Week 1"}))
	require.NoError(t, svc.RecordFolderCreated(asUser(studentUser), FolderInfo{ID: "f2", Name: "Week 2"}))

	result, err := svc.SearchEvents(context.Background(), NewSearchCriteria())
	require.NoError(t, err)
	require.Len(t, result.Events, 2)
	// identical clock readings still produce distinct, ordered timestamps
	assert.Equal(t, testNow.Add(time.Microsecond), result.Events[0].Timestamp)
	assert.Equal(t, testNow, result.Events[1].Timestamp)
}

func TestSQLiteWhereClause(t *testing.T) {
	where, args := sqliteWhereClause(NewSearchCriteria().WithUserIDs(2, 10).WithHighRiskOnly(true))
	assert.Equal(t, "WHERE 1=1 AND user_id IN (?,?) AND risk_level IN (?,?)", where)
	assert.Equal(t, []interface{}{int64(2), int64(10), "high", "critical"}, args)

	where, args = sqliteWhereClause(NewSearchCriteria().WithUserIDs())
	assert.Equal(t, "WHERE 1=1 AND 0", where)
	assert.Empty(t, args)
}
