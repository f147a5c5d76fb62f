package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRepositoryContract exercises behaviour every Repository must share.
// base is a microsecond-precision instant near the present.
func testRepositoryContract(t *testing.T, repo Repository, base time.Time) {
	ctx := context.Background()

	uploaded := event(0, EventTypeItemUploaded, RiskLow, 10, base.Add(-2*time.Hour))
	uploaded.Resource = ResourceContext{ResourceType: ResourceTypeItem, ResourceID: "i1", ResourceName: "notes.pdf"}
	uploaded.Details = map[string]interface{}{"size": 2048, "filename": "notes.pdf"}
	uploaded.User.Email = "alice@example.com"
	uploaded.SessionID = "sess-10"
	uploaded.CourseID = 100

	deleted := event(0, EventTypeItemDeleted, RiskHigh, 2, base.Add(-time.Hour))
	deleted.Resource = uploaded.Resource

	critical := event(0, EventTypeFolderDeleted, RiskCritical, 10, base)
	expired := event(0, EventTypeViewAccessed, RiskLow, 11, base.AddDate(-2, 0, 0))
	expired.Resource = ResourceContext{ResourceType: ResourceTypeView, ResourceID: "v1", ResourceName: "Gallery"}

	for _, e := range []*AuditEvent{uploaded, deleted, critical, expired} {
		require.NoError(t, repo.Save(ctx, e))
		require.NotZero(t, e.ID)
	}

	t.Run("round trip", func(t *testing.T) {
		result, err := repo.Search(ctx, NewSearchCriteria().WithEventTypes(EventTypeItemUploaded))
		require.NoError(t, err)
		require.Len(t, result.Events, 1)

		got := result.Events[0]
		assert.Equal(t, uploaded.ID, got.ID)
		assert.True(t, uploaded.Timestamp.Equal(got.Timestamp))
		assert.Equal(t, uploaded.User, got.User)
		assert.Equal(t, uploaded.Resource, got.Resource)
		assert.Equal(t, "notes.pdf", got.Details["filename"])
		assert.EqualValues(t, 2048, got.Details["size"])
		assert.Equal(t, "sess-10", got.SessionID)
		assert.Equal(t, int64(100), got.CourseID)
	})

	t.Run("newest first with total", func(t *testing.T) {
		result, err := repo.Search(ctx, NewSearchCriteria().WithLimit(2).WithOffset(1))
		require.NoError(t, err)
		assert.Equal(t, int64(4), result.Total)
		assert.Equal(t, []int64{deleted.ID, uploaded.ID}, ids(result.Events))

		result, err = repo.Search(ctx, NewSearchCriteria().WithOffset(3))
		require.NoError(t, err)
		assert.Equal(t, []int64{expired.ID}, ids(result.Events))
	})

	t.Run("filters", func(t *testing.T) {
		tests := []struct {
			name     string
			criteria SearchCriteria
			want     []int64
		}{
			{"user", NewSearchCriteria().WithUserID(10), []int64{critical.ID, uploaded.ID}},
			{"user set", NewSearchCriteria().WithUserIDs(2, 11), []int64{deleted.ID, expired.ID}},
			{"empty user set", NewSearchCriteria().WithUserIDs(), []int64{}},
			{"high risk", NewSearchCriteria().WithHighRiskOnly(true), []int64{critical.ID, deleted.ID}},
			{"risk level", NewSearchCriteria().WithRiskLevel(RiskCritical), []int64{critical.ID}},
			{"range", NewSearchCriteria().WithDateRange(base.Add(-90*time.Minute), base), []int64{critical.ID, deleted.ID}},
			{"resource", NewSearchCriteria().WithResource(ResourceTypeItem, "i1"), []int64{deleted.ID, uploaded.ID}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				result, err := repo.Search(ctx, tt.criteria)
				require.NoError(t, err)
				assert.Equal(t, tt.want, ids(result.Events))
				assert.Equal(t, int64(len(tt.want)), result.Total)
			})
		}
	})

	t.Run("resource trail", func(t *testing.T) {
		events, err := repo.FindByResource(ctx, ResourceTypeItem, "i1", 1)
		require.NoError(t, err)
		assert.Equal(t, []int64{deleted.ID}, ids(events))

		events, err = repo.FindByResource(ctx, ResourceTypeItem, "", 0)
		require.NoError(t, err)
		assert.Equal(t, []int64{deleted.ID, uploaded.ID}, ids(events), "an empty id matches every item")
	})

	t.Run("statistics", func(t *testing.T) {
		stats, err := repo.GetStatistics(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(4), stats.TotalEvents)
		assert.Equal(t, int64(3), stats.UniqueUsers)
		assert.Equal(t, int64(3), stats.EventsLast24Hours)
		assert.Equal(t, int64(1), stats.EventsByType[EventTypeItemDeleted])
		assert.Equal(t, int64(2), stats.EventsByRiskLevel[RiskLow])
		require.NotEmpty(t, stats.TopUsers)
		assert.Equal(t, int64(10), stats.TopUsers[0].UserID)
		assert.Equal(t, int64(2), stats.TopUsers[0].Count)
		require.NotEmpty(t, stats.TopResources)
		assert.Equal(t, "i1", stats.TopResources[0].ResourceID)
	})

	t.Run("delete older than", func(t *testing.T) {
		n, err := repo.DeleteOlderThan(ctx, base.AddDate(0, 0, -365))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		result, err := repo.Search(ctx, NewSearchCriteria())
		require.NoError(t, err)
		assert.Equal(t, int64(3), result.Total)
	})
}

func TestMemoryRepository_Contract(t *testing.T) {
	base := time.Now().UTC().Truncate(time.Microsecond)
	testRepositoryContract(t, NewMemoryRepository(), base)
}
