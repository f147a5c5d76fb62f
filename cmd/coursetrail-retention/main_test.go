package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/coursetrail/pkg/audit"
	"github.com/platinummonkey/coursetrail/pkg/config"
	"github.com/platinummonkey/coursetrail/pkg/observability"
)

func TestShareStatsCache_InvalidatesRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	cfg := &config.Config{Cache: config.CacheConfig{
		Type:     config.CacheRedis,
		TTL:      time.Minute,
		RedisURL: "redis://" + mr.Addr(),
		RedisDB:  -1,
	}}

	base := audit.NewMemoryRepository()
	old := &audit.AuditEvent{
		EventType: audit.EventTypeViewAccessed,
		Timestamp: time.Now().AddDate(-2, 0, 0),
		RiskLevel: audit.RiskLow,
	}
	require.NoError(t, base.Save(ctx, old))

	repo, closeCache, err := shareStatsCache(ctx, cfg, base, observability.NopLogger())
	require.NoError(t, err)
	defer closeCache()

	stats, err := repo.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalEvents)
	require.Len(t, mr.Keys(), 1, "statistics are cached in redis")

	deleted, err := repo.DeleteOlderThan(ctx, time.Now().AddDate(-1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Empty(t, mr.Keys(), "retention clears the shared statistics")
}

func TestShareStatsCache_NoRedis(t *testing.T) {
	base := audit.NewMemoryRepository()
	for _, cacheType := range []string{config.CacheNone, config.CacheLRU} {
		cfg := &config.Config{Cache: config.CacheConfig{Type: cacheType}}
		repo, closeCache, err := shareStatsCache(context.Background(), cfg, base, nil)
		require.NoError(t, err)
		closeCache()
		assert.Same(t, base, repo)
	}
}
