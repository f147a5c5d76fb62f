package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/coursetrail/pkg/observability"
)

// ErrCacheMiss is returned by a StatsCache holding no statistics
var ErrCacheMiss = errors.New("statistics not cached")

// StatsCache holds the most recent Statistics snapshot
type StatsCache interface {
	Get(ctx context.Context) (*Statistics, error)
	Set(ctx context.Context, stats *Statistics) error
	Invalidate(ctx context.Context) error
}

const statsCacheKey = "coursetrail:audit:statistics"

// RedisStatsCache shares statistics between replicas through Redis
type RedisStatsCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient connects to Redis at url. A non-empty password and a
// non-negative db override the URL.
func NewRedisClient(ctx context.Context, url, password string, db int) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	if db >= 0 {
		opts.DB = db
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// NewRedisStatsCache creates a cache whose entries expire after ttl
func NewRedisStatsCache(client *redis.Client, ttl time.Duration) *RedisStatsCache {
	return &RedisStatsCache{client: client, ttl: ttl}
}

// Get implements StatsCache
func (c *RedisStatsCache) Get(ctx context.Context) (*Statistics, error) {
	data, err := c.client.Get(ctx, statsCacheKey).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var stats Statistics
	if err := json.Unmarshal(data, &stats); err != nil {
		c.client.Del(ctx, statsCacheKey)
		return nil, fmt.Errorf("failed to unmarshal statistics: %w", err)
	}
	return &stats, nil
}

// Set implements StatsCache
func (c *RedisStatsCache) Set(ctx context.Context, stats *Statistics) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal statistics: %w", err)
	}
	if err := c.client.Set(ctx, statsCacheKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Invalidate implements StatsCache
func (c *RedisStatsCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, statsCacheKey).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// LRUStatsCache keeps statistics in process memory
type LRUStatsCache struct {
	cache *lru.LRU[string, *Statistics]
}

// NewLRUStatsCache creates an in-process cache whose entries expire after ttl
func NewLRUStatsCache(size int, ttl time.Duration) *LRUStatsCache {
	if size < 1 {
		size = 1
	}
	return &LRUStatsCache{cache: lru.NewLRU[string, *Statistics](size, nil, ttl)}
}

// Get implements StatsCache
func (c *LRUStatsCache) Get(ctx context.Context) (*Statistics, error) {
	stats, ok := c.cache.Get(statsCacheKey)
	if !ok {
		return nil, ErrCacheMiss
	}
	return stats, nil
}

// Set implements StatsCache
func (c *LRUStatsCache) Set(ctx context.Context, stats *Statistics) error {
	c.cache.Add(statsCacheKey, stats)
	return nil
}

// Invalidate implements StatsCache
func (c *LRUStatsCache) Invalidate(ctx context.Context) error {
	c.cache.Remove(statsCacheKey)
	return nil
}

// CachedRepository serves GetStatistics from a StatsCache and drops the
// cached value whenever events are added or removed. Cache failures are
// logged and never fail the call.
type CachedRepository struct {
	Repository
	cache     StatsCache
	cacheType string
	metrics   *observability.Metrics
	logger    *observability.Logger
}

// NewCachedRepository wraps next with cache; cacheType labels the metrics
func NewCachedRepository(next Repository, cache StatsCache, cacheType string, metrics *observability.Metrics, logger *observability.Logger) *CachedRepository {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &CachedRepository{
		Repository: next,
		cache:      cache,
		cacheType:  cacheType,
		metrics:    metrics,
		logger:     logger,
	}
}

// GetStatistics implements Repository
func (r *CachedRepository) GetStatistics(ctx context.Context) (*Statistics, error) {
	stats, err := r.cache.Get(ctx)
	if err == nil {
		if r.metrics != nil {
			r.metrics.CacheHitsTotal.WithLabelValues(r.cacheType).Inc()
		}
		return stats, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		r.logger.WithError(err).Warn("Statistics cache read failed")
	}
	if r.metrics != nil {
		r.metrics.CacheMissesTotal.WithLabelValues(r.cacheType).Inc()
	}

	stats, err = r.Repository.GetStatistics(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(ctx, stats); err != nil {
		r.logger.WithError(err).Warn("Statistics cache write failed")
	}
	return stats, nil
}

// Save implements Repository
func (r *CachedRepository) Save(ctx context.Context, event *AuditEvent) error {
	if err := r.Repository.Save(ctx, event); err != nil {
		return err
	}
	r.invalidate(ctx)
	return nil
}

// DeleteOlderThan implements Repository
func (r *CachedRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	deleted, err := r.Repository.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		r.invalidate(ctx)
	}
	return deleted, nil
}

func (r *CachedRepository) invalidate(ctx context.Context) {
	if err := r.cache.Invalidate(ctx); err != nil {
		r.logger.WithError(err).Warn("Statistics cache invalidation failed")
	}
}
