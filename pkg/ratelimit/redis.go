package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisLimiter is a fixed-window counter shared by every coursetrail instance
type RedisLimiter struct {
	client *redis.Client
	config Config
	prefix string
}

// NewRedisLimiter creates a limiter storing counters under prefix
func NewRedisLimiter(client *redis.Client, config Config, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "coursetrail:ratelimit"
	}
	return &RedisLimiter{
		client: client,
		config: config.withDefaults(),
		prefix: prefix,
	}
}

// Allow counts the request in key's current window
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		ttl = pipe.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		return Decision{Allowed: true}, fmt.Errorf("redis error: %w", err)
	}

	remainingWindow := ttl.Val()
	if remainingWindow < 0 {
		// First hit in this window; start the clock.
		if err := l.client.PExpire(ctx, redisKey, l.config.Window).Err(); err != nil {
			return Decision{Allowed: true}, fmt.Errorf("redis error: %w", err)
		}
		remainingWindow = l.config.Window
	}

	count := int(incr.Val())
	capacity := l.config.Capacity()
	d := Decision{
		Allowed: count <= capacity,
		Limit:   l.config.RequestsPerWindow,
		Reset:   time.Now().Add(remainingWindow),
	}
	if remaining := capacity - count; remaining > 0 {
		d.Remaining = remaining
	}
	return d, nil
}

// Reset clears the counter for key
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, fmt.Sprintf("%s:%s", l.prefix, key)).Err()
}
