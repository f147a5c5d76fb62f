// Package ratelimit caps how many requests each caller may make to the
// audit API. Limits are keyed by user id, or by client address for
// requests that never reached the identity middleware.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines a rate limit
type Config struct {
	// RequestsPerWindow is the sustained number of requests per window
	RequestsPerWindow int
	// Window is the refill period
	Window time.Duration
	// Burst is extra capacity above RequestsPerWindow
	Burst int
}

// DefaultConfig returns 600 requests per minute with a burst of 60
func DefaultConfig() Config {
	return Config{
		RequestsPerWindow: 600,
		Window:            time.Minute,
		Burst:             60,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.RequestsPerWindow <= 0 {
		c.RequestsPerWindow = def.RequestsPerWindow
	}
	if c.Window <= 0 {
		c.Window = def.Window
	}
	if c.Burst < 0 {
		c.Burst = 0
	}
	return c
}

// Capacity is the most requests a fresh key may make at once
func (c Config) Capacity() int {
	return c.RequestsPerWindow + c.Burst
}

// Decision is the outcome of one Allow call
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is when the key regains full capacity
	Reset time.Time
}

// Limiter decides whether key may make another request
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// LocalLimiter is an in-process token bucket per key
type LocalLimiter struct {
	config Config
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// bucket tracks a per-key limiter and when it was last used
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter creates an in-process limiter
func NewLocalLimiter(config Config) *LocalLimiter {
	return &LocalLimiter{
		config:  config.withDefaults(),
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

func (l *LocalLimiter) refillRate() rate.Limit {
	return rate.Limit(float64(l.config.RequestsPerWindow) / l.config.Window.Seconds())
}

// Allow takes one token from key's bucket
func (l *LocalLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.refillRate(), l.config.Capacity())}
		l.buckets[key] = b
	}
	b.lastSeen = now

	d := Decision{
		Allowed: b.limiter.AllowN(now, 1),
		Limit:   l.config.RequestsPerWindow,
	}
	tokens := b.limiter.TokensAt(now)
	if tokens > 0 {
		d.Remaining = int(tokens)
	}
	missing := float64(l.config.Capacity()) - tokens
	d.Reset = now.Add(time.Duration(missing / float64(b.limiter.Limit()) * float64(time.Second)))
	return d, nil
}

// Cleanup drops buckets idle for more than two windows
func (l *LocalLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > 2*l.config.Window {
			delete(l.buckets, key)
		}
	}
}

// StartCleanup runs Cleanup every window until ctx is done
func (l *LocalLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(l.config.Window)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (l *LocalLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
