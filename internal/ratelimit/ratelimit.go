// Package ratelimit throttles chat frames per user, in memory or shared via Redis.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/c-pro/geche"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Rule allows Limit events per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

var DefaultMessageRule = Rule{Limit: 20, Window: 10 * time.Second}

type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// MemoryLimiter keeps a token bucket per key. Idle buckets expire.
type MemoryLimiter struct {
	rule    Rule
	buckets *geche.Locker[string, *rate.Limiter]
}

func NewMemoryLimiter(ctx context.Context, rule Rule) *MemoryLimiter {
	idle := 10 * rule.Window
	if idle < time.Minute {
		idle = time.Minute
	}
	return &MemoryLimiter{
		rule: rule,
		buckets: geche.NewLocker[string, *rate.Limiter](
			geche.NewMapTTLCache[string, *rate.Limiter](ctx, idle, time.Minute),
		),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) bool {
	tx := l.buckets.Lock()
	defer tx.Unlock()

	lim, err := tx.Get(key)
	if err != nil {
		lim = rate.NewLimiter(rate.Every(l.rule.Window/time.Duration(l.rule.Limit)), l.rule.Limit)
	}
	// Set refreshes the idle TTL.
	tx.Set(key, lim)
	return lim.Allow()
}

// RedisLimiter is a fixed window counter shared by every server instance.
// Redis errors fail open.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	rule   Rule
}

func NewRedisLimiter(client *redis.Client, prefix string, rule Rule) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, rule: rule}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) bool {
	k := l.prefix + key

	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		slog.Warn("rate limit INCR failed, failing open", "key", k, "error", err)
		return true
	}

	// The first increment opens the window.
	if count == 1 {
		if err := l.client.Expire(ctx, k, l.rule.Window).Err(); err != nil {
			slog.Warn("rate limit EXPIRE failed, failing open", "key", k, "error", err)
			l.client.Del(ctx, k)
			return true
		}
	}

	return int(count) <= l.rule.Limit
}
