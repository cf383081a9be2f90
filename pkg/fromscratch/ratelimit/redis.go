// Package ratelimit provides a Redis-backed rate limiter for deployments
// that keep the ingestion hot path off the primary store. The repository's
// RegisterHit remains the default limiter.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter counts hits per session in a fixed window using INCR with a
// TTL set on the first hit. The key expiring is the window reset.
type RedisLimiter struct {
	client *redis.Client
	max    int
	window time.Duration
}

// NewRedisLimiter creates a limiter allowing max hits per window.
func NewRedisLimiter(client *redis.Client, max int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, max: max, window: window}
}

func (l *RedisLimiter) key(sessionID string) string {
	return "ratelimit:" + sessionID
}

// Allow reports whether the session is under its hit ceiling. Errors are
// returned to the caller, which decides the failure policy.
func (l *RedisLimiter) Allow(ctx context.Context, sessionID string) (bool, error) {
	key := l.key(sessionID)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("incr %s: %w", key, err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return false, fmt.Errorf("expire %s: %w", key, err)
		}
	}
	return count <= int64(l.max), nil
}

// Close releases the underlying client connection.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
