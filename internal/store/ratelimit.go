package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RateLimiter is a fixed-window counter backed by Redis, shared across
// all server instances. Best-effort throttling only: a Redis outage
// fails open and never blocks protocol traffic.
type RateLimiter struct {
	c      *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

func NewRateLimiter(c *redis.Client, prefix string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		c:      c,
		prefix: prefix,
		limit:  int64(limit),
		window: window,
	}
}

// Allow counts one attempt for key and reports whether it is within the
// window limit.
func (l *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s%s", l.prefix, key)

	n, err := l.c.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, fmt.Errorf("rate limit incr failed: %w", err)
	}
	if n == 1 {
		// First hit opens the window.
		if err := l.c.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return true, fmt.Errorf("rate limit expire failed: %w", err)
		}
	}

	return n <= l.limit, nil
}
