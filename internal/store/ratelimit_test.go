package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, client
}

func TestRateLimiter_AllowsUnderLimit(t *testing.T) {
	_, client := setupRedis(t)
	limiter := NewRateLimiter(client, "ratelimit:test:", 5, 15*time.Minute)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		allowed, err := limiter.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, allowed, "attempt %d should be allowed", i+1)
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	_, client := setupRedis(t)
	limiter := NewRateLimiter(client, "ratelimit:test:", 5, 15*time.Minute)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := limiter.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
	}

	allowed, err := limiter.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	_, client := setupRedis(t)
	limiter := NewRateLimiter(client, "ratelimit:test:", 1, 15*time.Minute)

	ctx := context.Background()
	allowed, err := limiter.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, allowed)

	blocked, err := limiter.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, blocked)

	other, err := limiter.Allow(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, other)
}

func TestRateLimiter_WindowResets(t *testing.T) {
	mr, client := setupRedis(t)
	limiter := NewRateLimiter(client, "ratelimit:test:", 1, time.Minute)

	ctx := context.Background()
	_, err := limiter.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)

	blocked, err := limiter.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, blocked)

	mr.FastForward(61 * time.Second)

	allowed, err := limiter.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimiter_FailsOpenOnRedisOutage(t *testing.T) {
	mr, client := setupRedis(t)
	limiter := NewRateLimiter(client, "ratelimit:test:", 5, time.Minute)

	mr.Close()

	allowed, err := limiter.Allow(context.Background(), "1.2.3.4")
	assert.Error(t, err)
	assert.True(t, allowed, "an unreachable limiter must not block traffic")
}
