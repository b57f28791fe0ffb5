package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/subhub/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newLimiter(t *testing.T, enabled bool, burst int) (*OrderLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.Config{RateLimit: config.RateLimitConfig{
		Enabled:    enabled,
		OrderRate:  0.001,
		OrderBurst: burst,
	}}
	return NewOrderLimiter(Params{Config: cfg, Log: zap.NewNop(), Redis: client}), mr
}

func TestOrderLimiterExhaustsBurst(t *testing.T) {
	limiter, _ := newLimiter(t, true, 2)
	ctx := context.Background()

	assert.True(t, limiter.AllowUser(ctx, "7").Allowed)
	assert.True(t, limiter.AllowUser(ctx, "7").Allowed)

	denied := limiter.AllowUser(ctx, "7")
	assert.False(t, denied.Allowed)
	assert.Equal(t, 2, denied.Limit)
	assert.Positive(t, denied.RetryAfter)

	assert.True(t, limiter.AllowUser(ctx, "8").Allowed, "buckets are per user")
}

func TestOrderLimiterDisabled(t *testing.T) {
	limiter, _ := newLimiter(t, false, 1)
	ctx := context.Background()

	assert.False(t, limiter.Enabled())
	for i := 0; i < 5; i++ {
		assert.True(t, limiter.AllowUser(ctx, "7").Allowed)
	}
}

func TestOrderLimiterFailsOpen(t *testing.T) {
	limiter, mr := newLimiter(t, true, 1)
	mr.Close()

	assert.True(t, limiter.AllowUser(context.Background(), "7").Allowed)
}

func TestOrderLimiterWithoutRedis(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, OrderRate: 1, OrderBurst: 1}}
	limiter := NewOrderLimiter(Params{Config: cfg, Log: zap.NewNop()})

	assert.False(t, limiter.Enabled())
	assert.True(t, limiter.AllowUser(context.Background(), "7").Allowed)
}

func TestTokenBucketValidatesArguments(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	bucket := NewTokenBucket(client)
	ctx := context.Background()

	_, err := bucket.Allow(ctx, "", 1, 1)
	require.Error(t, err)
	_, err = bucket.Allow(ctx, "k", 0, 1)
	require.Error(t, err)
	_, err = bucket.Allow(ctx, "k", 1, 0)
	require.Error(t, err)

	var nilBucket *TokenBucket
	_, err = nilBucket.Allow(ctx, "k", 1, 1)
	require.Error(t, err)
}
