package ratelimit

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/subhub/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const orderKeyPrefix = "subhub:ratelimit:orders:"

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Redis  *redis.Client `optional:"true"`
}

// OrderLimiter throttles order mutations (create, cancel, resume, tariff change) per user.
type OrderLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
	log    *zap.Logger
}

// NewOrderLimiter returns a limiter that admits everything when rate limiting is
// disabled or redis is unavailable.
func NewOrderLimiter(p Params) *OrderLimiter {
	log := p.Log.Named("ratelimit.orders")
	cfg := p.Config.RateLimit
	if !cfg.Enabled || p.Redis == nil {
		return &OrderLimiter{log: log}
	}
	return &OrderLimiter{
		bucket: NewTokenBucket(p.Redis),
		rate:   cfg.OrderRate,
		burst:  cfg.OrderBurst,
		log:    log,
	}
}

// Enabled reports whether requests are actually throttled.
func (l *OrderLimiter) Enabled() bool {
	return l != nil && l.bucket != nil && l.rate > 0 && l.burst > 0
}

// AllowUser consumes one token from the user's bucket. Redis failures fail open.
func (l *OrderLimiter) AllowUser(ctx context.Context, userID string) *RateLimitResult {
	userID = strings.TrimSpace(userID)
	if !l.Enabled() || userID == "" {
		return &RateLimitResult{Allowed: true}
	}

	result, err := l.bucket.Allow(ctx, orderKeyPrefix+userID, l.rate, l.burst)
	if err != nil {
		l.log.Warn("rate limiter unavailable, allowing request",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return &RateLimitResult{Allowed: true}
	}
	return result
}
