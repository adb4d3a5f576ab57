package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"colleague-auth/internal/client"
)

const rateLimitPrefix = "rate_limit:"

// RateLimitCache counts requests per key in fixed windows.
type RateLimitCache struct {
	client *client.RedisClient
	logger *zap.Logger
}

func NewRateLimitCache(c *client.RedisClient, logger *zap.Logger) *RateLimitCache {
	return &RateLimitCache{client: c, logger: logger}
}

// Allow counts one request for scope and key and reports whether it is
// within limit. When denied, retryAfter is the remaining window.
func (c *RateLimitCache) Allow(ctx context.Context, scope, key string, limit int64, window time.Duration) (allowed bool, retryAfter time.Duration, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	redisKey := rateLimitPrefix + scope + ":" + key

	count, err := c.client.IncrFixedWindow(ctx, redisKey, window)
	if err != nil {
		c.logger.Error("Failed to increment rate limit counter",
			zap.String("scope", scope),
			zap.String("key", key),
			zap.Error(err))
		return false, 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	if count <= limit {
		return true, 0, nil
	}

	ttl, err := c.client.TTL(ctx, redisKey)
	if err != nil || ttl < 0 {
		ttl = window
	}
	c.logger.Debug("Rate limit exceeded",
		zap.String("scope", scope),
		zap.String("key", key),
		zap.Int64("count", count),
		zap.Int64("limit", limit))
	return false, ttl, nil
}
