package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"colleague-auth/internal/client"
	"colleague-auth/internal/config"
	"colleague-auth/internal/repository"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *client.RedisClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := client.NewRedisClient(config.RedisConfig{URL: "redis://" + mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestVerificationCache(t *testing.T) {
	ctx := context.Background()
	mr, c := newTestClient(t)
	cache := NewVerificationCache(c, config.VerificationConfig{
		CodeTTL:     10 * time.Minute,
		CountWindow: 24 * time.Hour,
	}, zap.NewNop())

	count, err := cache.RequestCount(ctx, "12345678910")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	_, err = cache.GetCode(ctx, "12345678910")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, cache.SetCode(ctx, "12345678910", "482913"))
	require.NoError(t, cache.SetCode(ctx, "12345678910", "482913"))

	code, err := cache.GetCode(ctx, "12345678910")
	require.NoError(t, err)
	assert.Equal(t, "482913", code)

	count, err = cache.RequestCount(ctx, "12345678910")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	assert.Equal(t, 10*time.Minute, mr.TTL("verification_code:12345678910"))
	assert.Equal(t, 24*time.Hour, mr.TTL("verification_count:12345678910"))

	mr.FastForward(11 * time.Minute)
	_, err = cache.GetCode(ctx, "12345678910")
	assert.ErrorIs(t, err, repository.ErrNotFound, "code expires before the counter")
	count, err = cache.RequestCount(ctx, "12345678910")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	mr.FastForward(24 * time.Hour)
	count, err = cache.RequestCount(ctx, "12345678910")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestVerificationCacheDeleteCode(t *testing.T) {
	ctx := context.Background()
	_, c := newTestClient(t)
	cache := NewVerificationCache(c, config.VerificationConfig{}, zap.NewNop())

	require.NoError(t, cache.SetCode(ctx, "100200300", "111111"))
	require.NoError(t, cache.DeleteCode(ctx, "100200300"))

	_, err := cache.GetCode(ctx, "100200300")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	count, err := cache.RequestCount(ctx, "100200300")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestVerificationCacheCorruptCount(t *testing.T) {
	mr, c := newTestClient(t)
	cache := NewVerificationCache(c, config.VerificationConfig{}, zap.NewNop())
	require.NoError(t, mr.Set("verification_count:1", "abc"))

	_, err := cache.RequestCount(context.Background(), "1")
	assert.Error(t, err)
}

func TestRateLimitCache(t *testing.T) {
	ctx := context.Background()
	mr, c := newTestClient(t)
	limiter := NewRateLimitCache(c, zap.NewNop())

	for i := 0; i < 3; i++ {
		ok, _, err := limiter.Allow(ctx, "login", "10.0.0.1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, retry, err := limiter.Allow(ctx, "login", "10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, retry)

	ok, _, err = limiter.Allow(ctx, "login", "10.0.0.2", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")

	mr.FastForward(time.Minute)
	ok, _, err = limiter.Allow(ctx, "login", "10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "window resets")
}
