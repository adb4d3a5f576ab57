package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"colleague-auth/internal/client"
	"colleague-auth/internal/config"
	"colleague-auth/internal/repository"
	"colleague-auth/internal/util"
)

const (
	verificationCodePrefix  = "verification_code:"
	verificationCountPrefix = "verification_count:"

	opTimeout = 5 * time.Second
)

// VerificationCache stores the SMS verification code of a mobile number and
// counts how many codes were requested for it.
type VerificationCache struct {
	client      *client.RedisClient
	codeTTL     time.Duration
	countWindow time.Duration
	logger      *zap.Logger
}

func NewVerificationCache(c *client.RedisClient, cfg config.VerificationConfig, logger *zap.Logger) *VerificationCache {
	codeTTL, window := cfg.CodeTTL, cfg.CountWindow
	if codeTTL <= 0 {
		codeTTL = 10 * time.Minute
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &VerificationCache{client: c, codeTTL: codeTTL, countWindow: window, logger: logger}
}

// RequestCount returns the number of codes requested in the current window.
func (c *VerificationCache) RequestCount(ctx context.Context, mobile string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := c.client.Get(ctx, verificationCountPrefix+mobile)
	if errors.Is(err, client.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		c.logger.Error("Failed to read verification request count", util.Mobile(mobile), zap.Error(err))
		return 0, fmt.Errorf("failed to read verification request count: %w", err)
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt verification request count %q: %w", raw, err)
	}
	return n, nil
}

// SetCode stores code for mobile and counts the request.
func (c *VerificationCache) SetCode(ctx context.Context, mobile, code string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	pipe := c.client.Client.TxPipeline()
	pipe.Set(ctx, verificationCodePrefix+mobile, code, c.codeTTL)
	count := pipe.Incr(ctx, verificationCountPrefix+mobile)
	pipe.Expire(ctx, verificationCountPrefix+mobile, c.countWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Error("Failed to store verification code", util.Mobile(mobile), zap.Error(err))
		return fmt.Errorf("failed to store verification code: %w", err)
	}

	c.logger.Debug("Verification code stored",
		util.Mobile(mobile),
		zap.Int64("request_count", count.Val()),
		zap.Duration("ttl", c.codeTTL))
	return nil
}

// GetCode returns repository.ErrNotFound when no unexpired code exists.
func (c *VerificationCache) GetCode(ctx context.Context, mobile string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	code, err := c.client.Get(ctx, verificationCodePrefix+mobile)
	if errors.Is(err, client.ErrKeyNotFound) {
		return "", repository.ErrNotFound
	}
	if err != nil {
		c.logger.Error("Failed to read verification code", util.Mobile(mobile), zap.Error(err))
		return "", fmt.Errorf("failed to read verification code: %w", err)
	}
	return code, nil
}

// DeleteCode consumes the code. The request counter is kept.
func (c *VerificationCache) DeleteCode(ctx context.Context, mobile string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := c.client.Del(ctx, verificationCodePrefix+mobile); err != nil {
		c.logger.Error("Failed to delete verification code", util.Mobile(mobile), zap.Error(err))
		return fmt.Errorf("failed to delete verification code: %w", err)
	}
	return nil
}
