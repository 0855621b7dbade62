package portalauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var errMFARateLimited = errors.New("mfa rate limited")

// mfaLimiter caps consecutive TOTP verification failures per account.
// TOTP verification itself is side-effect-free, so the limiter is the only
// state a failed attempt touches.
type mfaLimiter struct {
	redis  *redis.Client
	config RateLimitConfig
}

func newMFALimiter(redisClient *redis.Client, cfg RateLimitConfig) *mfaLimiter {
	return &mfaLimiter{redis: redisClient, config: cfg}
}

func (l *mfaLimiter) key(accountID string) string {
	return "pml:" + accountID
}

func (l *mfaLimiter) Check(ctx context.Context, accountID string) error {
	count, err := l.redis.Get(ctx, l.key(accountID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count >= int64(l.config.MFAMaxAttempts) {
		return errMFARateLimited
	}
	return nil
}

func (l *mfaLimiter) RecordFailure(ctx context.Context, accountID string) error {
	count, err := l.redis.Incr(ctx, l.key(accountID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, l.key(accountID), l.config.MFACooldown).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	if count >= int64(l.config.MFAMaxAttempts) {
		return errMFARateLimited
	}
	return nil
}

func (l *mfaLimiter) Reset(ctx context.Context, accountID string) error {
	if err := l.redis.Del(ctx, l.key(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
