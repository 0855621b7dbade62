package portalauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/solstream/portalauth/internal"
)

var errPasswordRateLimited = errors.New("password rate limited")

// passwordLimiter throttles password verification per identifier. The key
// is derived from the submitted email, not a resolved account id, so
// probing for account existence is throttled the same as real failures.
type passwordLimiter struct {
	redis  *redis.Client
	config RateLimitConfig
}

func newPasswordLimiter(redisClient *redis.Client, cfg RateLimitConfig) *passwordLimiter {
	return &passwordLimiter{redis: redisClient, config: cfg}
}

func (l *passwordLimiter) key(email string) string {
	return "ppl:" + internal.HashValue(email)
}

func (l *passwordLimiter) Check(ctx context.Context, email string) error {
	count, err := l.redis.Get(ctx, l.key(email)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count >= int64(l.config.PasswordMaxAttempts) {
		return errPasswordRateLimited
	}
	return nil
}

func (l *passwordLimiter) RecordFailure(ctx context.Context, email string) error {
	count, err := l.redis.Incr(ctx, l.key(email)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, l.key(email), l.config.PasswordCooldown).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	if count >= int64(l.config.PasswordMaxAttempts) {
		return errPasswordRateLimited
	}
	return nil
}

func (l *passwordLimiter) Reset(ctx context.Context, email string) error {
	if err := l.redis.Del(ctx, l.key(email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
