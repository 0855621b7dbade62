package portalauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/solstream/portalauth/internal"
)

var errBindingRateLimited = errors.New("binding rate limited")

// bindingLimiter throttles challenge issuance per (account, value) key so
// an attacker cannot farm fresh codes by re-requesting, independent of the
// per-challenge attempt counter.
type bindingLimiter struct {
	redis  *redis.Client
	config RateLimitConfig
}

func newBindingLimiter(redisClient *redis.Client, cfg RateLimitConfig) *bindingLimiter {
	return &bindingLimiter{redis: redisClient, config: cfg}
}

func (l *bindingLimiter) key(accountID, value string) string {
	return "pbl:" + accountID + ":" + internal.HashValue(value)
}

func (l *bindingLimiter) Allow(ctx context.Context, accountID, value string) error {
	key := l.key(accountID, value)

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.BindingRequestWindow).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	if count > int64(l.config.BindingRequestMax) {
		return errBindingRateLimited
	}
	return nil
}
