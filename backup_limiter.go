package portalauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var errBackupRateLimited = errors.New("backup code rate limited")

// backupLimiter caps backup-code redemption failures per account. Backup
// codes are few and low-entropy relative to the secret, so the cooldown is
// longer than the TOTP one.
type backupLimiter struct {
	redis  *redis.Client
	config RateLimitConfig
}

func newBackupLimiter(redisClient *redis.Client, cfg RateLimitConfig) *backupLimiter {
	return &backupLimiter{redis: redisClient, config: cfg}
}

func (l *backupLimiter) key(accountID string) string {
	return "pkl:" + accountID
}

func (l *backupLimiter) Check(ctx context.Context, accountID string) error {
	count, err := l.redis.Get(ctx, l.key(accountID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count >= int64(l.config.BackupCodeMaxAttempts) {
		return errBackupRateLimited
	}
	return nil
}

func (l *backupLimiter) RecordFailure(ctx context.Context, accountID string) error {
	count, err := l.redis.Incr(ctx, l.key(accountID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, l.key(accountID), l.config.BackupCodeCooldown).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	if count >= int64(l.config.BackupCodeMaxAttempts) {
		return errBackupRateLimited
	}
	return nil
}

func (l *backupLimiter) Reset(ctx context.Context, accountID string) error {
	if err := l.redis.Del(ctx, l.key(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
