package session

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable is returned when the revocation backend cannot be
// reached. Callers must fail closed on it.
var ErrRedisUnavailable = errors.New("redis unavailable")

const (
	tombstonePrefix = "prs:"
	accountPrefix   = "pra:"
)

const minTombstoneTTL = time.Second

// Store records session revocations. Safe for concurrent use.
type Store struct {
	client redis.UniversalClient
	// maxLife bounds every tombstone and index TTL; it matches the
	// longest session token the signer can mint.
	maxLife time.Duration
}

// NewStore builds a Store over the given redis client. maxLife must equal
// the session token TTL so the account index outlives every token it
// covers.
func NewStore(client redis.UniversalClient, maxLife time.Duration) *Store {
	if maxLife < minTombstoneTTL {
		maxLife = minTombstoneTTL
	}
	return &Store{client: client, maxLife: maxLife}
}

// Track registers a freshly issued session id under its account so a
// later RevokeAccount can find it. Failure to track is not fatal to
// issuance; the caller decides.
func (s *Store) Track(ctx context.Context, accountID, sessionID string) error {
	key := accountPrefix + accountID
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, sessionID)
		pipe.Expire(ctx, key, s.maxLife)
		return nil
	})
	if err != nil {
		return ErrRedisUnavailable
	}
	return nil
}

// Revoke tombstones a single session id for the remainder of its token
// life. Idempotent.
func (s *Store) Revoke(ctx context.Context, sessionID string, remaining time.Duration) error {
	if remaining < minTombstoneTTL {
		remaining = minTombstoneTTL
	}
	if remaining > s.maxLife {
		remaining = s.maxLife
	}
	if err := s.client.Set(ctx, tombstonePrefix+sessionID, []byte{1}, remaining).Err(); err != nil {
		return ErrRedisUnavailable
	}
	return nil
}

// RevokeAccount tombstones every tracked session of the account and
// clears the index. Sessions issued after this call are unaffected.
func (s *Store) RevokeAccount(ctx context.Context, accountID string) error {
	key := accountPrefix + accountID
	ids, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return ErrRedisUnavailable
	}
	if len(ids) == 0 {
		return nil
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Set(ctx, tombstonePrefix+id, []byte{1}, s.maxLife)
		}
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return ErrRedisUnavailable
	}
	return nil
}

// IsRevoked reports whether the session id has been tombstoned.
func (s *Store) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.client.Exists(ctx, tombstonePrefix+sessionID).Result()
	if err != nil {
		return false, ErrRedisUnavailable
	}
	return n > 0, nil
}
