package portalauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solstream/portalauth/internal"
)

const oauthStateKeyPrefix = "pos"

var (
	errStateNotFound         = errors.New("oauth state not found")
	errStateRedisUnavailable = errors.New("oauth state redis unavailable")
)

// encodeState embeds the provider name in the state value so the callback
// can be routed without a lookup. The nonce carries the entropy; the
// provider prefix is plain text by design.
func encodeState(provider, nonce string) string {
	return provider + "." + nonce
}

func decodeState(state string) (provider, nonce string, err error) {
	idx := strings.IndexByte(state, '.')
	if idx <= 0 || idx == len(state)-1 {
		return "", "", ErrStateInvalid
	}
	return state[:idx], state[idx+1:], nil
}

// oauthStateStore persists single-use exchange-state records between the
// redirect to the provider and the callback. Client-side nonce comparison
// alone would suffice when the caller's storage is trusted; the
// server-side record additionally makes every state single-use.
type oauthStateStore struct {
	redis *redis.Client
}

func newOAuthStateStore(redisClient *redis.Client) *oauthStateStore {
	return &oauthStateStore{redis: redisClient}
}

func (s *oauthStateStore) key(nonce string) string {
	return oauthStateKeyPrefix + ":" + internal.HashValue(nonce)
}

// Save records the state with the provider and redirect URI it was minted
// for. The TTL bounds how long a pending exchange may stay open.
func (s *oauthStateStore) Save(ctx context.Context, nonce, provider, redirectURI string, ttl time.Duration) error {
	payload := provider + "\x00" + redirectURI
	if err := s.redis.Set(ctx, s.key(nonce), payload, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errStateRedisUnavailable, err)
	}
	return nil
}

// Consume removes and returns the record in one round trip, so two
// concurrent callbacks with the same state cannot both pass verification.
func (s *oauthStateStore) Consume(ctx context.Context, nonce string) (provider, redirectURI string, err error) {
	payload, err := s.redis.GetDel(ctx, s.key(nonce)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", "", errStateNotFound
		}
		return "", "", fmt.Errorf("%w: %v", errStateRedisUnavailable, err)
	}

	idx := strings.IndexByte(payload, 0)
	if idx < 0 {
		return "", "", errStateNotFound
	}
	return payload[:idx], payload[idx+1:], nil
}
