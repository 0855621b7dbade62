package portalauth

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solstream/portalauth/internal"
)

const (
	bindingKeyPrefix       = "pbc"
	bindingIndexPrefix     = "pbi"
	bindingRecordVersionV1 = 1
	bindingStatusIssued    = 0
	bindingStatusExhausted = 1
	bindingStatusPending   = 2
)

var (
	errBindingNotFound         = errors.New("binding challenge not found")
	errBindingExpired          = errors.New("binding challenge expired")
	errBindingCodeMismatch     = errors.New("binding code mismatch")
	errBindingAttemptsExceeded = errors.New("binding attempts exceeded")
	errBindingRedisUnavailable = errors.New("binding redis unavailable")
)

// bindingChallenge is the ephemeral proof-of-control record. The code is
// kept in the record so a repeat request inside the validity window can
// return the same code instead of minting a fresh one.
type bindingChallenge struct {
	AccountID string
	IDType    IdentifierType
	Value     string
	Code      string
	ExpiresAt int64
	Attempts  uint16
	Status    uint8
}

// bindingChallengeStore keeps challenges in redis under two keys: the
// challenge id itself, and an (account, value) index used for idempotent
// issuance. Both expire with the challenge TTL; no background sweep is
// needed for correctness.
type bindingChallengeStore struct {
	redis *redis.Client
}

func newBindingChallengeStore(redisClient *redis.Client) *bindingChallengeStore {
	return &bindingChallengeStore{redis: redisClient}
}

func (s *bindingChallengeStore) key(challengeID string) string {
	return bindingKeyPrefix + ":" + challengeID
}

func (s *bindingChallengeStore) indexKey(accountID string, value string) string {
	return bindingIndexPrefix + ":" + accountID + ":" + internal.HashValue(value)
}

// Issue stores a fresh challenge unless one is still active for the same
// (account, value) pair, in which case the active challenge is returned
// with its original code. Reissuing the same code avoids giving a guesser
// a second independent code to attack. Index and record are written in a
// single transaction under WATCH so a concurrent request can never
// observe a dangling index and mint a second live code for the pair.
func (s *bindingChallengeStore) Issue(
	ctx context.Context,
	challengeID string,
	record *bindingChallenge,
	ttl time.Duration,
) (string, *bindingChallenge, error) {
	const maxRetries = 4
	idx := s.indexKey(record.AccountID, record.Value)

	encoded, err := encodeBindingChallenge(record)
	if err != nil {
		return "", nil, err
	}

	for i := 0; i < maxRetries; i++ {
		var (
			activeID     string
			activeRecord *bindingChallenge
		)

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			existingID, err := tx.Get(ctx, idx).Result()
			if err == nil {
				existing, getErr := s.get(ctx, existingID)
				if getErr == nil && existing.Status == bindingStatusIssued {
					activeID = existingID
					activeRecord = existing
					return nil
				}
				// Stale index (exhausted, mid-commit, or just-expired
				// challenge): claim it for the new challenge.
			} else if !errors.Is(err, redis.Nil) {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, idx, challengeID, ttl)
				pipe.Set(ctx, s.key(challengeID), encoded, ttl)
				return nil
			})
			return err
		}, idx)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", errBindingRedisUnavailable, err)
		}
		if activeRecord != nil {
			return activeID, activeRecord, nil
		}
		return challengeID, record, nil
	}

	return "", nil, fmt.Errorf("%w: issue contention", errBindingRedisUnavailable)
}

func (s *bindingChallengeStore) get(ctx context.Context, challengeID string) (*bindingChallenge, error) {
	data, err := s.redis.Get(ctx, s.key(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errBindingNotFound
		}
		return nil, fmt.Errorf("%w: %v", errBindingRedisUnavailable, err)
	}
	return decodeBindingChallenge(data)
}

// Consume performs the match check, attempt increment, and status
// transition as one atomic read-modify-write. Expiry is decided by
// wall-clock comparison here, not by a sweeper. An exhausted challenge
// stays in redis until its TTL so a late correct code is still answered
// with "attempts exceeded" rather than "not found".
//
// A matched challenge is not deleted; it moves to a pending-commit state
// that no other submission can claim. The caller must either Finalize it
// once the identifier write is durable, or Release it back to issued if
// that write could not complete.
func (s *bindingChallengeStore) Consume(
	ctx context.Context,
	challengeID string,
	submittedCode string,
	maxAttempts int,
) (*bindingChallenge, error) {
	const maxRetries = 4
	key := s.key(challengeID)

	for i := 0; i < maxRetries; i++ {
		var matched *bindingChallenge

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeBindingChallenge(data)
			if err != nil {
				return err
			}

			now := time.Now()
			if now.Unix() > record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					pipe.Del(ctx, s.indexKey(record.AccountID, record.Value))
					return nil
				})
				if err != nil {
					return err
				}
				return errBindingExpired
			}

			if record.Status == bindingStatusPending {
				return errBindingNotFound
			}
			if record.Status == bindingStatusExhausted {
				return errBindingAttemptsExceeded
			}

			if subtle.ConstantTimeCompare([]byte(record.Code), []byte(submittedCode)) != 1 {
				record.Attempts++
				if int(record.Attempts) >= maxAttempts {
					record.Status = bindingStatusExhausted
				}

				ttl := time.Until(time.Unix(record.ExpiresAt, 0))
				if ttl <= 0 {
					return errBindingExpired
				}
				updated, err := encodeBindingChallenge(record)
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				if record.Status == bindingStatusExhausted {
					return errBindingAttemptsExceeded
				}
				return errBindingCodeMismatch
			}

			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				return errBindingExpired
			}
			record.Status = bindingStatusPending
			updated, err := encodeBindingChallenge(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			if err != nil {
				return err
			}

			matched = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, errBindingNotFound
			case errors.Is(err, errBindingNotFound),
				errors.Is(err, errBindingExpired),
				errors.Is(err, errBindingCodeMismatch),
				errors.Is(err, errBindingAttemptsExceeded):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", errBindingRedisUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, errBindingNotFound
}

// Finalize deletes a pending-commit challenge once its identifier write
// is durable. The index is left alone if another challenge has claimed it
// in the meantime. A failed delete is harmless, the TTL is the backstop.
func (s *bindingChallengeStore) Finalize(ctx context.Context, challengeID string, record *bindingChallenge) error {
	idx := s.indexKey(record.AccountID, record.Value)

	owner, err := s.redis.Get(ctx, idx).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", errBindingRedisUnavailable, err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(challengeID))
		if owner == challengeID {
			pipe.Del(ctx, idx)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errBindingRedisUnavailable, err)
	}
	return nil
}

// Release returns a pending-commit challenge to issued state so the same
// code can be retried after a transient directory failure. A challenge
// past its expiry is left to lapse.
func (s *bindingChallengeStore) Release(ctx context.Context, challengeID string, record *bindingChallenge) error {
	ttl := time.Until(time.Unix(record.ExpiresAt, 0))
	if ttl <= 0 {
		return nil
	}

	restored := *record
	restored.Status = bindingStatusIssued
	encoded, err := encodeBindingChallenge(&restored)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(challengeID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errBindingRedisUnavailable, err)
	}
	return nil
}

func encodeBindingChallenge(record *bindingChallenge) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(bindingRecordVersionV1)
	buf.WriteByte(record.Status)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	for _, field := range []string{record.AccountID, string(record.IDType), record.Value, record.Code} {
		if len(field) > 65535 {
			return nil, errors.New("binding record field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodeBindingChallenge(data []byte) (*bindingChallenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != bindingRecordVersionV1 {
		return nil, errors.New("invalid binding record version")
	}

	status, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &bindingChallenge{Status: status}

	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	fields := make([]string, 4)
	for i := range fields {
		var length uint16
		if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
			return nil, err
		}
		raw := make([]byte, length)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		fields[i] = string(raw)
	}

	record.AccountID = fields[0]
	record.IDType = IdentifierType(fields[1])
	record.Value = fields[2]
	record.Code = fields[3]

	return record, nil
}
