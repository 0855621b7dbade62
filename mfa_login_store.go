package portalauth

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	mfaLoginKeyPrefix      = "pmc"
	mfaLoginRecordVersion1 = 1
)

var (
	errMFALoginNotFound    = errors.New("mfa login challenge not found")
	errMFALoginExpired     = errors.New("mfa login challenge expired")
	errMFALoginExceeded    = errors.New("mfa login challenge attempts exceeded")
	errMFALoginUnavailable = errors.New("mfa login challenge backend unavailable")
)

// mfaLoginChallenge bridges a successful first factor (password or OAuth)
// and the pending second factor. It identifies the account only; the code
// itself is verified against the directory's MFA state.
type mfaLoginChallenge struct {
	AccountID string
	ExpiresAt int64
	Attempts  uint16
}

type mfaLoginStore struct {
	redis *redis.Client
}

func newMFALoginStore(redisClient *redis.Client) *mfaLoginStore {
	return &mfaLoginStore{redis: redisClient}
}

func (s *mfaLoginStore) key(challengeID string) string {
	return mfaLoginKeyPrefix + ":" + challengeID
}

func (s *mfaLoginStore) Save(ctx context.Context, challengeID string, record *mfaLoginChallenge, ttl time.Duration) error {
	encoded, err := encodeMFALoginChallenge(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(challengeID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errMFALoginUnavailable, err)
	}
	return nil
}

func (s *mfaLoginStore) Get(ctx context.Context, challengeID string) (*mfaLoginChallenge, error) {
	data, err := s.redis.Get(ctx, s.key(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errMFALoginNotFound
		}
		return nil, fmt.Errorf("%w: %v", errMFALoginUnavailable, err)
	}

	record, err := decodeMFALoginChallenge(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(challengeID)).Result()
		return nil, errMFALoginExpired
	}
	return record, nil
}

// Delete reports whether the challenge was present, so the caller can tell
// a consumed challenge from a replay.
func (s *mfaLoginStore) Delete(ctx context.Context, challengeID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(challengeID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errMFALoginUnavailable, err)
	}
	return n > 0, nil
}

// RecordFailure increments the attempt counter under WATCH so concurrent
// failures cannot double-count, deleting the challenge once the cap is
// reached.
func (s *mfaLoginStore) RecordFailure(ctx context.Context, challengeID string, maxAttempts int) (bool, error) {
	const maxRetries = 4
	key := s.key(challengeID)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeMFALoginChallenge(data)
			if err != nil {
				return err
			}
			if time.Now().Unix() > record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return errMFALoginExpired
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				return errMFALoginExpired
			}
			updated, err := encodeMFALoginChallenge(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return false, errMFALoginNotFound
			case errors.Is(err, errMFALoginExpired):
				return false, err
			default:
				return false, fmt.Errorf("%w: %v", errMFALoginUnavailable, err)
			}
		}
		return exceeded, nil
	}

	return false, errMFALoginNotFound
}

func encodeMFALoginChallenge(record *mfaLoginChallenge) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(mfaLoginRecordVersion1)
	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.AccountID) > 65535 {
		return nil, errors.New("mfa login record account id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.AccountID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.AccountID)

	return buf.Bytes(), nil
}

func decodeMFALoginChallenge(data []byte) (*mfaLoginChallenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != mfaLoginRecordVersion1 {
		return nil, errors.New("invalid mfa login record version")
	}

	record := &mfaLoginChallenge{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var accountIDLen uint16
	if err := binary.Read(reader, binary.BigEndian, &accountIDLen); err != nil {
		return nil, err
	}
	accountID := make([]byte, accountIDLen)
	if _, err := io.ReadFull(reader, accountID); err != nil {
		return nil, err
	}
	record.AccountID = string(accountID)

	return record, nil
}
