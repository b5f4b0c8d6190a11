package riskgate

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
	mfaChallengeKeyPrefix = "rg:mc"
	mfaChallengeVersion1  = 1
)

var (
	errMFAChallengeNotFound = errors.New("mfa challenge not found")
	errMFAChallengeExpired  = errors.New("mfa challenge expired")
	errMFAChallengeBackend  = errors.New("mfa challenge backend unavailable")
)

// mfaChallenge is the pending-gate record. It pins the fingerprint and
// risk score observed at login so the session issued after verification
// is bound to the device that started the attempt, not the one that
// finished it.
type mfaChallenge struct {
	AccountID   string
	Fingerprint [32]byte
	RiskScore   uint8
	ExpiresAt   int64
	Attempts    uint16
}

type mfaChallengeStore struct {
	redis redis.UniversalClient
}

func newMFAChallengeStore(redisClient redis.UniversalClient) *mfaChallengeStore {
	return &mfaChallengeStore{redis: redisClient}
}

func (s *mfaChallengeStore) key(challengeID string) string {
	return mfaChallengeKeyPrefix + ":" + challengeID
}

func (s *mfaChallengeStore) Save(
	ctx context.Context,
	challengeID string,
	record *mfaChallenge,
	ttl time.Duration,
) error {
	encoded, err := encodeMFAChallenge(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(challengeID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errMFAChallengeBackend, err)
	}
	return nil
}

func (s *mfaChallengeStore) Get(ctx context.Context, challengeID string) (*mfaChallenge, error) {
	data, err := s.redis.Get(ctx, s.key(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errMFAChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", errMFAChallengeBackend, err)
	}

	record, err := decodeMFAChallenge(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(challengeID)).Result()
		return nil, errMFAChallengeExpired
	}
	return record, nil
}

// Delete removes the challenge (single use). Reports whether it still
// existed, so concurrent verifications cannot both win.
func (s *mfaChallengeStore) Delete(ctx context.Context, challengeID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(challengeID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errMFAChallengeBackend, err)
	}
	return n > 0, nil
}

// RecordFailure bumps the attempt counter under WATCH so concurrent
// failures cannot overshoot the budget. Returns exceeded=true when the
// budget is spent; the record is deleted in the same transaction.
func (s *mfaChallengeStore) RecordFailure(
	ctx context.Context,
	challengeID string,
	maxAttempts int,
) (remaining int, exceeded bool, err error) {
	const maxRetries = 4
	key := s.key(challengeID)

	for i := 0; i < maxRetries; i++ {
		var (
			attemptExceeded bool
			attemptsLeft    int
		)
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeMFAChallenge(data)
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
				return errMFAChallengeExpired
			}

			record.Attempts++
			attemptsLeft = maxAttempts - int(record.Attempts)
			if attemptsLeft <= 0 {
				attemptExceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return errMFAChallengeExpired
			}

			updated, err := encodeMFAChallenge(record)
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
			if errors.Is(err, redis.Nil) {
				return 0, false, errMFAChallengeNotFound
			}
			if errors.Is(err, errMFAChallengeExpired) {
				return 0, false, err
			}
			return 0, false, fmt.Errorf("%w: %v", errMFAChallengeBackend, err)
		}
		return attemptsLeft, attemptExceeded, nil
	}

	return 0, false, errMFAChallengeNotFound
}

func encodeMFAChallenge(record *mfaChallenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(mfaChallengeVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	buf.WriteByte(record.RiskScore)
	buf.Write(record.Fingerprint[:])

	if len(record.AccountID) > 65535 {
		return nil, errors.New("mfa challenge account id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.AccountID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.AccountID)

	return buf.Bytes(), nil
}

func decodeMFAChallenge(data []byte) (*mfaChallenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != mfaChallengeVersion1 {
		return nil, errors.New("invalid mfa challenge version")
	}

	record := &mfaChallenge{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	score, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	record.RiskScore = score

	if _, err := io.ReadFull(reader, record.Fingerprint[:]); err != nil {
		return nil, err
	}

	var accountLen uint16
	if err := binary.Read(reader, binary.BigEndian, &accountLen); err != nil {
		return nil, err
	}
	account := make([]byte, accountLen)
	if _, err := io.ReadFull(reader, account); err != nil {
		return nil, err
	}
	record.AccountID = string(account)

	return record, nil
}
