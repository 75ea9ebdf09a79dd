package stores

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
)

const (
	oneTimeCodeRecordVersion1 = 1
)

var (
	ErrCodeNotFound = errors.New("one-time code not found")
	ErrCodeExpired  = errors.New("one-time code expired")
	ErrCodeMismatch = errors.New("one-time code mismatch")
	ErrCodeBackend  = errors.New("one-time code backend unavailable")
)

// OneTimeCode is the persisted form of an issued code. Only the sha256 of the
// code is kept. Timestamps are unix milliseconds.
type OneTimeCode struct {
	Subject   string
	Purpose   string
	CodeHash  [32]byte
	CreatedAt int64
	ExpiresAt int64
}

func (c *OneTimeCode) expired(now time.Time) bool {
	return c.ExpiresAt < now.UnixMilli()
}

// CodeStore keeps at most one live code per (subject, purpose).
type CodeStore interface {
	Save(ctx context.Context, record *OneTimeCode) error
	Consume(ctx context.Context, subject, purpose string, codeHash [32]byte, now time.Time) error
	CleanupExpired(ctx context.Context, now time.Time) (int, error)
}

type RedisCodeStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisCodeStore keeps records for retention past their expiry so that a
// late verify reports ErrCodeExpired instead of ErrCodeNotFound.
func NewRedisCodeStore(redisClient redis.UniversalClient, prefix string, retention time.Duration) *RedisCodeStore {
	if prefix == "" {
		prefix = "otc"
	}
	if retention < 0 {
		retention = 0
	}
	return &RedisCodeStore{
		redis:     redisClient,
		prefix:    prefix,
		retention: retention,
	}
}

func (s *RedisCodeStore) key(purpose, subject string) string {
	return s.prefix + ":" + purpose + ":" + subject
}

func (s *RedisCodeStore) Save(ctx context.Context, record *OneTimeCode) error {
	encoded, err := encodeOneTimeCode(record)
	if err != nil {
		return err
	}
	ttl := time.Duration(record.ExpiresAt-record.CreatedAt)*time.Millisecond + s.retention
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.redis.Set(ctx, s.key(record.Purpose, record.Subject), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCodeBackend, err)
	}
	return nil
}

func (s *RedisCodeStore) Consume(
	ctx context.Context,
	subject, purpose string,
	codeHash [32]byte,
	now time.Time,
) error {
	const maxRetries = 4
	key := s.key(purpose, subject)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeOneTimeCode(data)
			if err != nil {
				return err
			}

			if record.expired(now) {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrCodeExpired
			}

			if subtle.ConstantTimeCompare(record.CodeHash[:], codeHash[:]) != 1 {
				return ErrCodeMismatch
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return ErrCodeNotFound
			case errors.Is(err, ErrCodeExpired), errors.Is(err, ErrCodeMismatch):
				return err
			}
			return fmt.Errorf("%w: %v", ErrCodeBackend, err)
		}
		return nil
	}

	return fmt.Errorf("%w: contention after %d attempts", ErrCodeBackend, maxRetries)
}

// CleanupExpired scans the store prefix and removes records whose expiry has
// passed. A record re-issued between the read and the delete is left alone.
func (s *RedisCodeStore) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	match := s.prefix + ":*"

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, match, 256).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrCodeBackend, err)
		}

		for _, key := range keys {
			deleted, err := s.evictIfExpired(ctx, key, now)
			if err != nil {
				return removed, err
			}
			if deleted {
				removed++
			}
		}

		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func (s *RedisCodeStore) evictIfExpired(ctx context.Context, key string, now time.Time) (bool, error) {
	var deleted bool
	err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		record, err := decodeOneTimeCode(data)
		if err != nil || !record.expired(now) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		if err == nil {
			deleted = true
		}
		return err
	}, key)

	switch {
	case err == nil:
		return deleted, nil
	case errors.Is(err, redis.Nil), errors.Is(err, redis.TxFailedErr):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrCodeBackend, err)
	}
}

func encodeOneTimeCode(record *OneTimeCode) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(oneTimeCodeRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	buf.Write(record.CodeHash[:])

	if err := writeString16(&buf, record.Subject); err != nil {
		return nil, err
	}
	if err := writeString16(&buf, record.Purpose); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeOneTimeCode(data []byte) (*OneTimeCode, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != oneTimeCodeRecordVersion1 {
		return nil, errors.New("invalid one-time code version")
	}

	record := &OneTimeCode{}
	if err := binary.Read(reader, binary.BigEndian, &record.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, record.CodeHash[:]); err != nil {
		return nil, err
	}
	if record.Subject, err = readString16(reader); err != nil {
		return nil, err
	}
	if record.Purpose, err = readString16(reader); err != nil {
		return nil, err
	}

	return record, nil
}
