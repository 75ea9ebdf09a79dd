package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	stepUpRecordVersion1  = 1
	maxStepUpRequirements = 255
)

var (
	ErrStepUpNotFound          = errors.New("step-up session not found")
	ErrStepUpBackend           = errors.New("step-up session backend unavailable")
	ErrStepUpRequirementAbsent = errors.New("step-up requirement not found")
)

// StepUpRequirement is one factor a session asks for. Code holds the raw
// delivered code for re-delivery and is never returned to clients.
type StepUpRequirement struct {
	ID          string
	Type        string
	Required    bool
	Completed   bool
	CompletedAt int64
	Destination string
	Code        string
	ExpiresAt   int64
}

// StepUpSession timestamps are unix milliseconds. CompletedAt is zero until
// the session completes.
type StepUpSession struct {
	ID           string
	UserID       string
	Purpose      string
	IPAddress    string
	UserAgent    string
	CreatedAt    int64
	CompletedAt  int64
	Completed    bool
	Requirements []StepUpRequirement
}

// Deadline is the latest requirement expiry. Sessions without requirements
// expire at creation.
func (s *StepUpSession) Deadline() int64 {
	deadline := s.CreatedAt
	for _, req := range s.Requirements {
		if req.ExpiresAt > deadline {
			deadline = req.ExpiresAt
		}
	}
	return deadline
}

type StepUpStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewStepUpStore(redisClient redis.UniversalClient, prefix string) *StepUpStore {
	if prefix == "" {
		prefix = "sus"
	}
	return &StepUpStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *StepUpStore) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *StepUpStore) Save(ctx context.Context, session *StepUpSession, ttl time.Duration) error {
	encoded, err := encodeStepUpSession(session)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(session.ID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStepUpBackend, err)
	}
	return nil
}

func (s *StepUpStore) Get(ctx context.Context, sessionID string) (*StepUpSession, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStepUpNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStepUpBackend, err)
	}
	return decodeStepUpSession(data)
}

func (s *StepUpStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStepUpBackend, err)
	}
	return n > 0, nil
}

// CompleteRequirement marks one requirement complete and then calls decide
// with the full, freshly read requirement set. When decide returns true the
// session itself is marked complete in the same transaction and completedNow
// is true. Completing an already completed requirement leaves it untouched.
func (s *StepUpStore) CompleteRequirement(
	ctx context.Context,
	sessionID, requirementID string,
	now time.Time,
	decide func(*StepUpSession) bool,
) (session *StepUpSession, completedNow bool, err error) {
	session, err = s.update(ctx, sessionID, func(current *StepUpSession) error {
		completedNow = false
		idx := -1
		for i := range current.Requirements {
			if current.Requirements[i].ID == requirementID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrStepUpRequirementAbsent
		}

		req := &current.Requirements[idx]
		if !req.Completed {
			req.Completed = true
			req.CompletedAt = now.UnixMilli()
		}
		if !current.Completed && decide != nil && decide(current) {
			current.Completed = true
			current.CompletedAt = now.UnixMilli()
			completedNow = true
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return session, completedNow, nil
}

// Consume deletes the session when accept returns nil. The accept error is
// returned unchanged and the session is kept otherwise.
func (s *StepUpStore) Consume(
	ctx context.Context,
	sessionID string,
	accept func(*StepUpSession) error,
) (*StepUpSession, error) {
	const maxRetries = 4
	key := s.key(sessionID)

	for i := 0; i < maxRetries; i++ {
		var consumed *StepUpSession
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			session, err := decodeStepUpSession(data)
			if err != nil {
				return err
			}
			if accept != nil {
				if err := accept(session); err != nil {
					return rejectedError{err: err}
				}
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err == nil {
				consumed = session
			}
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, s.mapErr(err)
		}
		return consumed, nil
	}

	return nil, ErrStepUpNotFound
}

func (s *StepUpStore) update(ctx context.Context, sessionID string, mutate func(*StepUpSession) error) (*StepUpSession, error) {
	const maxRetries = 4
	key := s.key(sessionID)

	for i := 0; i < maxRetries; i++ {
		var updated *StepUpSession
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			session, err := decodeStepUpSession(data)
			if err != nil {
				return err
			}
			if err := mutate(session); err != nil {
				return err
			}
			encoded, err := encodeStepUpSession(session)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, redis.KeepTTL)
				return nil
			})
			if err == nil {
				updated = session
			}
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, s.mapErr(err)
		}
		return updated, nil
	}

	return nil, fmt.Errorf("%w: contention on %s", ErrStepUpBackend, sessionID)
}

// rejectedError carries a caller callback error through the WATCH closure.
type rejectedError struct {
	err error
}

func (e rejectedError) Error() string { return e.err.Error() }

func (s *StepUpStore) mapErr(err error) error {
	var rejected rejectedError
	switch {
	case errors.As(err, &rejected):
		return rejected.err
	case errors.Is(err, redis.Nil):
		return ErrStepUpNotFound
	case errors.Is(err, ErrStepUpRequirementAbsent):
		return err
	}
	return fmt.Errorf("%w: %v", ErrStepUpBackend, err)
}

func encodeStepUpSession(session *StepUpSession) ([]byte, error) {
	if len(session.Requirements) > maxStepUpRequirements {
		return nil, errors.New("step-up requirement count exceeded")
	}

	var buf bytes.Buffer
	buf.WriteByte(stepUpRecordVersion1)

	for _, v := range []string{session.ID, session.UserID, session.Purpose, session.IPAddress, session.UserAgent} {
		if err := writeString16(&buf, v); err != nil {
			return nil, err
		}
	}
	if err := binary.Write(&buf, binary.BigEndian, session.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, session.CompletedAt); err != nil {
		return nil, err
	}
	writeBool(&buf, session.Completed)

	buf.WriteByte(byte(len(session.Requirements)))
	for _, req := range session.Requirements {
		for _, v := range []string{req.ID, req.Type, req.Destination, req.Code} {
			if err := writeString16(&buf, v); err != nil {
				return nil, err
			}
		}
		writeBool(&buf, req.Required)
		writeBool(&buf, req.Completed)
		if err := binary.Write(&buf, binary.BigEndian, req.CompletedAt); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.BigEndian, req.ExpiresAt); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func decodeStepUpSession(data []byte) (*StepUpSession, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != stepUpRecordVersion1 {
		return nil, errors.New("invalid step-up session version")
	}

	session := &StepUpSession{}
	for _, dst := range []*string{&session.ID, &session.UserID, &session.Purpose, &session.IPAddress, &session.UserAgent} {
		if *dst, err = readString16(reader); err != nil {
			return nil, err
		}
	}
	if err := binary.Read(reader, binary.BigEndian, &session.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &session.CompletedAt); err != nil {
		return nil, err
	}
	if session.Completed, err = readBool(reader); err != nil {
		return nil, err
	}

	count, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	session.Requirements = make([]StepUpRequirement, 0, count)
	for i := 0; i < int(count); i++ {
		var req StepUpRequirement
		for _, dst := range []*string{&req.ID, &req.Type, &req.Destination, &req.Code} {
			if *dst, err = readString16(reader); err != nil {
				return nil, err
			}
		}
		if req.Required, err = readBool(reader); err != nil {
			return nil, err
		}
		if req.Completed, err = readBool(reader); err != nil {
			return nil, err
		}
		if err := binary.Read(reader, binary.BigEndian, &req.CompletedAt); err != nil {
			return nil, err
		}
		if err := binary.Read(reader, binary.BigEndian, &req.ExpiresAt); err != nil {
			return nil, err
		}
		session.Requirements = append(session.Requirements, req)
	}

	return session, nil
}
