package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRedisUnavailable = errors.New("redis unavailable")
	ErrSessionNotFound  = errors.New("session not found")
)

const deleteSessionScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
end
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// Store keeps application sessions in Redis with a per-user index set so
// that every session of a user can be revoked at once.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewStore creates a session [Store]. prefix sets the Redis key namespace.
func NewStore(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "as"
	}
	return &Store{
		redis:  redisClient,
		prefix: prefix,
		now:    time.Now,
	}
}

// WithClock sets the clock Get compares ExpiresAt against. A nil now keeps
// time.Now.
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + "u:" + userID
}

// Save persists a [Session] and indexes it under its user.
//
//	Performance: 1 MULTI round trip (SET + SADD).
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.SessionID), data, ttl)
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.SessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get returns the session or ErrSessionNotFound. Sessions past ExpiresAt
// are removed on read.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.SessionID = sessionID

	if sess.ExpiresAt > 0 && sess.ExpiresAt <= s.now().Unix() {
		if _, err := s.deleteSessionAndIndex(ctx, sess.UserID, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Delete removes a session and its index entry. Deleting a missing session
// is not an error; the returned bool reports whether it existed.
func (s *Store) Delete(ctx context.Context, sessionID string) (bool, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return false, err
	}
	return s.deleteSessionAndIndex(ctx, sess.UserID, sessionID)
}

// DeleteAllForUser removes every session of the user except keepSessionID
// (which may be empty) and returns how many live sessions were removed.
//
// The index is read before the delete; a session created in between
// survives this call.
func (s *Store) DeleteAllForUser(ctx context.Context, userID, keepSessionID string) (int, error) {
	userKey := s.userKey(userID)

	sessionIDs, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	targets := make([]string, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		if id != keepSessionID {
			targets = append(targets, id)
		}
	}
	if len(targets) == 0 {
		return 0, nil
	}

	pipe := s.redis.Pipeline()
	existsCmds := make([]*redis.IntCmd, len(targets))
	for i, id := range targets {
		existsCmds[i] = pipe.Exists(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	existing := 0
	for _, cmd := range existsCmds {
		existing += int(cmd.Val())
	}

	members := make([]interface{}, len(targets))
	keys := make([]string, len(targets))
	for i, id := range targets {
		members[i] = id
		keys[i] = s.key(id)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.SRem(ctx, userKey, members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return existing, nil
}

// ActiveSessionIDs returns the indexed session IDs of a user. Entries whose
// session key already expired are pruned from the index.
func (s *Store) ActiveSessionIDs(ctx context.Context, userID string) ([]string, error) {
	userKey := s.userKey(userID)
	ids, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return []string{}, nil
	}

	pipe := s.redis.Pipeline()
	existsCmds := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		existsCmds[i] = pipe.Exists(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	live := make([]string, 0, len(ids))
	var stale []interface{}
	for i, cmd := range existsCmds {
		if cmd.Val() == 1 {
			live = append(live, ids[i])
		} else {
			stale = append(stale, ids[i])
		}
	}
	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, userKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return live, nil
}

func (s *Store) deleteSessionAndIndex(ctx context.Context, userID, sessionID string) (bool, error) {
	existed, err := deleteSessionLua.Run(ctx, s.redis, []string{s.key(sessionID), s.userKey(userID)}, sessionID).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return existed == 1, nil
}
