package stores

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"
)

// MemoryCodeStore is a process-local CodeStore. Codes do not survive a
// restart and are not shared between instances.
type MemoryCodeStore struct {
	mu      sync.Mutex
	entries map[string]OneTimeCode
}

func NewMemoryCodeStore() *MemoryCodeStore {
	return &MemoryCodeStore{entries: make(map[string]OneTimeCode)}
}

func memoryKey(purpose, subject string) string {
	return purpose + "\x00" + subject
}

func (s *MemoryCodeStore) Save(_ context.Context, record *OneTimeCode) error {
	s.mu.Lock()
	s.entries[memoryKey(record.Purpose, record.Subject)] = *record
	s.mu.Unlock()
	return nil
}

func (s *MemoryCodeStore) Consume(
	_ context.Context,
	subject, purpose string,
	codeHash [32]byte,
	now time.Time,
) error {
	key := memoryKey(purpose, subject)

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.sweepLocked(now)

	record, ok := s.entries[key]
	if !ok {
		return ErrCodeNotFound
	}
	if record.expired(now) {
		delete(s.entries, key)
		return ErrCodeExpired
	}
	if subtle.ConstantTimeCompare(record.CodeHash[:], codeHash[:]) != 1 {
		return ErrCodeMismatch
	}
	delete(s.entries, key)
	return nil
}

func (s *MemoryCodeStore) CleanupExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now), nil
}

func (s *MemoryCodeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryCodeStore) sweepLocked(now time.Time) int {
	removed := 0
	for key, record := range s.entries {
		if record.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}
