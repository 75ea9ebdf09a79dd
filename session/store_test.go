package session

import (
	"context"
	"crypto/sha256"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return NewStore(rdb, "as"), mr
}

func newSession(id, userID string) *Session {
	now := time.Now()
	return &Session{
		SessionID:     id,
		UserID:        userID,
		IPHash:        sha256.Sum256([]byte("10.0.0.1")),
		UserAgentHash: sha256.Sum256([]byte("ua")),
		CreatedAt:     now.Unix(),
		ExpiresAt:     now.Add(time.Hour).Unix(),
	}
}

func TestStoreSaveGetDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	in := newSession("s1", "u1")
	if err := store.Save(ctx, in, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	out, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if out.UserID != "u1" || out.IPHash != in.IPHash || out.ExpiresAt != in.ExpiresAt {
		t.Fatalf("unexpected session: %+v", out)
	}

	existed, err := store.Delete(ctx, "s1")
	if err != nil || !existed {
		t.Fatalf("Delete: existed=%v err=%v", existed, err)
	}
	existed, err = store.Delete(ctx, "s1")
	if err != nil || existed {
		t.Fatalf("second Delete must be a no-op: existed=%v err=%v", existed, err)
	}
	if _, err := store.Get(ctx, "s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestStoreGetRemovesLogicallyExpired(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := newSession("s1", "u1")
	sess.ExpiresAt = time.Now().Add(-time.Second).Unix()
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := store.Get(ctx, "s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected expired session to be rejected, got %v", err)
	}
	ids, err := store.ActiveSessionIDs(ctx, "u1")
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected empty index, got %v %v", ids, err)
	}
}

func TestDeleteAllForUserKeepsCurrent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		if err := store.Save(ctx, newSession(id, "u1"), time.Hour); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	if err := store.Save(ctx, newSession("other", "u2"), time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	removed, err := store.DeleteAllForUser(ctx, "u1", "s2")
	if err != nil {
		t.Fatalf("DeleteAllForUser failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 sessions removed, got %d", removed)
	}

	ids, err := store.ActiveSessionIDs(ctx, "u1")
	if err != nil {
		t.Fatalf("ActiveSessionIDs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "s2" {
		t.Fatalf("expected only s2 to remain, got %v", ids)
	}
	if _, err := store.Get(ctx, "other"); err != nil {
		t.Fatalf("other user's session must survive: %v", err)
	}

	removed, err = store.DeleteAllForUser(ctx, "u1", "")
	if err != nil || removed != 1 {
		t.Fatalf("expected final session removed, got %d %v", removed, err)
	}
}

func TestActiveSessionIDsPrunesExpiredKeys(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, newSession("short", "u1"), time.Second); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(ctx, newSession("long", "u1"), time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	mr.FastForward(2 * time.Second)

	ids, err := store.ActiveSessionIDs(ctx, "u1")
	if err != nil {
		t.Fatalf("ActiveSessionIDs failed: %v", err)
	}
	sort.Strings(ids)
	if len(ids) != 1 || ids[0] != "long" {
		t.Fatalf("expected only long-lived session, got %v", ids)
	}
	members, _ := mr.Members("asu:u1")
	if len(members) != 1 {
		t.Fatalf("expected stale index entry pruned, got %v", members)
	}
}

func TestStoreBackendError(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()
	if err := store.Save(context.Background(), newSession("s1", "u1"), time.Hour); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}

func FuzzDecode(f *testing.F) {
	seed, _ := Encode(newSession("s1", "u1"))
	f.Add(seed)
	f.Add([]byte{})
	f.Add([]byte{1, 200})
	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = Decode(data)
	})
}

func TestDecodeRejectsCorruptRecords(t *testing.T) {
	good, err := Encode(newSession("s1", "u1"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := Decode(good); err != nil {
		t.Fatalf("Decode of valid record failed: %v", err)
	}

	wrongVersion := append([]byte{}, good...)
	wrongVersion[0] = 9
	if _, err := Decode(wrongVersion); !errors.Is(err, errUnknownVersion) {
		t.Fatalf("expected errUnknownVersion, got %v", err)
	}
	if _, err := Decode(good[:len(good)-1]); !errors.Is(err, errTruncatedSession) {
		t.Fatalf("expected errTruncatedSession, got %v", err)
	}
	if _, err := Decode(append(good, 0)); !errors.Is(err, errTruncatedSession) {
		t.Fatalf("expected trailing byte rejection, got %v", err)
	}
}

func TestStoreGetUsesInjectedClock(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	store.WithClock(func() time.Time { return past })

	sess := newSession("s1", "u1")
	sess.ExpiresAt = past.Add(time.Hour).Unix()
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := store.Get(ctx, "s1"); err != nil {
		t.Fatalf("session is live on the injected clock: %v", err)
	}
}
