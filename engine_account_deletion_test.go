package neoauth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/neosign/neoauth"
)

func TestCanDeleteAccountPhoneDoesNotSubstitute(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.addUser(testUser, testEmail)
	env.enrollPhone(t, testUser, testPhone)

	ok, err := env.engine.CanDeleteAccount(ctx, testUser)
	if ok || !errors.Is(err, neoauth.ErrEmailTwoFactorRequired) {
		t.Fatalf("expected ErrEmailTwoFactorRequired, got %v %v", ok, err)
	}
	if !errors.Is(err, neoauth.ErrPreconditionNotMet) {
		t.Fatal("precondition errors must match ErrPreconditionNotMet")
	}

	env.enrollEmail(t, testUser, testEmail)
	ok, err = env.engine.CanDeleteAccount(ctx, testUser)
	if ok || !errors.Is(err, neoauth.ErrAuthenticatorRequired) {
		t.Fatalf("expected ErrAuthenticatorRequired, got %v %v", ok, err)
	}

	env.enrollAuthenticator(t, testUser)
	ok, err = env.engine.CanDeleteAccount(ctx, testUser)
	if !ok || err != nil {
		t.Fatalf("expected deletion to be allowed, got %v %v", ok, err)
	}
}

func TestCanDeleteAccountUnknownUser(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.engine.CanDeleteAccount(context.Background(), "ghost"); !errors.Is(err, neoauth.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func deletableEnv(t *testing.T, mutate func(*neoauth.Config)) *testEnv {
	t.Helper()
	env := enrolledEnv(t, mutate)
	env.enrollAuthenticator(t, testUser)
	return env
}

func TestScheduleDeletionRevokesOtherSessions(t *testing.T) {
	env := deletableEnv(t, nil)
	ctx := context.Background()

	current, err := env.engine.StartSession(ctx, testUser)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := env.engine.StartSession(ctx, testUser); err != nil {
			t.Fatalf("StartSession failed: %v", err)
		}
	}

	schedule, err := env.engine.ScheduleDeletion(neoauth.WithSessionID(ctx, current), testUser, "moving on")
	if err != nil {
		t.Fatalf("ScheduleDeletion failed: %v", err)
	}
	if schedule.RevokedSessions != 2 {
		t.Fatalf("expected two revoked sessions, got %d", schedule.RevokedSessions)
	}
	wantAt := env.clock.Now().Add(15 * 24 * time.Hour)
	if !schedule.ScheduledAt.Equal(wantAt) {
		t.Fatalf("expected deletion at %v, got %v", wantAt, schedule.ScheduledAt)
	}

	ids, err := env.engine.ActiveSessionIDs(ctx, testUser)
	if err != nil {
		t.Fatalf("ActiveSessionIDs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != current {
		t.Fatalf("expected only the current session to survive, got %v", ids)
	}

	user, err := env.users.GetUser(ctx, testUser)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if user.Status != neoauth.AccountPendingDeletion || user.DeletionScheduledAt == nil || user.DeletionReason != "moving on" {
		t.Fatalf("unexpected user after scheduling: %+v", user)
	}

	if _, err := env.engine.ScheduleDeletion(ctx, testUser, ""); !errors.Is(err, neoauth.ErrAlreadyPendingDeletion) {
		t.Fatalf("expected ErrAlreadyPendingDeletion, got %v", err)
	}
}

func TestScheduleDeletionRevocationFailure(t *testing.T) {
	env := deletableEnv(t, nil)
	ctx := context.Background()

	if _, err := env.engine.StartSession(ctx, testUser); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	env.mr.SetError("LOADING")
	_, err := env.engine.ScheduleDeletion(ctx, testUser, "")
	env.mr.SetError("")

	if !errors.Is(err, neoauth.ErrSessionInvalidationFailed) {
		t.Fatalf("expected ErrSessionInvalidationFailed, got %v", err)
	}
	user, _ := env.users.GetUser(ctx, testUser)
	if user.Status != neoauth.AccountPendingDeletion {
		t.Fatalf("account must stay pending after revocation failure, got %s", user.Status)
	}
}

func TestCancelDeletion(t *testing.T) {
	env := deletableEnv(t, nil)
	ctx := context.Background()

	if err := env.engine.CancelDeletion(ctx, testUser); !errors.Is(err, neoauth.ErrNotPendingDeletion) {
		t.Fatalf("expected ErrNotPendingDeletion, got %v", err)
	}
	if _, err := env.engine.ScheduleDeletion(ctx, testUser, "test"); err != nil {
		t.Fatalf("ScheduleDeletion failed: %v", err)
	}
	if err := env.engine.CancelDeletion(ctx, testUser); err != nil {
		t.Fatalf("CancelDeletion failed: %v", err)
	}

	user, _ := env.users.GetUser(ctx, testUser)
	if user.Status != neoauth.AccountActive || user.DeletionScheduledAt != nil || user.DeletionReason != "" {
		t.Fatalf("expected active account with cleared schedule, got %+v", user)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[neoauth.MetricDeletionScheduled] != 1 || snap.Counters[neoauth.MetricDeletionCancelled] != 1 {
		t.Fatalf("unexpected deletion counters: %+v", snap.Counters)
	}
}

func TestScheduleDeletionWithStepUp(t *testing.T) {
	env := deletableEnv(t, nil)
	ctx := context.Background()

	aes := completeStepUp(t, env, neoauth.PurposeAESSignature)
	if _, err := env.engine.ScheduleDeletionWithStepUp(ctx, testUser, aes.ID, ""); !errors.Is(err, neoauth.ErrInvalidRequest) {
		t.Fatalf("expected purpose mismatch to be rejected, got %v", err)
	}

	sess := completeStepUp(t, env, neoauth.PurposeAccountDeletion)
	schedule, err := env.engine.ScheduleDeletionWithStepUp(ctx, testUser, sess.ID, "done")
	if err != nil {
		t.Fatalf("ScheduleDeletionWithStepUp failed: %v", err)
	}
	if schedule.UserID != testUser {
		t.Fatalf("unexpected schedule: %+v", schedule)
	}
	if _, err := env.engine.GetStepUpSession(ctx, sess.ID); !errors.Is(err, neoauth.ErrStepUpSessionNotFound) {
		t.Fatalf("step-up session must be consumed, got %v", err)
	}
}

func TestScheduleDeletionWithStepUpChecksPreconditionsFirst(t *testing.T) {
	env := enrolledEnv(t, nil)
	ctx := context.Background()

	sess := completeStepUp(t, env, neoauth.PurposeAccountDeletion)
	if _, err := env.engine.ScheduleDeletionWithStepUp(ctx, testUser, sess.ID, ""); !errors.Is(err, neoauth.ErrAuthenticatorRequired) {
		t.Fatalf("expected ErrAuthenticatorRequired, got %v", err)
	}
	if _, err := env.engine.GetStepUpSession(ctx, sess.ID); err != nil {
		t.Fatalf("session must not be consumed when preconditions fail: %v", err)
	}
}

func TestScheduleDeletionConcurrentSchedulersOneWins(t *testing.T) {
	env := deletableEnv(t, nil)
	ctx := context.Background()

	const schedulers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		other     []error
	)
	for i := 0; i < schedulers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.ScheduleDeletion(ctx, testUser, "race")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, neoauth.ErrAlreadyPendingDeletion):
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("expected exactly one scheduler to win, got %d", succeeded)
	}
	if len(other) != 0 {
		t.Fatalf("losers must see ErrAlreadyPendingDeletion, got %v", other)
	}
}
