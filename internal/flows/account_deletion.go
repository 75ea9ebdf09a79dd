package flows

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DeletionAccount is the account state the deletion gate inspects.
type DeletionAccount struct {
	UserID               string
	Status               string
	PendingDeletion      bool
	EmailVerified        bool
	AuthenticatorEnabled bool
}

type DeletionOutcome struct {
	ScheduledAt     time.Time
	RevokedSessions int
}

type AccountDeletionMetrics struct {
	Scheduled int
	Rejected  int
	Cancelled int
}

type AccountDeletionEvents struct {
	Scheduled string
	Rejected  string
	Cancelled string
}

type AccountDeletionErrors struct {
	EngineNotReady            error
	InvalidRequest            error
	Unavailable               error
	EmailTwoFactorRequired    error
	AuthenticatorRequired     error
	NotPendingDeletion        error
	StatusConflict            error
	SessionInvalidationFailed error
}

type AccountDeletionDeps struct {
	GracePeriod time.Duration

	Now func() time.Time

	LoadAccount func(context.Context, string) (DeletionAccount, error)
	// StatusError returns nil for an active account.
	StatusError func(string) error
	// MarkPending and MarkActive fail with Errors.StatusConflict when the
	// account left the expected status after it was loaded.
	MarkPending    func(ctx context.Context, userID, reason string, requestedAt, scheduledAt time.Time) error
	MarkActive     func(ctx context.Context, userID string) error
	RevokeSessions func(ctx context.Context, userID string) (int, error)

	MetricInc func(int)
	EmitAudit func(context.Context, string, bool, string, string, error, func() map[string]string)

	Metrics AccountDeletionMetrics
	Events  AccountDeletionEvents
	Errors  AccountDeletionErrors
}

// RunCanDeleteAccount requires an active account with a verified email
// factor and an enabled authenticator. SMS never substitutes for either.
func RunCanDeleteAccount(ctx context.Context, userID string, deps AccountDeletionDeps) (bool, error) {
	normalizeAccountDeletionDeps(&deps)

	if deps.LoadAccount == nil || deps.StatusError == nil {
		return false, deps.Errors.EngineNotReady
	}
	if userID == "" {
		return false, deps.Errors.InvalidRequest
	}

	account, err := deps.LoadAccount(ctx, userID)
	if err != nil {
		return false, err
	}
	if err := deps.StatusError(account.Status); err != nil {
		return false, err
	}
	if !account.EmailVerified {
		return false, deps.Errors.EmailTwoFactorRequired
	}
	if !account.AuthenticatorEnabled {
		return false, deps.Errors.AuthenticatorRequired
	}
	return true, nil
}

// RunScheduleDeletion marks the account pending deletion and then revokes
// its sessions. A revocation failure leaves the account pending and is
// returned joined with SessionInvalidationFailed.
func RunScheduleDeletion(ctx context.Context, userID, reason string, deps AccountDeletionDeps) (*DeletionOutcome, error) {
	normalizeAccountDeletionDeps(&deps)

	if deps.MarkPending == nil || deps.RevokeSessions == nil {
		return nil, deps.Errors.EngineNotReady
	}

	if _, err := RunCanDeleteAccount(ctx, userID, deps); err != nil {
		deps.MetricInc(deps.Metrics.Rejected)
		deps.EmitAudit(ctx, deps.Events.Rejected, false, userID, "", err, nil)
		return nil, err
	}

	now := deps.Now()
	scheduledAt := now.Add(deps.GracePeriod)
	if err := deps.MarkPending(ctx, userID, reason, now, scheduledAt); err != nil {
		if !errors.Is(err, deps.Errors.StatusConflict) {
			return nil, fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
		}
		err = conflictStatusError(ctx, userID, err, deps)
		deps.MetricInc(deps.Metrics.Rejected)
		deps.EmitAudit(ctx, deps.Events.Rejected, false, userID, "", err, nil)
		return nil, err
	}

	revoked, err := deps.RevokeSessions(ctx, userID)
	if err != nil {
		joined := errors.Join(deps.Errors.SessionInvalidationFailed, err)
		deps.EmitAudit(ctx, deps.Events.Scheduled, false, userID, "", joined, func() map[string]string {
			return map[string]string{"scheduled_at": scheduledAt.UTC().Format(time.RFC3339)}
		})
		return nil, joined
	}

	deps.MetricInc(deps.Metrics.Scheduled)
	deps.EmitAudit(ctx, deps.Events.Scheduled, true, userID, "", nil, func() map[string]string {
		return map[string]string{
			"scheduled_at":     scheduledAt.UTC().Format(time.RFC3339),
			"revoked_sessions": fmt.Sprint(revoked),
		}
	})
	return &DeletionOutcome{ScheduledAt: scheduledAt, RevokedSessions: revoked}, nil
}

// RunCancelDeletion returns a pending account to active. Sessions revoked
// at scheduling time stay revoked.
func RunCancelDeletion(ctx context.Context, userID string, deps AccountDeletionDeps) error {
	normalizeAccountDeletionDeps(&deps)

	if deps.LoadAccount == nil || deps.MarkActive == nil {
		return deps.Errors.EngineNotReady
	}
	if userID == "" {
		return deps.Errors.InvalidRequest
	}

	account, err := deps.LoadAccount(ctx, userID)
	if err != nil {
		return err
	}
	if !account.PendingDeletion {
		return deps.Errors.NotPendingDeletion
	}
	if err := deps.MarkActive(ctx, userID); err != nil {
		if errors.Is(err, deps.Errors.StatusConflict) {
			return deps.Errors.NotPendingDeletion
		}
		return fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
	}

	deps.MetricInc(deps.Metrics.Cancelled)
	deps.EmitAudit(ctx, deps.Events.Cancelled, true, userID, "", nil, nil)
	return nil
}

// conflictStatusError reloads the account after a lost status race and
// reports the status that won it.
func conflictStatusError(ctx context.Context, userID string, conflict error, deps AccountDeletionDeps) error {
	account, err := deps.LoadAccount(ctx, userID)
	if err != nil {
		return conflict
	}
	if statusErr := deps.StatusError(account.Status); statusErr != nil {
		return statusErr
	}
	return conflict
}

func normalizeAccountDeletionDeps(deps *AccountDeletionDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, string, error, func() map[string]string) {}
	}
	if deps.Errors.StatusConflict == nil {
		deps.Errors.StatusConflict = errors.New("account status conflict")
	}
	if deps.Errors.SessionInvalidationFailed == nil {
		deps.Errors.SessionInvalidationFailed = errors.New("session invalidation failed")
	}
}
