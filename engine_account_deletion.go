package neoauth

import (
	"context"
	"time"

	"github.com/neosign/neoauth/internal/flows"
)

// CanDeleteAccount reports whether userID may schedule deletion. The
// account must be active with email two-factor verified and an
// authenticator enabled; a verified phone never substitutes for either.
// When false, the error names the unmet precondition.
func (e *Engine) CanDeleteAccount(ctx context.Context, userID string) (bool, error) {
	return flows.RunCanDeleteAccount(ctx, userID, e.flows.AccountDeletion)
}

// ScheduleDeletion marks the account pending deletion after the grace
// period and revokes every other application session. The session named
// by WithSessionID on ctx survives.
func (e *Engine) ScheduleDeletion(ctx context.Context, userID, reason string) (*DeletionSchedule, error) {
	out, err := flows.RunScheduleDeletion(ctx, userID, reason, e.flows.AccountDeletion)
	if err != nil {
		return nil, err
	}
	return &DeletionSchedule{
		UserID:          userID,
		ScheduledAt:     out.ScheduledAt,
		RevokedSessions: out.RevokedSessions,
	}, nil
}

// ScheduleDeletionWithStepUp consumes a completed account_deletion step-up
// session owned by userID and then schedules deletion. The preconditions
// are checked before the session is consumed.
func (e *Engine) ScheduleDeletionWithStepUp(ctx context.Context, userID, stepUpSessionID, reason string) (*DeletionSchedule, error) {
	if _, err := e.CanDeleteAccount(ctx, userID); err != nil {
		e.metricInc(MetricDeletionRejected)
		e.emitAudit(ctx, auditEventDeletionRejected, false, userID, stepUpSessionID, err, nil)
		return nil, err
	}
	if _, err := e.consumeStepUp(ctx, stepUpSessionID, userID, PurposeAccountDeletion); err != nil {
		e.metricInc(MetricDeletionRejected)
		e.emitAudit(ctx, auditEventDeletionRejected, false, userID, stepUpSessionID, err, nil)
		return nil, err
	}
	return e.ScheduleDeletion(ctx, userID, reason)
}

// CancelDeletion returns a pending account to active and clears the
// schedule. Sessions revoked at scheduling time are not restored.
func (e *Engine) CancelDeletion(ctx context.Context, userID string) error {
	return flows.RunCancelDeletion(ctx, userID, e.flows.AccountDeletion)
}

func (e *Engine) markPendingDeletion(ctx context.Context, userID, reason string, requestedAt, scheduledAt time.Time) error {
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	requested := requestedAt.UTC()
	scheduled := scheduledAt.UTC()
	user.Status = AccountPendingDeletion
	user.DeletionRequestedAt = &requested
	user.DeletionScheduledAt = &scheduled
	user.DeletionReason = reason
	return e.userProvider.TransitionUser(ctx, user, AccountActive)
}

func (e *Engine) markDeletionCancelled(ctx context.Context, userID string) error {
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	user.Status = AccountActive
	user.DeletionRequestedAt = nil
	user.DeletionScheduledAt = nil
	user.DeletionReason = ""
	return e.userProvider.TransitionUser(ctx, user, AccountPendingDeletion)
}
