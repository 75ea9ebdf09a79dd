package neoauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neosign/neoauth/channel"
	"github.com/neosign/neoauth/compliance"
	"github.com/neosign/neoauth/internal/flows"
	"github.com/neosign/neoauth/internal/rate"
	"go.uber.org/zap"
)

const (
	smsCodeTemplate     = "Your NeoSign verification code is %s. It expires in %d minutes."
	emailCodeSubject    = "Your NeoSign verification code"
	emailCodeTemplate   = "<p>Your NeoSign verification code is <strong>%s</strong>.</p><p>It expires in %d minutes. If you did not request it, ignore this message.</p>"
	stepUpAttemptPrefix = "stepup:"
)

func (e *Engine) buildFlowDeps() flows.Deps {
	return flows.Deps{
		StepUp:          e.stepUpDeps(),
		AccountDeletion: e.accountDeletionDeps(),
	}
}

func (e *Engine) stepUpDeps() flows.StepUpDeps {
	deps := flows.StepUpDeps{
		MaxFactors:          e.config.StepUp.MaxFactors,
		MinCompletedFactors: e.config.StepUp.MinCompletedFactors,
		RequirementTTL:      e.config.StepUp.RequirementTTL,
		SessionRetention:    e.config.StepUp.ExpiredRetention,
		DefaultIPAddress:    e.config.StepUp.DefaultIPAddress,
		DefaultUserAgent:    e.config.StepUp.DefaultUserAgent,

		Now:   e.clock,
		NewID: uuid.NewString,

		LoadProfile: e.loadStepUpProfile,
		IssueCode: func(ctx context.Context, subject, purpose string, ttl time.Duration) (string, error) {
			return e.issueCode(ctx, normalizeSubject(subject), purpose, ttl)
		},
		VerifyCode: func(ctx context.Context, subject, purpose, code string) error {
			return e.verifyCode(ctx, normalizeSubject(subject), purpose, code)
		},
		RestoreCode: func(ctx context.Context, subject, purpose, code string, expiresAt time.Time) error {
			return e.restoreCode(ctx, normalizeSubject(subject), purpose, code, expiresAt)
		},
		VerifyTOTP: e.verifyAuthenticator,
		Deliver:    e.deliverCode,

		SaveSession:         e.stepUpStore.Save,
		GetSession:          e.stepUpStore.Get,
		DeleteSession:       e.stepUpStore.Delete,
		CompleteRequirement: e.stepUpStore.CompleteRequirement,
		ConsumeSession:      e.stepUpStore.Consume,

		MetricInc: func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit: e.emitAudit,

		Metrics: flows.StepUpMetrics{
			Created:          int(MetricStepUpCreated),
			FactorSuccess:    int(MetricStepUpFactorSuccess),
			FactorFailure:    int(MetricStepUpFactorFailure),
			Completed:        int(MetricStepUpCompleted),
			Expired:          int(MetricStepUpExpired),
			AttemptsExceeded: int(MetricStepUpAttemptsExceeded),
			DeliveryFailure:  int(MetricDeliveryFailure),
			Cancelled:        int(MetricStepUpCancelled),
		},
		Events: flows.StepUpEvents{
			Created:          auditEventStepUpCreated,
			FactorValidated:  auditEventStepUpFactorValidated,
			FactorFailed:     auditEventStepUpFactorFailed,
			Completed:        auditEventStepUpCompleted,
			DeliveryFailed:   auditEventStepUpDeliveryFailed,
			Resent:           auditEventStepUpResent,
			Cancelled:        auditEventStepUpCancelled,
			AttemptsExceeded: auditEventStepUpAttemptsExceeded,
		},
		Errors: flows.StepUpErrors{
			EngineNotReady:     ErrEngineNotReady,
			InvalidRequest:     ErrInvalidRequest,
			UnknownFactor:      ErrUnknownFactor,
			FactorNotEnrolled:  ErrFactorNotEnrolled,
			FactorUnsupported:  ErrFactorUnsupported,
			FactorNotRequested: ErrFactorNotRequested,
			InvalidCode:        ErrInvalidCode,
			CodeExpired:        ErrCodeExpired,
			CodeUnavailable:    ErrCodeStoreUnavailable,
			SessionNotFound:    ErrStepUpSessionNotFound,
			SessionExpired:     ErrStepUpSessionExpired,
			NotCompleted:       ErrStepUpNotCompleted,
			Unavailable:        ErrStepUpUnavailable,
			AttemptsExceeded:   ErrStepUpAttemptsExceeded,
			DeliveryFailed:     ErrChannelDeliveryFailed,
		},
	}

	if e.hardware != nil {
		deps.VerifyHardware = e.verifyHardware
	}
	if e.config.StepUp.MaxFailedAttempts > 0 {
		deps.CheckAttempts = e.checkStepUpAttempts
		deps.RecordFailure = e.recordStepUpFailure
		deps.ResetAttempts = e.resetStepUpAttempts
	}
	return deps
}

func (e *Engine) accountDeletionDeps() flows.AccountDeletionDeps {
	return flows.AccountDeletionDeps{
		GracePeriod: e.config.Deletion.GracePeriod,
		Now:         e.clock,

		LoadAccount:    e.loadDeletionAccount,
		StatusError:    func(status string) error { return accountStatusError(AccountStatus(status)) },
		MarkPending:    e.markPendingDeletion,
		MarkActive:     e.markDeletionCancelled,
		RevokeSessions: e.revokeOtherSessions,

		MetricInc: func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit: e.emitAudit,

		Metrics: flows.AccountDeletionMetrics{
			Scheduled: int(MetricDeletionScheduled),
			Rejected:  int(MetricDeletionRejected),
			Cancelled: int(MetricDeletionCancelled),
		},
		Events: flows.AccountDeletionEvents{
			Scheduled: auditEventDeletionScheduled,
			Rejected:  auditEventDeletionRejected,
			Cancelled: auditEventDeletionCancelled,
		},
		Errors: flows.AccountDeletionErrors{
			EngineNotReady:            ErrEngineNotReady,
			InvalidRequest:            ErrInvalidRequest,
			Unavailable:               ErrSessionUnavailable,
			EmailTwoFactorRequired:    ErrEmailTwoFactorRequired,
			AuthenticatorRequired:     ErrAuthenticatorRequired,
			NotPendingDeletion:        ErrNotPendingDeletion,
			StatusConflict:            ErrAccountStatusConflict,
			SessionInvalidationFailed: ErrSessionInvalidationFailed,
		},
	}
}

// accountStatusError maps a non-active status to its error.
func accountStatusError(status AccountStatus) error {
	switch status {
	case AccountActive, "":
		return nil
	case AccountPendingDeletion:
		return ErrAlreadyPendingDeletion
	case AccountDisabled:
		return ErrAccountDisabled
	case AccountDeleted:
		return ErrAccountDeleted
	}
	return fmt.Errorf("%w: unknown account status %q", ErrInvalidRequest, string(status))
}

func (e *Engine) loadUser(ctx context.Context, userID string) (UserRecord, error) {
	user, err := e.userProvider.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return UserRecord{}, ErrUserNotFound
		}
		return UserRecord{}, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	return user, nil
}

func (e *Engine) loadProfile(ctx context.Context, userID string) (TwoFactorProfile, error) {
	profile, err := e.userProvider.GetTwoFactorProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return TwoFactorProfile{}, ErrUserNotFound
		}
		return TwoFactorProfile{}, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	if profile.UserID == "" {
		profile.UserID = userID
	}
	return profile, nil
}

func (e *Engine) loadStepUpProfile(ctx context.Context, userID string) (flows.StepUpProfile, error) {
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return flows.StepUpProfile{}, err
	}
	switch user.Status {
	case AccountDisabled:
		return flows.StepUpProfile{}, ErrAccountDisabled
	case AccountDeleted:
		return flows.StepUpProfile{}, ErrAccountDeleted
	}
	profile, err := e.loadProfile(ctx, userID)
	if err != nil {
		return flows.StepUpProfile{}, err
	}
	return flows.StepUpProfile{
		Email:                user.Email,
		PhoneNumber:          profile.PhoneNumber,
		AuthenticatorEnabled: profile.AuthenticatorEnabled,
	}, nil
}

func (e *Engine) loadDeletionAccount(ctx context.Context, userID string) (flows.DeletionAccount, error) {
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return flows.DeletionAccount{}, err
	}
	profile, err := e.loadProfile(ctx, userID)
	if err != nil {
		return flows.DeletionAccount{}, err
	}
	return flows.DeletionAccount{
		UserID:               user.UserID,
		Status:               string(user.Status),
		PendingDeletion:      user.Status == AccountPendingDeletion,
		EmailVerified:        profile.EmailVerifiedAt != nil,
		AuthenticatorEnabled: profile.AuthenticatorEnabled,
	}, nil
}

func (e *Engine) deliverCode(ctx context.Context, factor compliance.Method, destination, code string) error {
	return e.sendCode(ctx, factor, destination, code, e.config.StepUp.RequirementTTL)
}

// sendCode sends code over the factor's channel. Message bodies are never
// logged.
func (e *Engine) sendCode(ctx context.Context, factor compliance.Method, destination, code string, ttl time.Duration) error {
	minutes := int(ttl / time.Minute)
	if minutes < 1 {
		minutes = 1
	}

	var err error
	switch factor {
	case compliance.MethodSMS:
		_, err = e.smsSender.SendSMS(ctx, destination, fmt.Sprintf(smsCodeTemplate, code, minutes))
	case compliance.MethodEmail:
		err = e.emailSender.SendEmail(ctx, destination, emailCodeSubject, fmt.Sprintf(emailCodeTemplate, code, minutes))
	default:
		return ErrFactorUnsupported
	}
	if err != nil {
		e.logger.Warn("code delivery failed",
			zap.String("factor", string(factor)),
			zap.String("destination", channel.MaskDestination(destination)),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", ErrChannelDeliveryFailed, err)
	}
	return nil
}

func (e *Engine) verifyHardware(ctx context.Context, userID, assertion string) error {
	ok, err := e.hardware.VerifyAssertion(ctx, userID, assertion)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStepUpUnavailable, err)
	}
	if !ok {
		return ErrInvalidCode
	}
	return nil
}

func (e *Engine) checkStepUpAttempts(ctx context.Context, sessionID string) error {
	err := e.limiter.CheckVerify(ctx, stepUpAttemptPrefix+sessionID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		return ErrStepUpAttemptsExceeded
	}
	return fmt.Errorf("%w: %v", ErrStepUpUnavailable, err)
}

func (e *Engine) resetStepUpAttempts(ctx context.Context, sessionID string) {
	if err := e.limiter.ResetVerify(ctx, stepUpAttemptPrefix+sessionID); err != nil {
		e.logger.Warn("step-up failure counter reset failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (e *Engine) recordStepUpFailure(ctx context.Context, sessionID string) {
	if err := e.limiter.RecordVerifyFailure(ctx, stepUpAttemptPrefix+sessionID); err != nil {
		e.logger.Warn("step-up failure counter update failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}
