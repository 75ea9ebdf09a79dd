package neoauth

import (
	"context"
	"errors"
)

const (
	auditEventCodeIssued             = "code_issued"
	auditEventCodeVerified           = "code_verified"
	auditEventCodeRejected           = "code_rejected"
	auditEventStepUpCreated          = "stepup_created"
	auditEventStepUpFactorValidated  = "stepup_factor_validated"
	auditEventStepUpFactorFailed     = "stepup_factor_failed"
	auditEventStepUpCompleted        = "stepup_completed"
	auditEventStepUpCancelled        = "stepup_cancelled"
	auditEventStepUpDeliveryFailed   = "stepup_delivery_failed"
	auditEventStepUpResent           = "stepup_code_resent"
	auditEventAESAuthorized          = "aes_signature_authorized"
	auditEventAESRejected            = "aes_signature_rejected"
	auditEventComplianceReport       = "compliance_report"
	auditEventTwoFactorRequested     = "two_factor_requested"
	auditEventTwoFactorEnabled       = "two_factor_enabled"
	auditEventTwoFactorFailed        = "two_factor_failed"
	auditEventDeletionScheduled      = "account_deletion_scheduled"
	auditEventDeletionRejected       = "account_deletion_rejected"
	auditEventDeletionCancelled      = "account_deletion_cancelled"
	auditEventSessionCreated         = "session_created"
	auditEventSessionRevoked         = "session_revoked"
	auditEventSessionRevokeAll       = "session_revoke_all"
	auditEventRateLimitTriggered     = "rate_limit_triggered"
	auditEventStepUpAttemptsExceeded = "stepup_attempts_exceeded"
)

// AuditErrorCode is the stable error label recorded on failed audit events.
type AuditErrorCode string

const (
	auditErrCodeNotFound           AuditErrorCode = "code_not_found"
	auditErrCodeExpired            AuditErrorCode = "code_expired"
	auditErrCodeMismatch           AuditErrorCode = "code_mismatch"
	auditErrInvalidCode            AuditErrorCode = "invalid_code"
	auditErrRateLimited            AuditErrorCode = "rate_limited"
	auditErrAttemptsExceeded       AuditErrorCode = "attempts_exceeded"
	auditErrSessionNotFound        AuditErrorCode = "session_not_found"
	auditErrSessionExpired         AuditErrorCode = "session_expired"
	auditErrNotCompleted           AuditErrorCode = "stepup_not_completed"
	auditErrInvalidToken           AuditErrorCode = "invalid_token"
	auditErrUnknownFactor          AuditErrorCode = "unknown_factor"
	auditErrFactorNotEnrolled      AuditErrorCode = "factor_not_enrolled"
	auditErrFactorUnsupported      AuditErrorCode = "factor_unsupported"
	auditErrInsufficientFactors    AuditErrorCode = "insufficient_factors"
	auditErrDiversityRuleFailed    AuditErrorCode = "diversity_rule_failed"
	auditErrAlreadyPending         AuditErrorCode = "already_pending_deletion"
	auditErrNotPending             AuditErrorCode = "not_pending_deletion"
	auditErrEmailTwoFactorRequired AuditErrorCode = "email_2fa_required"
	auditErrAuthenticatorRequired  AuditErrorCode = "authenticator_required"
	auditErrAccountDisabled        AuditErrorCode = "account_disabled"
	auditErrAccountDeleted         AuditErrorCode = "account_deleted"
	auditErrSessionInvalidation    AuditErrorCode = "session_invalidation_failed"
	auditErrUserNotFound           AuditErrorCode = "user_not_found"
	auditErrDeliveryFailed         AuditErrorCode = "delivery_failed"
	auditErrTOTPReplay             AuditErrorCode = "totp_replay"
	auditErrInvalidRequest         AuditErrorCode = "invalid_request"
	auditErrUnavailable            AuditErrorCode = "backend_unavailable"
	auditErrInternal               AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.clock().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope, userID string) {
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, userID, "", ErrCodeRateLimited, func() map[string]string {
		return map[string]string{
			"scope": scope,
		}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrCodeNotFound):
		return auditErrCodeNotFound
	case errors.Is(err, ErrCodeExpired):
		return auditErrCodeExpired
	case errors.Is(err, ErrCodeMismatch):
		return auditErrCodeMismatch
	case errors.Is(err, ErrInvalidCode):
		return auditErrInvalidCode
	case errors.Is(err, ErrCodeRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrStepUpAttemptsExceeded):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrStepUpSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrStepUpSessionExpired):
		return auditErrSessionExpired
	case errors.Is(err, ErrStepUpNotCompleted):
		return auditErrNotCompleted
	case errors.Is(err, ErrStepUpTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrUnknownFactor),
		errors.Is(err, ErrFactorNotRequested):
		return auditErrUnknownFactor
	case errors.Is(err, ErrFactorNotEnrolled),
		errors.Is(err, ErrAuthenticatorNotSetup):
		return auditErrFactorNotEnrolled
	case errors.Is(err, ErrFactorUnsupported):
		return auditErrFactorUnsupported
	case errors.Is(err, ErrInsufficientFactors):
		return auditErrInsufficientFactors
	case errors.Is(err, ErrDiversityRuleFailed):
		return auditErrDiversityRuleFailed
	case errors.Is(err, ErrAlreadyPendingDeletion):
		return auditErrAlreadyPending
	case errors.Is(err, ErrNotPendingDeletion):
		return auditErrNotPending
	case errors.Is(err, ErrEmailTwoFactorRequired):
		return auditErrEmailTwoFactorRequired
	case errors.Is(err, ErrAuthenticatorRequired):
		return auditErrAuthenticatorRequired
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrAccountDeleted):
		return auditErrAccountDeleted
	case errors.Is(err, ErrSessionInvalidationFailed):
		return auditErrSessionInvalidation
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrChannelDeliveryFailed):
		return auditErrDeliveryFailed
	case errors.Is(err, ErrTOTPReplay):
		return auditErrTOTPReplay
	case errors.Is(err, ErrInvalidPhoneNumber),
		errors.Is(err, ErrEmailMissing),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrUnknownSignatureKind),
		errors.Is(err, ErrInvalidSignature):
		return auditErrInvalidRequest
	case errors.Is(err, ErrCodeStoreUnavailable),
		errors.Is(err, ErrStepUpUnavailable),
		errors.Is(err, ErrSessionUnavailable),
		errors.Is(err, ErrEngineNotReady):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
