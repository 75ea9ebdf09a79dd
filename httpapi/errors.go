package httpapi

import (
	"errors"
	"net/http"

	"github.com/neosign/neoauth"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// Order matters: specific sentinels come before the groups they wrap.
var errorMappings = []errorMapping{
	{neoauth.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
	{neoauth.ErrUnknownFactor, http.StatusBadRequest, "unknown_factor"},
	{neoauth.ErrInvalidPhoneNumber, http.StatusBadRequest, "invalid_phone_number"},
	{neoauth.ErrUnknownSignatureKind, http.StatusBadRequest, "unknown_signature_kind"},
	{neoauth.ErrInvalidSignature, http.StatusBadRequest, "invalid_signature"},
	{neoauth.ErrInvalidCode, http.StatusBadRequest, "invalid_code"},
	{neoauth.ErrInvalidOrExpiredCode, http.StatusBadRequest, "invalid_or_expired_code"},
	{neoauth.ErrStepUpTokenInvalid, http.StatusUnauthorized, "stepup_token_invalid"},
	{neoauth.ErrStepUpNotCompleted, http.StatusForbidden, "stepup_not_completed"},
	{neoauth.ErrAccountDisabled, http.StatusForbidden, "account_disabled"},
	{neoauth.ErrAccountDeleted, http.StatusForbidden, "account_deleted"},
	{neoauth.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
	{neoauth.ErrStepUpSessionNotFound, http.StatusNotFound, "stepup_not_found"},
	{neoauth.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{neoauth.ErrAlreadyPendingDeletion, http.StatusConflict, "already_pending_deletion"},
	{neoauth.ErrNotPendingDeletion, http.StatusConflict, "not_pending_deletion"},
	{neoauth.ErrStepUpSessionExpired, http.StatusGone, "stepup_expired"},
	{neoauth.ErrEmailTwoFactorRequired, http.StatusPreconditionFailed, "email_two_factor_required"},
	{neoauth.ErrAuthenticatorRequired, http.StatusPreconditionFailed, "authenticator_required"},
	{neoauth.ErrPreconditionNotMet, http.StatusPreconditionFailed, "precondition_not_met"},
	{neoauth.ErrFactorNotEnrolled, http.StatusUnprocessableEntity, "factor_not_enrolled"},
	{neoauth.ErrFactorUnsupported, http.StatusUnprocessableEntity, "factor_unsupported"},
	{neoauth.ErrFactorNotRequested, http.StatusUnprocessableEntity, "factor_not_requested"},
	{neoauth.ErrDiversityRuleFailed, http.StatusUnprocessableEntity, "diversity_rule_failed"},
	{neoauth.ErrInsufficientFactors, http.StatusUnprocessableEntity, "insufficient_factors"},
	{neoauth.ErrAESRequirementsNotMet, http.StatusUnprocessableEntity, "aes_requirements_not_met"},
	{neoauth.ErrEmailMissing, http.StatusUnprocessableEntity, "email_missing"},
	{neoauth.ErrAuthenticatorNotSetup, http.StatusConflict, "authenticator_not_setup"},
	{neoauth.ErrTOTPReplay, http.StatusBadRequest, "invalid_code"},
	{neoauth.ErrStepUpAttemptsExceeded, http.StatusTooManyRequests, "stepup_attempts_exceeded"},
	{neoauth.ErrCodeRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{neoauth.ErrChannelDeliveryFailed, http.StatusBadGateway, "delivery_failed"},
	{neoauth.ErrCodeStoreUnavailable, http.StatusServiceUnavailable, "unavailable"},
	{neoauth.ErrStepUpUnavailable, http.StatusServiceUnavailable, "unavailable"},
	{neoauth.ErrSessionUnavailable, http.StatusServiceUnavailable, "unavailable"},
	{neoauth.ErrSessionInvalidationFailed, http.StatusServiceUnavailable, "session_invalidation_failed"},
	{neoauth.ErrEngineNotReady, http.StatusServiceUnavailable, "unavailable"},
}

// statusFor maps an engine error to an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// publicMessage hides backend causes behind the error code for 5xx responses.
func publicMessage(status int, err error) string {
	if status >= http.StatusInternalServerError {
		return http.StatusText(status)
	}
	return err.Error()
}
