package neoauth

import (
	"errors"
	"fmt"

	"github.com/neosign/neoauth/compliance"
)

// One-time code layer. The three specific kinds are distinguishable with
// errors.Is and all match ErrInvalidOrExpiredCode, which is what end users see.
var (
	// ErrInvalidOrExpiredCode is the user-facing class of every code failure.
	ErrInvalidOrExpiredCode = errors.New("invalid or expired code, request a new one")
	// ErrCodeNotFound means no live code exists for the subject and purpose.
	ErrCodeNotFound = fmt.Errorf("%w: code not found", ErrInvalidOrExpiredCode)
	// ErrCodeExpired means the code existed but its expiry had passed.
	ErrCodeExpired = fmt.Errorf("%w: code expired", ErrInvalidOrExpiredCode)
	// ErrCodeMismatch means a live code exists and the submitted value differs.
	ErrCodeMismatch = fmt.Errorf("%w: code mismatch", ErrInvalidOrExpiredCode)
	// ErrCodeStoreUnavailable wraps backend failures of the code store.
	ErrCodeStoreUnavailable = errors.New("code store unavailable")
	// ErrCodeRateLimited is returned when code issuance for a subject is throttled.
	ErrCodeRateLimited = errors.New("code issuance rate limited")
)

// Step-up session layer.
var (
	ErrInvalidCode            = errors.New("invalid verification code")
	ErrStepUpSessionNotFound  = errors.New("step-up session not found")
	ErrStepUpSessionExpired   = errors.New("step-up session expired")
	ErrStepUpNotCompleted     = errors.New("step-up session not completed")
	ErrStepUpUnavailable      = errors.New("step-up backend unavailable")
	ErrStepUpAttemptsExceeded = errors.New("step-up attempts exceeded")
	ErrStepUpTokenInvalid     = errors.New("invalid step-up token")
	ErrUnknownFactor          = errors.New("unknown factor type")
	ErrFactorNotEnrolled      = errors.New("factor not enrolled for user")
	ErrFactorUnsupported      = errors.New("factor not supported by this deployment")
	ErrFactorNotRequested     = errors.New("factor not requested by step-up session")
)

// AES layer. These are the compliance package sentinels so that errors.Is
// matches regardless of which package produced the error.
var (
	ErrAESRequirementsNotMet = compliance.ErrAESRequirementsNotMet
	ErrInsufficientFactors   = compliance.ErrInsufficientFactors
	ErrDiversityRuleFailed   = compliance.ErrDiversityRuleFailed
	ErrUnknownSignatureKind  = compliance.ErrUnknownSignatureKind
	ErrInvalidSignature      = compliance.ErrInvalidSignature
)

// Account lifecycle layer.
var (
	ErrAlreadyPendingDeletion = errors.New("account deletion already scheduled")
	ErrNotPendingDeletion     = errors.New("account deletion is not scheduled")
	// ErrAccountStatusConflict is returned by [UserProvider.TransitionUser]
	// when the stored status no longer matches the expected one.
	ErrAccountStatusConflict = errors.New("account status changed concurrently")
	// ErrPreconditionNotMet groups the missing-factor errors of the deletion gate.
	ErrPreconditionNotMet        = errors.New("account deletion precondition not met")
	ErrEmailTwoFactorRequired    = fmt.Errorf("%w: email two-factor authentication must be enabled", ErrPreconditionNotMet)
	ErrAuthenticatorRequired     = fmt.Errorf("%w: authenticator app must be enabled", ErrPreconditionNotMet)
	ErrAccountDisabled           = errors.New("account disabled")
	ErrAccountDeleted            = errors.New("account deleted")
	ErrSessionInvalidationFailed = errors.New("session invalidation failed")
	ErrSessionNotFound           = errors.New("session not found")
	ErrSessionUnavailable        = errors.New("session backend unavailable")
)

// Two-factor enrollment.
var (
	ErrInvalidPhoneNumber    = errors.New("phone number must be E.164")
	ErrEmailMissing          = errors.New("user has no email address")
	ErrAuthenticatorNotSetup = errors.New("authenticator setup not started")
	ErrTOTPReplay            = errors.New("totp code already used")
)

var (
	// ErrChannelDeliveryFailed reports that a code was issued but the sender
	// returned an error. The code stays valid.
	ErrChannelDeliveryFailed = errors.New("code delivery failed")
	// ErrUserNotFound is returned by UserProvider implementations for unknown users.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidRequest reports a missing or malformed argument.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrEngineNotReady is returned when a required dependency is missing.
	ErrEngineNotReady = errors.New("engine not initialized")
)
