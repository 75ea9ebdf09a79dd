package neoauth

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/neosign/neoauth/channel"
	"go.uber.org/zap"
)

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// RequestEmailTwoFactor sends a "2fa" code to the user's email address.
func (e *Engine) RequestEmailTwoFactor(ctx context.Context, userID string) error {
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(user.Email) == "" {
		return ErrEmailMissing
	}
	return e.requestEnrollmentCode(ctx, userID, FactorEmail, user.Email, PurposeTwoFactor)
}

// ConfirmEmailTwoFactor verifies the emailed code and enables the email
// factor.
func (e *Engine) ConfirmEmailTwoFactor(ctx context.Context, userID, code string) error {
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := e.verifyCode(ctx, normalizeSubject(user.Email), PurposeTwoFactor, code); err != nil {
		e.emitAudit(ctx, auditEventTwoFactorFailed, false, userID, "", err, factorMeta(FactorEmail))
		return err
	}

	return e.updateProfile(ctx, userID, FactorEmail, func(p *TwoFactorProfile) {
		now := e.clock().UTC()
		p.EmailVerifiedAt = &now
		p.addMethod(FactorEmail)
	})
}

// RequestPhoneTwoFactor sends a "phone-verify" code to phoneE164.
func (e *Engine) RequestPhoneTwoFactor(ctx context.Context, userID, phoneE164 string) error {
	phoneE164 = strings.TrimSpace(phoneE164)
	if !e164Pattern.MatchString(phoneE164) {
		return ErrInvalidPhoneNumber
	}
	if _, err := e.loadUser(ctx, userID); err != nil {
		return err
	}
	return e.requestEnrollmentCode(ctx, userID, FactorSMS, phoneE164, PurposePhoneVerify)
}

// ConfirmPhoneTwoFactor verifies the code sent to phoneE164, stores the
// number as verified and enables the sms factor.
func (e *Engine) ConfirmPhoneTwoFactor(ctx context.Context, userID, phoneE164, code string) error {
	phoneE164 = strings.TrimSpace(phoneE164)
	if !e164Pattern.MatchString(phoneE164) {
		return ErrInvalidPhoneNumber
	}
	if _, err := e.loadUser(ctx, userID); err != nil {
		return err
	}
	if err := e.verifyCode(ctx, phoneE164, PurposePhoneVerify, code); err != nil {
		e.emitAudit(ctx, auditEventTwoFactorFailed, false, userID, "", err, factorMeta(FactorSMS))
		return err
	}

	return e.updateProfile(ctx, userID, FactorSMS, func(p *TwoFactorProfile) {
		p.PhoneNumber = phoneE164
		p.PhoneVerified = true
		p.addMethod(FactorSMS)
	})
}

// BeginAuthenticatorSetup generates a pending authenticator secret. The
// factor is enabled only after ConfirmAuthenticatorSetup succeeds.
func (e *Engine) BeginAuthenticatorSetup(ctx context.Context, userID string) (*AuthenticatorSetup, error) {
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	account := user.Email
	if account == "" {
		account = user.UserID
	}

	secret, setup, err := e.totp.GenerateKey(account)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineNotReady, err)
	}

	profile, err := e.loadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	profile.PendingAuthenticatorSecret = secret
	if err := e.userProvider.SaveTwoFactorProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}

	e.emitAudit(ctx, auditEventTwoFactorRequested, true, userID, "", nil, factorMeta(FactorAuthenticator))
	return &setup, nil
}

// ConfirmAuthenticatorSetup verifies a code from the pending secret and
// enables the authenticator factor.
func (e *Engine) ConfirmAuthenticatorSetup(ctx context.Context, userID, code string) error {
	profile, err := e.loadProfile(ctx, userID)
	if err != nil {
		return err
	}
	if len(profile.PendingAuthenticatorSecret) == 0 {
		return ErrAuthenticatorNotSetup
	}

	ok, counter, err := e.totp.VerifyCode(profile.PendingAuthenticatorSecret, code, e.clock())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEngineNotReady, err)
	}
	if !ok {
		e.metricInc(MetricTOTPFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailed, false, userID, "", ErrInvalidCode, factorMeta(FactorAuthenticator))
		return ErrInvalidCode
	}
	e.metricInc(MetricTOTPSuccess)

	return e.updateProfile(ctx, userID, FactorAuthenticator, func(p *TwoFactorProfile) {
		p.AuthenticatorSecret = p.PendingAuthenticatorSecret
		p.PendingAuthenticatorSecret = nil
		p.AuthenticatorEnabled = true
		p.LastUsedCounter = counter
		p.addMethod(FactorAuthenticator)
	})
}

// TwoFactorStatus returns the enabled methods of a user for display. The
// phone number is masked.
func (e *Engine) TwoFactorStatus(ctx context.Context, userID string) (*TwoFactorStatus, error) {
	profile, err := e.loadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	status := &TwoFactorStatus{
		UserID:               userID,
		EnabledMethods:       slices.Clone(profile.EnabledMethods),
		EmailVerified:        profile.EmailVerifiedAt != nil,
		PhoneVerified:        profile.PhoneVerified,
		AuthenticatorEnabled: profile.AuthenticatorEnabled,
	}
	if status.EnabledMethods == nil {
		status.EnabledMethods = []FactorType{}
	}
	if profile.PhoneNumber != "" {
		status.PhoneNumber = channel.MaskDestination(profile.PhoneNumber)
	}
	return status, nil
}

// verifyAuthenticator checks a TOTP code against the enabled secret and
// records the matched counter.
func (e *Engine) verifyAuthenticator(ctx context.Context, userID, code string) error {
	profile, err := e.loadProfile(ctx, userID)
	if err != nil {
		return err
	}
	if !profile.AuthenticatorEnabled || len(profile.AuthenticatorSecret) == 0 {
		return ErrFactorNotEnrolled
	}

	ok, counter, err := e.totp.VerifyCode(profile.AuthenticatorSecret, code, e.clock())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStepUpUnavailable, err)
	}
	if !ok {
		e.metricInc(MetricTOTPFailure)
		return ErrInvalidCode
	}
	if e.config.TOTP.EnforceReplayProtection && counter <= profile.LastUsedCounter {
		e.metricInc(MetricTOTPReplay)
		return ErrTOTPReplay
	}

	profile.LastUsedCounter = counter
	if err := e.userProvider.SaveTwoFactorProfile(ctx, profile); err != nil {
		return fmt.Errorf("%w: %v", ErrStepUpUnavailable, err)
	}
	e.metricInc(MetricTOTPSuccess)
	return nil
}

func (e *Engine) requestEnrollmentCode(ctx context.Context, userID string, factor FactorType, destination, purpose string) error {
	code, err := e.issueCode(ctx, normalizeSubject(destination), purpose, 0)
	if err != nil {
		e.emitAudit(ctx, auditEventTwoFactorRequested, false, userID, "", err, factorMeta(factor))
		return err
	}
	if err := e.sendCode(ctx, factor, destination, code, e.config.OneTimeCode.DefaultTTL); err != nil {
		e.metricInc(MetricDeliveryFailure)
		e.emitAudit(ctx, auditEventTwoFactorRequested, false, userID, "", err, factorMeta(factor))
		return err
	}
	e.emitAudit(ctx, auditEventTwoFactorRequested, true, userID, "", nil, factorMeta(factor))
	return nil
}

func (e *Engine) updateProfile(ctx context.Context, userID string, factor FactorType, mutate func(*TwoFactorProfile)) error {
	profile, err := e.loadProfile(ctx, userID)
	if err != nil {
		return err
	}
	mutate(&profile)
	if err := e.userProvider.SaveTwoFactorProfile(ctx, profile); err != nil {
		e.logger.Error("two-factor profile update failed", zap.String("factor", string(factor)), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}

	e.metricInc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, userID, "", nil, factorMeta(factor))
	return nil
}

func factorMeta(factor FactorType) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"factor": string(factor)}
	}
}
