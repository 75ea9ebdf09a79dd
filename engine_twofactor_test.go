package neoauth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/neosign/neoauth"
)

func TestEmailTwoFactorEnrollment(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.addUser(testUser, testEmail)

	if err := env.engine.RequestEmailTwoFactor(ctx, testUser); err != nil {
		t.Fatalf("RequestEmailTwoFactor failed: %v", err)
	}
	if err := env.engine.ConfirmEmailTwoFactor(ctx, testUser, "000000"); !errors.Is(err, neoauth.ErrInvalidOrExpiredCode) {
		t.Fatalf("expected code failure, got %v", err)
	}
	if err := env.engine.ConfirmEmailTwoFactor(ctx, testUser, env.lastCode(t, testEmail)); err != nil {
		t.Fatalf("ConfirmEmailTwoFactor failed: %v", err)
	}

	status, err := env.engine.TwoFactorStatus(ctx, testUser)
	if err != nil {
		t.Fatalf("TwoFactorStatus failed: %v", err)
	}
	if !status.EmailVerified || len(status.EnabledMethods) != 1 || status.EnabledMethods[0] != neoauth.FactorEmail {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestEmailTwoFactorRequiresAddress(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(testUser, "")
	if err := env.engine.RequestEmailTwoFactor(context.Background(), testUser); !errors.Is(err, neoauth.ErrEmailMissing) {
		t.Fatalf("expected ErrEmailMissing, got %v", err)
	}
}

func TestPhoneTwoFactorEnrollment(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.addUser(testUser, testEmail)

	for _, bad := range []string{"5550001111", "+0123456789", "+1 555 000"} {
		if err := env.engine.RequestPhoneTwoFactor(ctx, testUser, bad); !errors.Is(err, neoauth.ErrInvalidPhoneNumber) {
			t.Fatalf("expected ErrInvalidPhoneNumber for %q, got %v", bad, err)
		}
	}

	env.enrollPhone(t, testUser, testPhone)

	status, err := env.engine.TwoFactorStatus(ctx, testUser)
	if err != nil {
		t.Fatalf("TwoFactorStatus failed: %v", err)
	}
	if !status.PhoneVerified || status.PhoneNumber == testPhone || status.PhoneNumber == "" {
		t.Fatalf("expected verified masked phone, got %+v", status)
	}
}

func TestPhoneCodeBoundToNumber(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.addUser(testUser, testEmail)

	if err := env.engine.RequestPhoneTwoFactor(ctx, testUser, testPhone); err != nil {
		t.Fatalf("RequestPhoneTwoFactor failed: %v", err)
	}
	code := env.lastCode(t, testPhone)
	if err := env.engine.ConfirmPhoneTwoFactor(ctx, testUser, "+15550002222", code); !errors.Is(err, neoauth.ErrCodeNotFound) {
		t.Fatalf("expected ErrCodeNotFound for another number, got %v", err)
	}
}

func TestAuthenticatorEnrollment(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.addUser(testUser, testEmail)

	if err := env.engine.ConfirmAuthenticatorSetup(ctx, testUser, "123456"); !errors.Is(err, neoauth.ErrAuthenticatorNotSetup) {
		t.Fatalf("expected ErrAuthenticatorNotSetup, got %v", err)
	}

	setup, err := env.engine.BeginAuthenticatorSetup(ctx, testUser)
	if err != nil {
		t.Fatalf("BeginAuthenticatorSetup failed: %v", err)
	}
	if setup.SecretBase32 == "" || setup.URI == "" {
		t.Fatalf("unexpected setup: %+v", setup)
	}

	status, _ := env.engine.TwoFactorStatus(ctx, testUser)
	if status.AuthenticatorEnabled {
		t.Fatal("authenticator must stay disabled until confirmed")
	}

	if err := env.engine.ConfirmAuthenticatorSetup(ctx, testUser, env.totpCode(t, setup.SecretBase32)); err != nil {
		t.Fatalf("ConfirmAuthenticatorSetup failed: %v", err)
	}
	status, _ = env.engine.TwoFactorStatus(ctx, testUser)
	if !status.AuthenticatorEnabled {
		t.Fatalf("expected authenticator enabled, got %+v", status)
	}

	profile, err := env.users.GetTwoFactorProfile(ctx, testUser)
	if err != nil {
		t.Fatalf("GetTwoFactorProfile failed: %v", err)
	}
	if len(profile.PendingAuthenticatorSecret) != 0 || !profile.Consistent() {
		t.Fatalf("unexpected stored profile: %+v", profile)
	}
}

func TestTwoFactorUnknownUser(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := env.engine.RequestEmailTwoFactor(context.Background(), "ghost"); !errors.Is(err, neoauth.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
