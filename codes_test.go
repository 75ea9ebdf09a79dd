package neoauth_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/neosign/neoauth"
)

func TestIssueVerifySingleUse(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	code, err := env.engine.IssueCode(ctx, "a@x.com", neoauth.PurposeTwoFactor, 0)
	if err != nil {
		t.Fatalf("IssueCode failed: %v", err)
	}
	if len(code) != 6 || code[0] == '0' {
		t.Fatalf("expected six digit code, got %q", code)
	}

	if err := env.engine.VerifyCode(ctx, "a@x.com", neoauth.PurposeTwoFactor, code); err != nil {
		t.Fatalf("first verify failed: %v", err)
	}
	err = env.engine.VerifyCode(ctx, "a@x.com", neoauth.PurposeTwoFactor, code)
	if !errors.Is(err, neoauth.ErrCodeNotFound) {
		t.Fatalf("expected ErrCodeNotFound on reuse, got %v", err)
	}
	if !errors.Is(err, neoauth.ErrInvalidOrExpiredCode) {
		t.Fatal("code errors must match ErrInvalidOrExpiredCode")
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[neoauth.MetricCodeIssued] != 1 || snap.Counters[neoauth.MetricCodeVerified] != 1 {
		t.Fatalf("unexpected code counters: %+v", snap.Counters)
	}
}

func TestVerifyCodeNormalizesEmailSubject(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	code, err := env.engine.IssueCode(ctx, "  Alice@Example.COM ", neoauth.PurposeEmailChange, 0)
	if err != nil {
		t.Fatalf("IssueCode failed: %v", err)
	}
	if err := env.engine.VerifyCode(ctx, "alice@example.com", neoauth.PurposeEmailChange, " "+code+" "); err != nil {
		t.Fatalf("verify with normalized subject failed: %v", err)
	}
}

func TestVerifyCodeExpired(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	code, err := env.engine.IssueCode(ctx, "+15550001111", neoauth.PurposePhoneVerify, time.Minute)
	if err != nil {
		t.Fatalf("IssueCode failed: %v", err)
	}
	env.clock.Advance(61 * time.Second)

	err = env.engine.VerifyCode(ctx, "+15550001111", neoauth.PurposePhoneVerify, code)
	if !errors.Is(err, neoauth.ErrCodeExpired) {
		t.Fatalf("expected ErrCodeExpired, got %v", err)
	}
	if env.engine.MetricsSnapshot().Counters[neoauth.MetricCodeExpired] != 1 {
		t.Fatal("expected expired counter")
	}
}

func TestIssueCodeOverwritesPrevious(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	first, err := env.engine.IssueCode(ctx, "a@x.com", neoauth.PurposeTwoFactor, 0)
	if err != nil {
		t.Fatalf("first IssueCode failed: %v", err)
	}
	second, err := env.engine.IssueCode(ctx, "a@x.com", neoauth.PurposeTwoFactor, 0)
	if err != nil {
		t.Fatalf("second IssueCode failed: %v", err)
	}

	if first != second {
		if err := env.engine.VerifyCode(ctx, "a@x.com", neoauth.PurposeTwoFactor, first); !errors.Is(err, neoauth.ErrCodeMismatch) {
			t.Fatalf("expected superseded code to mismatch, got %v", err)
		}
	}
	if err := env.engine.VerifyCode(ctx, "a@x.com", neoauth.PurposeTwoFactor, second); err != nil {
		t.Fatalf("latest code must verify: %v", err)
	}
}

func TestVerifyCodeMismatchKeepsCode(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	code, err := env.engine.IssueCode(ctx, "a@x.com", neoauth.PurposeTwoFactor, 0)
	if err != nil {
		t.Fatalf("IssueCode failed: %v", err)
	}
	wrong := "000000"
	if err := env.engine.VerifyCode(ctx, "a@x.com", neoauth.PurposeTwoFactor, wrong); !errors.Is(err, neoauth.ErrCodeMismatch) {
		t.Fatalf("expected ErrCodeMismatch, got %v", err)
	}
	if err := env.engine.VerifyCode(ctx, "a@x.com", neoauth.PurposeTwoFactor, code); err != nil {
		t.Fatalf("code must survive a mismatch: %v", err)
	}
}

func TestVerifyCodePurposeIsolation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	code, err := env.engine.IssueCode(ctx, "a@x.com", neoauth.PurposeTwoFactor, 0)
	if err != nil {
		t.Fatalf("IssueCode failed: %v", err)
	}
	if err := env.engine.VerifyCode(ctx, "a@x.com", neoauth.PurposeEmailChange, code); !errors.Is(err, neoauth.ErrCodeNotFound) {
		t.Fatalf("expected ErrCodeNotFound for other purpose, got %v", err)
	}
}

func TestVerifyCodeConcurrentAtMostOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	code, err := env.engine.IssueCode(ctx, "a@x.com", neoauth.PurposeTwoFactor, 0)
	if err != nil {
		t.Fatalf("IssueCode failed: %v", err)
	}

	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if env.engine.VerifyCode(ctx, "a@x.com", neoauth.PurposeTwoFactor, code) == nil {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	if accepted.Load() != 1 {
		t.Fatalf("expected exactly one accepted verify, got %d", accepted.Load())
	}
}

func TestIssueCodeRejectsEmptyArguments(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if _, err := env.engine.IssueCode(ctx, " ", neoauth.PurposeTwoFactor, 0); !errors.Is(err, neoauth.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty subject, got %v", err)
	}
	if _, err := env.engine.IssueCode(ctx, "a@x.com", "", 0); !errors.Is(err, neoauth.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty purpose, got %v", err)
	}
}

func TestCleanupExpiredCodes(t *testing.T) {
	for _, backend := range []neoauth.CodeBackend{neoauth.CodeBackendRedis, neoauth.CodeBackendMemory} {
		t.Run(string(backend), func(t *testing.T) {
			env := newTestEnv(t, func(cfg *neoauth.Config) {
				cfg.OneTimeCode.Backend = backend
			})
			ctx := context.Background()

			if _, err := env.engine.IssueCode(ctx, "a@x.com", neoauth.PurposeTwoFactor, time.Minute); err != nil {
				t.Fatalf("IssueCode failed: %v", err)
			}
			live, err := env.engine.IssueCode(ctx, "b@x.com", neoauth.PurposeTwoFactor, time.Hour)
			if err != nil {
				t.Fatalf("IssueCode failed: %v", err)
			}
			env.clock.Advance(2 * time.Minute)

			removed, err := env.engine.CleanupExpiredCodes(ctx)
			if err != nil {
				t.Fatalf("CleanupExpiredCodes failed: %v", err)
			}
			if removed != 1 {
				t.Fatalf("expected one removed code, got %d", removed)
			}
			again, err := env.engine.CleanupExpiredCodes(ctx)
			if err != nil || again != 0 {
				t.Fatalf("expected idempotent cleanup, got %d %v", again, err)
			}

			if err := env.engine.VerifyCode(ctx, "a@x.com", neoauth.PurposeTwoFactor, "123456"); !errors.Is(err, neoauth.ErrCodeNotFound) {
				t.Fatalf("expected swept code to be gone, got %v", err)
			}
			if err := env.engine.VerifyCode(ctx, "b@x.com", neoauth.PurposeTwoFactor, live); err != nil {
				t.Fatalf("live code must survive cleanup: %v", err)
			}
		})
	}
}

func TestIssueCodeRateLimited(t *testing.T) {
	env := newTestEnv(t, func(cfg *neoauth.Config) {
		cfg.OneTimeCode.MaxIssuePerWindow = 2
		cfg.OneTimeCode.IssueWindow = time.Minute
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := env.engine.IssueCode(ctx, "a@x.com", neoauth.PurposeTwoFactor, 0); err != nil {
			t.Fatalf("IssueCode %d failed: %v", i, err)
		}
	}
	if _, err := env.engine.IssueCode(ctx, "a@x.com", neoauth.PurposeTwoFactor, 0); !errors.Is(err, neoauth.ErrCodeRateLimited) {
		t.Fatalf("expected ErrCodeRateLimited, got %v", err)
	}
	if _, err := env.engine.IssueCode(ctx, "b@x.com", neoauth.PurposeTwoFactor, 0); err != nil {
		t.Fatalf("other subjects must not be throttled: %v", err)
	}
}

func TestCodeBackendUnavailable(t *testing.T) {
	env := newTestEnv(t, nil)
	env.mr.SetError("LOADING")

	_, err := env.engine.IssueCode(context.Background(), "a@x.com", neoauth.PurposeTwoFactor, 0)
	if !errors.Is(err, neoauth.ErrCodeStoreUnavailable) {
		t.Fatalf("expected ErrCodeStoreUnavailable, got %v", err)
	}
	if errors.Is(err, neoauth.ErrInvalidOrExpiredCode) {
		t.Fatal("backend failures must not look like code failures")
	}
}
