package flows

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/neosign/neoauth/compliance"
	"github.com/neosign/neoauth/internal/stores"
	"github.com/redis/go-redis/v9"
)

var (
	errNotReady     = errors.New("not ready")
	errInvalid      = errors.New("invalid request")
	errUnknown      = errors.New("unknown factor")
	errNotEnrolled  = errors.New("not enrolled")
	errUnsupported  = errors.New("unsupported")
	errNotRequested = errors.New("not requested")
	errBadCode      = errors.New("invalid code")
	errExpired      = errors.New("code expired")
	errCodeBackend  = errors.New("code backend")
	errNoSession    = errors.New("session not found")
	errSessionGone  = errors.New("session expired")
	errIncomplete   = errors.New("not completed")
	errBackend      = errors.New("unavailable")
	errAttempts     = errors.New("attempts exceeded")
	errDelivery     = errors.New("delivery failed")
)

type stepUpHarness struct {
	t     *testing.T
	now   time.Time
	store *stores.StepUpStore
	codes *stores.MemoryCodeStore

	mu        sync.Mutex
	ids       int
	delivered map[string]string
	failSend  bool
	totpCode  string
	metrics   map[int]int
	events    []string
}

func newStepUpHarness(t *testing.T) *stepUpHarness {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return &stepUpHarness{
		t:         t,
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		store:     stores.NewStepUpStore(rdb, "sus"),
		codes:     stores.NewMemoryCodeStore(),
		delivered: map[string]string{},
		totpCode:  "424242",
		metrics:   map[int]int{},
	}
}

func (h *stepUpHarness) deps() StepUpDeps {
	return StepUpDeps{
		MaxFactors:          2,
		MinCompletedFactors: 2,
		RequirementTTL:      10 * time.Minute,
		SessionRetention:    10 * time.Minute,
		DefaultIPAddress:    "127.0.0.1",
		DefaultUserAgent:    "unknown",
		Now:                 func() time.Time { return h.now },
		NewID: func() string {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.ids++
			return fmt.Sprintf("id-%d", h.ids)
		},
		LoadProfile: func(_ context.Context, userID string) (StepUpProfile, error) {
			if userID != "user-1" {
				return StepUpProfile{}, errNoSession
			}
			return StepUpProfile{Email: "a@x.com", PhoneNumber: "+15550001111", AuthenticatorEnabled: true}, nil
		},
		IssueCode: func(ctx context.Context, subject, purpose string, ttl time.Duration) (string, error) {
			h.mu.Lock()
			h.ids++
			code := fmt.Sprintf("%d", 100000+h.ids)
			h.mu.Unlock()
			err := h.codes.Save(ctx, &stores.OneTimeCode{
				Subject:   subject,
				Purpose:   purpose,
				CodeHash:  hashForTest(code),
				CreatedAt: h.now.UnixMilli(),
				ExpiresAt: h.now.Add(ttl).UnixMilli(),
			})
			return code, err
		},
		VerifyCode: func(ctx context.Context, subject, purpose, code string) error {
			err := h.codes.Consume(ctx, subject, purpose, hashForTest(code), h.now)
			if errors.Is(err, stores.ErrCodeExpired) {
				return errExpired
			}
			return err
		},
		RestoreCode: func(ctx context.Context, subject, purpose, code string, expiresAt time.Time) error {
			return h.codes.Save(ctx, &stores.OneTimeCode{
				Subject:   subject,
				Purpose:   purpose,
				CodeHash:  hashForTest(code),
				CreatedAt: h.now.UnixMilli(),
				ExpiresAt: expiresAt.UnixMilli(),
			})
		},
		VerifyTOTP: func(_ context.Context, _ string, code string) error {
			if code != h.totpCode {
				return errBadCode
			}
			return nil
		},
		Deliver: func(_ context.Context, _ compliance.Method, destination, code string) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			if h.failSend {
				return errors.New("gateway down")
			}
			h.delivered[destination] = code
			return nil
		},
		SaveSession:         h.store.Save,
		GetSession:          h.store.Get,
		DeleteSession:       h.store.Delete,
		CompleteRequirement: h.store.CompleteRequirement,
		ConsumeSession:      h.store.Consume,
		MetricInc: func(id int) {
			h.mu.Lock()
			h.metrics[id]++
			h.mu.Unlock()
		},
		EmitAudit: func(_ context.Context, event string, _ bool, _, _ string, _ error, _ func() map[string]string) {
			h.mu.Lock()
			h.events = append(h.events, event)
			h.mu.Unlock()
		},
		Metrics: StepUpMetrics{
			Created: 1, FactorSuccess: 2, FactorFailure: 3, Completed: 4,
			Expired: 5, AttemptsExceeded: 6, DeliveryFailure: 7, Cancelled: 8,
		},
		Events: StepUpEvents{
			Created: "created", FactorValidated: "validated", FactorFailed: "failed",
			Completed: "completed", DeliveryFailed: "delivery_failed", Resent: "resent",
			Cancelled: "cancelled", AttemptsExceeded: "attempts",
		},
		Errors: StepUpErrors{
			EngineNotReady:     errNotReady,
			InvalidRequest:     errInvalid,
			UnknownFactor:      errUnknown,
			FactorNotEnrolled:  errNotEnrolled,
			FactorUnsupported:  errUnsupported,
			FactorNotRequested: errNotRequested,
			InvalidCode:        errBadCode,
			CodeExpired:        errExpired,
			CodeUnavailable:    errCodeBackend,
			SessionNotFound:    errNoSession,
			SessionExpired:     errSessionGone,
			NotCompleted:       errIncomplete,
			Unavailable:        errBackend,
			AttemptsExceeded:   errAttempts,
			DeliveryFailed:     errDelivery,
		},
	}
}

func (h *stepUpHarness) create(factors ...compliance.Method) *StepUpCreated {
	h.t.Helper()
	out, err := RunCreateStepUp(context.Background(), StepUpInput{
		UserID:  "user-1",
		Purpose: "aes_signature",
		Factors: factors,
	}, h.deps())
	if err != nil {
		h.t.Fatalf("RunCreateStepUp failed: %v", err)
	}
	return out
}

func hashForTest(code string) [32]byte {
	var out [32]byte
	copy(out[:], code)
	return out
}

func TestRunCreateStepUpIssuesAndDeliversCodes(t *testing.T) {
	h := newStepUpHarness(t)
	out := h.create(compliance.MethodSMS, compliance.MethodEmail, compliance.MethodAuthenticator)

	s := out.Session
	if len(s.Requirements) != 2 {
		t.Fatalf("expected factors capped at 2, got %d", len(s.Requirements))
	}
	if s.IPAddress != "127.0.0.1" || s.UserAgent != "unknown" {
		t.Fatalf("expected client defaults, got %q %q", s.IPAddress, s.UserAgent)
	}
	for _, req := range s.Requirements {
		if !req.Required || req.Code == "" {
			t.Fatalf("expected required requirement with code, got %+v", req)
		}
		if h.delivered[req.Destination] != req.Code {
			t.Fatalf("code for %s not delivered", req.Type)
		}
	}
	if out.DeliveryFailed {
		t.Fatal("unexpected delivery failure")
	}
	if h.metrics[1] != 1 {
		t.Fatalf("expected created metric, got %v", h.metrics)
	}
}

func TestRunCreateStepUpRejectsBadFactors(t *testing.T) {
	h := newStepUpHarness(t)
	deps := h.deps()
	ctx := context.Background()

	_, err := RunCreateStepUp(ctx, StepUpInput{UserID: "user-1", Factors: []compliance.Method{"carrier-pigeon"}}, deps)
	if !errors.Is(err, errUnknown) {
		t.Fatalf("expected unknown factor, got %v", err)
	}

	_, err = RunCreateStepUp(ctx, StepUpInput{UserID: "user-1", Factors: []compliance.Method{compliance.MethodHardware}}, deps)
	if !errors.Is(err, errUnsupported) {
		t.Fatalf("expected unsupported hardware, got %v", err)
	}

	deps.LoadProfile = func(context.Context, string) (StepUpProfile, error) {
		return StepUpProfile{Email: "a@x.com"}, nil
	}
	_, err = RunCreateStepUp(ctx, StepUpInput{UserID: "user-1", Factors: []compliance.Method{compliance.MethodEmail, compliance.MethodSMS}}, deps)
	if !errors.Is(err, errNotEnrolled) {
		t.Fatalf("expected sms not enrolled, got %v", err)
	}
	if h.codes.Len() != 0 {
		t.Fatal("no code may be issued when a factor is rejected")
	}
}

func TestRunCreateStepUpDeliveryFailureKeepsCode(t *testing.T) {
	h := newStepUpHarness(t)
	h.failSend = true
	out := h.create(compliance.MethodSMS, compliance.MethodEmail)
	if !out.DeliveryFailed {
		t.Fatal("expected delivery failure flag")
	}
	if h.metrics[7] != 2 {
		t.Fatalf("expected two delivery failures, got %d", h.metrics[7])
	}

	req := out.Session.Requirements[0]
	if _, err := RunValidateFactor(context.Background(), out.Session.ID, compliance.MethodSMS, req.Code, h.deps()); err != nil {
		t.Fatalf("undelivered code must stay valid: %v", err)
	}
}

func TestRunValidateFactorCompletesDiversePair(t *testing.T) {
	h := newStepUpHarness(t)
	out := h.create(compliance.MethodSMS, compliance.MethodEmail)
	ctx := context.Background()
	deps := h.deps()
	sms, email := out.Session.Requirements[0], out.Session.Requirements[1]

	if _, err := RunValidateFactor(ctx, out.Session.ID, compliance.MethodSMS, "000000", deps); !errors.Is(err, errBadCode) {
		t.Fatalf("expected invalid code, got %v", err)
	}

	first, err := RunValidateFactor(ctx, out.Session.ID, compliance.MethodSMS, sms.Code, deps)
	if err != nil {
		t.Fatalf("sms validation failed: %v", err)
	}
	if first.Completed {
		t.Fatal("one factor must not complete the session")
	}
	summary := Summarize(first, 2)
	if !errors.Is(summary.Reason, compliance.ErrInsufficientFactors) {
		t.Fatalf("expected insufficient factors, got %v", summary.Reason)
	}

	again, err := RunValidateFactor(ctx, out.Session.ID, compliance.MethodSMS, "anything", deps)
	if err != nil || again.Requirements[0].CompletedAt != first.Requirements[0].CompletedAt {
		t.Fatalf("expected idempotent success, got %v", err)
	}

	second, err := RunValidateFactor(ctx, out.Session.ID, compliance.MethodEmail, email.Code, deps)
	if err != nil {
		t.Fatalf("email validation failed: %v", err)
	}
	if !second.Completed {
		t.Fatal("expected completed session")
	}
	if h.metrics[4] != 1 {
		t.Fatalf("expected one completion, got %d", h.metrics[4])
	}
	final := Summarize(second, 2)
	if final.Reason != nil || len(final.CompletedMethods) != 2 || len(final.RemainingMethods) != 0 {
		t.Fatalf("unexpected summary %+v", final)
	}
}

func TestRunValidateFactorDuplicateFactorsNeverComplete(t *testing.T) {
	h := newStepUpHarness(t)
	out := h.create(compliance.MethodSMS, compliance.MethodSMS)
	ctx := context.Background()
	deps := h.deps()

	var last *stores.StepUpSession
	for _, req := range out.Session.Requirements {
		s, err := RunValidateFactor(ctx, out.Session.ID, compliance.MethodSMS, req.Code, deps)
		if err != nil {
			t.Fatalf("validation failed: %v", err)
		}
		last = s
	}
	if last.Completed {
		t.Fatal("duplicate factors must not complete the session")
	}
	if reason := Summarize(last, 2).Reason; !errors.Is(reason, compliance.ErrDiversityRuleFailed) {
		t.Fatalf("expected diversity failure, got %v", reason)
	}
}

func TestRunValidateFactorAuthenticatorAndErrors(t *testing.T) {
	h := newStepUpHarness(t)
	out := h.create(compliance.MethodEmail, compliance.MethodAuthenticator)
	ctx := context.Background()
	deps := h.deps()

	if _, err := RunValidateFactor(ctx, out.Session.ID, compliance.MethodSMS, "123456", deps); !errors.Is(err, errNotRequested) {
		t.Fatalf("expected not requested, got %v", err)
	}
	if _, err := RunValidateFactor(ctx, "missing", compliance.MethodEmail, "123456", deps); !errors.Is(err, errNoSession) {
		t.Fatalf("expected session not found, got %v", err)
	}
	if _, err := RunValidateFactor(ctx, out.Session.ID, compliance.MethodAuthenticator, "000000", deps); !errors.Is(err, errBadCode) {
		t.Fatalf("expected invalid totp, got %v", err)
	}
	if _, err := RunValidateFactor(ctx, out.Session.ID, compliance.MethodAuthenticator, h.totpCode, deps); err != nil {
		t.Fatalf("totp validation failed: %v", err)
	}

	h.now = h.now.Add(11 * time.Minute)
	if _, err := RunValidateFactor(ctx, out.Session.ID, compliance.MethodEmail, out.Session.Requirements[0].Code, h.deps()); !errors.Is(err, errSessionGone) {
		t.Fatalf("expected session expired, got %v", err)
	}
	if _, _, err := RunCheckCompletion(ctx, out.Session.ID, h.deps()); !errors.Is(err, errSessionGone) {
		t.Fatalf("expected expired check, got %v", err)
	}
}

func TestRunValidateFactorAttemptLimit(t *testing.T) {
	h := newStepUpHarness(t)
	out := h.create(compliance.MethodSMS, compliance.MethodEmail)
	deps := h.deps()

	failures := 0
	deps.CheckAttempts = func(context.Context, string) error {
		if failures >= 2 {
			return errAttempts
		}
		return nil
	}
	deps.RecordFailure = func(context.Context, string) { failures++ }

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := RunValidateFactor(ctx, out.Session.ID, compliance.MethodSMS, "000000", deps); !errors.Is(err, errBadCode) {
			t.Fatalf("attempt %d: expected invalid code, got %v", i, err)
		}
	}
	if _, err := RunValidateFactor(ctx, out.Session.ID, compliance.MethodSMS, out.Session.Requirements[0].Code, deps); !errors.Is(err, errAttempts) {
		t.Fatalf("expected attempts exceeded, got %v", err)
	}
	if h.metrics[6] != 1 {
		t.Fatalf("expected attempts metric, got %d", h.metrics[6])
	}
}

func TestRunValidateFactorSuccessResetsAttempts(t *testing.T) {
	h := newStepUpHarness(t)
	out := h.create(compliance.MethodSMS, compliance.MethodEmail)
	deps := h.deps()

	failures, resets := 0, 0
	deps.CheckAttempts = func(context.Context, string) error {
		if failures >= 2 {
			return errAttempts
		}
		return nil
	}
	deps.RecordFailure = func(context.Context, string) { failures++ }
	deps.ResetAttempts = func(_ context.Context, id string) {
		if id != out.Session.ID {
			t.Fatalf("reset for wrong session %q", id)
		}
		resets++
		failures = 0
	}

	ctx := context.Background()
	if _, err := RunValidateFactor(ctx, out.Session.ID, compliance.MethodSMS, "000000", deps); !errors.Is(err, errBadCode) {
		t.Fatalf("expected invalid code, got %v", err)
	}
	if _, err := RunValidateFactor(ctx, out.Session.ID, compliance.MethodSMS, out.Session.Requirements[0].Code, deps); err != nil {
		t.Fatalf("sms validation failed: %v", err)
	}
	if resets != 1 {
		t.Fatalf("expected one reset, got %d", resets)
	}
	for i := 0; i < 2; i++ {
		if _, err := RunValidateFactor(ctx, out.Session.ID, compliance.MethodEmail, "000000", deps); !errors.Is(err, errBadCode) {
			t.Fatalf("attempt %d after success: expected invalid code, got %v", i, err)
		}
	}
}

func TestRunResendAndCancel(t *testing.T) {
	h := newStepUpHarness(t)
	out := h.create(compliance.MethodSMS, compliance.MethodAuthenticator)
	ctx := context.Background()
	deps := h.deps()

	h.delivered = map[string]string{}
	if err := RunResendFactorCode(ctx, out.Session.ID, compliance.MethodSMS, deps); err != nil {
		t.Fatalf("resend failed: %v", err)
	}
	if h.delivered["+15550001111"] != out.Session.Requirements[0].Code {
		t.Fatal("resend must deliver the recorded code")
	}
	if err := RunResendFactorCode(ctx, out.Session.ID, compliance.MethodAuthenticator, deps); !errors.Is(err, errUnsupported) {
		t.Fatalf("expected unsupported resend, got %v", err)
	}
	if err := RunResendFactorCode(ctx, out.Session.ID, compliance.MethodEmail, deps); !errors.Is(err, errNotRequested) {
		t.Fatalf("expected not requested, got %v", err)
	}

	if err := RunCancelStepUp(ctx, out.Session.ID, deps); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if err := RunCancelStepUp(ctx, out.Session.ID, deps); !errors.Is(err, errNoSession) {
		t.Fatalf("expected not found after cancel, got %v", err)
	}
}

func TestRunConsumeStepUp(t *testing.T) {
	h := newStepUpHarness(t)
	out := h.create(compliance.MethodSMS, compliance.MethodEmail)
	ctx := context.Background()
	deps := h.deps()

	if _, err := RunConsumeStepUp(ctx, out.Session.ID, "user-1", "aes_signature", deps); !errors.Is(err, errIncomplete) {
		t.Fatalf("expected not completed, got %v", err)
	}
	for _, req := range out.Session.Requirements {
		if _, err := RunValidateFactor(ctx, out.Session.ID, compliance.Method(req.Type), req.Code, deps); err != nil {
			t.Fatalf("validation failed: %v", err)
		}
	}
	if _, err := RunConsumeStepUp(ctx, out.Session.ID, "user-2", "aes_signature", deps); !errors.Is(err, errNoSession) {
		t.Fatalf("foreign user must not see session, got %v", err)
	}
	if _, err := RunConsumeStepUp(ctx, out.Session.ID, "user-1", "account_deletion", deps); !errors.Is(err, errInvalid) {
		t.Fatalf("expected purpose mismatch, got %v", err)
	}
	consumed, err := RunConsumeStepUp(ctx, out.Session.ID, "user-1", "aes_signature", deps)
	if err != nil || !consumed.Completed {
		t.Fatalf("expected consumed session, got %+v %v", consumed, err)
	}
	if _, err := RunConsumeStepUp(ctx, out.Session.ID, "user-1", "aes_signature", deps); !errors.Is(err, errNoSession) {
		t.Fatalf("session must be single use, got %v", err)
	}
}

func TestRunValidateFactorRestoresCodeWhenCompletionFails(t *testing.T) {
	h := newStepUpHarness(t)
	ctx := context.Background()
	out := h.create(compliance.MethodSMS, compliance.MethodEmail)
	sms := out.Session.Requirements[0]

	deps := h.deps()
	failures := 1
	complete := deps.CompleteRequirement
	deps.CompleteRequirement = func(ctx context.Context, sessionID, reqID string, now time.Time, decide func(*stores.StepUpSession) bool) (*stores.StepUpSession, bool, error) {
		if failures > 0 {
			failures--
			return nil, false, errors.New("redis blip")
		}
		return complete(ctx, sessionID, reqID, now, decide)
	}

	if _, err := RunValidateFactor(ctx, out.Session.ID, compliance.MethodSMS, sms.Code, deps); !errors.Is(err, errBackend) {
		t.Fatalf("expected backend error, got %v", err)
	}

	if err := RunResendFactorCode(ctx, out.Session.ID, compliance.MethodSMS, deps); err != nil {
		t.Fatalf("resend failed: %v", err)
	}
	if h.delivered[sms.Destination] != sms.Code {
		t.Fatalf("expected the recorded code to be resent, got %q", h.delivered[sms.Destination])
	}

	updated, err := RunValidateFactor(ctx, out.Session.ID, compliance.MethodSMS, sms.Code, deps)
	if err != nil {
		t.Fatalf("retry with the same code failed: %v", err)
	}
	if !updated.Requirements[0].Completed {
		t.Fatalf("expected sms requirement completed, got %+v", updated.Requirements[0])
	}
	if _, err := RunValidateFactor(ctx, out.Session.ID, compliance.MethodEmail, out.Session.Requirements[1].Code, deps); err != nil {
		t.Fatalf("email validation failed: %v", err)
	}
}

func TestRunValidateFactorSessionGoneDoesNotRestore(t *testing.T) {
	h := newStepUpHarness(t)
	ctx := context.Background()
	out := h.create(compliance.MethodSMS, compliance.MethodEmail)
	sms := out.Session.Requirements[0]

	deps := h.deps()
	deps.CompleteRequirement = func(context.Context, string, string, time.Time, func(*stores.StepUpSession) bool) (*stores.StepUpSession, bool, error) {
		return nil, false, stores.ErrStepUpNotFound
	}
	if _, err := RunValidateFactor(ctx, out.Session.ID, compliance.MethodSMS, sms.Code, deps); !errors.Is(err, errNoSession) {
		t.Fatalf("expected session not found, got %v", err)
	}
	if h.codes.Len() != 1 {
		t.Fatalf("only the email code should remain, got %d codes", h.codes.Len())
	}
}
