package neoauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neosign/neoauth/channel"
	"github.com/neosign/neoauth/internal"
	"github.com/neosign/neoauth/internal/rate"
	"github.com/neosign/neoauth/internal/stores"
	"go.uber.org/zap"
)

// Code purposes used by the engine itself.
const (
	PurposeTwoFactor   = "2fa"
	PurposeEmailChange = "email-change"
	PurposePhoneVerify = "phone-verify"
)

// normalizeSubject trims the subject and lower-cases email addresses.
func normalizeSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if strings.Contains(subject, "@") {
		subject = strings.ToLower(subject)
	}
	return subject
}

// IssueCode generates a six digit code in [100000, 999999] for subject and
// purpose, replacing any live code for the same pair. A non-positive ttl
// uses Config.OneTimeCode.DefaultTTL. The caller delivers the returned code.
func (e *Engine) IssueCode(ctx context.Context, subject, purpose string, ttl time.Duration) (string, error) {
	subject = normalizeSubject(subject)
	code, err := e.issueCode(ctx, subject, purpose, ttl)
	if err != nil {
		e.emitAudit(ctx, auditEventCodeIssued, false, "", "", err, func() map[string]string {
			return map[string]string{"purpose": purpose}
		})
		return "", err
	}
	e.emitAudit(ctx, auditEventCodeIssued, true, "", "", nil, func() map[string]string {
		return map[string]string{
			"purpose": purpose,
			"subject": channel.MaskDestination(subject),
		}
	})
	return code, nil
}

func (e *Engine) issueCode(ctx context.Context, subject, purpose string, ttl time.Duration) (string, error) {
	if e.codeStore == nil {
		return "", ErrEngineNotReady
	}
	if subject == "" || purpose == "" {
		return "", ErrInvalidRequest
	}
	if ttl <= 0 {
		ttl = e.config.OneTimeCode.DefaultTTL
	}

	if err := e.limiter.CheckIssue(ctx, purpose+":"+subject); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricCodeRateLimited)
			e.emitRateLimit(ctx, "code_issue", "")
			return "", ErrCodeRateLimited
		}
		return "", fmt.Errorf("%w: %v", ErrCodeStoreUnavailable, err)
	}

	code, err := internal.NewNumericCode()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCodeStoreUnavailable, err)
	}

	now := e.clock()
	record := &stores.OneTimeCode{
		Subject:   subject,
		Purpose:   purpose,
		CodeHash:  internal.HashCode(code),
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(ttl).UnixMilli(),
	}
	if err := e.codeStore.Save(ctx, record); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCodeStoreUnavailable, err)
	}

	e.metricInc(MetricCodeIssued)
	return code, nil
}

// restoreCode stores a known code again with its original expiry. It skips
// the issuance limiter because no new code is handed out.
func (e *Engine) restoreCode(ctx context.Context, subject, purpose, code string, expiresAt time.Time) error {
	if e.codeStore == nil {
		return ErrEngineNotReady
	}
	if subject == "" || purpose == "" || code == "" {
		return ErrInvalidRequest
	}
	now := e.clock()
	if !expiresAt.After(now) {
		return ErrCodeExpired
	}
	record := &stores.OneTimeCode{
		Subject:   subject,
		Purpose:   purpose,
		CodeHash:  internal.HashCode(code),
		CreatedAt: now.UnixMilli(),
		ExpiresAt: expiresAt.UnixMilli(),
	}
	if err := e.codeStore.Save(ctx, record); err != nil {
		return fmt.Errorf("%w: %v", ErrCodeStoreUnavailable, err)
	}
	e.logger.Warn("one-time code restored after failed completion",
		zap.String("purpose", purpose),
		zap.String("subject", channel.MaskDestination(subject)),
	)
	return nil
}

// VerifyCode consumes the code for subject and purpose. At most one call
// succeeds per issued code. Failures are ErrCodeNotFound, ErrCodeExpired or
// ErrCodeMismatch, all matching ErrInvalidOrExpiredCode.
func (e *Engine) VerifyCode(ctx context.Context, subject, purpose, code string) error {
	subject = normalizeSubject(subject)
	err := e.verifyCode(ctx, subject, purpose, code)
	if err == nil {
		e.emitAudit(ctx, auditEventCodeVerified, true, "", "", nil, func() map[string]string {
			return map[string]string{"purpose": purpose}
		})
		return nil
	}
	e.emitAudit(ctx, auditEventCodeRejected, false, "", "", err, func() map[string]string {
		return map[string]string{"purpose": purpose}
	})
	return err
}

func (e *Engine) verifyCode(ctx context.Context, subject, purpose, code string) error {
	if e.codeStore == nil {
		return ErrEngineNotReady
	}
	if subject == "" || purpose == "" {
		return ErrInvalidRequest
	}

	err := e.codeStore.Consume(ctx, subject, purpose, internal.HashCode(strings.TrimSpace(code)), e.clock())
	if err == nil {
		e.metricInc(MetricCodeVerified)
		return nil
	}

	var (
		kind   string
		mapped error
	)
	switch {
	case errors.Is(err, stores.ErrCodeNotFound):
		kind, mapped = "not_found", ErrCodeNotFound
		e.metricInc(MetricCodeNotFound)
	case errors.Is(err, stores.ErrCodeExpired):
		kind, mapped = "expired", ErrCodeExpired
		e.metricInc(MetricCodeExpired)
	case errors.Is(err, stores.ErrCodeMismatch):
		kind, mapped = "mismatch", ErrCodeMismatch
		e.metricInc(MetricCodeMismatch)
	default:
		e.logger.Error("one-time code backend failure", zap.String("purpose", purpose), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrCodeStoreUnavailable, err)
	}

	e.logger.Info("one-time code rejected",
		zap.String("kind", kind),
		zap.String("purpose", purpose),
		zap.String("subject", channel.MaskDestination(subject)),
	)
	return mapped
}

// CleanupExpiredCodes removes every code whose expiry has passed and
// returns how many were removed. It is idempotent and safe to run
// concurrently with issue and verify.
func (e *Engine) CleanupExpiredCodes(ctx context.Context) (int, error) {
	if e.codeStore == nil {
		return 0, ErrEngineNotReady
	}
	removed, err := e.codeStore.CleanupExpired(ctx, e.clock())
	if removed > 0 && e.metrics != nil {
		e.metrics.Add(MetricCodeSwept, uint64(removed))
	}
	if err != nil {
		return removed, fmt.Errorf("%w: %v", ErrCodeStoreUnavailable, err)
	}
	return removed, nil
}

func (e *Engine) startCodeSweep(interval time.Duration) {
	e.sweepStop = make(chan struct{})
	e.sweepDone = make(chan struct{})

	go func() {
		defer close(e.sweepDone)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-e.sweepStop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				removed, err := e.CleanupExpiredCodes(ctx)
				cancel()
				if err != nil {
					e.logger.Warn("expired code sweep failed", zap.Error(err))
					continue
				}
				if removed > 0 {
					e.logger.Debug("expired code sweep", zap.Int("removed", removed))
				}
			}
		}
	}()
}
