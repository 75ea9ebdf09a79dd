package neoauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neosign/neoauth/channel"
	"github.com/neosign/neoauth/compliance"
	"github.com/neosign/neoauth/internal/flows"
	"github.com/neosign/neoauth/internal/stores"
	"go.uber.org/zap"
)

// CreateStepUpSession starts a step-up session for req.UserID. Codes for
// sms and email requirements are issued and delivered before it returns;
// the returned view never contains them. An empty IP address or user agent
// falls back to the values carried by ctx and then to the configured
// defaults.
func (e *Engine) CreateStepUpSession(ctx context.Context, req StepUpRequest) (*StepUpSession, error) {
	in := flows.StepUpInput{
		UserID:    req.UserID,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Purpose:   req.Purpose,
		Factors:   req.Factors,
	}
	if in.IPAddress == "" {
		in.IPAddress = clientIPFromContext(ctx)
	}
	if in.UserAgent == "" {
		in.UserAgent = userAgentFromContext(ctx)
	}

	out, err := flows.RunCreateStepUp(ctx, in, e.flows.StepUp)
	if err != nil {
		e.emitAudit(ctx, auditEventStepUpCreated, false, req.UserID, "", err, func() map[string]string {
			return map[string]string{"purpose": req.Purpose}
		})
		return nil, err
	}

	token, err := e.jwtManager.CreateStepUp(out.Session.UserID, out.Session.ID, out.Session.Purpose, time.UnixMilli(out.Session.Deadline()))
	if err != nil {
		if _, delErr := e.stepUpStore.Delete(ctx, out.Session.ID); delErr != nil {
			e.logger.Warn("step-up session cleanup failed", zap.String("session_id", out.Session.ID), zap.Error(delErr))
		}
		return nil, fmt.Errorf("%w: %v", ErrStepUpUnavailable, err)
	}

	view := stepUpView(out.Session)
	view.Token = token
	view.DeliveryFailed = out.DeliveryFailed
	return view, nil
}

// ValidateFactor verifies one submitted factor. code is the one-time code
// for sms and email, the TOTP code for authenticator and the assertion for
// hardware. A wrong code leaves the session unchanged and may be retried.
func (e *Engine) ValidateFactor(ctx context.Context, sessionID string, factor FactorType, code string) (*StepUpStatus, error) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.Observe(MetricValidateFactorLatency, time.Since(start))
		}
	}()

	session, err := flows.RunValidateFactor(ctx, sessionID, factor, code, e.flows.StepUp)
	if err != nil {
		return nil, err
	}
	return e.stepUpStatus(session), nil
}

// CheckCompletion summarizes the session. While incomplete, Reason is
// ErrInsufficientFactors or ErrDiversityRuleFailed.
func (e *Engine) CheckCompletion(ctx context.Context, sessionID string) (*StepUpStatus, error) {
	session, _, err := flows.RunCheckCompletion(ctx, sessionID, e.flows.StepUp)
	if err != nil {
		return nil, err
	}
	return e.stepUpStatus(session), nil
}

// GetStepUpSession returns the client-safe view of a live session.
func (e *Engine) GetStepUpSession(ctx context.Context, sessionID string) (*StepUpSession, error) {
	session, _, err := flows.RunCheckCompletion(ctx, sessionID, e.flows.StepUp)
	if err != nil {
		return nil, err
	}
	return stepUpView(session), nil
}

// StepUpSessionFromToken verifies a step-up token and loads the session it
// names. The token must belong to the session owner.
func (e *Engine) StepUpSessionFromToken(ctx context.Context, token string) (*StepUpSession, error) {
	claims, err := e.jwtManager.ParseStepUp(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStepUpTokenInvalid, err)
	}

	session, _, err := flows.RunCheckCompletion(ctx, claims.SID, e.flows.StepUp)
	if err != nil {
		return nil, err
	}
	if session.UserID != claims.UID {
		return nil, ErrStepUpTokenInvalid
	}
	return stepUpView(session), nil
}

// ResendFactorCode re-delivers the code already issued for the first
// incomplete sms or email requirement. The code is not regenerated and its
// expiry does not move.
func (e *Engine) ResendFactorCode(ctx context.Context, sessionID string, factor FactorType) error {
	return flows.RunResendFactorCode(ctx, sessionID, factor, e.flows.StepUp)
}

// CancelStepUpSession deletes a session. Abandoned sessions need no call;
// they expire on their own.
func (e *Engine) CancelStepUpSession(ctx context.Context, sessionID string) error {
	return flows.RunCancelStepUp(ctx, sessionID, e.flows.StepUp)
}

// AuthorizeAESSignature consumes a completed aes_signature session owned
// by userID. Each session authorizes exactly one signature.
func (e *Engine) AuthorizeAESSignature(ctx context.Context, sessionID, userID string) (*SignatureAuthorization, error) {
	session, err := flows.RunConsumeStepUp(ctx, sessionID, userID, PurposeAESSignature, e.flows.StepUp)
	if err != nil {
		e.emitAudit(ctx, auditEventAESRejected, false, userID, sessionID, err, nil)
		return nil, err
	}

	summary := flows.Summarize(session, e.config.StepUp.MinCompletedFactors)
	auth := &SignatureAuthorization{
		SessionID:    session.ID,
		UserID:       session.UserID,
		Methods:      summary.CompletedMethods,
		Level:        compliance.LevelAES,
		AuthorizedAt: e.clock(),
	}

	e.metricInc(MetricAESAuthorized)
	e.emitAudit(ctx, auditEventAESAuthorized, true, userID, sessionID, nil, func() map[string]string {
		return map[string]string{"methods": joinFactorTypes(auth.Methods)}
	})
	return auth, nil
}

// consumeStepUp removes a completed session for purpose on behalf of
// another gated operation.
func (e *Engine) consumeStepUp(ctx context.Context, sessionID, userID, purpose string) (*stores.StepUpSession, error) {
	return flows.RunConsumeStepUp(ctx, sessionID, userID, purpose, e.flows.StepUp)
}

func (e *Engine) stepUpStatus(session *stores.StepUpSession) *StepUpStatus {
	summary := flows.Summarize(session, e.config.StepUp.MinCompletedFactors)
	return &StepUpStatus{
		SessionID:        session.ID,
		IsCompleted:      session.Completed,
		CompletedMethods: summary.CompletedMethods,
		RemainingMethods: summary.RemainingMethods,
		Reason:           summary.Reason,
		ExpiresAt:        time.UnixMilli(session.Deadline()).UTC(),
	}
}

func stepUpView(session *stores.StepUpSession) *StepUpSession {
	view := &StepUpSession{
		ID:           session.ID,
		UserID:       session.UserID,
		Purpose:      session.Purpose,
		Completed:    session.Completed,
		CreatedAt:    time.UnixMilli(session.CreatedAt).UTC(),
		ExpiresAt:    time.UnixMilli(session.Deadline()).UTC(),
		Requirements: make([]Requirement, 0, len(session.Requirements)),
	}
	if session.CompletedAt != 0 {
		t := time.UnixMilli(session.CompletedAt).UTC()
		view.CompletedAt = &t
	}
	for _, req := range session.Requirements {
		r := Requirement{
			ID:        req.ID,
			Type:      FactorType(req.Type),
			Required:  req.Required,
			Completed: req.Completed,
			ExpiresAt: time.UnixMilli(req.ExpiresAt).UTC(),
		}
		if req.Destination != "" {
			r.Destination = channel.MaskDestination(req.Destination)
		}
		if req.CompletedAt != 0 {
			t := time.UnixMilli(req.CompletedAt).UTC()
			r.CompletedAt = &t
		}
		view.Requirements = append(view.Requirements, r)
	}
	return view
}

func joinFactorTypes(methods []FactorType) string {
	out := ""
	for i, m := range methods {
		if i > 0 {
			out += ","
		}
		out += string(m)
	}
	return out
}

// IsTerminalStepUpError reports whether err ends the session for the
// caller, as opposed to a retryable factor failure.
func IsTerminalStepUpError(err error) bool {
	return errors.Is(err, ErrStepUpSessionNotFound) ||
		errors.Is(err, ErrStepUpSessionExpired) ||
		errors.Is(err, ErrStepUpAttemptsExceeded)
}
