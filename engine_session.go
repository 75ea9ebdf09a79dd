package neoauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/neosign/neoauth/internal"
	"github.com/neosign/neoauth/session"
	"go.uber.org/zap"
)

// StartSession creates an application session for userID and returns its
// ID. Client IP and user agent are taken from ctx and stored hashed.
func (e *Engine) StartSession(ctx context.Context, userID string) (string, error) {
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return "", err
	}
	switch user.Status {
	case AccountDisabled:
		return "", ErrAccountDisabled
	case AccountDeleted:
		return "", ErrAccountDeleted
	}

	sid, err := internal.NewSessionID()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}

	now := e.clock()
	sess := &session.Session{
		SessionID:     sid,
		UserID:        userID,
		IPHash:        internal.HashBindingValue(clientIPFromContext(ctx)),
		UserAgentHash: internal.HashBindingValue(userAgentFromContext(ctx)),
		CreatedAt:     now.Unix(),
		ExpiresAt:     now.Add(e.config.Session.TTL).Unix(),
	}
	if err := e.sessionStore.Save(ctx, sess, e.config.Session.TTL); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}

	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventSessionCreated, true, userID, sess.SessionID, nil, nil)
	return sess.SessionID, nil
}

// SessionUser resolves a live application session to its user. Malformed,
// unknown and expired IDs yield [ErrSessionNotFound].
func (e *Engine) SessionUser(ctx context.Context, sessionID string) (string, error) {
	if !internal.ValidSessionID(sessionID) {
		return "", ErrSessionNotFound
	}
	sess, err := e.sessionStore.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return "", ErrSessionNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	return sess.UserID, nil
}

// ActiveSessionIDs lists the live application sessions of userID.
func (e *Engine) ActiveSessionIDs(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, ErrInvalidRequest
	}
	ids, err := e.sessionStore.ActiveSessionIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	return ids, nil
}

// RevokeSession deletes one application session.
func (e *Engine) RevokeSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrInvalidRequest
	}
	if !internal.ValidSessionID(sessionID) {
		return ErrSessionNotFound
	}
	sess, err := e.sessionStore.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	if _, err := e.sessionStore.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}

	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSessionRevoked, true, sess.UserID, sessionID, nil, nil)
	return nil
}

// RevokeAllSessions deletes every application session of userID and
// returns how many were live.
func (e *Engine) RevokeAllSessions(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ErrInvalidRequest
	}
	n, err := e.sessionStore.DeleteAllForUser(ctx, userID, "")
	if err != nil {
		e.emitAudit(ctx, auditEventSessionRevokeAll, false, userID, "", ErrSessionInvalidationFailed, nil)
		return 0, errors.Join(ErrSessionInvalidationFailed, err)
	}
	if e.metrics != nil && n > 0 {
		e.metrics.Add(MetricSessionRevoked, uint64(n))
	}
	e.emitAudit(ctx, auditEventSessionRevokeAll, true, userID, "", nil, nil)
	return n, nil
}

// revokeOtherSessions keeps the session carried by ctx and revokes the
// rest.
func (e *Engine) revokeOtherSessions(ctx context.Context, userID string) (int, error) {
	keep := sessionIDFromContext(ctx)
	n, err := e.sessionStore.DeleteAllForUser(ctx, userID, keep)
	if err != nil {
		e.logger.Error("session revocation failed", zap.String("user_id", userID), zap.Error(err))
		return 0, err
	}
	if e.metrics != nil && n > 0 {
		e.metrics.Add(MetricSessionRevoked, uint64(n))
	}
	return n, nil
}
