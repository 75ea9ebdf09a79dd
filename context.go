package neoauth

import "context"

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type sessionIDContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. It is recorded on
// audit events and used as the step-up IP when a request leaves it empty.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithSessionID attaches the caller's current application session ID to
// ctx. ScheduleDeletion keeps this session and revokes every other one.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDContextKey{}, sessionID)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

func sessionIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	sessionID, _ := ctx.Value(sessionIDContextKey{}).(string)
	return sessionID
}
