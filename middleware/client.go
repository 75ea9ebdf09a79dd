package middleware

import (
	"net"
	"net/http"

	"github.com/neosign/neoauth"
)

// SessionHeader names the application session of the caller. It is
// forwarded so that account deletion keeps the current session alive.
const SessionHeader = "X-Session-ID"

// ClientContext copies the client address, user agent and application
// session ID of the request into its context for the Engine.
func ClientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		if ip != "" {
			ctx = neoauth.WithClientIP(ctx, ip)
		}
		if ua := r.UserAgent(); ua != "" {
			ctx = neoauth.WithUserAgent(ctx, ua)
		}
		if sid := r.Header.Get(SessionHeader); sid != "" {
			ctx = neoauth.WithSessionID(ctx, sid)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
