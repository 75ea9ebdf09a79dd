package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/neosign/neoauth"
)

type sessionUserContextKey struct{}

// SessionUserFromContext returns the user resolved by [RequireSession].
func SessionUserFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(sessionUserContextKey{}).(string)
	return userID, ok && userID != ""
}

// RequireSession resolves the [SessionHeader] application session to its
// user. Missing, unknown and expired sessions get 401; a session store
// failure gets 503.
func RequireSession(engine *neoauth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sid := strings.TrimSpace(r.Header.Get(SessionHeader))
			if engine == nil || sid == "" {
				http.Error(w, "session required", http.StatusUnauthorized)
				return
			}

			userID, err := engine.SessionUser(r.Context(), sid)
			switch {
			case errors.Is(err, neoauth.ErrSessionNotFound):
				http.Error(w, "session required", http.StatusUnauthorized)
				return
			case err != nil:
				http.Error(w, "session backend unavailable", http.StatusServiceUnavailable)
				return
			}

			ctx := context.WithValue(r.Context(), sessionUserContextKey{}, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
