package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/neosign/neoauth"
)

// StepUpHeader carries a step-up token when the Authorization header is
// used for something else.
const StepUpHeader = "X-StepUp-Token"

type stepUpContextKey struct{}

// StepUpFromContext returns the completed step-up session injected by
// [Guard].
func StepUpFromContext(ctx context.Context) (*neoauth.StepUpSession, bool) {
	s, ok := ctx.Value(stepUpContextKey{}).(*neoauth.StepUpSession)
	return s, ok
}

// Guard rejects requests without a valid token for a completed step-up
// session. A non-empty purpose must match the session purpose. Missing or
// invalid tokens get 401; incomplete or mismatched sessions get 403.
func Guard(engine *neoauth.Engine, purpose string) func(http.Handler) http.Handler {
	return guard(engine, purpose, true)
}

// RequireStepUpToken accepts the token of any live step-up session,
// complete or not. Handlers acting on a session by ID compare it with
// [StepUpFromContext].
func RequireStepUpToken(engine *neoauth.Engine) func(http.Handler) http.Handler {
	return guard(engine, "", false)
}

func guard(engine *neoauth.Engine, purpose string, completed bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := stepUpToken(r)
			if !ok {
				http.Error(w, "step-up required", http.StatusUnauthorized)
				return
			}

			session, err := engine.StepUpSessionFromToken(r.Context(), token)
			if err != nil {
				http.Error(w, "step-up required", http.StatusUnauthorized)
				return
			}
			if (completed && !session.Completed) || (purpose != "" && session.Purpose != purpose) {
				http.Error(w, "step-up not completed", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), stepUpContextKey{}, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func stepUpToken(r *http.Request) (string, bool) {
	if token := strings.TrimSpace(r.Header.Get(StepUpHeader)); token != "" {
		return token, true
	}
	return bearerToken(r.Header.Get("Authorization"))
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
