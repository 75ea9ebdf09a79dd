package middleware

import (
	"net/http"

	"github.com/neosign/neoauth"
)

// RequireStepUp accepts any completed step-up session.
func RequireStepUp(engine *neoauth.Engine) func(http.Handler) http.Handler {
	return Guard(engine, "")
}

// RequireAESStepUp accepts only completed aes_signature sessions.
func RequireAESStepUp(engine *neoauth.Engine) func(http.Handler) http.Handler {
	return Guard(engine, neoauth.PurposeAESSignature)
}
