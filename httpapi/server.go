package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/neosign/neoauth"
	"github.com/neosign/neoauth/metrics/export/prometheus"
	"github.com/neosign/neoauth/middleware"
	"go.uber.org/zap"
)

// Options configures the router. Zero values are usable.
type Options struct {
	AllowedOrigins []string
	Logger         *zap.Logger
	// RequestTimeout bounds each request. Zero means 30s.
	RequestTimeout time.Duration
	// DisableMetrics removes the /metrics route.
	DisableMetrics bool
}

type handler struct {
	engine *neoauth.Engine
	logger *zap.Logger
}

// NewRouter builds the HTTP surface for engine.
func NewRouter(engine *neoauth.Engine, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	h := &handler{engine: engine, logger: logger}
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.StepUpHeader, middleware.SessionHeader},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.ClientContext)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if !opts.DisableMetrics {
		r.Method(http.MethodGet, "/metrics", prometheus.NewExporter(engine).Handler())
	}

	// Application-session routes act for the user named by X-Session-ID.
	// Step-up session routes act on the session named by the step-up token.
	r.Route("/v1", func(r chi.Router) {
		r.Route("/stepup/sessions", func(r chi.Router) {
			r.With(middleware.RequireSession(engine)).Post("/", h.createStepUp)
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireStepUpToken(engine))
				r.Get("/{id}", h.getStepUp)
				r.Delete("/{id}", h.cancelStepUp)
				r.Post("/{id}/factors/{type}", h.validateFactor)
				r.Post("/{id}/factors/{type}/resend", h.resendFactor)
			})
		})

		r.Route("/accounts/{userID}", func(r chi.Router) {
			r.Use(middleware.RequireSession(engine))

			r.Route("/deletion", func(r chi.Router) {
				r.Get("/eligibility", h.deletionEligibility)
				r.Delete("/", h.cancelDeletion)
				r.With(middleware.Guard(engine, neoauth.PurposeAccountDeletion)).Post("/", h.scheduleDeletion)
			})

			r.Route("/twofactor", func(r chi.Router) {
				r.Get("/", h.twoFactorStatus)
				r.Post("/email", h.requestEmailTwoFactor)
				r.Post("/email/confirm", h.confirmEmailTwoFactor)
				r.Post("/phone", h.requestPhoneTwoFactor)
				r.Post("/phone/confirm", h.confirmPhoneTwoFactor)
				r.Post("/authenticator", h.beginAuthenticatorSetup)
				r.Post("/authenticator/confirm", h.confirmAuthenticatorSetup)
			})
		})

		r.With(middleware.RequireAESStepUp(engine)).Post("/signatures/aes/authorize", h.authorizeAES)
		r.Post("/compliance/report", h.complianceReport)
	})

	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", chimw.GetReqID(r.Context())),
			)
		})
	}
}

// pathUser returns the {userID} path parameter when it names the caller's
// application session user, and writes 403 otherwise.
func (h *handler) pathUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := chi.URLParam(r, "userID")
	caller, ok := middleware.SessionUserFromContext(r.Context())
	if !ok || caller != userID {
		respondJSON(w, http.StatusForbidden, errorBody{Error: "session_user_mismatch", Message: "session belongs to another user"})
		return "", false
	}
	return userID, true
}

// pathStepUp returns the {id} path parameter when it names the session the
// step-up token was issued for, and writes 403 otherwise.
func (h *handler) pathStepUp(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	sess, ok := middleware.StepUpFromContext(r.Context())
	if !ok || sess.ID != id {
		respondJSON(w, http.StatusForbidden, errorBody{Error: "stepup_session_mismatch", Message: "step-up token names another session"})
		return "", false
	}
	return id, true
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("code", code),
			zap.Error(err),
		)
	}
	respondJSON(w, status, errorBody{Error: code, Message: publicMessage(status, err)})
}
