package httpapi

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/neosign/neoauth"
	"github.com/neosign/neoauth/compliance"
	"github.com/neosign/neoauth/middleware"
)

// createStepUpRequest may repeat the session user in UserID; any other
// user is rejected.
type createStepUpRequest struct {
	UserID  string               `json:"user_id,omitempty"`
	Purpose string               `json:"purpose"`
	Factors []neoauth.FactorType `json:"factors"`
}

type validateFactorRequest struct {
	Code string `json:"code"`
}

type statusResponse struct {
	SessionID        string               `json:"session_id"`
	IsCompleted      bool                 `json:"is_completed"`
	CompletedMethods []neoauth.FactorType `json:"completed_methods"`
	RemainingMethods []neoauth.FactorType `json:"remaining_methods"`
	Reason           string               `json:"reason,omitempty"`
	ExpiresAt        time.Time            `json:"expires_at"`
}

type scheduleDeletionRequest struct {
	Reason string `json:"reason"`
}

type scheduleDeletionResponse struct {
	UserID          string    `json:"user_id"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	RevokedSessions int       `json:"revoked_sessions"`
}

type eligibilityResponse struct {
	UserID   string `json:"user_id"`
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}

type aesAuthorizationResponse struct {
	SessionID    string               `json:"session_id"`
	UserID       string               `json:"user_id"`
	Methods      []neoauth.FactorType `json:"methods"`
	Level        compliance.Level     `json:"level"`
	AuthorizedAt time.Time            `json:"authorized_at"`
}

func (h *handler) createStepUp(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.SessionUserFromContext(r.Context())
	if !ok {
		h.fail(w, r, neoauth.ErrSessionNotFound)
		return
	}
	var req createStepUpRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: err.Error()})
		return
	}
	if req.UserID != "" && req.UserID != caller {
		respondJSON(w, http.StatusForbidden, errorBody{Error: "session_user_mismatch", Message: "session belongs to another user"})
		return
	}

	sess, err := h.engine.CreateStepUpSession(r.Context(), neoauth.StepUpRequest{
		UserID:  caller,
		Purpose: req.Purpose,
		Factors: req.Factors,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

func (h *handler) getStepUp(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathStepUp(w, r)
	if !ok {
		return
	}
	sess, err := h.engine.GetStepUpSession(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (h *handler) cancelStepUp(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathStepUp(w, r)
	if !ok {
		return
	}
	if err := h.engine.CancelStepUpSession(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) validateFactor(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathStepUp(w, r)
	if !ok {
		return
	}
	var req validateFactorRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: err.Error()})
		return
	}

	status, err := h.engine.ValidateFactor(r.Context(), id, neoauth.FactorType(chi.URLParam(r, "type")), req.Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := statusResponse{
		SessionID:        status.SessionID,
		IsCompleted:      status.IsCompleted,
		CompletedMethods: status.CompletedMethods,
		RemainingMethods: status.RemainingMethods,
		ExpiresAt:        status.ExpiresAt,
	}
	if status.Reason != nil {
		_, out.Reason = statusFor(status.Reason)
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *handler) resendFactor(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathStepUp(w, r)
	if !ok {
		return
	}
	err := h.engine.ResendFactorCode(r.Context(), id, neoauth.FactorType(chi.URLParam(r, "type")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) deletionEligibility(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathUser(w, r)
	if !ok {
		return
	}
	ok, err := h.engine.CanDeleteAccount(r.Context(), userID)
	if err != nil && !errors.Is(err, neoauth.ErrPreconditionNotMet) {
		h.fail(w, r, err)
		return
	}
	out := eligibilityResponse{UserID: userID, Eligible: ok}
	if err != nil {
		_, out.Reason = statusFor(err)
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *handler) scheduleDeletion(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathUser(w, r)
	if !ok {
		return
	}
	sess, ok := middleware.StepUpFromContext(r.Context())
	if !ok || sess.UserID != userID {
		respondJSON(w, http.StatusForbidden, errorBody{Error: "stepup_user_mismatch", Message: "step-up session belongs to another user"})
		return
	}

	var req scheduleDeletionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: err.Error()})
		return
	}

	schedule, err := h.engine.ScheduleDeletionWithStepUp(r.Context(), userID, sess.ID, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, scheduleDeletionResponse{
		UserID:          schedule.UserID,
		ScheduledAt:     schedule.ScheduledAt,
		RevokedSessions: schedule.RevokedSessions,
	})
}

func (h *handler) cancelDeletion(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathUser(w, r)
	if !ok {
		return
	}
	if err := h.engine.CancelDeletion(r.Context(), userID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) authorizeAES(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.StepUpFromContext(r.Context())
	if !ok {
		h.fail(w, r, neoauth.ErrStepUpNotCompleted)
		return
	}
	auth, err := h.engine.AuthorizeAESSignature(r.Context(), sess.ID, sess.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, aesAuthorizationResponse{
		SessionID:    auth.SessionID,
		UserID:       auth.UserID,
		Methods:      auth.Methods,
		Level:        auth.Level,
		AuthorizedAt: auth.AuthorizedAt,
	})
}

func (h *handler) complianceReport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: err.Error()})
		return
	}
	sig, err := compliance.ParseSignature(body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	report, err := h.engine.ComplianceReport(r.Context(), sig)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}
