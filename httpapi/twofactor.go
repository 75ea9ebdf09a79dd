package httpapi

import (
	"net/http"

	"github.com/neosign/neoauth"
)

type confirmCodeRequest struct {
	Code string `json:"code"`
}

type phoneRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code,omitempty"`
}

type twoFactorStatusResponse struct {
	UserID               string               `json:"user_id"`
	EnabledMethods       []neoauth.FactorType `json:"enabled_methods"`
	EmailVerified        bool                 `json:"email_verified"`
	PhoneNumber          string               `json:"phone_number,omitempty"`
	PhoneVerified        bool                 `json:"phone_verified"`
	AuthenticatorEnabled bool                 `json:"authenticator_enabled"`
}

type authenticatorSetupResponse struct {
	Secret string `json:"secret"`
	URI    string `json:"otpauth_uri"`
}

func (h *handler) twoFactorStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathUser(w, r)
	if !ok {
		return
	}
	status, err := h.engine.TwoFactorStatus(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	methods := status.EnabledMethods
	if methods == nil {
		methods = []neoauth.FactorType{}
	}
	respondJSON(w, http.StatusOK, twoFactorStatusResponse{
		UserID:               status.UserID,
		EnabledMethods:       methods,
		EmailVerified:        status.EmailVerified,
		PhoneNumber:          status.PhoneNumber,
		PhoneVerified:        status.PhoneVerified,
		AuthenticatorEnabled: status.AuthenticatorEnabled,
	})
}

func (h *handler) requestEmailTwoFactor(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathUser(w, r)
	if !ok {
		return
	}
	if err := h.engine.RequestEmailTwoFactor(r.Context(), userID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) confirmEmailTwoFactor(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathUser(w, r)
	if !ok {
		return
	}
	var req confirmCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: err.Error()})
		return
	}
	if err := h.engine.ConfirmEmailTwoFactor(r.Context(), userID, req.Code); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) requestPhoneTwoFactor(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathUser(w, r)
	if !ok {
		return
	}
	var req phoneRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: err.Error()})
		return
	}
	if err := h.engine.RequestPhoneTwoFactor(r.Context(), userID, req.Phone); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) confirmPhoneTwoFactor(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathUser(w, r)
	if !ok {
		return
	}
	var req phoneRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: err.Error()})
		return
	}
	if err := h.engine.ConfirmPhoneTwoFactor(r.Context(), userID, req.Phone, req.Code); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) beginAuthenticatorSetup(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathUser(w, r)
	if !ok {
		return
	}
	setup, err := h.engine.BeginAuthenticatorSetup(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	respondJSON(w, http.StatusCreated, authenticatorSetupResponse{Secret: setup.SecretBase32, URI: setup.URI})
}

func (h *handler) confirmAuthenticatorSetup(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathUser(w, r)
	if !ok {
		return
	}
	var req confirmCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: err.Error()})
		return
	}
	if err := h.engine.ConfirmAuthenticatorSetup(r.Context(), userID, req.Code); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
