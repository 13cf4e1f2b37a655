package handler

import (
	"net/http"

	"github.com/authkeel/authkeel/internal/http/response"
	"github.com/authkeel/authkeel/internal/service"
)

type TwoFactorHandler struct {
	twoFactor *service.TwoFactorService
}

func NewTwoFactorHandler(twoFactor *service.TwoFactorService) *TwoFactorHandler {
	return &TwoFactorHandler{twoFactor: twoFactor}
}

type passwordRequest struct {
	Password string `json:"password"`
}

func (h *TwoFactorHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req passwordRequest
	if err := decode(r, &req); err != nil {
		response.Failure(w, r, err)
		return
	}
	uri, err := h.twoFactor.BeginEnrollment(id.User, req.Password)
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	audit(r, "twofactor.enrollment_started", "user_id", id.User.ID)
	response.JSON(w, r, http.StatusOK, map[string]string{"otpauth_uri": uri})
}

type codeRequest struct {
	Code string `json:"code"`
}

func (h *TwoFactorHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req codeRequest
	if err := decode(r, &req); err != nil {
		response.Failure(w, r, err)
		return
	}
	if err := h.twoFactor.ConfirmEnrollment(id.User, req.Code); err != nil {
		response.Failure(w, r, err)
		return
	}
	audit(r, "twofactor.enabled", "user_id", id.User.ID)
	response.JSON(w, r, http.StatusOK, map[string]bool{"two_factor_enabled": true})
}

func (h *TwoFactorHandler) Disable(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req passwordRequest
	if err := decode(r, &req); err != nil {
		response.Failure(w, r, err)
		return
	}
	if err := h.twoFactor.Disable(id.User, req.Password); err != nil {
		response.Failure(w, r, err)
		return
	}
	audit(r, "twofactor.disabled", "user_id", id.User.ID)
	response.JSON(w, r, http.StatusOK, map[string]bool{"two_factor_enabled": false})
}
