package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/authkeel/authkeel/internal/autherr"
	"github.com/authkeel/authkeel/internal/http/response"
	"github.com/authkeel/authkeel/internal/security"
	"github.com/authkeel/authkeel/internal/service"
)

const (
	nsOAuthState  = "oauth_state"
	oauthStateTTL = 10 * time.Minute
)

type AuthHandler struct {
	auth   *service.AuthService
	google service.OAuthProvider
	codes  service.CodeStore
}

func NewAuthHandler(auth *service.AuthService, google service.OAuthProvider, codes service.CodeStore) *AuthHandler {
	return &AuthHandler{auth: auth, google: google, codes: codes}
}

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		response.Failure(w, r, err)
		return
	}
	res, err := h.auth.Register(r.Context(), req.Email, req.Name, req.Password, clientMeta(r))
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	audit(r, "auth.register", "user_id", res.Session.Session.UserID)
	issueSessionResponse(w, r, res.Session, res.Session.User, http.StatusCreated)
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type challengeResponse struct {
	SecondFactorRequired bool   `json:"second_factor_required"`
	ChallengeToken       string `json:"challenge_token"`
}

func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decode(r, &req); err != nil {
		response.Failure(w, r, err)
		return
	}
	res, err := h.auth.SignIn(r.Context(), req.Email, req.Password, clientMeta(r))
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	if res.SecondFactorRequired {
		response.JSON(w, r, http.StatusOK, challengeResponse{
			SecondFactorRequired: true,
			ChallengeToken:       res.ChallengeToken,
		})
		return
	}
	audit(r, "auth.signin", "user_id", res.Session.Session.UserID)
	issueSessionResponse(w, r, res.Session, res.Session.User, http.StatusOK)
}

type secondFactorRequest struct {
	ChallengeToken string `json:"challenge_token"`
	Code           string `json:"code"`
}

func (h *AuthHandler) SecondFactor(w http.ResponseWriter, r *http.Request) {
	var req secondFactorRequest
	if err := decode(r, &req); err != nil {
		response.Failure(w, r, err)
		return
	}
	issued, err := h.auth.CompleteSecondFactor(r.Context(), req.ChallengeToken, req.Code, clientMeta(r))
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	audit(r, "auth.signin.second_factor", "user_id", issued.Session.UserID)
	issueSessionResponse(w, r, issued, issued.User, http.StatusOK)
}

type secondFactorCodeRequest struct {
	ChallengeToken string `json:"challenge_token"`
}

func (h *AuthHandler) SecondFactorCode(w http.ResponseWriter, r *http.Request) {
	var req secondFactorCodeRequest
	if err := decode(r, &req); err != nil {
		response.Failure(w, r, err)
		return
	}
	if err := h.auth.RequestSecondFactorCode(r.Context(), req.ChallengeToken); err != nil {
		response.Failure(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if err := h.auth.SignOut(id.Token); err != nil {
		response.Failure(w, r, err)
		return
	}
	audit(r, "auth.signout", "user_id", id.User.ID, "session_id", id.Session.ID)
	clearSessionCookies(w)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "signed_out"})
}

func (h *AuthHandler) VerifyEmailRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if err := h.auth.RequestEmailVerification(r.Context(), id.User); err != nil {
		response.Failure(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusAccepted, map[string]string{"status": "sent"})
}

type tokenRequest struct {
	Token string `json:"token"`
}

func (h *AuthHandler) VerifyEmailConfirm(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decode(r, &req); err != nil {
		response.Failure(w, r, err)
		return
	}
	if err := h.auth.ConfirmEmailVerification(req.Token); err != nil {
		response.Failure(w, r, err)
		return
	}
	audit(r, "auth.email.verified")
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "verified"})
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (h *AuthHandler) PasswordForgot(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decode(r, &req); err != nil {
		response.Failure(w, r, err)
		return
	}
	if err := h.auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		response.Failure(w, r, err)
		return
	}
	// Same answer whether or not the email exists.
	response.JSON(w, r, http.StatusAccepted, map[string]string{"status": "sent"})
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (h *AuthHandler) PasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decode(r, &req); err != nil {
		response.Failure(w, r, err)
		return
	}
	if err := h.auth.ResetPassword(req.Token, req.NewPassword); err != nil {
		response.Failure(w, r, err)
		return
	}
	audit(r, "auth.password.reset")
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "reset"})
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (h *AuthHandler) PasswordChange(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if err := decode(r, &req); err != nil {
		response.Failure(w, r, err)
		return
	}
	if err := h.auth.ChangePassword(id.User, id.Session.ID, req.OldPassword, req.NewPassword); err != nil {
		response.Failure(w, r, err)
		return
	}
	audit(r, "auth.password.changed", "user_id", id.User.ID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "changed"})
}

type changeEmailRequest struct {
	Password string `json:"password"`
	NewEmail string `json:"new_email"`
}

func (h *AuthHandler) EmailChangeRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req changeEmailRequest
	if err := decode(r, &req); err != nil {
		response.Failure(w, r, err)
		return
	}
	if err := h.auth.RequestEmailChange(r.Context(), id.User, req.Password, req.NewEmail); err != nil {
		response.Failure(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (h *AuthHandler) EmailChangeConfirm(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decode(r, &req); err != nil {
		response.Failure(w, r, err)
		return
	}
	if err := h.auth.ConfirmEmailChange(req.Token); err != nil {
		response.Failure(w, r, err)
		return
	}
	audit(r, "auth.email.changed")
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "changed"})
}

func (h *AuthHandler) DeleteAccountRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if err := h.auth.RequestAccountDeletion(r.Context(), id.User); err != nil {
		response.Failure(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (h *AuthHandler) DeleteAccountConfirm(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decode(r, &req); err != nil {
		response.Failure(w, r, err)
		return
	}
	if err := h.auth.ConfirmAccountDeletion(req.Token); err != nil {
		response.Failure(w, r, err)
		return
	}
	audit(r, "auth.account.deleted")
	clearSessionCookies(w)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		response.Failure(w, r, fmt.Errorf("%w: google sign-in is not configured", autherr.ErrInvalid))
		return
	}
	state, err := security.NewOpaqueToken()
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	if err := h.codes.Put(r.Context(), nsOAuthState, state, h.google.Name(), oauthStateTTL); err != nil {
		response.Failure(w, r, err)
		return
	}
	http.Redirect(w, r, h.google.AuthCodeURL(state), http.StatusFound)
}

func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		response.Failure(w, r, fmt.Errorf("%w: google sign-in is not configured", autherr.ErrInvalid))
		return
	}
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		response.Failure(w, r, fmt.Errorf("%w: missing state or code", autherr.ErrInvalid))
		return
	}
	_, ok, err := h.codes.Consume(r.Context(), nsOAuthState, state)
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	if !ok {
		response.Failure(w, r, fmt.Errorf("%w: unknown oauth state", autherr.ErrInvalid))
		return
	}
	res, err := h.auth.SignInWithProvider(r.Context(), h.google, code, clientMeta(r))
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	if res.SecondFactorRequired {
		response.JSON(w, r, http.StatusOK, challengeResponse{
			SecondFactorRequired: true,
			ChallengeToken:       res.ChallengeToken,
		})
		return
	}
	audit(r, "auth.signin.google", "user_id", res.Session.Session.UserID)
	issueSessionResponse(w, r, res.Session, res.Session.User, http.StatusOK)
}
