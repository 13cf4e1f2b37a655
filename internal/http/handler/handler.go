// Package handler holds the HTTP surface. Handlers decode, delegate to a
// service, and render the shared response envelope; authorization decisions
// live in the services.
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/authkeel/authkeel/internal/autherr"
	"github.com/authkeel/authkeel/internal/domain"
	"github.com/authkeel/authkeel/internal/http/middleware"
	"github.com/authkeel/authkeel/internal/http/response"
	"github.com/authkeel/authkeel/internal/observability"
	"github.com/authkeel/authkeel/internal/security"
	"github.com/authkeel/authkeel/internal/service"
)

const (
	sessionCookieName = "session_token"
	csrfCookieName    = "csrf_token"
)

func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed request body", autherr.ErrInvalid)
	}
	return nil
}

func clientMeta(r *http.Request) service.ClientMeta {
	return service.ClientMeta{UserAgent: r.UserAgent(), IP: middleware.ClientIP(r)}
}

// requireIdentity fetches the identity installed by the session middleware.
// Reaching a nil identity on a protected route is a routing bug, so the
// handler fails closed.
func requireIdentity(w http.ResponseWriter, r *http.Request) (*middleware.Identity, bool) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Failure(w, r, autherr.ErrUnauthenticated)
		return nil, false
	}
	return id, true
}

// audit forwards to the structured audit log. When the request rides an
// impersonated session every record is tagged with the admin behind it, so
// actions taken while impersonating never masquerade as the target user.
func audit(r *http.Request, event string, attrs ...any) {
	if id, ok := middleware.IdentityFromContext(r.Context()); ok && id.Session != nil && id.Session.ImpersonatedBy != nil {
		attrs = append(attrs, "impersonated_by", *id.Session.ImpersonatedBy)
	}
	observability.Audit(r, event, attrs...)
}

func pathID(r *http.Request, name string) (uint, error) {
	raw := chi.URLParam(r, name)
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("%w: bad %s", autherr.ErrInvalid, name)
	}
	return uint(v), nil
}

type userView struct {
	ID               uint      `json:"id"`
	Email            string    `json:"email"`
	EmailVerified    bool      `json:"email_verified"`
	Name             string    `json:"name"`
	AvatarURL        string    `json:"avatar_url,omitempty"`
	Role             string    `json:"role"`
	TwoFactorEnabled bool      `json:"two_factor_enabled"`
	CreatedAt        time.Time `json:"created_at"`
}

func newUserView(u *domain.User) userView {
	return userView{
		ID:               u.ID,
		Email:            u.Email,
		EmailVerified:    u.EmailVerified,
		Name:             u.Name,
		AvatarURL:        u.AvatarURL,
		Role:             u.Role,
		TwoFactorEnabled: u.TwoFactorEnabled,
		CreatedAt:        u.CreatedAt,
	}
}

type sessionPayload struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      userView  `json:"user"`
}

// issueSessionResponse writes the session cookie pair and returns the token
// in the body for non-browser clients. The csrf cookie is readable by
// scripts on purpose: the double-submit check needs it echoed in a header.
func issueSessionResponse(w http.ResponseWriter, r *http.Request, issued *service.IssuedSession, user *domain.User, status int) {
	csrf, err := security.NewOpaqueToken()
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	secure := r.TLS != nil
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    issued.Token,
		Path:     "/",
		Expires:  issued.Session.ExpiresAt,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    csrf,
		Path:     "/",
		Expires:  issued.Session.ExpiresAt,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	response.JSON(w, r, status, sessionPayload{
		Token:     issued.Token,
		ExpiresAt: issued.Session.ExpiresAt,
		User:      newUserView(user),
	})
}

func clearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{sessionCookieName, csrfCookieName} {
		http.SetCookie(w, &http.Cookie{Name: name, Value: "", Path: "/", MaxAge: -1})
	}
}
