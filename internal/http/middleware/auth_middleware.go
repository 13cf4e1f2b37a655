package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/authkeel/authkeel/internal/autherr"
	"github.com/authkeel/authkeel/internal/domain"
	"github.com/authkeel/authkeel/internal/http/response"
)

// SessionValidator resolves a raw session token to its live session and
// owning user. *service.SessionService satisfies it.
type SessionValidator interface {
	Validate(token string) (*domain.Session, *domain.User, error)
}

// Identity is what a validated request carries: the session, its user, and
// the raw token so handlers like sign-out can revoke the caller's own session.
type Identity struct {
	Session *domain.Session
	User    *domain.User
	Token   string
}

type contextKey string

const identityContextKey contextKey = "identity"

const sessionCookieName = "session_token"

// SessionToken extracts the raw token from the session cookie, falling back
// to an Authorization bearer header for non-browser clients.
func SessionToken(r *http.Request) string {
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func RequireSession(sessions SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := SessionToken(r)
			if token == "" {
				response.Failure(w, r, autherr.ErrUnauthenticated)
				return
			}
			session, user, err := sessions.Validate(token)
			if err != nil {
				response.Failure(w, r, err)
				return
			}
			ctx := ContextWithIdentity(r.Context(), &Identity{
				Session: session,
				User:    user,
				Token:   token,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(*Identity)
	return id, ok
}
