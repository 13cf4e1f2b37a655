package middleware

import (
	"net/http"

	"github.com/authkeel/authkeel/internal/autherr"
	"github.com/authkeel/authkeel/internal/http/response"
)

// RequireAdmin gates a subtree on the platform admin role. It must run after
// RequireSession.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				response.Failure(w, r, autherr.ErrUnauthenticated)
				return
			}
			if !id.User.IsAdmin() {
				response.Failure(w, r, autherr.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
