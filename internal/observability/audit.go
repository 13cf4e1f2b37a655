package observability

import (
	"log/slog"
	"net/http"
)

// Audit emits one structured audit record for a security-relevant event.
// Callers pass the acting principal; for impersonated sessions that is the
// admin behind the session, not its effective principal.
func Audit(r *http.Request, event string, attrs ...any) {
	base := []any{
		"event", event,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", r.Header.Get("X-Request-Id"),
	}
	base = append(base, attrs...)
	slog.InfoContext(r.Context(), "audit", base...)
}
