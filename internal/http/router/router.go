package router

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/authkeel/authkeel/internal/http/handler"
	"github.com/authkeel/authkeel/internal/http/middleware"
	"github.com/authkeel/authkeel/internal/http/response"
)

// ReadyCheck reports whether one backing dependency is reachable.
type ReadyCheck func(ctx context.Context) error

type Dependencies struct {
	Auth          *handler.AuthHandler
	Sessions      *handler.SessionHandler
	TwoFactor     *handler.TwoFactorHandler
	Device        *handler.DeviceHandler
	Organizations *handler.OrganizationHandler
	Admin         *handler.AdminHandler
	Impersonation *handler.ImpersonationHandler

	SessionValidator middleware.SessionValidator

	CORSOrigins        []string
	AuthRateLimitRPS   float64
	AuthRateLimitBurst int

	ReadyChecks    map[string]ReadyCheck
	EnableOTelHTTP bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(1 << 20))
	r.Use(middleware.CSRFMiddleware)

	authLimiter := middleware.NewRateLimiter(dep.AuthRateLimitRPS, dep.AuthRateLimitBurst).Middleware()
	requireSession := middleware.RequireSession(dep.SessionValidator)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		failures := map[string]string{}
		for name, check := range dep.ReadyChecks {
			if err := check(r.Context()); err != nil {
				failures[name] = err.Error()
			}
		}
		if len(failures) > 0 {
			response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", failures)
			return
		}
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(authLimiter).Post("/register", dep.Auth.Register)
			r.With(authLimiter).Post("/signin", dep.Auth.SignIn)
			r.With(authLimiter).Post("/signin/second-factor", dep.Auth.SecondFactor)
			r.With(authLimiter).Post("/signin/second-factor/code", dep.Auth.SecondFactorCode)
			r.With(authLimiter).Get("/google/login", dep.Auth.GoogleLogin)
			r.With(authLimiter).Get("/google/callback", dep.Auth.GoogleCallback)
			r.With(authLimiter).Post("/password/forgot", dep.Auth.PasswordForgot)
			r.With(authLimiter).Post("/password/reset", dep.Auth.PasswordReset)
			r.Post("/verify-email/confirm", dep.Auth.VerifyEmailConfirm)
			r.Post("/email/change/confirm", dep.Auth.EmailChangeConfirm)
			r.Post("/account/delete/confirm", dep.Auth.DeleteAccountConfirm)
			r.Group(func(r chi.Router) {
				r.Use(requireSession)
				r.Post("/signout", dep.Auth.SignOut)
				r.Post("/verify-email/request", dep.Auth.VerifyEmailRequest)
				r.With(authLimiter).Post("/password/change", dep.Auth.PasswordChange)
				r.With(authLimiter).Post("/email/change/request", dep.Auth.EmailChangeRequest)
				r.Post("/account/delete/request", dep.Auth.DeleteAccountRequest)
			})
		})

		r.Route("/device", func(r chi.Router) {
			r.With(authLimiter).Post("/code", dep.Device.Start)
			r.Post("/token", dep.Device.Poll)
			r.Group(func(r chi.Router) {
				r.Use(requireSession)
				r.Get("/", dep.Device.Lookup)
				r.Post("/approve", dep.Device.Approve)
				r.Post("/deny", dep.Device.Deny)
			})
		})

		r.Route("/me", func(r chi.Router) {
			r.Use(requireSession)
			r.Get("/", dep.Sessions.Me)
			r.Get("/sessions", dep.Sessions.List)
			r.Delete("/sessions/{session_id}", dep.Sessions.Revoke)
			r.Put("/organization", dep.Sessions.SetActiveOrganization)
			r.Post("/2fa/enroll", dep.TwoFactor.Enroll)
			r.Post("/2fa/confirm", dep.TwoFactor.Confirm)
			r.Post("/2fa/disable", dep.TwoFactor.Disable)
			r.Post("/impersonation/stop", dep.Impersonation.Stop)
		})

		r.Route("/organizations", func(r chi.Router) {
			r.Use(requireSession)
			r.Post("/", dep.Organizations.Create)
			r.Post("/{org_id}/invitations", dep.Organizations.Invite)
			r.Delete("/{org_id}/invitations/{invitation_id}", dep.Organizations.CancelInvitation)
			r.Get("/{org_id}/members", dep.Organizations.ListMembers)
			r.Delete("/{org_id}/members/{member_id}", dep.Organizations.RemoveMember)
		})

		r.Route("/invitations", func(r chi.Router) {
			r.Use(requireSession)
			r.Post("/{invitation_id}/accept", dep.Organizations.AcceptInvitation)
			r.Post("/{invitation_id}/reject", dep.Organizations.RejectInvitation)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireSession)
			r.Use(middleware.RequireAdmin())
			r.Get("/users", dep.Admin.ListUsers)
			r.Post("/users", dep.Admin.CreateUser)
			r.Patch("/users/{user_id}/role", dep.Admin.SetRole)
			r.Post("/users/{user_id}/ban", dep.Admin.Ban)
			r.Post("/users/{user_id}/unban", dep.Admin.Unban)
			r.Delete("/users/{user_id}", dep.Admin.RemoveUser)
			r.Post("/users/{user_id}/impersonate", dep.Impersonation.Start)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
