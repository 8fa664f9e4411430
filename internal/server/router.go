// Package server assembles the HTTP router and the internal gRPC server.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	accesshandler "study-planner/backend/internal/access/handler"
	adminhandler "study-planner/backend/internal/admin/handler"
	healthhandler "study-planner/backend/internal/health/handler"
	identityhandler "study-planner/backend/internal/identity/handler"
	impersonationhandler "study-planner/backend/internal/impersonation/handler"
	"study-planner/backend/internal/platform/rbac"
	"study-planner/backend/internal/ratelimit"
	"study-planner/backend/internal/server/httpx"
	"study-planner/backend/internal/telemetry"
)

// requestTimeout bounds every HTTP request. bcrypt at cost 12 under load stays well inside it.
const requestTimeout = 30 * time.Second

// HTTPDeps holds the handlers and guards the router wires together.
type HTTPDeps struct {
	Resolver      httpx.Resolver
	Auth          *identityhandler.Handler
	Admin         *adminhandler.Handler
	Impersonation *impersonationhandler.Handler
	Access        *accesshandler.Handler
	Health        *healthhandler.Checker
	// TrustProxy enables middleware.RealIP. Leave it off unless a proxy in front overwrites
	// X-Forwarded-For, since every per-IP budget is keyed on the resolved address.
	TrustProxy bool
	// Limiter backs the per-IP registration, login and refresh budgets.
	Limiter ratelimit.Limiter
	// Burst is the coarse per-IP throttle on /auth; nil disables it.
	Burst  *ratelimit.Burst
	Events telemetry.EventEmitter
	// App, when set, is mounted at /api/v1/app behind authentication and the active-subscription gate.
	App http.Handler
	Log *zap.Logger
}

// NewRouter returns the HTTP API.
func NewRouter(deps HTTPDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if deps.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(httpx.RequestLogger(deps.Log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	if deps.Health != nil {
		r.Method(http.MethodGet, "/healthz", deps.Health)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httpx.Authenticate(deps.Resolver))

		r.Route("/auth", func(r chi.Router) {
			r.Use(httpx.Throttle(deps.Burst))
			r.With(httpx.RateLimit(deps.Limiter, ratelimit.Registration, deps.Events)).Post("/register", deps.Auth.Register)
			r.With(httpx.RateLimit(deps.Limiter, ratelimit.Login, deps.Events)).Post("/login", deps.Auth.Login)
			r.With(httpx.RateLimit(deps.Limiter, ratelimit.Refresh, deps.Events)).Post("/refresh", deps.Auth.Refresh)
			r.Post("/logout", deps.Auth.Logout)

			r.Group(func(r chi.Router) {
				r.Use(httpx.RequireAuth)
				r.Post("/logout-all", deps.Auth.LogoutAll)
				r.Get("/me", deps.Auth.Me)
				r.Post("/password", deps.Auth.ChangePassword)
				r.Get("/sessions", deps.Auth.ListSessions)
				r.Delete("/sessions/{id}", deps.Auth.RevokeSession)
			})
		})

		r.With(httpx.RequireAuth).Get("/access/status", deps.Access.Status)

		r.Route("/admin", func(r chi.Router) {
			r.With(rbac.RequireImpersonating).Post("/impersonate/stop", deps.Impersonation.Stop)

			r.Group(func(r chi.Router) {
				r.Use(rbac.RequireAdmin)
				r.Post("/impersonate", deps.Impersonation.Start)
				r.Post("/users/{id}/ban", deps.Admin.Ban)
				r.Post("/users/{id}/unban", deps.Admin.Unban)
				r.Post("/users/{id}/force-logout", deps.Admin.ForceLogout)
				r.Post("/users/{id}/reset-password", deps.Admin.ResetPassword)
			})
		})

		if deps.App != nil {
			r.With(httpx.RequireAuth, deps.Access.RequireActive).Mount("/app", deps.App)
		}
	})
	return r
}
