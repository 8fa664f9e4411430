// Package rbac gates routes by the caller's role. The caller is resolved earlier by
// httpx.Authenticate; these middlewares only read it.
package rbac

import (
	"net/http"

	"study-planner/backend/internal/server/httpx"
)

// RequireAdmin allows only callers holding the ADMIN role who are not impersonating.
// An impersonation token carries the target's role, so an admin acting as a student
// is refused here as well.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := httpx.CurrentUser(r)
		if !ok {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !user.IsAdmin() || user.IsImpersonating() {
			httpx.WriteError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireImpersonating allows only callers holding an impersonation token.
func RequireImpersonating(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := httpx.CurrentUser(r)
		if !ok {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !user.IsImpersonating() {
			httpx.WriteError(w, http.StatusForbidden, "not_impersonating")
			return
		}
		next.ServeHTTP(w, r)
	})
}
