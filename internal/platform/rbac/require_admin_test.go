package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	identitydomain "study-planner/backend/internal/identity/domain"
	"study-planner/backend/internal/server/interceptors"
)

func serve(h http.Handler, user *identitydomain.CurrentUser) int {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	if user != nil {
		r = r.WithContext(interceptors.WithCurrentUser(r.Context(), user))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec.Code
}

func ok() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
}

func TestRequireAdmin(t *testing.T) {
	h := RequireAdmin(ok())
	tests := []struct {
		name string
		user *identitydomain.CurrentUser
		want int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"student", &identitydomain.CurrentUser{UserID: "u", Role: "STUDENT"}, http.StatusForbidden},
		{"admin", &identitydomain.CurrentUser{UserID: "a", Role: "ADMIN"}, http.StatusNoContent},
		{"impersonating admin", &identitydomain.CurrentUser{UserID: "u", Role: "ADMIN", ImpersonatorID: "a"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		if got := serve(h, tt.user); got != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestRequireImpersonating(t *testing.T) {
	h := RequireImpersonating(ok())
	if got := serve(h, nil); got != http.StatusUnauthorized {
		t.Errorf("anonymous: status = %d", got)
	}
	if got := serve(h, &identitydomain.CurrentUser{UserID: "u", Role: "STUDENT"}); got != http.StatusForbidden {
		t.Errorf("plain session: status = %d", got)
	}
	if got := serve(h, &identitydomain.CurrentUser{UserID: "u", Role: "STUDENT", ImpersonatorID: "a"}); got != http.StatusNoContent {
		t.Errorf("impersonation: status = %d", got)
	}
}
