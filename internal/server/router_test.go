package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accessdomain "study-planner/backend/internal/access/domain"
	accesshandler "study-planner/backend/internal/access/handler"
	adminhandler "study-planner/backend/internal/admin/handler"
	healthhandler "study-planner/backend/internal/health/handler"
	identitydomain "study-planner/backend/internal/identity/domain"
	identityhandler "study-planner/backend/internal/identity/handler"
	impersonationhandler "study-planner/backend/internal/impersonation/handler"
	impersonationservice "study-planner/backend/internal/impersonation/service"
	"study-planner/backend/internal/ratelimit"
	"study-planner/backend/internal/server/httpx"
	sessiondomain "study-planner/backend/internal/session/domain"
	sessionservice "study-planner/backend/internal/session/service"
)

type stubAuth struct{}

func (stubAuth) creds() *sessionservice.Credentials {
	now := time.Now()
	return &sessionservice.Credentials{
		AccessToken:      "student-token",
		AccessExpiresAt:  now.Add(15 * time.Minute),
		RefreshToken:     "refresh",
		RefreshExpiresAt: now.Add(time.Hour),
		SessionID:        "s1",
		UserID:           "student-1",
	}
}

func (a stubAuth) Register(context.Context, string, string, string, sessionservice.ClientInfo) (*sessionservice.Credentials, error) {
	return a.creds(), nil
}

func (a stubAuth) Login(context.Context, string, string, sessionservice.ClientInfo) (*sessionservice.Credentials, error) {
	return a.creds(), nil
}

func (a stubAuth) ChangePassword(context.Context, string, string, string, sessionservice.ClientInfo) (*sessionservice.Credentials, error) {
	return a.creds(), nil
}

func (a stubAuth) Refresh(context.Context, string, string) (*sessionservice.Credentials, error) {
	return nil, sessionservice.ErrInvalidSession
}

func (stubAuth) Logout(context.Context, string) error { return nil }

func (stubAuth) ForceLogoutAll(context.Context, string) (int64, error) { return 1, nil }

func (stubAuth) RevokeSession(context.Context, string, string) error { return nil }

func (stubAuth) ListSessions(context.Context, string) ([]*sessiondomain.Session, error) {
	return nil, nil
}

type stubAdmin struct{}

func (stubAdmin) ResetPassword(context.Context, *identitydomain.CurrentUser, string, string, string) error {
	return nil
}

func (stubAdmin) Ban(context.Context, *identitydomain.CurrentUser, string, string, string) error {
	return nil
}

func (stubAdmin) Unban(context.Context, *identitydomain.CurrentUser, string, string) error {
	return nil
}

func (stubAdmin) ForceLogout(context.Context, *identitydomain.CurrentUser, string, string) (int64, error) {
	return 0, nil
}

type stubImpersonation struct{}

func (stubImpersonation) Start(context.Context, *identitydomain.CurrentUser, string, sessionservice.ClientInfo) (*impersonationservice.Result, error) {
	return nil, impersonationservice.ErrNotFound
}

func (stubImpersonation) Stop(context.Context, *identitydomain.CurrentUser, string) error {
	return nil
}

type stubEvaluator struct{}

func (stubEvaluator) Evaluate(_ context.Context, userID, _ string) (accessdomain.Status, error) {
	if userID == "student-1" {
		return accessdomain.Status{Reason: accessdomain.ReasonExpired}, nil
	}
	return accessdomain.Status{IsActive: true, Reason: accessdomain.ReasonAdmin}, nil
}

type tokens map[string]*identitydomain.CurrentUser

func (t tokens) CurrentUser(token string) (*identitydomain.CurrentUser, bool) {
	u, ok := t[token]
	return u, ok
}

func newTestRouter() http.Handler {
	return newTestRouterBehindProxy(false)
}

func newTestRouterBehindProxy(trustProxy bool) http.Handler {
	cookies := httpx.NewCookies(false)
	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	return NewRouter(HTTPDeps{
		Resolver: tokens{
			"student-token": {UserID: "student-1", Role: "STUDENT", SessionID: "s1"},
			"admin-token":   {UserID: "admin-1", Role: "ADMIN", SessionID: "s2"},
			"imp-token":     {UserID: "student-1", Role: "STUDENT", SessionID: "s3", ImpersonatorID: "admin-1"},
		},
		Auth:          identityhandler.NewHandler(stubAuth{}, stubAuth{}, cookies, nil),
		Admin:         adminhandler.NewHandler(stubAdmin{}, nil),
		Impersonation: impersonationhandler.NewHandler(stubImpersonation{}, cookies, nil),
		Access:        accesshandler.NewHandler(stubEvaluator{}, nil),
		Health:        healthhandler.NewChecker(nil, nil, nil),
		TrustProxy:    trustProxy,
		Limiter:       ratelimit.NewMemory(),
		App:           app,
	})
}

func call(h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		r.AddCookie(&http.Cookie{Name: httpx.CookieAccessToken, Value: token})
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestRouter_Guards(t *testing.T) {
	h := newTestRouter()
	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		want   int
	}{
		{"healthz", http.MethodGet, "/healthz", "", "", http.StatusOK},
		{"me anonymous", http.MethodGet, "/api/v1/auth/me", "", "", http.StatusUnauthorized},
		{"me student", http.MethodGet, "/api/v1/auth/me", "student-token", "", http.StatusOK},
		{"refresh without cookie", http.MethodPost, "/api/v1/auth/refresh", "", "", http.StatusUnauthorized},
		{"logout anonymous", http.MethodPost, "/api/v1/auth/logout", "", "", http.StatusNoContent},
		{"access status anonymous", http.MethodGet, "/api/v1/access/status", "", "", http.StatusUnauthorized},
		{"access status", http.MethodGet, "/api/v1/access/status", "student-token", "", http.StatusOK},
		{"ban as student", http.MethodPost, "/api/v1/admin/users/u1/ban", "student-token", "", http.StatusForbidden},
		{"ban as impersonator", http.MethodPost, "/api/v1/admin/users/u1/ban", "imp-token", "", http.StatusForbidden},
		{"ban as admin", http.MethodPost, "/api/v1/admin/users/u1/ban", "admin-token", "", http.StatusNoContent},
		{"impersonate as student", http.MethodPost, "/api/v1/admin/impersonate", "student-token", `{"userId":"x"}`, http.StatusForbidden},
		{"impersonate unknown target", http.MethodPost, "/api/v1/admin/impersonate", "admin-token", `{"userId":"x"}`, http.StatusNotFound},
		{"stop without impersonating", http.MethodPost, "/api/v1/admin/impersonate/stop", "admin-token", "", http.StatusForbidden},
		{"stop impersonating", http.MethodPost, "/api/v1/admin/impersonate/stop", "imp-token", "", http.StatusNoContent},
		{"app inactive", http.MethodGet, "/api/v1/app/tasks", "student-token", "", http.StatusPaymentRequired},
		{"app admin", http.MethodGet, "/api/v1/app/tasks", "admin-token", "", http.StatusNoContent},
		{"app anonymous", http.MethodGet, "/api/v1/app/tasks", "", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := call(h, tc.method, tc.path, tc.token, tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRouter_RegistrationRateLimit(t *testing.T) {
	h := newTestRouter()
	body := `{"email":"a@b.co","password":"passw0rd!","name":"A"}`
	for i := 0; i < ratelimit.Registration.Limit; i++ {
		rec := call(h, http.MethodPost, "/api/v1/auth/register", "", body)
		require.Equal(t, http.StatusCreated, rec.Code, "attempt %d", i+1)
	}
	rec := call(h, http.MethodPost, "/api/v1/auth/register", "", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Login has its own budget.
	rec = call(h, http.MethodPost, "/api/v1/auth/login", "", `{"email":"a@b.co","password":"passw0rd!"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func registerFrom(h http.Handler, forwardedFor string) int {
	body := `{"email":"a@b.co","password":"passw0rd!","name":"A"}`
	r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(body))
	r.RemoteAddr = "203.0.113.7:40000"
	r.Header.Set("X-Forwarded-For", forwardedFor)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec.Code
}

func TestRouter_ForwardedForIgnoredByDefault(t *testing.T) {
	h := newTestRouter()
	accepted := 0
	for i := 0; i < 3*ratelimit.Registration.Limit; i++ {
		if registerFrom(h, fmt.Sprintf("198.51.100.%d", i+1)) == http.StatusCreated {
			accepted++
		}
	}
	assert.Equal(t, ratelimit.Registration.Limit, accepted, "rotating X-Forwarded-For must not reset the budget")
}

func TestRouter_ForwardedForHonouredBehindTrustedProxy(t *testing.T) {
	h := newTestRouterBehindProxy(true)
	for i := 0; i < ratelimit.Registration.Limit; i++ {
		require.Equal(t, http.StatusCreated, registerFrom(h, "198.51.100.1"), "attempt %d", i+1)
	}
	assert.Equal(t, http.StatusTooManyRequests, registerFrom(h, "198.51.100.1"))
	assert.Equal(t, http.StatusCreated, registerFrom(h, "198.51.100.2"))
}
