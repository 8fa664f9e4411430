package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identitydomain "study-planner/backend/internal/identity/domain"
	"study-planner/backend/internal/impersonation/service"
	"study-planner/backend/internal/ratelimit"
	"study-planner/backend/internal/server/httpx"
	"study-planner/backend/internal/server/interceptors"
	sessionservice "study-planner/backend/internal/session/service"
	userdomain "study-planner/backend/internal/user/domain"
)

type fakeController struct {
	startErr error
	stopErr  error
	stopped  []string
}

func (f *fakeController) Start(_ context.Context, actor *identitydomain.CurrentUser, targetID string, _ sessionservice.ClientInfo) (*service.Result, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	now := time.Now()
	return &service.Result{
		Credentials: &sessionservice.Credentials{
			AccessToken:      "imp-access",
			AccessExpiresAt:  now.Add(15 * time.Minute),
			RefreshToken:     "imp-refresh",
			RefreshExpiresAt: now.Add(time.Hour),
			SessionID:        "imp-session",
			UserID:           targetID,
			ImpersonatorID:   actor.UserID,
		},
		Target:            &userdomain.User{ID: targetID, Email: "student@example.com", Role: userdomain.RoleStudent},
		ImpersonatorID:    actor.UserID,
		ImpersonatorEmail: actor.Email,
	}, nil
}

func (f *fakeController) Stop(_ context.Context, current *identitydomain.CurrentUser, _ string) error {
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopped = append(f.stopped, current.SessionID)
	return nil
}

var admin = &identitydomain.CurrentUser{UserID: "admin-1", Email: "admin@example.com", Role: "ADMIN"}

func start(h *Handler, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/admin/impersonate", strings.NewReader(body))
	r = r.WithContext(interceptors.WithCurrentUser(r.Context(), admin))
	rec := httptest.NewRecorder()
	h.Start(rec, r)
	return rec
}

func TestStart_SetsImpersonationCookies(t *testing.T) {
	h := NewHandler(&fakeController{}, httpx.NewCookies(false), nil)
	rec := start(h, `{"userId":"student-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	got := map[string]string{}
	for _, c := range rec.Result().Cookies() {
		got[c.Name] = c.Value
	}
	assert.Equal(t, "imp-access", got[httpx.CookieAccessToken])
	assert.Equal(t, "imp-refresh", got[httpx.CookieRefreshToken])
	assert.Equal(t, "true", got[httpx.CookieIsImpersonating])
	assert.Equal(t, "admin-1", got[httpx.CookieImpersonatorID])
	assert.Equal(t, "admin@example.com", got[httpx.CookieImpersonatorEmail])
	assert.Contains(t, rec.Body.String(), `"impersonatorId":"admin-1"`)
	assert.NotContains(t, rec.Body.String(), "imp-refresh")
}

func TestStart_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{service.ErrForbidden, http.StatusForbidden},
		{service.ErrNotFound, http.StatusNotFound},
		{&ratelimit.LimitedError{Policy: "impersonate", RetryAfter: 90 * time.Second}, http.StatusTooManyRequests},
		{ratelimit.ErrUnavailable, http.StatusServiceUnavailable},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := NewHandler(&fakeController{startErr: tc.err}, httpx.NewCookies(false), nil)
		rec := start(h, `{"userId":"student-1"}`)
		assert.Equal(t, tc.want, rec.Code, tc.err.Error())
		assert.Empty(t, rec.Result().Cookies())
		if tc.want == http.StatusTooManyRequests {
			assert.Equal(t, "90", rec.Header().Get("Retry-After"))
		}
	}
}

func TestStart_MissingUserID(t *testing.T) {
	h := NewHandler(&fakeController{}, httpx.NewCookies(false), nil)
	assert.Equal(t, http.StatusBadRequest, start(h, `{}`).Code)
}

func TestStop(t *testing.T) {
	ctrl := &fakeController{}
	h := NewHandler(ctrl, httpx.NewCookies(false), nil)
	current := &identitydomain.CurrentUser{UserID: "student-1", Role: "STUDENT", SessionID: "imp-session", ImpersonatorID: "admin-1"}

	r := httptest.NewRequest(http.MethodPost, "/api/v1/admin/impersonate/stop", nil)
	r = r.WithContext(interceptors.WithCurrentUser(r.Context(), current))
	rec := httptest.NewRecorder()
	h.Stop(rec, r)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"imp-session"}, ctrl.stopped)
	assert.Len(t, rec.Result().Cookies(), 5)

	ctrl.stopErr = service.ErrForbidden
	rec = httptest.NewRecorder()
	h.Stop(rec, r)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
