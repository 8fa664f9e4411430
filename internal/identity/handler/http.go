package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"study-planner/backend/internal/identity/service"
	"study-planner/backend/internal/server/httpx"
	sessiondomain "study-planner/backend/internal/session/domain"
	sessionservice "study-planner/backend/internal/session/service"
)

// AuthService is the account side of authentication.
type AuthService interface {
	Register(ctx context.Context, email, password, name string, client sessionservice.ClientInfo) (*sessionservice.Credentials, error)
	Login(ctx context.Context, email, password string, client sessionservice.ClientInfo) (*sessionservice.Credentials, error)
	ChangePassword(ctx context.Context, userID, current, next string, client sessionservice.ClientInfo) (*sessionservice.Credentials, error)
}

// SessionManager is the session side of authentication.
type SessionManager interface {
	Refresh(ctx context.Context, refreshToken, fingerprint string) (*sessionservice.Credentials, error)
	Logout(ctx context.Context, refreshToken string) error
	ForceLogoutAll(ctx context.Context, userID string) (int64, error)
	ListSessions(ctx context.Context, userID string) ([]*sessiondomain.Session, error)
	RevokeSession(ctx context.Context, userID, sessionID string) error
}

// Handler serves the /auth routes.
type Handler struct {
	auth     AuthService
	sessions SessionManager
	cookies  *httpx.Cookies
	log      *zap.Logger
}

// NewHandler returns an auth Handler.
func NewHandler(auth AuthService, sessions SessionManager, cookies *httpx.Cookies, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{auth: auth, sessions: sessions, cookies: cookies, log: log}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// SessionResponse describes freshly issued credentials. The refresh token only travels in its cookie.
type SessionResponse struct {
	UserID           string    `json:"userId"`
	SessionID        string    `json:"sessionId"`
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
	ImpersonatorID   string    `json:"impersonatorId,omitempty"`
}

// NewSessionResponse builds the response body for creds.
func NewSessionResponse(creds *sessionservice.Credentials) SessionResponse {
	return SessionResponse{
		UserID:           creds.UserID,
		SessionID:        creds.SessionID,
		AccessToken:      creds.AccessToken,
		AccessExpiresAt:  creds.AccessExpiresAt,
		RefreshExpiresAt: creds.RefreshExpiresAt,
		ImpersonatorID:   creds.ImpersonatorID,
	}
}

type meResponse struct {
	UserID              string `json:"userId"`
	Email               string `json:"email"`
	Role                string `json:"role"`
	SessionID           string `json:"sessionId"`
	OnboardingCompleted bool   `json:"onboardingCompleted"`
	ImpersonatorID      string `json:"impersonatorId,omitempty"`
}

type sessionView struct {
	ID            string    `json:"id"`
	UserAgent     string    `json:"userAgent"`
	IPAddress     string    `json:"ipAddress"`
	CreatedAt     time.Time `json:"createdAt"`
	LastUsedAt    time.Time `json:"lastUsedAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
	Current       bool      `json:"current"`
	Impersonation bool      `json:"impersonation"`
}

// Register creates a student account and signs it in.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	creds, err := h.auth.Register(r.Context(), req.Email, req.Password, req.Name, httpx.ClientInfo(r))
	switch {
	case err == nil:
	case errors.Is(err, service.ErrInvalidInput):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_input")
		return
	case errors.Is(err, service.ErrEmailAlreadyRegistered):
		// Registration signs the account in immediately, so existence cannot be hidden here;
		// the per-IP registration budget bounds how fast it can be tested.
		httpx.WriteError(w, http.StatusConflict, "email_already_registered")
		return
	default:
		h.internal(w, "register", err)
		return
	}
	h.cookies.SetSession(w, creds, "")
	httpx.WriteJSON(w, http.StatusCreated, NewSessionResponse(creds))
}

// Login signs a user in with email and password.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	creds, err := h.auth.Login(r.Context(), req.Email, req.Password, httpx.ClientInfo(r))
	switch {
	case err == nil:
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrInvalidInput):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	default:
		h.internal(w, "login", err)
		return
	}
	h.cookies.SetSession(w, creds, "")
	httpx.WriteJSON(w, http.StatusOK, NewSessionResponse(creds))
}

// Refresh rotates the refresh token cookie and issues a new access token.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := httpx.CookieValue(r, httpx.CookieRefreshToken)
	if token == "" {
		h.cookies.SessionExpired(w)
		return
	}
	creds, err := h.sessions.Refresh(r.Context(), token, httpx.RefreshFingerprint(r))
	switch {
	case err == nil:
	case errors.Is(err, sessionservice.ErrInvalidSession), errors.Is(err, sessionservice.ErrDeviceMismatch):
		h.cookies.SessionExpired(w)
		return
	default:
		h.internal(w, "refresh", err)
		return
	}
	impersonatorEmail := ""
	if creds.ImpersonatorID != "" {
		impersonatorEmail = httpx.CookieValue(r, httpx.CookieImpersonatorEmail)
	}
	h.cookies.SetSession(w, creds, impersonatorEmail)
	httpx.WriteJSON(w, http.StatusOK, NewSessionResponse(creds))
}

// Logout ends the session behind the refresh cookie. It succeeds even without one.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := httpx.CookieValue(r, httpx.CookieRefreshToken); token != "" {
		if err := h.sessions.Logout(r.Context(), token); err != nil {
			h.internal(w, "logout", err)
			return
		}
	}
	h.cookies.ClearAll(w)
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll ends every session of the caller, including this one.
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	user, _ := httpx.CurrentUser(r)
	n, err := h.sessions.ForceLogoutAll(r.Context(), user.UserID)
	if err != nil {
		h.internal(w, "logout all", err)
		return
	}
	h.cookies.ClearAll(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}

// Me returns the caller as seen in the access token.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, _ := httpx.CurrentUser(r)
	httpx.WriteJSON(w, http.StatusOK, meResponse{
		UserID:              user.UserID,
		Email:               user.Email,
		Role:                user.Role,
		SessionID:           user.SessionID,
		OnboardingCompleted: user.OnboardingCompleted,
		ImpersonatorID:      user.ImpersonatorID,
	})
}

// ChangePassword replaces the caller's password, ends all their sessions and signs this device in again.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user, _ := httpx.CurrentUser(r)
	if user.IsImpersonating() {
		httpx.WriteError(w, http.StatusForbidden, "forbidden")
		return
	}
	var req changePasswordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	creds, err := h.auth.ChangePassword(r.Context(), user.UserID, req.CurrentPassword, req.NewPassword, httpx.ClientInfo(r))
	switch {
	case err == nil:
	case errors.Is(err, service.ErrInvalidInput):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_input")
		return
	case errors.Is(err, service.ErrInvalidCredentials):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	default:
		h.internal(w, "change password", err)
		return
	}
	h.cookies.SetSession(w, creds, "")
	httpx.WriteJSON(w, http.StatusOK, NewSessionResponse(creds))
}

// ListSessions returns the caller's live sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	user, _ := httpx.CurrentUser(r)
	list, err := h.sessions.ListSessions(r.Context(), user.UserID)
	if err != nil {
		h.internal(w, "list sessions", err)
		return
	}
	out := make([]sessionView, 0, len(list))
	for _, s := range list {
		out = append(out, sessionView{
			ID:            s.ID,
			UserAgent:     s.UserAgent,
			IPAddress:     s.IPAddress,
			CreatedAt:     s.CreatedAt,
			LastUsedAt:    s.LastUsedAt,
			ExpiresAt:     s.ExpiresAt,
			Current:       s.ID == user.SessionID,
			Impersonation: s.IsImpersonation(),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}

// RevokeSession ends one of the caller's sessions. Revoking the current one also clears the cookies.
func (h *Handler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	user, _ := httpx.CurrentUser(r)
	id := chi.URLParam(r, "id")
	err := h.sessions.RevokeSession(r.Context(), user.UserID, id)
	switch {
	case err == nil:
	case errors.Is(err, sessionservice.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found")
		return
	default:
		h.internal(w, "revoke session", err)
		return
	}
	if id == user.SessionID {
		h.cookies.ClearAll(w)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) internal(w http.ResponseWriter, op string, err error) {
	h.log.Error("auth request failed", zap.String("op", op), zap.Error(err))
	httpx.WriteError(w, http.StatusInternalServerError, "internal_error")
}
