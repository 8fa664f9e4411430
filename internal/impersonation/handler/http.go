package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	identitydomain "study-planner/backend/internal/identity/domain"
	"study-planner/backend/internal/impersonation/service"
	"study-planner/backend/internal/server/httpx"
	sessionservice "study-planner/backend/internal/session/service"
)

// Controller starts and stops impersonation.
type Controller interface {
	Start(ctx context.Context, actor *identitydomain.CurrentUser, targetID string, client sessionservice.ClientInfo) (*service.Result, error)
	Stop(ctx context.Context, current *identitydomain.CurrentUser, ip string) error
}

// Handler serves /admin/impersonate.
type Handler struct {
	ctrl    Controller
	cookies *httpx.Cookies
	log     *zap.Logger
}

// NewHandler returns an impersonation Handler.
func NewHandler(ctrl Controller, cookies *httpx.Cookies, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{ctrl: ctrl, cookies: cookies, log: log}
}

type startRequest struct {
	UserID string `json:"userId"`
}

type targetView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

type startResponse struct {
	Target            targetView `json:"target"`
	SessionID         string     `json:"sessionId"`
	AccessToken       string     `json:"accessToken"`
	AccessExpiresAt   time.Time  `json:"accessExpiresAt"`
	ExpiresAt         time.Time  `json:"expiresAt"`
	ImpersonatorID    string     `json:"impersonatorId"`
	ImpersonatorEmail string     `json:"impersonatorEmail"`
}

// Start swaps the admin's cookies for an impersonation session of the requested user.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.UserID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	actor, _ := httpx.CurrentUser(r)
	res, err := h.ctrl.Start(r.Context(), actor, req.UserID, httpx.ClientInfo(r))
	if err != nil {
		if httpx.WriteRateLimitError(w, err) {
			return
		}
		switch {
		case errors.Is(err, service.ErrForbidden):
			httpx.WriteError(w, http.StatusForbidden, "forbidden")
		case errors.Is(err, service.ErrNotFound):
			httpx.WriteError(w, http.StatusNotFound, "not_found")
		default:
			h.log.Error("start impersonation failed", zap.String("target_id", req.UserID), zap.Error(err))
			httpx.WriteError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}
	h.cookies.SetSession(w, res.Credentials, res.ImpersonatorEmail)
	httpx.WriteJSON(w, http.StatusOK, startResponse{
		Target: targetView{
			ID:    res.Target.ID,
			Email: res.Target.Email,
			Name:  res.Target.Name,
			Role:  string(res.Target.Role),
		},
		SessionID:         res.Credentials.SessionID,
		AccessToken:       res.Credentials.AccessToken,
		AccessExpiresAt:   res.Credentials.AccessExpiresAt,
		ExpiresAt:         res.Credentials.RefreshExpiresAt,
		ImpersonatorID:    res.ImpersonatorID,
		ImpersonatorEmail: res.ImpersonatorEmail,
	})
}

// Stop ends the impersonation session and clears every auth cookie; the admin signs in again.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	current, _ := httpx.CurrentUser(r)
	err := h.ctrl.Stop(r.Context(), current, httpx.ClientIP(r))
	switch {
	case err == nil:
	case errors.Is(err, service.ErrForbidden):
		httpx.WriteError(w, http.StatusForbidden, "not_impersonating")
		return
	default:
		h.log.Error("stop impersonation failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	h.cookies.ClearAll(w)
	w.WriteHeader(http.StatusNoContent)
}
