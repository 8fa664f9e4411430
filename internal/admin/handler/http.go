package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"study-planner/backend/internal/admin/service"
	identitydomain "study-planner/backend/internal/identity/domain"
	"study-planner/backend/internal/server/httpx"
)

// AdminService is the set of admin user actions.
type AdminService interface {
	ResetPassword(ctx context.Context, actor *identitydomain.CurrentUser, userID, newPassword, ip string) error
	Ban(ctx context.Context, actor *identitydomain.CurrentUser, userID, reason, ip string) error
	Unban(ctx context.Context, actor *identitydomain.CurrentUser, userID, ip string) error
	ForceLogout(ctx context.Context, actor *identitydomain.CurrentUser, userID, ip string) (int64, error)
}

// Handler serves /admin/users/{id}/*. Routes are mounted behind rbac.RequireAdmin.
type Handler struct {
	svc AdminService
	log *zap.Logger
}

// NewHandler returns an admin Handler.
func NewHandler(svc AdminService, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, log: log}
}

type banRequest struct {
	Reason string `json:"reason"`
}

type resetPasswordRequest struct {
	NewPassword string `json:"newPassword"`
}

// Ban bans the user and ends their sessions. The body is optional.
func (h *Handler) Ban(w http.ResponseWriter, r *http.Request) {
	var req banRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request")
			return
		}
	}
	actor, _ := httpx.CurrentUser(r)
	err := h.svc.Ban(r.Context(), actor, chi.URLParam(r, "id"), req.Reason, httpx.ClientIP(r))
	h.finish(w, "ban", err)
}

// Unban lifts a ban.
func (h *Handler) Unban(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpx.CurrentUser(r)
	err := h.svc.Unban(r.Context(), actor, chi.URLParam(r, "id"), httpx.ClientIP(r))
	h.finish(w, "unban", err)
}

// ForceLogout ends every session of the user.
func (h *Handler) ForceLogout(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpx.CurrentUser(r)
	n, err := h.svc.ForceLogout(r.Context(), actor, chi.URLParam(r, "id"), httpx.ClientIP(r))
	if err != nil {
		h.finish(w, "force logout", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}

// ResetPassword sets a new password for the user and ends their sessions.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	actor, _ := httpx.CurrentUser(r)
	err := h.svc.ResetPassword(r.Context(), actor, chi.URLParam(r, "id"), req.NewPassword, httpx.ClientIP(r))
	h.finish(w, "reset password", err)
}

func (h *Handler) finish(w http.ResponseWriter, op string, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, service.ErrInvalidInput):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_input")
	case errors.Is(err, service.ErrForbidden):
		httpx.WriteError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, service.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found")
	default:
		h.log.Error("admin request failed", zap.String("op", op), zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error")
	}
}
