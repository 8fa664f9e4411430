package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"study-planner/backend/internal/access/domain"
	"study-planner/backend/internal/server/httpx"
)

// Evaluator decides whether a user may use paid features.
type Evaluator interface {
	Evaluate(ctx context.Context, userID, role string) (domain.Status, error)
}

// Handler serves /access/status and provides the RequireActive gate.
type Handler struct {
	eval Evaluator
	log  *zap.Logger
}

// NewHandler returns an access Handler.
func NewHandler(eval Evaluator, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{eval: eval, log: log}
}

// Status returns the caller's access status. An impersonating admin sees the target's status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	user, _ := httpx.CurrentUser(r)
	st, err := h.eval.Evaluate(r.Context(), user.UserID, user.Role)
	if err != nil {
		h.log.Error("access status failed", zap.String("user_id", user.UserID), zap.Error(err))
		httpx.WriteError(w, http.StatusServiceUnavailable, "service_unavailable")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, st)
}

type inactiveResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// RequireActive lets through only callers with an active status. Inactive callers get 402
// with the reason; an evaluation failure is 503.
func (h *Handler) RequireActive(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := httpx.CurrentUser(r)
		if !ok {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		st, err := h.eval.Evaluate(r.Context(), user.UserID, user.Role)
		if err != nil {
			h.log.Error("access gate failed", zap.String("user_id", user.UserID), zap.Error(err))
			httpx.WriteError(w, http.StatusServiceUnavailable, "service_unavailable")
			return
		}
		if !st.IsActive {
			httpx.WriteJSON(w, http.StatusPaymentRequired, inactiveResponse{Error: "subscription_required", Reason: st.Reason})
			return
		}
		next.ServeHTTP(w, r)
	})
}
