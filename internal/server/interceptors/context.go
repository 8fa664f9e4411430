package interceptors

import (
	"context"

	identitydomain "study-planner/backend/internal/identity/domain"
)

type contextKey struct{ name string }

var currentUserKey = contextKey{"current_user"}

// WithCurrentUser returns a context carrying the authenticated caller.
// Both the HTTP middleware and the gRPC interceptor store the caller here.
func WithCurrentUser(ctx context.Context, u *identitydomain.CurrentUser) context.Context {
	return context.WithValue(ctx, currentUserKey, u)
}

// GetCurrentUser returns the caller from context and true if set; otherwise nil, false.
func GetCurrentUser(ctx context.Context) (*identitydomain.CurrentUser, bool) {
	u, ok := ctx.Value(currentUserKey).(*identitydomain.CurrentUser)
	return u, ok && u != nil
}

// GetUserID returns the caller's user id from context and true if set.
func GetUserID(ctx context.Context) (string, bool) {
	u, ok := GetCurrentUser(ctx)
	if !ok {
		return "", false
	}
	return u.UserID, true
}

// GetSessionID returns the caller's session id from context and true if set.
func GetSessionID(ctx context.Context) (string, bool) {
	u, ok := GetCurrentUser(ctx)
	if !ok {
		return "", false
	}
	return u.SessionID, true
}
