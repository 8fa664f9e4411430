package domain

import (
	"encoding/json"
	"time"
)

// Actions recorded by the auth subsystem.
const (
	ActionImpersonationStarted = "impersonation_started"
	ActionImpersonationStopped = "impersonation_stopped"
	ActionPasswordChanged      = "password_changed"
	ActionPasswordReset        = "password_reset"
	ActionUserBanned           = "user_banned"
	ActionUserUnbanned         = "user_unbanned"
	ActionSessionsRevoked      = "sessions_revoked"
)

// EntityUser is the entity type for entries about a user account.
const EntityUser = "user"

// Entry is one append-only audit record. Before and After are optional JSON snapshots.
type Entry struct {
	ID         string
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	Before     json.RawMessage
	After      json.RawMessage
	IPAddress  string
	CreatedAt  time.Time
}
