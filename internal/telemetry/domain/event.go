package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a security-relevant occurrence worth alerting or auditing on.
type EventType string

const (
	EventDeviceMismatch       EventType = "device_mismatch"
	EventLoginFailed          EventType = "login_failed"
	EventImpersonationStarted EventType = "impersonation_started"
	EventImpersonationStopped EventType = "impersonation_stopped"
	EventSessionsRevoked      EventType = "sessions_revoked"
	EventRateLimited          EventType = "rate_limited"
)

// SecurityEvent is emitted to telemetry sinks. It carries identifiers only: never
// passwords, token values or email addresses.
type SecurityEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	UserID    string    `json:"userId,omitempty"`
	ActorID   string    `json:"actorId,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	IPAddress string    `json:"ipAddress,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewEvent returns an event of type t with a fresh ID and timestamp.
func NewEvent(t EventType) *SecurityEvent {
	return &SecurityEvent{ID: uuid.NewString(), Type: t, CreatedAt: time.Now().UTC()}
}
