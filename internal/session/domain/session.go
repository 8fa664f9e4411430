package domain

import "time"

// Session is one live refresh-token grant bound to a user and a device fingerprint.
// The raw refresh token is never stored, only its SHA-256 hash.
type Session struct {
	ID                string
	UserID            string
	RefreshTokenHash  string
	DeviceFingerprint string
	UserAgent         string // diagnostics only
	IPAddress         string
	ImpersonatorID    string // admin id; empty for ordinary sessions
	ExpiresAt         time.Time
	CreatedAt         time.Time
	LastUsedAt        time.Time
}

// IsImpersonation reports whether the session was opened by an admin on the user's behalf.
func (s *Session) IsImpersonation() bool {
	return s.ImpersonatorID != ""
}

// ExpiredAt reports whether the session is no longer valid at now.
func (s *Session) ExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
