package domain

import (
	"errors"
	"time"
)

// Role is the coarse authorization level of a user.
type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleAdmin   Role = "ADMIN"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleAdmin
}

// User is the account record. The broader application owns it; auth reads identity and
// writes only PasswordHash, DeviceFingerprint and the ban fields.
type User struct {
	ID                  string
	Email               string
	Name                string
	Role                Role
	PasswordHash        string
	DeviceFingerprint   string // fingerprint recorded at registration
	OnboardingCompleted bool
	IsBanned            bool
	BannedReason        string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsAdmin reports whether u has the ADMIN role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.Role == "" {
		u.Role = RoleStudent
	}
	if !u.Role.Valid() {
		return errors.New("invalid role")
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	return nil
}
