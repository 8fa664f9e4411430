package domain

import (
	"errors"

	"study-planner/backend/internal/security"
)

// ValidatePassword applies the password policy used at registration, password change and admin reset.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	if len(password) > security.MaxPasswordBytes {
		return errors.New("password must be at most 72 bytes")
	}
	var hasLetter, hasNumber bool
	for _, r := range password {
		switch {
		case (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z'):
			hasLetter = true
		case r >= '0' && r <= '9':
			hasNumber = true
		}
	}
	if !hasLetter {
		return errors.New("password must contain at least one letter")
	}
	if !hasNumber {
		return errors.New("password must contain at least one number")
	}
	return nil
}
