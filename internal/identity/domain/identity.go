package domain

// CurrentUser is the caller identity resolved from a verified access token.
// It reflects the token's claims, so changes made after issuance appear only after the next refresh.
type CurrentUser struct {
	UserID              string
	Email               string
	Role                string
	SessionID           string
	DeviceID            string
	OnboardingCompleted bool
	ImpersonatorID      string
}

// IsAdmin reports whether the caller acts with the ADMIN role.
func (c *CurrentUser) IsAdmin() bool {
	return c != nil && c.Role == "ADMIN"
}

// IsImpersonating reports whether an admin is acting as this user.
func (c *CurrentUser) IsImpersonating() bool {
	return c != nil && c.ImpersonatorID != ""
}
