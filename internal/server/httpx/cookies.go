package httpx

import (
	"net/http"
	"time"

	sessionservice "study-planner/backend/internal/session/service"
)

// Auth cookie names shared with the web client.
const (
	CookieAccessToken       = "accessToken"
	CookieRefreshToken      = "refreshToken"
	CookieIsImpersonating   = "isImpersonating"
	CookieImpersonatorID    = "impersonatorId"
	CookieImpersonatorEmail = "impersonatorEmail"
)

var authCookies = []string{
	CookieAccessToken,
	CookieRefreshToken,
	CookieIsImpersonating,
	CookieImpersonatorID,
	CookieImpersonatorEmail,
}

// Cookies writes and clears the auth cookies. All of them are HttpOnly, SameSite=Lax and
// Path=/; Secure is set in production.
type Cookies struct {
	Secure bool
	now    func() time.Time
}

// NewCookies returns a Cookies writer.
func NewCookies(secure bool) *Cookies {
	return &Cookies{Secure: secure, now: time.Now}
}

// SetSession writes the access and refresh cookies for creds. For an impersonation session it
// also writes the three impersonation cookies; otherwise it clears them.
func (c *Cookies) SetSession(w http.ResponseWriter, creds *sessionservice.Credentials, impersonatorEmail string) {
	if creds == nil {
		return
	}
	c.set(w, CookieAccessToken, creds.AccessToken, creds.AccessExpiresAt)
	c.set(w, CookieRefreshToken, creds.RefreshToken, creds.RefreshExpiresAt)
	if creds.ImpersonatorID == "" {
		c.clear(w, CookieIsImpersonating)
		c.clear(w, CookieImpersonatorID)
		c.clear(w, CookieImpersonatorEmail)
		return
	}
	c.set(w, CookieIsImpersonating, "true", creds.RefreshExpiresAt)
	c.set(w, CookieImpersonatorID, creds.ImpersonatorID, creds.RefreshExpiresAt)
	c.set(w, CookieImpersonatorEmail, impersonatorEmail, creds.RefreshExpiresAt)
}

// ClearAll expires all five auth cookies.
func (c *Cookies) ClearAll(w http.ResponseWriter) {
	for _, name := range authCookies {
		c.clear(w, name)
	}
}

// SessionExpired clears the auth cookies and writes the generic 401 every session failure maps to.
func (c *Cookies) SessionExpired(w http.ResponseWriter) {
	c.ClearAll(w)
	WriteError(w, http.StatusUnauthorized, "session_expired")
}

func (c *Cookies) set(w http.ResponseWriter, name, value string, expires time.Time) {
	maxAge := int(expires.Sub(c.now()).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires.UTC(),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c *Cookies) clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// CookieValue returns the named cookie's value, or "".
func CookieValue(r *http.Request, name string) string {
	ck, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}
