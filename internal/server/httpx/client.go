package httpx

import (
	"net"
	"net/http"
	"strings"

	"study-planner/backend/internal/device"
	sessionservice "study-planner/backend/internal/session/service"
)

// ClientIP returns the request's client address. Forwarding headers are never read here;
// RemoteAddr only reflects them when the router installs middleware.RealIP.
func ClientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	if addr == "" {
		return "unknown"
	}
	return addr
}

// ClientInfo describes the device that sent r.
func ClientInfo(r *http.Request) sessionservice.ClientInfo {
	return sessionservice.ClientInfo{
		Fingerprint: device.FromRequest(r),
		UserAgent:   r.UserAgent(),
		IPAddress:   ClientIP(r),
	}
}

// RefreshFingerprint is the fingerprint presented on refresh. A browser carrying the
// impersonation cookies presents the derived impersonation fingerprint.
func RefreshFingerprint(r *http.Request) string {
	base := device.FromRequest(r)
	adminID := CookieValue(r, CookieImpersonatorID)
	if CookieValue(r, CookieIsImpersonating) != "" && adminID != "" {
		return device.ForImpersonation(adminID, base)
	}
	return base
}
