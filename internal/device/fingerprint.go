// Package device derives the low-entropy device fingerprint that binds a session to the
// browser or app instance that created it.
//
// A fingerprint is not a security boundary on its own: it is built from headers the
// client controls. It only has to be stable for one client so that a refresh token
// replayed from a different browser is noticed.
package device

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

// impersonationPrefix marks fingerprints of impersonation sessions. Plain fingerprints are
// bare hex, so the two spaces never overlap.
const impersonationPrefix = "imp_"

// Compute returns a deterministic fingerprint for the given User-Agent and Accept-Language
// header values.
func Compute(userAgent, acceptLanguage string) string {
	ua := strings.TrimSpace(userAgent)
	lang := canonicalLanguages(acceptLanguage)
	sum := sha256.Sum256([]byte(ua + "\x00" + lang))
	return hex.EncodeToString(sum[:])
}

// FromRequest computes the fingerprint of the client that sent r.
func FromRequest(r *http.Request) string {
	return Compute(r.UserAgent(), r.Header.Get("Accept-Language"))
}

// ForImpersonation derives the fingerprint of an impersonation session opened by adminID
// from the admin's own browser fingerprint base.
func ForImpersonation(adminID, base string) string {
	sum := sha256.Sum256([]byte("impersonation\x00" + adminID + "\x00" + base))
	return impersonationPrefix + hex.EncodeToString(sum[:])
}

// IsImpersonation reports whether fp was produced by ForImpersonation.
func IsImpersonation(fp string) bool {
	return strings.HasPrefix(fp, impersonationPrefix)
}

// Equal compares two fingerprints in constant time.
func Equal(stored, presented string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}

// canonicalLanguages normalises an Accept-Language header so equivalent spellings
// ("EN-us,en;q=0.9" and "en-US, en;q=0.8") hash the same. Unparsable headers are
// used lower-cased as-is.
func canonicalLanguages(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return strings.ToLower(header)
	}
	parts := make([]string, 0, len(tags))
	for _, t := range tags {
		parts = append(parts, t.String())
	}
	return strings.Join(parts, ",")
}
