package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ClaimsVersion is the access token schema version this build issues and accepts.
const ClaimsVersion = 1

// MinSecretBytes is the shortest accepted HS256 signing secret.
const MinSecretBytes = 32

var (
	// ErrInvalidToken is returned when a token is malformed, badly signed, or fails schema validation.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned when an otherwise valid token is past its exp.
	ErrTokenExpired = errors.New("token expired")
	// ErrWeakSecret is returned by NewTokenIssuer when the secret is shorter than MinSecretBytes.
	ErrWeakSecret = errors.New("signing secret must be at least 32 bytes")
)

// AccessClaims is the fixed access-token schema. Every field except ImpersonatorID is required.
type AccessClaims struct {
	Version             int    `json:"ver"`
	SessionID           string `json:"sid"`
	UserID              string `json:"userId"`
	Email               string `json:"email"`
	Role                string `json:"role"`
	DeviceID            string `json:"deviceId"`
	OnboardingCompleted bool   `json:"onboardingCompleted"`
	// ImpersonatorID is set when an admin holds this token on behalf of UserID.
	ImpersonatorID string `json:"impersonatorId,omitempty"`
	jwt.RegisteredClaims
}

func (c *AccessClaims) validateSchema() error {
	if c.Version != ClaimsVersion {
		return ErrInvalidToken
	}
	if c.SessionID == "" || c.UserID == "" || c.Email == "" || c.Role == "" || c.DeviceID == "" {
		return ErrInvalidToken
	}
	if c.Subject != c.UserID {
		return ErrInvalidToken
	}
	return nil
}

// TokenIssuer issues and verifies HS256 access tokens. Verification is local: no store lookup.
type TokenIssuer struct {
	secret    []byte
	issuer    string
	audience  string
	accessTTL time.Duration
	now       func() time.Time
}

// NewTokenIssuer returns a TokenIssuer. secret must be at least MinSecretBytes long and must
// not be reused for any other purpose.
func NewTokenIssuer(secret []byte, issuer, audience string, accessTTL time.Duration) (*TokenIssuer, error) {
	if len(secret) < MinSecretBytes {
		return nil, ErrWeakSecret
	}
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &TokenIssuer{
		secret:    key,
		issuer:    issuer,
		audience:  audience,
		accessTTL: accessTTL,
		now:       time.Now,
	}, nil
}

// SetClock replaces the time source used for iat/exp and for verification.
func (t *TokenIssuer) SetClock(now func() time.Time) {
	if now != nil {
		t.now = now
	}
}

// AccessTTL returns the configured access token lifetime.
func (t *TokenIssuer) AccessTTL() time.Duration { return t.accessTTL }

// IssueAccess signs claims as an access token. Version and the registered claims are
// filled in here; callers set the identity fields. Returns the token and its expiry.
func (t *TokenIssuer) IssueAccess(claims AccessClaims) (string, time.Time, error) {
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := t.now().UTC()
	exp := now.Add(t.accessTTL)
	claims.Version = ClaimsVersion
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        jti,
		Subject:   claims.UserID,
		Issuer:    t.issuer,
		Audience:  jwt.ClaimStrings{t.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	if err := claims.validateSchema(); err != nil {
		return "", time.Time{}, err
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	s, err := tok.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return s, exp, nil
}

// VerifyAccess parses and validates an access token. Returns ErrTokenExpired for an expired
// token and ErrInvalidToken for any other failure.
func (t *TokenIssuer) VerifyAccess(tokenString string) (*AccessClaims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithAudience(t.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(t.now),
	)
	claims := &AccessClaims{}
	tok, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !tok.Valid {
		return nil, ErrInvalidToken
	}
	if err := claims.validateSchema(); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
