// Package service owns the session lifecycle: login, refresh rotation with device binding,
// logout, force-logout and impersonation sessions.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"study-planner/backend/internal/device"
	"study-planner/backend/internal/security"
	"study-planner/backend/internal/session/domain"
	"study-planner/backend/internal/telemetry"
	telemetrydomain "study-planner/backend/internal/telemetry/domain"
	userdomain "study-planner/backend/internal/user/domain"
)

// Sentinel errors; handlers map all of them to a generic 401 that clears auth cookies.
var (
	ErrInvalidSession = errors.New("session: invalid or expired")
	ErrDeviceMismatch = errors.New("session: device mismatch")
	ErrNotFound       = errors.New("session: not found")
)

const (
	DefaultRefreshTTL       = 7 * 24 * time.Hour
	DefaultImpersonationTTL = time.Hour
)

// SessionRepo is the session persistence the manager needs.
type SessionRepo interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	GetByRefreshHash(ctx context.Context, hash string) (*domain.Session, error)
	ListByUser(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error)
	Rotate(ctx context.Context, id, oldHash, newHash string, expiresAt, now time.Time) (*domain.Session, error)
	Delete(ctx context.Context, id string) error
	DeleteByRefreshHash(ctx context.Context, hash string) (*domain.Session, error)
	DeleteAllByUser(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// UserGetter loads the user behind a session so refreshed tokens reflect current identity.
type UserGetter interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// Credentials is what a successful login, refresh or impersonation hands to the boundary.
type Credentials struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	SessionID        string
	UserID           string
	ImpersonatorID   string
}

// ClientInfo describes the device presenting a request.
type ClientInfo struct {
	Fingerprint string
	UserAgent   string
	IPAddress   string
}

// Manager implements the session lifecycle on top of a SessionRepo.
type Manager struct {
	sessions         SessionRepo
	users            UserGetter
	tokens           *security.TokenIssuer
	events           telemetry.EventEmitter
	log              *zap.Logger
	refreshTTL       time.Duration
	impersonationTTL time.Duration
	now              func() time.Time
}

// NewManager returns a Manager. events and log may be nil. Non-positive TTLs fall back to the defaults.
func NewManager(
	sessions SessionRepo,
	users UserGetter,
	tokens *security.TokenIssuer,
	events telemetry.EventEmitter,
	log *zap.Logger,
	refreshTTL, impersonationTTL time.Duration,
) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}
	if impersonationTTL <= 0 {
		impersonationTTL = DefaultImpersonationTTL
	}
	return &Manager{
		sessions:         sessions,
		users:            users,
		tokens:           tokens,
		events:           events,
		log:              log.Named("session"),
		refreshTTL:       refreshTTL,
		impersonationTTL: impersonationTTL,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the manager's time source. Tests only.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Login opens a new session for user bound to client.Fingerprint.
func (m *Manager) Login(ctx context.Context, user *userdomain.User, client ClientInfo) (*Credentials, error) {
	return m.open(ctx, user, client, "", m.refreshTTL)
}

// StartImpersonation opens a fixed-lifetime session for target on behalf of adminID.
// client.Fingerprint must already be the impersonation-scoped value. Existing target sessions are untouched.
func (m *Manager) StartImpersonation(ctx context.Context, target *userdomain.User, adminID string, client ClientInfo) (*Credentials, error) {
	if adminID == "" {
		return nil, errors.New("session: impersonator id is required")
	}
	return m.open(ctx, target, client, adminID, m.impersonationTTL)
}

func (m *Manager) open(ctx context.Context, user *userdomain.User, client ClientInfo, impersonatorID string, ttl time.Duration) (*Credentials, error) {
	if user == nil || user.ID == "" {
		return nil, errors.New("session: user is required")
	}
	refresh, err := security.NewRefreshToken()
	if err != nil {
		return nil, err
	}
	now := m.now()
	sess := &domain.Session{
		ID:                uuid.New().String(),
		UserID:            user.ID,
		RefreshTokenHash:  security.HashRefreshToken(refresh),
		DeviceFingerprint: client.Fingerprint,
		UserAgent:         client.UserAgent,
		IPAddress:         client.IPAddress,
		ImpersonatorID:    impersonatorID,
		ExpiresAt:         now.Add(ttl),
		CreatedAt:         now,
		LastUsedAt:        now,
	}
	if err := m.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}
	return m.credentials(sess, user, refresh)
}

// Refresh rotates refreshToken for the device identified by fingerprint.
// Exactly one of several concurrent calls with the same token succeeds; the others get ErrInvalidSession.
// A fingerprint mismatch deletes the session, so the legitimate device is also signed out.
func (m *Manager) Refresh(ctx context.Context, refreshToken, fingerprint string) (*Credentials, error) {
	if refreshToken == "" {
		return nil, ErrInvalidSession
	}
	hash := security.HashRefreshToken(refreshToken)
	sess, err := m.sessions.GetByRefreshHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if sess == nil || !security.RefreshTokenHashEqual(refreshToken, sess.RefreshTokenHash) {
		return nil, ErrInvalidSession
	}
	now := m.now()
	if sess.ExpiredAt(now) {
		if err := m.sessions.Delete(ctx, sess.ID); err != nil {
			m.log.Warn("delete expired session failed", zap.String("session_id", sess.ID), zap.Error(err))
		}
		return nil, ErrInvalidSession
	}
	if !device.Equal(sess.DeviceFingerprint, fingerprint) {
		if err := m.sessions.Delete(ctx, sess.ID); err != nil {
			return nil, fmt.Errorf("session: delete after device mismatch: %w", err)
		}
		m.log.Warn("refresh from a different device; session revoked",
			zap.String("session_id", sess.ID), zap.String("user_id", sess.UserID))
		ev := telemetrydomain.NewEvent(telemetrydomain.EventDeviceMismatch)
		ev.UserID = sess.UserID
		ev.SessionID = sess.ID
		ev.ActorID = sess.ImpersonatorID
		telemetry.EmitAsync(m.events, ev)
		return nil, ErrDeviceMismatch
	}

	// Load the user before rotating: a lookup failure must leave the presented token usable.
	user, err := m.users.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("session: load user: %w", err)
	}
	if user == nil || user.IsBanned {
		if err := m.sessions.Delete(ctx, sess.ID); err != nil {
			m.log.Warn("delete session of unavailable user failed", zap.String("session_id", sess.ID), zap.Error(err))
		}
		return nil, ErrInvalidSession
	}

	next, err := security.NewRefreshToken()
	if err != nil {
		return nil, err
	}
	expiresAt := now.Add(m.refreshTTL)
	if sess.IsImpersonation() {
		expiresAt = sess.ExpiresAt
	}
	rotated, err := m.sessions.Rotate(ctx, sess.ID, hash, security.HashRefreshToken(next), expiresAt, now)
	if err != nil {
		return nil, fmt.Errorf("session: rotate: %w", err)
	}
	if rotated == nil {
		return nil, ErrInvalidSession
	}
	return m.credentials(rotated, user, next)
}

// Revoke deletes the session holding refreshToken and returns it, or nil when none matched.
func (m *Manager) Revoke(ctx context.Context, refreshToken string) (*domain.Session, error) {
	if refreshToken == "" {
		return nil, nil
	}
	return m.sessions.DeleteByRefreshHash(ctx, security.HashRefreshToken(refreshToken))
}

// Logout deletes the session holding refreshToken. Unknown or empty tokens are not an error.
func (m *Manager) Logout(ctx context.Context, refreshToken string) error {
	_, err := m.Revoke(ctx, refreshToken)
	return err
}

// ForceLogoutAll deletes every session of userID and returns how many were removed.
func (m *Manager) ForceLogoutAll(ctx context.Context, userID string) (int64, error) {
	n, err := m.sessions.DeleteAllByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		ev := telemetrydomain.NewEvent(telemetrydomain.EventSessionsRevoked)
		ev.UserID = userID
		ev.Detail = fmt.Sprintf("%d", n)
		telemetry.EmitAsync(m.events, ev)
	}
	return n, nil
}

// ListSessions returns the unexpired sessions of userID, newest first.
func (m *Manager) ListSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	return m.sessions.ListByUser(ctx, userID, m.now())
}

// RevokeSession deletes sessionID if it belongs to userID. Sessions of other users are ErrNotFound.
func (m *Manager) RevokeSession(ctx context.Context, userID, sessionID string) error {
	sess, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil || sess.UserID != userID {
		return ErrNotFound
	}
	return m.sessions.Delete(ctx, sess.ID)
}

// PurgeExpired deletes sessions that expired before now.
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	return m.sessions.DeleteExpired(ctx, m.now())
}

// RunPurger calls PurgeExpired every interval until ctx is done.
func (m *Manager) RunPurger(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.PurgeExpired(ctx)
			if err != nil {
				m.log.Warn("purge expired sessions failed", zap.Error(err))
				continue
			}
			if n > 0 {
				m.log.Info("purged expired sessions", zap.Int64("count", n))
			}
		}
	}
}

func (m *Manager) credentials(sess *domain.Session, user *userdomain.User, refresh string) (*Credentials, error) {
	access, accessExp, err := m.tokens.IssueAccess(security.AccessClaims{
		SessionID:           sess.ID,
		UserID:              user.ID,
		Email:               user.Email,
		Role:                string(user.Role),
		DeviceID:            sess.DeviceFingerprint,
		OnboardingCompleted: user.OnboardingCompleted,
		ImpersonatorID:      sess.ImpersonatorID,
	})
	if err != nil {
		return nil, fmt.Errorf("session: issue access token: %w", err)
	}
	return &Credentials{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: sess.ExpiresAt,
		SessionID:        sess.ID,
		UserID:           user.ID,
		ImpersonatorID:   sess.ImpersonatorID,
	}, nil
}
