// Package service implements admin account actions: password reset, ban, unban and force logout.
// Every action is audited before it takes effect, and none of them may target an admin.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"study-planner/backend/internal/audit"
	auditdomain "study-planner/backend/internal/audit/domain"
	identitydomain "study-planner/backend/internal/identity/domain"
	"study-planner/backend/internal/security"
	userdomain "study-planner/backend/internal/user/domain"
)

var (
	ErrForbidden    = errors.New("admin: forbidden")
	ErrNotFound     = errors.New("admin: user not found")
	ErrInvalidInput = errors.New("admin: invalid input")
)

// UserRepo is the user persistence the admin service needs.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string, at time.Time) error
	SetBanned(ctx context.Context, userID string, banned bool, reason string, at time.Time) error
}

// SessionRevoker signs a user out everywhere.
type SessionRevoker interface {
	ForceLogoutAll(ctx context.Context, userID string) (int64, error)
}

// Service performs admin actions on user accounts.
type Service struct {
	users    UserRepo
	sessions SessionRevoker
	hasher   *security.Hasher
	audit    audit.Appender
	log      *zap.Logger
}

// NewService returns an admin Service. log may be nil.
func NewService(users UserRepo, sessions SessionRevoker, hasher *security.Hasher, auditor audit.Appender, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{users: users, sessions: sessions, hasher: hasher, audit: auditor, log: log.Named("admin")}
}

// ResetPassword sets a new password for userID and signs the user out everywhere.
func (s *Service) ResetPassword(ctx context.Context, actor *identitydomain.CurrentUser, userID, newPassword, ip string) error {
	target, err := s.target(ctx, actor, userID)
	if err != nil {
		return err
	}
	if err := userdomain.ValidatePassword(newPassword); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.audit.Append(ctx, audit.Record{
		ActorID: actor.UserID, Action: auditdomain.ActionPasswordReset,
		EntityType: auditdomain.EntityUser, EntityID: target.ID, IPAddress: ip,
	}); err != nil {
		return err
	}
	hashed, err := s.hasher.Hash(ctx, []byte(newPassword))
	if err != nil {
		return err
	}
	if err := s.users.UpdatePasswordHash(ctx, target.ID, hashed, time.Now().UTC()); err != nil {
		return err
	}
	_, err = s.sessions.ForceLogoutAll(ctx, target.ID)
	return err
}

// Ban marks userID as banned and deletes every session.
func (s *Service) Ban(ctx context.Context, actor *identitydomain.CurrentUser, userID, reason, ip string) error {
	target, err := s.target(ctx, actor, userID)
	if err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if err := s.audit.Append(ctx, audit.Record{
		ActorID:    actor.UserID,
		Action:     auditdomain.ActionUserBanned,
		EntityType: auditdomain.EntityUser,
		EntityID:   target.ID,
		Before:     banState{Banned: target.IsBanned, Reason: target.BannedReason},
		After:      banState{Banned: true, Reason: reason},
		IPAddress:  ip,
	}); err != nil {
		return err
	}
	if err := s.users.SetBanned(ctx, target.ID, true, reason, time.Now().UTC()); err != nil {
		return err
	}
	n, err := s.sessions.ForceLogoutAll(ctx, target.ID)
	if err != nil {
		return err
	}
	s.log.Info("user banned", zap.String("user_id", target.ID), zap.String("actor_id", actor.UserID), zap.Int64("sessions_revoked", n))
	return nil
}

// Unban clears the ban on userID.
func (s *Service) Unban(ctx context.Context, actor *identitydomain.CurrentUser, userID, ip string) error {
	target, err := s.target(ctx, actor, userID)
	if err != nil {
		return err
	}
	if err := s.audit.Append(ctx, audit.Record{
		ActorID:    actor.UserID,
		Action:     auditdomain.ActionUserUnbanned,
		EntityType: auditdomain.EntityUser,
		EntityID:   target.ID,
		Before:     banState{Banned: target.IsBanned, Reason: target.BannedReason},
		After:      banState{Banned: false},
		IPAddress:  ip,
	}); err != nil {
		return err
	}
	return s.users.SetBanned(ctx, target.ID, false, "", time.Now().UTC())
}

// ForceLogout deletes every session of userID and returns how many were removed.
func (s *Service) ForceLogout(ctx context.Context, actor *identitydomain.CurrentUser, userID, ip string) (int64, error) {
	target, err := s.target(ctx, actor, userID)
	if err != nil {
		return 0, err
	}
	if err := s.audit.Append(ctx, audit.Record{
		ActorID: actor.UserID, Action: auditdomain.ActionSessionsRevoked,
		EntityType: auditdomain.EntityUser, EntityID: target.ID, IPAddress: ip,
	}); err != nil {
		return 0, err
	}
	return s.sessions.ForceLogoutAll(ctx, target.ID)
}

type banState struct {
	Banned bool   `json:"banned"`
	Reason string `json:"reason,omitempty"`
}

func (s *Service) target(ctx context.Context, actor *identitydomain.CurrentUser, userID string) (*userdomain.User, error) {
	if !actor.IsAdmin() || actor.IsImpersonating() {
		return nil, ErrForbidden
	}
	if userID == "" {
		return nil, ErrNotFound
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrNotFound
	}
	// Admin accounts are out of reach of every admin action, including the actor's own.
	if u.IsAdmin() {
		return nil, ErrForbidden
	}
	return u, nil
}
