// Package service lets an admin act as a student through a short-lived, audited session.
package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"study-planner/backend/internal/audit"
	auditdomain "study-planner/backend/internal/audit/domain"
	"study-planner/backend/internal/device"
	identitydomain "study-planner/backend/internal/identity/domain"
	"study-planner/backend/internal/ratelimit"
	sessionservice "study-planner/backend/internal/session/service"
	"study-planner/backend/internal/telemetry"
	telemetrydomain "study-planner/backend/internal/telemetry/domain"
	userdomain "study-planner/backend/internal/user/domain"
)

var (
	ErrForbidden = errors.New("impersonation: forbidden")
	ErrNotFound  = errors.New("impersonation: user not found")
)

// UserGetter loads the impersonation target.
type UserGetter interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// Sessions is the part of the session manager impersonation uses.
type Sessions interface {
	StartImpersonation(ctx context.Context, target *userdomain.User, adminID string, client sessionservice.ClientInfo) (*sessionservice.Credentials, error)
	RevokeSession(ctx context.Context, userID, sessionID string) error
}

// Result is a started impersonation: credentials for the target plus who is acting.
type Result struct {
	Credentials       *sessionservice.Credentials
	Target            *userdomain.User
	ImpersonatorID    string
	ImpersonatorEmail string
}

// Controller starts and stops impersonation sessions.
type Controller struct {
	users    UserGetter
	sessions Sessions
	limiter  ratelimit.Limiter
	audit    audit.Appender
	events   telemetry.EventEmitter
	log      *zap.Logger
}

// NewController returns a Controller. events and log may be nil.
func NewController(users UserGetter, sessions Sessions, limiter ratelimit.Limiter, auditor audit.Appender, events telemetry.EventEmitter, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{users: users, sessions: sessions, limiter: limiter, audit: auditor, events: events, log: log.Named("impersonation")}
}

// Start opens a session for targetID on behalf of actor. client.Fingerprint is the admin's own
// device fingerprint; the session is bound to a value derived from it and the admin id.
//
// Checks run in order: actor role, rate limit, target existence and role, audit write. Any failure
// leaves no session behind. The target's own sessions are not touched.
func (c *Controller) Start(ctx context.Context, actor *identitydomain.CurrentUser, targetID string, client sessionservice.ClientInfo) (*Result, error) {
	if !actor.IsAdmin() || actor.IsImpersonating() {
		return nil, ErrForbidden
	}
	if err := ratelimit.Check(ctx, c.limiter, ratelimit.Impersonation, "admin:"+actor.UserID); err != nil {
		if errors.Is(err, ratelimit.ErrRateLimited) {
			ev := telemetrydomain.NewEvent(telemetrydomain.EventRateLimited)
			ev.ActorID = actor.UserID
			ev.Detail = ratelimit.Impersonation.Name
			telemetry.EmitAsync(c.events, ev)
		}
		return nil, err
	}
	target, err := c.users.GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, ErrNotFound
	}
	if target.IsAdmin() || target.IsBanned {
		return nil, ErrForbidden
	}
	if err := c.audit.Append(ctx, audit.Record{
		ActorID:    actor.UserID,
		Action:     auditdomain.ActionImpersonationStarted,
		EntityType: auditdomain.EntityUser,
		EntityID:   target.ID,
		IPAddress:  client.IPAddress,
	}); err != nil {
		return nil, fmt.Errorf("impersonation: %w", err)
	}
	scoped := client
	scoped.Fingerprint = device.ForImpersonation(actor.UserID, client.Fingerprint)
	creds, err := c.sessions.StartImpersonation(ctx, target, actor.UserID, scoped)
	if err != nil {
		return nil, err
	}
	c.log.Info("impersonation started", zap.String("actor_id", actor.UserID), zap.String("target_id", target.ID))
	ev := telemetrydomain.NewEvent(telemetrydomain.EventImpersonationStarted)
	ev.ActorID = actor.UserID
	ev.UserID = target.ID
	ev.SessionID = creds.SessionID
	ev.IPAddress = client.IPAddress
	telemetry.EmitAsync(c.events, ev)
	return &Result{Credentials: creds, Target: target, ImpersonatorID: actor.UserID, ImpersonatorEmail: actor.Email}, nil
}

// Stop ends the impersonation session current is using. The admin signs in again afterwards.
func (c *Controller) Stop(ctx context.Context, current *identitydomain.CurrentUser, ip string) error {
	if !current.IsImpersonating() {
		return ErrForbidden
	}
	err := c.sessions.RevokeSession(ctx, current.UserID, current.SessionID)
	if err != nil && !errors.Is(err, sessionservice.ErrNotFound) {
		return err
	}
	c.audit.LogEvent(ctx, audit.Record{
		ActorID:    current.ImpersonatorID,
		Action:     auditdomain.ActionImpersonationStopped,
		EntityType: auditdomain.EntityUser,
		EntityID:   current.UserID,
		IPAddress:  ip,
	})
	ev := telemetrydomain.NewEvent(telemetrydomain.EventImpersonationStopped)
	ev.ActorID = current.ImpersonatorID
	ev.UserID = current.UserID
	ev.SessionID = current.SessionID
	telemetry.EmitAsync(c.events, ev)
	return nil
}
