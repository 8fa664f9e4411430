// Package audit records privileged actions (impersonation, bans, password changes) in an append-only log.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"study-planner/backend/internal/audit/domain"
	auditrepo "study-planner/backend/internal/audit/repository"
)

// Record describes an action to audit. Before and After are marshalled to JSON when non-nil.
type Record struct {
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	Before     interface{}
	After      interface{}
	IPAddress  string
}

// Appender writes audit entries. Append must succeed before a privileged action proceeds;
// LogEvent is for follow-up records whose loss is tolerable.
type Appender interface {
	Append(ctx context.Context, rec Record) error
	LogEvent(ctx context.Context, rec Record)
}

// Logger implements Appender on top of the audit repository.
type Logger struct {
	repo auditrepo.Repository
	log  *zap.Logger
	now  func() time.Time
}

// NewLogger returns a Logger persisting to repo. log may be nil.
func NewLogger(repo auditrepo.Repository, log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{repo: repo, log: log.Named("audit"), now: func() time.Time { return time.Now().UTC() }}
}

// Append writes one entry and returns any failure to the caller.
func (l *Logger) Append(ctx context.Context, rec Record) error {
	if rec.ActorID == "" || rec.Action == "" || rec.EntityType == "" || rec.EntityID == "" {
		return fmt.Errorf("audit: actor, action and entity are required")
	}
	before, err := snapshot(rec.Before)
	if err != nil {
		return fmt.Errorf("audit: before: %w", err)
	}
	after, err := snapshot(rec.After)
	if err != nil {
		return fmt.Errorf("audit: after: %w", err)
	}
	entry := &domain.Entry{
		ID:         uuid.New().String(),
		ActorID:    rec.ActorID,
		Action:     rec.Action,
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		Before:     before,
		After:      after,
		IPAddress:  rec.IPAddress,
		CreatedAt:  l.now(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		return fmt.Errorf("audit: write %s: %w", rec.Action, err)
	}
	return nil
}

// LogEvent is Append with failures logged instead of returned.
func (l *Logger) LogEvent(ctx context.Context, rec Record) {
	if l.repo == nil {
		return
	}
	if err := l.Append(ctx, rec); err != nil {
		l.log.Warn("failed to record audit event",
			zap.String("action", rec.Action), zap.String("entity_id", rec.EntityID), zap.Error(err))
	}
}

func snapshot(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
