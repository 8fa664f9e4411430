package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"study-planner/backend/internal/access/domain"
)

type subscriptionRow struct {
	UserID           string       `db:"user_id"`
	Status           string       `db:"status"`
	TrialEndsAt      sql.NullTime `db:"trial_ends_at"`
	CurrentPeriodEnd sql.NullTime `db:"current_period_end"`
	GraceDays        int          `db:"grace_days"`
	UpdatedAt        time.Time    `db:"updated_at"`
}

type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns a subscription repository backed by the subscriptions table.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByUser returns the user's subscription, or nil if there is none.
func (r *PostgresRepository) GetByUser(ctx context.Context, userID string) (*domain.Subscription, error) {
	var row subscriptionRow
	err := r.db.GetContext(ctx, &row, `
		SELECT user_id, status, trial_ends_at, current_period_end, grace_days, updated_at
		FROM subscriptions WHERE user_id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s := &domain.Subscription{
		UserID:    row.UserID,
		Status:    domain.SubscriptionStatus(row.Status),
		GraceDays: row.GraceDays,
		UpdatedAt: row.UpdatedAt,
	}
	if row.TrialEndsAt.Valid {
		t := row.TrialEndsAt.Time
		s.TrialEndsAt = &t
	}
	if row.CurrentPeriodEnd.Valid {
		t := row.CurrentPeriodEnd.Time
		s.CurrentPeriodEnd = &t
	}
	return s, nil
}

// Upsert writes s, replacing any existing row for the user. Used by the seed command.
func (r *PostgresRepository) Upsert(ctx context.Context, s *domain.Subscription) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscriptions (user_id, status, trial_ends_at, current_period_end, grace_days, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET status = EXCLUDED.status, trial_ends_at = EXCLUDED.trial_ends_at,
			current_period_end = EXCLUDED.current_period_end, grace_days = EXCLUDED.grace_days,
			updated_at = EXCLUDED.updated_at`,
		s.UserID, string(s.Status), nullTime(s.TrialEndsAt), nullTime(s.CurrentPeriodEnd), s.GraceDays, s.UpdatedAt)
	return err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
