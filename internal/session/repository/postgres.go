package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"study-planner/backend/internal/session/domain"
)

type sessionRow struct {
	ID                string         `db:"id"`
	UserID            string         `db:"user_id"`
	RefreshTokenHash  string         `db:"refresh_token_hash"`
	DeviceFingerprint string         `db:"device_fingerprint"`
	UserAgent         string         `db:"user_agent"`
	IPAddress         string         `db:"ip_address"`
	ImpersonatorID    sql.NullString `db:"impersonator_id"`
	ExpiresAt         time.Time      `db:"expires_at"`
	CreatedAt         time.Time      `db:"created_at"`
	LastUsedAt        time.Time      `db:"last_used_at"`
}

func (r *sessionRow) toDomain() *domain.Session {
	return &domain.Session{
		ID:                r.ID,
		UserID:            r.UserID,
		RefreshTokenHash:  r.RefreshTokenHash,
		DeviceFingerprint: r.DeviceFingerprint,
		UserAgent:         r.UserAgent,
		IPAddress:         r.IPAddress,
		ImpersonatorID:    r.ImpersonatorID.String,
		ExpiresAt:         r.ExpiresAt,
		CreatedAt:         r.CreatedAt,
		LastUsedAt:        r.LastUsedAt,
	}
}

const sessionColumns = `id, user_id, refresh_token_hash, device_fingerprint, user_agent, ip_address,
	impersonator_id, expires_at, created_at, last_used_at`

// PostgresRepository stores sessions in the sessions table. Row-level atomicity of the
// rotate UPDATE is what serialises concurrent refreshes; no in-process locking is used.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the session. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.UserID, s.RefreshTokenHash, s.DeviceFingerprint, s.UserAgent, s.IPAddress,
		sql.NullString{String: s.ImpersonatorID, Valid: s.ImpersonatorID != ""},
		s.ExpiresAt, s.CreatedAt, s.LastUsedAt,
	)
	return err
}

// GetByID returns the session for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	return r.getOne(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
}

// GetByRefreshHash returns the session holding the given refresh token hash, or nil.
func (r *PostgresRepository) GetByRefreshHash(ctx context.Context, hash string) (*domain.Session, error) {
	return r.getOne(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE refresh_token_hash = $1`, hash)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, args ...interface{}) (*domain.Session, error) {
	var row sessionRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// ListByUser returns the user's unexpired sessions, most recently used first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error) {
	var rows []sessionRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1 AND expires_at > $2
		ORDER BY last_used_at DESC`, userID, now)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Session, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

// Rotate replaces the refresh token hash in place. See Repository.Rotate.
func (r *PostgresRepository) Rotate(ctx context.Context, id, oldHash, newHash string, expiresAt, now time.Time) (*domain.Session, error) {
	return r.getOne(ctx, `
		UPDATE sessions
		SET refresh_token_hash = $1, expires_at = $2, last_used_at = $3
		WHERE id = $4 AND refresh_token_hash = $5 AND expires_at > $3
		RETURNING `+sessionColumns,
		newHash, expiresAt, now, id, oldHash)
}

// Delete removes the session. Deleting a missing session is not an error.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

// DeleteByRefreshHash removes and returns the session holding hash, or (nil, nil) if none did.
func (r *PostgresRepository) DeleteByRefreshHash(ctx context.Context, hash string) (*domain.Session, error) {
	return r.getOne(ctx, `DELETE FROM sessions WHERE refresh_token_hash = $1 RETURNING `+sessionColumns, hash)
}

// DeleteAllByUser removes every session of the user and returns how many were removed.
func (r *PostgresRepository) DeleteAllByUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpired removes sessions whose expiry is at or before before.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
