package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"study-planner/backend/internal/user/domain"
)

// ErrEmailTaken is returned by Create when the email is already registered.
var ErrEmailTaken = errors.New("email already registered")

const uniqueViolation = "23505"

type userRow struct {
	ID                  string         `db:"id"`
	Email               string         `db:"email"`
	Name                string         `db:"name"`
	Role                string         `db:"role"`
	PasswordHash        string         `db:"password_hash"`
	DeviceFingerprint   string         `db:"device_fingerprint"`
	OnboardingCompleted bool           `db:"onboarding_completed"`
	IsBanned            bool           `db:"is_banned"`
	BannedReason        sql.NullString `db:"banned_reason"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

func (r *userRow) toDomain() *domain.User {
	return &domain.User{
		ID:                  r.ID,
		Email:               r.Email,
		Name:                r.Name,
		Role:                domain.Role(r.Role),
		PasswordHash:        r.PasswordHash,
		DeviceFingerprint:   r.DeviceFingerprint,
		OnboardingCompleted: r.OnboardingCompleted,
		IsBanned:            r.IsBanned,
		BannedReason:        r.BannedReason.String,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

const userColumns = `id, email, name, role, password_hash, device_fingerprint, onboarding_completed,
	is_banned, banned_reason, created_at, updated_at`

// PostgresRepository stores users in the users table.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail returns the user with the given (already normalised) email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg string) (*domain.User, error) {
	var row userRow
	if err := r.db.GetContext(ctx, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// Create persists the user. The user must have ID set. Returns ErrEmailTaken on a duplicate email.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		u.ID, u.Email, u.Name, string(u.Role), u.PasswordHash, u.DeviceFingerprint, u.OnboardingCompleted,
		u.IsBanned, sql.NullString{String: u.BannedReason, Valid: u.BannedReason != ""}, u.CreatedAt, u.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrEmailTaken
	}
	return err
}

// UpdatePasswordHash replaces the stored password hash.
func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, userID, hash string, at time.Time) error {
	return r.execOne(ctx, `UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`, hash, at, userID)
}

// SetBanned sets or clears the ban flag. reason is stored only when banning.
func (r *PostgresRepository) SetBanned(ctx context.Context, userID string, banned bool, reason string, at time.Time) error {
	if !banned {
		reason = ""
	}
	return r.execOne(ctx, `UPDATE users SET is_banned = $1, banned_reason = $2, updated_at = $3 WHERE id = $4`,
		banned, sql.NullString{String: reason, Valid: reason != ""}, at, userID)
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("user: %w", sql.ErrNoRows)
	}
	return nil
}
