package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"study-planner/backend/internal/access/domain"
)

func newMockRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewPostgresRepository(sqlx.NewDb(conn, "pgx")), mock
}

var subCols = []string{"user_id", "status", "trial_ends_at", "current_period_end", "grace_days", "updated_at"}

func TestGetByUser(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	trialEnd := now.Add(72 * time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions WHERE user_id = $1")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(subCols).AddRow("u1", "TRIAL", trialEnd, nil, 3, now))

	s, err := repo.GetByUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetByUser: %v", err)
	}
	if s == nil || s.Status != domain.StatusTrial || s.TrialEndsAt == nil || !s.TrialEndsAt.Equal(trialEnd) {
		t.Fatalf("unexpected subscription: %+v", s)
	}
	if s.CurrentPeriodEnd != nil {
		t.Error("NULL current_period_end should map to nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetByUser_NoRow(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions")).WillReturnRows(sqlmock.NewRows(subCols))

	s, err := repo.GetByUser(context.Background(), "nobody")
	if err != nil || s != nil {
		t.Fatalf("want (nil, nil), got (%+v, %v)", s, err)
	}
}
