package repository

import (
	"context"
	"time"

	"study-planner/backend/internal/session/domain"
)

// Repository defines persistence for sessions. Getters return (nil, nil) when the row is absent.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	GetByRefreshHash(ctx context.Context, hash string) (*domain.Session, error)
	ListByUser(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error)
	// Rotate swaps oldHash for newHash on session id in one conditional update and returns the
	// updated row. It returns (nil, nil) when the row no longer carries oldHash or has expired,
	// which is how a concurrent loser learns it lost.
	Rotate(ctx context.Context, id, oldHash, newHash string, expiresAt, now time.Time) (*domain.Session, error)
	Delete(ctx context.Context, id string) error
	DeleteByRefreshHash(ctx context.Context, hash string) (*domain.Session, error)
	DeleteAllByUser(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
