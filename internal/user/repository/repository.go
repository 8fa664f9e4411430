package repository

import (
	"context"
	"time"

	"study-planner/backend/internal/user/domain"
)

// Repository defines persistence for users. Getters return (nil, nil) when the row is absent.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	UpdatePasswordHash(ctx context.Context, userID, hash string, at time.Time) error
	SetBanned(ctx context.Context, userID string, banned bool, reason string, at time.Time) error
}
