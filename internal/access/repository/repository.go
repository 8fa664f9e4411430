package repository

import (
	"context"

	"study-planner/backend/internal/access/domain"
)

// Repository reads subscriptions. GetByUser returns (nil, nil) when the user has none.
type Repository interface {
	GetByUser(ctx context.Context, userID string) (*domain.Subscription, error)
	Upsert(ctx context.Context, s *domain.Subscription) error
}
