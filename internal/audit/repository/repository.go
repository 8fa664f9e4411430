package repository

import (
	"context"

	"study-planner/backend/internal/audit/domain"
)

// Repository persists audit entries. There is no update or delete.
type Repository interface {
	Create(ctx context.Context, e *domain.Entry) error
	ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*domain.Entry, error)
}
