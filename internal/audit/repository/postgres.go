package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"study-planner/backend/internal/audit/domain"
)

type entryRow struct {
	ID         string    `db:"id"`
	ActorID    string    `db:"actor_id"`
	Action     string    `db:"action"`
	EntityType string    `db:"entity_type"`
	EntityID   string    `db:"entity_id"`
	Before     []byte    `db:"before"`
	After      []byte    `db:"after"`
	IPAddress  string    `db:"ip_address"`
	CreatedAt  time.Time `db:"created_at"`
}

type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns an audit repository backed by the audit_logs table.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts e. The entry must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.Entry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_id, action, entity_type, entity_id, before, after, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.ActorID, e.Action, e.EntityType, e.EntityID,
		nullableJSON(e.Before), nullableJSON(e.After), e.IPAddress, e.CreatedAt,
	)
	return err
}

// ListByEntity returns the newest entries about one entity.
func (r *PostgresRepository) ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*domain.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []entryRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, actor_id, action, entity_type, entity_id, before, after, ip_address, created_at
		FROM audit_logs WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC LIMIT $3`, entityType, entityID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Entry, len(rows))
	for i := range rows {
		row := rows[i]
		out[i] = &domain.Entry{
			ID: row.ID, ActorID: row.ActorID, Action: row.Action,
			EntityType: row.EntityType, EntityID: row.EntityID,
			Before: row.Before, After: row.After,
			IPAddress: row.IPAddress, CreatedAt: row.CreatedAt,
		}
	}
	return out, nil
}

// nullableJSON stores an empty snapshot as SQL NULL.
func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
