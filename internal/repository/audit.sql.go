package repository

import (
	"context"

	"github.com/ayo6706/referral-commerce/internal/models"
	"github.com/google/uuid"
)

type InsertAuditLogParams struct {
	EntityType string
	EntityID   uuid.UUID
	ActorID    *uuid.UUID
	Action     string
	PrevState  *string
	NextState  *string
	Metadata   []byte
}

const insertAuditLog = `INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, insertAuditLog, arg.EntityType, arg.EntityID, arg.ActorID, arg.Action,
		arg.PrevState, arg.NextState, arg.Metadata).Scan(&id)
	return id, err
}

type ListAuditLogParams struct {
	EntityType string
	EntityID   uuid.UUID
}

const listAuditLog = `SELECT id, entity_type, entity_id, actor_id, action, COALESCE(prev_state, ''), COALESCE(next_state, ''), metadata, created_at
FROM audit_log
WHERE entity_type = $1 AND entity_id = $2
ORDER BY id`

func (q *Queries) ListAuditLog(ctx context.Context, arg ListAuditLogParams) ([]models.AuditEntry, error) {
	rows, err := q.db.Query(ctx, listAuditLog, arg.EntityType, arg.EntityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.AuditEntry
	for rows.Next() {
		var a models.AuditEntry
		var metadata []byte
		if err := rows.Scan(&a.ID, &a.EntityType, &a.EntityID, &a.ActorID, &a.Action, &a.PrevState, &a.NextState, &metadata, &a.CreatedAt); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			a.Metadata = metadata
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
