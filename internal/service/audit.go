package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/referral-commerce/internal/models"
	"github.com/ayo6706/referral-commerce/internal/repository"
	"github.com/google/uuid"
)

// AuditService writes immutable audit trail entries.
type AuditService struct {
	store QueryStore
}

func NewAuditService(store QueryStore) *AuditService {
	return &AuditService{store: store}
}

// Write stores a single immutable audit record inside the caller's unit of work.
func (s *AuditService) Write(ctx context.Context, qtx *repository.Queries, entityType string, entityID uuid.UUID, actorID *uuid.UUID, action, prevState, nextState string, metadata []byte) error {
	if _, err := qtx.InsertAuditLog(ctx, repository.InsertAuditLogParams{
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actorID,
		Action:     action,
		PrevState:  textParam(prevState),
		NextState:  textParam(nextState),
		Metadata:   metadata,
	}); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// Trail returns the audit history of one entity, oldest first.
func (s *AuditService) Trail(ctx context.Context, entityType string, entityID uuid.UUID) ([]models.AuditEntry, error) {
	entries, err := read(ctx, s.store, func(q *repository.Queries) ([]models.AuditEntry, error) {
		return q.ListAuditLog(ctx, repository.ListAuditLogParams{EntityType: entityType, EntityID: entityID})
	})
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	return entries, nil
}

func textParam(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
