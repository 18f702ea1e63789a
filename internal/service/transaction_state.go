package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/repository"
	"github.com/google/uuid"
)

// stateChange describes one lifecycle transition of one entity.
type stateChange[S ~string] struct {
	machine  domain.StateMachine[S]
	entity   string
	id       uuid.UUID
	from     S
	to       S
	actor    *uuid.UUID
	action   string
	metadata []byte
}

// applyTransition validates the change against its table, runs the status-guarded update and
// records the audit row, all on qtx. update must return the affected row count.
func applyTransition[S ~string](ctx context.Context, qtx *repository.Queries, audit *AuditService, c stateChange[S], update func() (int64, error)) error {
	if err := c.machine.Validate(c.from, c.to); err != nil {
		return err
	}

	rows, err := update()
	if err != nil {
		return fmt.Errorf("update %s state: %w", c.entity, err)
	}
	if err := requireExactlyOne(rows, "update "+c.entity+" state"); err != nil {
		return err
	}

	return audit.Write(ctx, qtx, c.entity, c.id, c.actor, c.action, string(c.from), string(c.to), c.metadata)
}
