package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/observability"
	"github.com/ayo6706/referral-commerce/internal/repository"
	"go.uber.org/zap"
)

const defaultSweepBatch = 200

// SweepResult counts what one sweep cancelled.
type SweepResult struct {
	Reservations int `json:"reservations"`
	Orders       int `json:"orders"`
}

// ExpirySweeper cancels reservations nobody paid for. Running it again finds nothing new, and
// a row that reaches a paid state while the sweep is running is never touched: the status is
// re-checked by the UPDATE itself and rows locked by a conversion are skipped.
type ExpirySweeper struct {
	store     QueryStore
	audit     *AuditService
	ttl       time.Duration
	batchSize int
	now       func() time.Time
}

// NewExpirySweeper takes the reservation timeout; manual orders left unpaid for the same
// duration are cancelled too.
func NewExpirySweeper(store QueryStore, ttl time.Duration, batchSize int) *ExpirySweeper {
	if batchSize <= 0 {
		batchSize = defaultSweepBatch
	}
	return &ExpirySweeper{store: store, audit: NewAuditService(store), ttl: ttl, batchSize: batchSize, now: time.Now}
}

// Sweep drains every overdue row in batches.
func (s *ExpirySweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var total SweepResult
	for {
		batch, err := s.sweepBatch(ctx)
		total.Reservations += batch.Reservations
		total.Orders += batch.Orders
		if err != nil {
			return total, err
		}
		if batch.Reservations < s.batchSize && batch.Orders < s.batchSize {
			break
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}

	if total.Reservations > 0 || total.Orders > 0 {
		zap.L().Info("expired reservations cancelled",
			zap.Int("reservations", total.Reservations),
			zap.Int("orders", total.Orders))
	}
	return total, nil
}

func (s *ExpirySweeper) sweepBatch(ctx context.Context) (SweepResult, error) {
	now := s.now().UTC()
	var result SweepResult
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		reservations, err := qtx.ExpirePendingOrders(ctx, repository.ExpirePendingOrdersParams{
			Now:       now,
			BatchSize: int32(s.batchSize),
		})
		if err != nil {
			return fmt.Errorf("expire pending orders: %w", err)
		}
		if err := s.record(ctx, qtx, domain.EntityPendingOrder, "pending_order.expired", string(domain.PendingCancelled), reservations); err != nil {
			return err
		}

		orders, err := qtx.ExpireUnpaidOrders(ctx, repository.ExpireUnpaidOrdersParams{
			CreatedBefore: now.Add(-s.ttl),
			Now:           now,
			BatchSize:     int32(s.batchSize),
		})
		if err != nil {
			return fmt.Errorf("expire unpaid orders: %w", err)
		}
		if err := s.record(ctx, qtx, domain.EntityOrder, "order.expired", string(domain.OrderCancelled), orders); err != nil {
			return err
		}

		result = SweepResult{Reservations: len(reservations), Orders: len(orders)}
		return nil
	})
	if err != nil {
		return SweepResult{}, err
	}
	observability.AddSweepCancelled("pending_order", result.Reservations)
	observability.AddSweepCancelled("order", result.Orders)
	return result, nil
}

func (s *ExpirySweeper) record(ctx context.Context, qtx *repository.Queries, entity, action, next string, rows []repository.ExpiredReservation) error {
	for _, row := range rows {
		meta, err := marshalMetadata(map[string]any{"code": row.Code, "reason": "payment timeout"})
		if err != nil {
			return err
		}
		if err := s.audit.Write(ctx, qtx, entity, row.ID, nil, action, row.PrevStatus, next, meta); err != nil {
			return err
		}
	}
	return nil
}
