package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/models"
	"github.com/ayo6706/referral-commerce/internal/notify"
	"github.com/ayo6706/referral-commerce/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CommissionRetryEnqueuer schedules another distribution attempt for an order whose inline
// distribution failed.
type CommissionRetryEnqueuer interface {
	EnqueueDistribution(ctx context.Context, orderID uuid.UUID) error
}

// distributeOrRetry runs a distribution after the order's own transaction committed. A
// failure never undoes the payment; it is queued for retry and reported.
func distributeOrRetry(ctx context.Context, engine *CommissionEngine, retry CommissionRetryEnqueuer, notifier notify.Notifier, orderID uuid.UUID) (DistributionResult, error) {
	result, err := engine.Distribute(ctx, orderID)
	if err == nil {
		return result, nil
	}

	logger := zap.L().With(zap.String("order_id", orderID.String()))
	logger.Error("commission distribution failed", zap.Error(err))
	if retry != nil && IsRetryable(err) {
		if qerr := retry.EnqueueDistribution(ctx, orderID); qerr != nil {
			logger.Error("enqueue commission retry failed", zap.Error(qerr))
		} else {
			logger.Info("commission distribution queued for retry")
			return result, err
		}
	}
	if notifier != nil {
		notifier.NotifyAdmins(ctx, notify.Notice{
			Kind:     notify.KindDistributionFail,
			EntityID: orderID,
			Message:  err.Error(),
		})
	}
	return result, err
}

type ManualOrderRequest struct {
	BuyerID     uuid.UUID
	TotalAmount int64
	Items       json.RawMessage
}

// OrderResult is an order after a status change plus what the change did to commissions.
type OrderResult struct {
	Order        models.Order        `json:"order"`
	Distribution *DistributionResult `json:"distribution,omitempty"`
	Reversal     *ReversalResult     `json:"reversal,omitempty"`
	// DistributionError is set when the order changed but its distribution has to be retried.
	DistributionError string `json:"distribution_error,omitempty"`
}

// OrderService is the admin surface over confirmed orders.
type OrderService struct {
	store    QueryStore
	engine   *CommissionEngine
	codes    *domain.OrderCodes
	retry    CommissionRetryEnqueuer
	notifier notify.Notifier
	audit    *AuditService
}

func NewOrderService(store QueryStore, engine *CommissionEngine, codes *domain.OrderCodes, retry CommissionRetryEnqueuer, notifier notify.Notifier) *OrderService {
	if notifier == nil {
		notifier = notify.NewLogNotifier()
	}
	return &OrderService{
		store:    store,
		engine:   engine,
		codes:    codes,
		retry:    retry,
		notifier: notifier,
		audit:    NewAuditService(store),
	}
}

// CreateManualOrder records an offline sale as PENDING/UNPAID. It is confirmed through
// UpdateOrderStatus or cancelled by the expiry sweep.
func (s *OrderService) CreateManualOrder(ctx context.Context, req ManualOrderRequest, actorID *uuid.UUID) (models.Order, error) {
	if req.TotalAmount <= 0 {
		return models.Order{}, domain.ErrInvalidAmount
	}
	items := []byte(req.Items)
	if len(items) == 0 {
		items = []byte("[]")
	}
	code, err := s.codes.Generate()
	if err != nil {
		return models.Order{}, err
	}

	var order models.Order
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		buyer, err := qtx.GetMember(ctx, req.BuyerID)
		if err != nil {
			return notFound(err, domain.ErrMemberNotFound, "get buyer")
		}
		if buyer.Status != domain.MemberActive {
			return fmt.Errorf("buyer %s is %s: %w", buyer.ID, buyer.Status, domain.ErrMemberInactive)
		}
		order, err = qtx.CreateOrder(ctx, repository.CreateOrderParams{
			ID:            uuid.New(),
			Code:          code,
			BuyerID:       req.BuyerID,
			Items:         items,
			TotalAmount:   req.TotalAmount,
			Status:        domain.OrderPending,
			PaymentStatus: domain.PaymentUnpaid,
		})
		if err != nil {
			if repository.IsUniqueViolation(err) {
				return fmt.Errorf("order code %s: %w", code, domain.ErrDuplicate)
			}
			return fmt.Errorf("create order: %w", err)
		}
		return s.audit.Write(ctx, qtx, domain.EntityOrder, order.ID, actorID, "order.created", "", string(domain.OrderPending), nil)
	})
	if err != nil {
		return models.Order{}, err
	}
	zap.L().Info("manual order created", zap.String("order_id", order.ID.String()), zap.Int64("total_amount", order.TotalAmount))
	return order, nil
}

// UpdateOrderStatus applies an admin status override. Cancelling or refunding reverses the
// order's commissions in the same unit of work; entering a paid status distributes after commit.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, next domain.OrderStatus, actorID *uuid.UUID) (OrderResult, error) {
	var (
		result OrderResult
		debits []models.WalletTransaction
	)
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		current, err := qtx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return notFound(err, domain.ErrOrderNotFound, "lock order")
		}

		payment := current.PaymentStatus
		switch next {
		case domain.OrderConfirmed:
			payment = domain.PaymentPaid
		case domain.OrderRefunded:
			payment = domain.PaymentRefunded
		}

		if next == domain.OrderCancelled || next == domain.OrderRefunded {
			// Validate before reversing so an illegal transition leaves commissions alone.
			if err := domain.OrderStates.Validate(current.Status, next); err != nil {
				return err
			}
			reversal, entries, err := s.engine.reverse(ctx, qtx, orderID, actorID)
			if err != nil {
				return err
			}
			result.Reversal = &reversal
			debits = entries
		}

		meta, err := marshalMetadata(map[string]any{"payment_status": string(payment)})
		if err != nil {
			return err
		}
		err = applyTransition(ctx, qtx, s.audit, stateChange[domain.OrderStatus]{
			machine:  domain.OrderStates,
			entity:   domain.EntityOrder,
			id:       orderID,
			from:     current.Status,
			to:       next,
			actor:    actorID,
			action:   "order." + string(next),
			metadata: meta,
		}, func() (int64, error) {
			return qtx.UpdateOrderStatus(ctx, repository.UpdateOrderStatusParams{
				ID: orderID, Status: next, PaymentStatus: payment, PrevStatus: current.Status,
			})
		})
		if err != nil {
			return err
		}

		result.Order, err = qtx.GetOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("reload order: %w", err)
		}
		return nil
	})
	if err != nil {
		return OrderResult{}, err
	}
	s.engine.ledger.warnIfNegative(ctx, debits...)
	zap.L().Info("order status changed", zap.String("order_id", orderID.String()), zap.String("status", string(next)))

	if next.IsPaid() {
		distribution, err := distributeOrRetry(ctx, s.engine, s.retry, s.notifier, orderID)
		if err != nil {
			result.DistributionError = err.Error()
		} else {
			result.Distribution = &distribution
		}
	}
	return result, nil
}

// Distribute is the admin's manual trigger. It is safe to call any number of times.
func (s *OrderService) Distribute(ctx context.Context, orderID uuid.UUID) (DistributionResult, error) {
	return s.engine.Distribute(ctx, orderID)
}

func (s *OrderService) GetOrder(ctx context.Context, id uuid.UUID) (models.Order, error) {
	order, err := read(ctx, s.store, func(q *repository.Queries) (models.Order, error) {
		return q.GetOrder(ctx, id)
	})
	if err != nil {
		return models.Order{}, notFound(err, domain.ErrOrderNotFound, "get order")
	}
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, buyerID *uuid.UUID, status domain.OrderStatus, page, pageSize int) ([]models.Order, error) {
	limit, offset := pageWindow(page, pageSize)
	orders, err := read(ctx, s.store, func(q *repository.Queries) ([]models.Order, error) {
		return q.ListOrders(ctx, repository.ListOrdersParams{BuyerID: buyerID, Status: status, Limit: limit, Offset: offset})
	})
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}
