package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/models"
	"github.com/ayo6706/referral-commerce/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const codeAttempts = 5

type CheckoutItem struct {
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type CreatePendingOrderRequest struct {
	BuyerID     uuid.UUID
	Items       []CheckoutItem
	Subtotal    int64
	ShippingFee int64
	Discount    int64
	Shipping    map[string]any
}

func (r CreatePendingOrderRequest) Total() int64 {
	return r.Subtotal + r.ShippingFee - r.Discount
}

func (r CreatePendingOrderRequest) Validate() error {
	if len(r.Items) == 0 {
		return fmt.Errorf("at least one item is required: %w", domain.ErrInvalidInput)
	}
	for _, item := range r.Items {
		if item.Quantity <= 0 || item.UnitPrice < 0 {
			return fmt.Errorf("item %q has invalid quantity or price: %w", item.SKU, domain.ErrInvalidInput)
		}
	}
	if r.Subtotal < 0 || r.ShippingFee < 0 || r.Discount < 0 {
		return fmt.Errorf("totals must not be negative: %w", domain.ErrInvalidInput)
	}
	if r.Total() <= 0 {
		return domain.ErrInvalidAmount
	}
	return nil
}

// CheckoutService opens payment reservations. The reservation code is what the buyer types
// into the bank transfer memo.
type CheckoutService struct {
	store QueryStore
	codes *domain.OrderCodes
	ttl   time.Duration
	audit *AuditService
	now   func() time.Time
}

func NewCheckoutService(store QueryStore, codes *domain.OrderCodes, ttl time.Duration) *CheckoutService {
	return &CheckoutService{store: store, codes: codes, ttl: ttl, audit: NewAuditService(store), now: time.Now}
}

func (s *CheckoutService) CreatePendingOrder(ctx context.Context, req CreatePendingOrderRequest) (models.PendingOrder, error) {
	if err := req.Validate(); err != nil {
		return models.PendingOrder{}, err
	}
	items, err := json.Marshal(req.Items)
	if err != nil {
		return models.PendingOrder{}, fmt.Errorf("marshal items: %w", err)
	}
	shipping, err := marshalMetadata(req.Shipping)
	if err != nil {
		return models.PendingOrder{}, err
	}

	// A code collision aborts the transaction, so each attempt gets a fresh one.
	for attempt := 1; ; attempt++ {
		code, err := s.codes.Generate()
		if err != nil {
			return models.PendingOrder{}, err
		}
		pending, err := s.create(ctx, req, code, items, shipping)
		if err == nil {
			zap.L().Info("pending order created",
				zap.String("pending_order_id", pending.ID.String()),
				zap.String("code", pending.Code),
				zap.Int64("total_amount", pending.TotalAmount),
				zap.Time("expires_at", pending.ExpiresAt))
			return pending, nil
		}
		if !errors.Is(err, errCodeCollision) || attempt == codeAttempts {
			return models.PendingOrder{}, err
		}
		zap.L().Warn("order code collision, regenerating", zap.String("code", code), zap.Int("attempt", attempt))
	}
}

var errCodeCollision = fmt.Errorf("order code collision: %w", domain.ErrConflict)

func (s *CheckoutService) create(ctx context.Context, req CreatePendingOrderRequest, code string, items, shipping []byte) (models.PendingOrder, error) {
	var pending models.PendingOrder
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		buyer, err := qtx.GetMember(ctx, req.BuyerID)
		if err != nil {
			return notFound(err, domain.ErrMemberNotFound, "get buyer")
		}
		if buyer.Status != domain.MemberActive {
			return fmt.Errorf("buyer %s is %s: %w", buyer.ID, buyer.Status, domain.ErrMemberInactive)
		}

		pending, err = qtx.CreatePendingOrder(ctx, repository.CreatePendingOrderParams{
			ID:          uuid.New(),
			Code:        code,
			BuyerID:     req.BuyerID,
			Items:       items,
			Shipping:    shipping,
			Subtotal:    req.Subtotal,
			ShippingFee: req.ShippingFee,
			Discount:    req.Discount,
			TotalAmount: req.Total(),
			ExpiresAt:   s.now().UTC().Add(s.ttl),
		})
		if err != nil {
			if repository.IsUniqueViolation(err) {
				return errCodeCollision
			}
			return fmt.Errorf("create pending order: %w", err)
		}
		return s.audit.Write(ctx, qtx, domain.EntityPendingOrder, pending.ID, &req.BuyerID, "pending_order.created", "", string(domain.PendingAwaitingPayment), nil)
	})
	return pending, err
}

// GetPendingOrderByCode accepts the code the way a person would type it.
func (s *CheckoutService) GetPendingOrderByCode(ctx context.Context, code string) (models.PendingOrder, error) {
	pending, err := read(ctx, s.store, func(q *repository.Queries) (models.PendingOrder, error) {
		return q.GetPendingOrderByCode(ctx, s.codes.Normalize(code))
	})
	if err != nil {
		return models.PendingOrder{}, notFound(err, domain.ErrPendingOrderNotFound, "get pending order")
	}
	return pending, nil
}

func (s *CheckoutService) GetPendingOrder(ctx context.Context, id uuid.UUID) (models.PendingOrder, error) {
	pending, err := read(ctx, s.store, func(q *repository.Queries) (models.PendingOrder, error) {
		return q.GetPendingOrder(ctx, id)
	})
	if err != nil {
		return models.PendingOrder{}, notFound(err, domain.ErrPendingOrderNotFound, "get pending order")
	}
	return pending, nil
}
