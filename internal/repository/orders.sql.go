package repository

import (
	"context"
	"time"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/models"
	"github.com/google/uuid"
)

const orderColumns = `id, code, buyer_id, pending_order_id, items, total_amount, status, payment_status, paid_at, cancelled_at, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (models.Order, error) {
	var o models.Order
	var items []byte
	err := row.Scan(&o.ID, &o.Code, &o.BuyerID, &o.PendingOrderID, &items, &o.TotalAmount, &o.Status,
		&o.PaymentStatus, &o.PaidAt, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt)
	o.Items = items
	return o, err
}

type CreateOrderParams struct {
	ID             uuid.UUID
	Code           string
	BuyerID        uuid.UUID
	PendingOrderID *uuid.UUID
	Items          []byte
	TotalAmount    int64
	Status         domain.OrderStatus
	PaymentStatus  domain.PaymentStatus
	PaidAt         *time.Time
}

const createOrder = `INSERT INTO orders (id, code, buyer_id, pending_order_id, items, total_amount, status, payment_status, paid_at)
VALUES ($1, $2, $3, $4, COALESCE($5::jsonb, '[]'::jsonb), $6, $7, $8, $9)
RETURNING ` + orderColumns

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (models.Order, error) {
	return scanOrder(q.db.QueryRow(ctx, createOrder, arg.ID, arg.Code, arg.BuyerID, arg.PendingOrderID, arg.Items,
		arg.TotalAmount, arg.Status, arg.PaymentStatus, arg.PaidAt))
}

const getOrder = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

func (q *Queries) GetOrder(ctx context.Context, id uuid.UUID) (models.Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrder, id))
}

const getOrderForUpdate = getOrder + ` FOR UPDATE`

// GetOrderForUpdate serializes distribution and status changes for one order.
func (q *Queries) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (models.Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderForUpdate, id))
}

type ListOrdersParams struct {
	BuyerID *uuid.UUID
	Status  domain.OrderStatus
	Limit   int32
	Offset  int32
}

const listOrders = `SELECT ` + orderColumns + ` FROM orders
WHERE ($1::uuid IS NULL OR buyer_id = $1) AND ($2 = '' OR status = $2)
ORDER BY created_at DESC, id
LIMIT $3 OFFSET $4`

func (q *Queries) ListOrders(ctx context.Context, arg ListOrdersParams) ([]models.Order, error) {
	rows, err := q.db.Query(ctx, listOrders, arg.BuyerID, string(arg.Status), arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

type UpdateOrderStatusParams struct {
	ID            uuid.UUID
	Status        domain.OrderStatus
	PaymentStatus domain.PaymentStatus
	PrevStatus    domain.OrderStatus
}

// UpdateOrderStatus stamps paid_at / cancelled_at on entry and is guarded by the previous status.
const updateOrderStatus = `UPDATE orders
SET status = $2,
    payment_status = $3,
    paid_at = CASE WHEN $3 = 'PAID' AND paid_at IS NULL THEN NOW() ELSE paid_at END,
    cancelled_at = CASE WHEN $2 IN ('CANCELLED', 'REFUNDED') THEN NOW() ELSE cancelled_at END,
    updated_at = NOW()
WHERE id = $1 AND status = $4`

func (q *Queries) UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) (int64, error) {
	tag, err := q.db.Exec(ctx, updateOrderStatus, arg.ID, arg.Status, arg.PaymentStatus, arg.PrevStatus)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
