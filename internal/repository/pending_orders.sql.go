package repository

import (
	"context"
	"time"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/models"
	"github.com/google/uuid"
)

const pendingOrderColumns = `id, code, buyer_id, items, shipping, subtotal, shipping_fee, discount, total_amount,
    status, order_id, expires_at, paid_at, cancelled_at, created_at, updated_at`

func scanPendingOrder(row interface{ Scan(...any) error }) (models.PendingOrder, error) {
	var p models.PendingOrder
	var items, shipping []byte
	err := row.Scan(&p.ID, &p.Code, &p.BuyerID, &items, &shipping, &p.Subtotal, &p.ShippingFee, &p.Discount,
		&p.TotalAmount, &p.Status, &p.OrderID, &p.ExpiresAt, &p.PaidAt, &p.CancelledAt, &p.CreatedAt, &p.UpdatedAt)
	p.Items = items
	if len(shipping) > 0 {
		p.Shipping = shipping
	}
	return p, err
}

type CreatePendingOrderParams struct {
	ID          uuid.UUID
	Code        string
	BuyerID     uuid.UUID
	Items       []byte
	Shipping    []byte
	Subtotal    int64
	ShippingFee int64
	Discount    int64
	TotalAmount int64
	ExpiresAt   time.Time
}

const createPendingOrder = `INSERT INTO pending_orders
    (id, code, buyer_id, items, shipping, subtotal, shipping_fee, discount, total_amount, expires_at)
VALUES ($1, $2, $3, COALESCE($4::jsonb, '[]'::jsonb), $5, $6, $7, $8, $9, $10)
RETURNING ` + pendingOrderColumns

func (q *Queries) CreatePendingOrder(ctx context.Context, arg CreatePendingOrderParams) (models.PendingOrder, error) {
	return scanPendingOrder(q.db.QueryRow(ctx, createPendingOrder, arg.ID, arg.Code, arg.BuyerID, arg.Items, arg.Shipping,
		arg.Subtotal, arg.ShippingFee, arg.Discount, arg.TotalAmount, arg.ExpiresAt))
}

const getPendingOrder = `SELECT ` + pendingOrderColumns + ` FROM pending_orders WHERE id = $1`

func (q *Queries) GetPendingOrder(ctx context.Context, id uuid.UUID) (models.PendingOrder, error) {
	return scanPendingOrder(q.db.QueryRow(ctx, getPendingOrder, id))
}

const getPendingOrderByCode = `SELECT ` + pendingOrderColumns + ` FROM pending_orders WHERE code = $1`

func (q *Queries) GetPendingOrderByCode(ctx context.Context, code string) (models.PendingOrder, error) {
	return scanPendingOrder(q.db.QueryRow(ctx, getPendingOrderByCode, code))
}

const getPendingOrderByCodeForUpdate = getPendingOrderByCode + ` FOR UPDATE`

// GetPendingOrderByCodeForUpdate is the conversion guard: concurrent matches of one code queue here.
func (q *Queries) GetPendingOrderByCodeForUpdate(ctx context.Context, code string) (models.PendingOrder, error) {
	return scanPendingOrder(q.db.QueryRow(ctx, getPendingOrderByCodeForUpdate, code))
}

type UpdatePendingOrderStatusParams struct {
	ID         uuid.UUID
	Status     domain.PendingOrderStatus
	PrevStatus domain.PendingOrderStatus
	OrderID    *uuid.UUID
}

const updatePendingOrderStatus = `UPDATE pending_orders
SET status = $2,
    order_id = COALESCE($4, order_id),
    paid_at = CASE WHEN $2 = 'PAID' THEN NOW() ELSE paid_at END,
    cancelled_at = CASE WHEN $2 = 'CANCELLED' THEN NOW() ELSE cancelled_at END,
    updated_at = NOW()
WHERE id = $1 AND status = $3`

func (q *Queries) UpdatePendingOrderStatus(ctx context.Context, arg UpdatePendingOrderStatusParams) (int64, error) {
	tag, err := q.db.Exec(ctx, updatePendingOrderStatus, arg.ID, arg.Status, arg.PrevStatus, arg.OrderID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ExpiredReservation is one row retired by a sweep.
type ExpiredReservation struct {
	ID         uuid.UUID
	Code       string
	PrevStatus string
}

type ExpirePendingOrdersParams struct {
	Now       time.Time
	BatchSize int32
}

// ExpirePendingOrders cancels overdue reservations. The status predicate is repeated on the
// UPDATE so a row paid after selection is left alone; SKIP LOCKED keeps the sweep from waiting
// on a conversion in flight.
const expirePendingOrders = `WITH due AS (
    SELECT id FROM pending_orders
    WHERE status = 'AWAITING_PAYMENT' AND expires_at <= $1
    ORDER BY expires_at
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
UPDATE pending_orders p
SET status = 'CANCELLED', cancelled_at = $1, updated_at = $1
FROM due
WHERE p.id = due.id AND p.status = 'AWAITING_PAYMENT'
RETURNING p.id, p.code`

func (q *Queries) ExpirePendingOrders(ctx context.Context, arg ExpirePendingOrdersParams) ([]ExpiredReservation, error) {
	return q.queryExpired(ctx, expirePendingOrders, string(domain.PendingAwaitingPayment), arg.Now, arg.BatchSize)
}

type ExpireUnpaidOrdersParams struct {
	CreatedBefore time.Time
	Now           time.Time
	BatchSize     int32
}

const expireUnpaidOrders = `WITH due AS (
    SELECT id FROM orders
    WHERE status = 'PENDING' AND payment_status = 'UNPAID' AND created_at <= $1
    ORDER BY created_at
    LIMIT $3
    FOR UPDATE SKIP LOCKED
)
UPDATE orders o
SET status = 'CANCELLED', cancelled_at = $2, updated_at = $2
FROM due
WHERE o.id = due.id AND o.status = 'PENDING' AND o.payment_status = 'UNPAID'
RETURNING o.id, o.code`

func (q *Queries) ExpireUnpaidOrders(ctx context.Context, arg ExpireUnpaidOrdersParams) ([]ExpiredReservation, error) {
	return q.queryExpired(ctx, expireUnpaidOrders, string(domain.OrderPending), arg.CreatedBefore, arg.Now, arg.BatchSize)
}

func (q *Queries) queryExpired(ctx context.Context, query, prev string, args ...interface{}) ([]ExpiredReservation, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ExpiredReservation
	for rows.Next() {
		r := ExpiredReservation{PrevStatus: prev}
		if err := rows.Scan(&r.ID, &r.Code); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}
