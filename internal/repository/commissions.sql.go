package repository

import (
	"context"
	"fmt"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// rate is read as text so no precision is lost on the way to decimal.
const commissionColumns = `id, beneficiary_id, order_id, from_user_id, level, order_value, rate::text, rate_version,
    amount, period, status, created_at, updated_at`

func scanCommission(row interface{ Scan(...any) error }) (models.Commission, error) {
	var c models.Commission
	var rate string
	if err := row.Scan(&c.ID, &c.BeneficiaryID, &c.OrderID, &c.FromUserID, &c.Level, &c.OrderValue, &rate,
		&c.RateVersion, &c.Amount, &c.Period, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return c, err
	}
	parsed, err := decimal.NewFromString(rate)
	if err != nil {
		return c, fmt.Errorf("parse commission rate %q: %w", rate, err)
	}
	c.Rate = parsed
	return c, nil
}

type InsertCommissionParams struct {
	ID            uuid.UUID
	BeneficiaryID uuid.UUID
	OrderID       uuid.UUID
	FromUserID    uuid.UUID
	Level         int32
	OrderValue    int64
	Rate          decimal.Decimal
	RateVersion   int32
	Amount        int64
	Period        string
	Status        domain.CommissionStatus
}

// InsertCommission returns pgx.ErrNoRows when (order_id, beneficiary_id) already exists.
const insertCommission = `INSERT INTO commissions
    (id, beneficiary_id, order_id, from_user_id, level, order_value, rate, rate_version, amount, period, status)
VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11)
ON CONFLICT (order_id, beneficiary_id) DO NOTHING
RETURNING ` + commissionColumns

func (q *Queries) InsertCommission(ctx context.Context, arg InsertCommissionParams) (models.Commission, error) {
	return scanCommission(q.db.QueryRow(ctx, insertCommission, arg.ID, arg.BeneficiaryID, arg.OrderID, arg.FromUserID,
		arg.Level, arg.OrderValue, arg.Rate.String(), arg.RateVersion, arg.Amount, arg.Period, arg.Status))
}

const countCommissionsForOrder = `SELECT COUNT(*) FROM commissions WHERE order_id = $1`

func (q *Queries) CountCommissionsForOrder(ctx context.Context, orderID uuid.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countCommissionsForOrder, orderID).Scan(&n)
	return n, err
}

const listCommissionsForOrder = `SELECT ` + commissionColumns + ` FROM commissions WHERE order_id = $1 ORDER BY level`

func (q *Queries) ListCommissionsForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Commission, error) {
	return q.queryCommissions(ctx, listCommissionsForOrder, orderID)
}

const lockCommissionsForOrder = listCommissionsForOrder + ` FOR UPDATE`

func (q *Queries) LockCommissionsForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Commission, error) {
	return q.queryCommissions(ctx, lockCommissionsForOrder, orderID)
}

type ListCommissionsByBeneficiaryParams struct {
	BeneficiaryID uuid.UUID
	Status        domain.CommissionStatus
	Limit         int32
	Offset        int32
}

const listCommissionsByBeneficiary = `SELECT ` + commissionColumns + ` FROM commissions
WHERE beneficiary_id = $1 AND ($2 = '' OR status = $2)
ORDER BY created_at DESC, id
LIMIT $3 OFFSET $4`

func (q *Queries) ListCommissionsByBeneficiary(ctx context.Context, arg ListCommissionsByBeneficiaryParams) ([]models.Commission, error) {
	return q.queryCommissions(ctx, listCommissionsByBeneficiary, arg.BeneficiaryID, string(arg.Status), arg.Limit, arg.Offset)
}

// LockApprovedCommissionsFIFO returns the beneficiary's unpaid approved commissions, oldest first.
const lockApprovedCommissionsFIFO = `SELECT ` + commissionColumns + ` FROM commissions
WHERE beneficiary_id = $1 AND status = 'APPROVED'
ORDER BY created_at, id
FOR UPDATE`

func (q *Queries) LockApprovedCommissionsFIFO(ctx context.Context, beneficiaryID uuid.UUID) ([]models.Commission, error) {
	return q.queryCommissions(ctx, lockApprovedCommissionsFIFO, beneficiaryID)
}

const sumPaidCommissions = `SELECT COALESCE(SUM(amount), 0)::bigint FROM commissions
WHERE beneficiary_id = $1 AND status = 'PAID'`

func (q *Queries) SumPaidCommissions(ctx context.Context, beneficiaryID uuid.UUID) (int64, error) {
	var total int64
	err := q.db.QueryRow(ctx, sumPaidCommissions, beneficiaryID).Scan(&total)
	return total, err
}

func (q *Queries) queryCommissions(ctx context.Context, query string, args ...interface{}) ([]models.Commission, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.Commission
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

type UpdateCommissionStatusParams struct {
	ID         uuid.UUID
	Status     domain.CommissionStatus
	PrevStatus domain.CommissionStatus
}

const updateCommissionStatus = `UPDATE commissions SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3`

func (q *Queries) UpdateCommissionStatus(ctx context.Context, arg UpdateCommissionStatusParams) (int64, error) {
	tag, err := q.db.Exec(ctx, updateCommissionStatus, arg.ID, arg.Status, arg.PrevStatus)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
