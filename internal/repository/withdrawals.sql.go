package repository

import (
	"context"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/models"
	"github.com/google/uuid"
)

const withdrawalColumns = `id, member_id, amount, bank_name, account_number, account_holder, status, note, reviewed_by,
    approved_at, completed_at, rejected_at, created_at, updated_at`

func scanWithdrawal(row interface{ Scan(...any) error }) (models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest
	err := row.Scan(&w.ID, &w.MemberID, &w.Amount, &w.Bank.BankName, &w.Bank.AccountNumber, &w.Bank.AccountHolder,
		&w.Status, &w.Note, &w.ReviewedBy, &w.ApprovedAt, &w.CompletedAt, &w.RejectedAt, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

type CreateWithdrawalParams struct {
	ID       uuid.UUID
	MemberID uuid.UUID
	Amount   int64
	Bank     models.BankInfo
}

const createWithdrawal = `INSERT INTO withdrawal_requests (id, member_id, amount, bank_name, account_number, account_holder, status)
VALUES ($1, $2, $3, $4, $5, $6, 'PENDING')
RETURNING ` + withdrawalColumns

func (q *Queries) CreateWithdrawal(ctx context.Context, arg CreateWithdrawalParams) (models.WithdrawalRequest, error) {
	return scanWithdrawal(q.db.QueryRow(ctx, createWithdrawal, arg.ID, arg.MemberID, arg.Amount,
		arg.Bank.BankName, arg.Bank.AccountNumber, arg.Bank.AccountHolder))
}

const getWithdrawal = `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE id = $1`

func (q *Queries) GetWithdrawal(ctx context.Context, id uuid.UUID) (models.WithdrawalRequest, error) {
	return scanWithdrawal(q.db.QueryRow(ctx, getWithdrawal, id))
}

const getWithdrawalForUpdate = getWithdrawal + ` FOR UPDATE`

func (q *Queries) GetWithdrawalForUpdate(ctx context.Context, id uuid.UUID) (models.WithdrawalRequest, error) {
	return scanWithdrawal(q.db.QueryRow(ctx, getWithdrawalForUpdate, id))
}

type ListWithdrawalsParams struct {
	MemberID *uuid.UUID
	Status   domain.WithdrawalStatus
	Limit    int32
	Offset   int32
}

const listWithdrawals = `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests
WHERE ($1::uuid IS NULL OR member_id = $1) AND ($2 = '' OR status = $2)
ORDER BY created_at DESC, id
LIMIT $3 OFFSET $4`

func (q *Queries) ListWithdrawals(ctx context.Context, arg ListWithdrawalsParams) ([]models.WithdrawalRequest, error) {
	rows, err := q.db.Query(ctx, listWithdrawals, arg.MemberID, string(arg.Status), arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

// SumOpenWithdrawals totals requests that still hold a claim on the balance.
const sumOpenWithdrawals = `SELECT COALESCE(SUM(amount), 0)::bigint FROM withdrawal_requests
WHERE member_id = $1 AND status IN ('PENDING', 'PROCESSING')`

func (q *Queries) SumOpenWithdrawals(ctx context.Context, memberID uuid.UUID) (int64, error) {
	var total int64
	err := q.db.QueryRow(ctx, sumOpenWithdrawals, memberID).Scan(&total)
	return total, err
}

const sumCompletedWithdrawals = `SELECT COALESCE(SUM(amount), 0)::bigint FROM withdrawal_requests
WHERE member_id = $1 AND status = 'COMPLETED'`

func (q *Queries) SumCompletedWithdrawals(ctx context.Context, memberID uuid.UUID) (int64, error) {
	var total int64
	err := q.db.QueryRow(ctx, sumCompletedWithdrawals, memberID).Scan(&total)
	return total, err
}

const lockOpenWithdrawalsForMember = `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests
WHERE member_id = $1 AND status IN ('PENDING', 'PROCESSING')
ORDER BY created_at
FOR UPDATE`

func (q *Queries) LockOpenWithdrawalsForMember(ctx context.Context, memberID uuid.UUID) ([]models.WithdrawalRequest, error) {
	rows, err := q.db.Query(ctx, lockOpenWithdrawalsForMember, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

type UpdateWithdrawalStatusParams struct {
	ID         uuid.UUID
	Status     domain.WithdrawalStatus
	PrevStatus domain.WithdrawalStatus
	ReviewedBy *uuid.UUID
	Note       string
}

const updateWithdrawalStatus = `UPDATE withdrawal_requests
SET status = $2,
    reviewed_by = COALESCE($4, reviewed_by),
    note = CASE WHEN $5 = '' THEN note ELSE $5 END,
    approved_at = CASE WHEN $2 = 'PROCESSING' THEN NOW() ELSE approved_at END,
    completed_at = CASE WHEN $2 = 'COMPLETED' THEN NOW() ELSE completed_at END,
    rejected_at = CASE WHEN $2 = 'REJECTED' THEN NOW() ELSE rejected_at END,
    updated_at = NOW()
WHERE id = $1 AND status = $3`

func (q *Queries) UpdateWithdrawalStatus(ctx context.Context, arg UpdateWithdrawalStatusParams) (int64, error) {
	tag, err := q.db.Exec(ctx, updateWithdrawalStatus, arg.ID, arg.Status, arg.PrevStatus, arg.ReviewedBy, arg.Note)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountOpenWithdrawals sizes the admin review queue.
const countOpenWithdrawals = `SELECT COUNT(*) FROM withdrawal_requests WHERE status IN ('PENDING', 'PROCESSING')`

func (q *Queries) CountOpenWithdrawals(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countOpenWithdrawals).Scan(&n)
	return n, err
}
