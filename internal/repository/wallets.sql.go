package repository

import (
	"context"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/models"
	"github.com/google/uuid"
)

const walletColumns = `id, member_id, balance, created_at, updated_at`

func scanWallet(row interface{ Scan(...any) error }) (models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(&w.ID, &w.MemberID, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

const createWallet = `INSERT INTO wallets (id, member_id, balance) VALUES ($1, $2, 0)
ON CONFLICT (member_id) DO NOTHING
RETURNING ` + walletColumns

// CreateWallet returns pgx.ErrNoRows when the member already has a wallet.
func (q *Queries) CreateWallet(ctx context.Context, id, memberID uuid.UUID) (models.Wallet, error) {
	return scanWallet(q.db.QueryRow(ctx, createWallet, id, memberID))
}

const getWallet = `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`

func (q *Queries) GetWallet(ctx context.Context, id uuid.UUID) (models.Wallet, error) {
	return scanWallet(q.db.QueryRow(ctx, getWallet, id))
}

const getWalletByMember = `SELECT ` + walletColumns + ` FROM wallets WHERE member_id = $1`

func (q *Queries) GetWalletByMember(ctx context.Context, memberID uuid.UUID) (models.Wallet, error) {
	return scanWallet(q.db.QueryRow(ctx, getWalletByMember, memberID))
}

const getWalletForUpdate = getWallet + ` FOR UPDATE`

func (q *Queries) GetWalletForUpdate(ctx context.Context, id uuid.UUID) (models.Wallet, error) {
	return scanWallet(q.db.QueryRow(ctx, getWalletForUpdate, id))
}

// LockWalletsByMembers locks the wallets of the given members in id order and returns them.
// GetWalletForShare blocks postings to the wallet, not readers, until the transaction ends.
const getWalletForShare = getWallet + ` FOR SHARE`

func (q *Queries) GetWalletForShare(ctx context.Context, id uuid.UUID) (models.Wallet, error) {
	return scanWallet(q.db.QueryRow(ctx, getWalletForShare, id))
}

const lockWalletsByMembers = `SELECT ` + walletColumns + ` FROM wallets
WHERE member_id = ANY($1::uuid[])
ORDER BY id
FOR UPDATE`

func (q *Queries) LockWalletsByMembers(ctx context.Context, memberIDs []uuid.UUID) ([]models.Wallet, error) {
	rows, err := q.db.Query(ctx, lockWalletsByMembers, memberIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

const listWalletIDs = `SELECT id FROM wallets ORDER BY id`

func (q *Queries) ListWalletIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, listWalletIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type SetWalletBalanceParams struct {
	ID      uuid.UUID
	Balance int64
}

const setWalletBalance = `UPDATE wallets SET balance = $2, updated_at = NOW() WHERE id = $1`

func (q *Queries) SetWalletBalance(ctx context.Context, arg SetWalletBalanceParams) (int64, error) {
	tag, err := q.db.Exec(ctx, setWalletBalance, arg.ID, arg.Balance)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type InsertWalletTransactionParams struct {
	WalletID      uuid.UUID
	Type          domain.LedgerEntryType
	Amount        int64
	BalanceBefore int64
	BalanceAfter  int64
	Description   string
	Metadata      []byte
}

const insertWalletTransaction = `INSERT INTO wallet_transactions
    (wallet_id, type, amount, balance_before, balance_after, description, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, wallet_id, type, amount, balance_before, balance_after, description, metadata, created_at`

func (q *Queries) InsertWalletTransaction(ctx context.Context, arg InsertWalletTransactionParams) (models.WalletTransaction, error) {
	return scanWalletTransaction(q.db.QueryRow(ctx, insertWalletTransaction,
		arg.WalletID, arg.Type, arg.Amount, arg.BalanceBefore, arg.BalanceAfter, arg.Description, arg.Metadata))
}

func scanWalletTransaction(row interface{ Scan(...any) error }) (models.WalletTransaction, error) {
	var t models.WalletTransaction
	var metadata []byte
	err := row.Scan(&t.ID, &t.WalletID, &t.Type, &t.Amount, &t.BalanceBefore, &t.BalanceAfter, &t.Description, &metadata, &t.CreatedAt)
	if len(metadata) > 0 {
		t.Metadata = metadata
	}
	return t, err
}

type ListWalletTransactionsParams struct {
	WalletID uuid.UUID
	Limit    int32
	Offset   int32
}

const listWalletTransactions = `SELECT id, wallet_id, type, amount, balance_before, balance_after, description, metadata, created_at
FROM wallet_transactions
WHERE wallet_id = $1
ORDER BY id DESC
LIMIT $2 OFFSET $3`

// ListWalletTransactions returns a statement page, newest first.
func (q *Queries) ListWalletTransactions(ctx context.Context, arg ListWalletTransactionsParams) ([]models.WalletTransaction, error) {
	return q.queryWalletTransactions(ctx, listWalletTransactions, arg.WalletID, arg.Limit, arg.Offset)
}

const walletHistory = `SELECT id, wallet_id, type, amount, balance_before, balance_after, description, metadata, created_at
FROM wallet_transactions
WHERE wallet_id = $1
ORDER BY id`

// WalletHistory returns the complete history in append order.
func (q *Queries) WalletHistory(ctx context.Context, walletID uuid.UUID) ([]models.WalletTransaction, error) {
	return q.queryWalletTransactions(ctx, walletHistory, walletID)
}

func (q *Queries) queryWalletTransactions(ctx context.Context, query string, args ...interface{}) ([]models.WalletTransaction, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.WalletTransaction
	for rows.Next() {
		t, err := scanWalletTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

const countWalletTransactions = `SELECT COUNT(*) FROM wallet_transactions WHERE wallet_id = $1`

func (q *Queries) CountWalletTransactions(ctx context.Context, walletID uuid.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countWalletTransactions, walletID).Scan(&n)
	return n, err
}
