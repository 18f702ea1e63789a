package repository

import (
	"context"
	"time"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/models"
	"github.com/google/uuid"
)

const bankEventColumns = `id, external_id, gateway, account_number, transfer_type, content, amount, transaction_date,
    processed, match_status, order_id, note, processed_at, created_at`

func scanBankEvent(row interface{ Scan(...any) error }) (models.BankTransactionEvent, error) {
	var e models.BankTransactionEvent
	err := row.Scan(&e.ID, &e.ExternalID, &e.Gateway, &e.AccountNumber, &e.TransferType, &e.Content, &e.Amount,
		&e.TransactionDate, &e.Processed, &e.MatchStatus, &e.OrderID, &e.Note, &e.ProcessedAt, &e.CreatedAt)
	return e, err
}

type InsertBankEventParams struct {
	ID              uuid.UUID
	ExternalID      string
	Gateway         string
	AccountNumber   string
	TransferType    string
	Content         string
	Amount          int64
	TransactionDate time.Time
	RawPayload      []byte
}

// InsertBankEvent returns pgx.ErrNoRows when the external id was seen before.
const insertBankEvent = `INSERT INTO bank_transaction_events
    (id, external_id, gateway, account_number, transfer_type, content, amount, transaction_date, raw_payload)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (external_id) DO NOTHING
RETURNING ` + bankEventColumns

func (q *Queries) InsertBankEvent(ctx context.Context, arg InsertBankEventParams) (models.BankTransactionEvent, error) {
	return scanBankEvent(q.db.QueryRow(ctx, insertBankEvent, arg.ID, arg.ExternalID, arg.Gateway, arg.AccountNumber,
		arg.TransferType, arg.Content, arg.Amount, arg.TransactionDate, arg.RawPayload))
}

const getBankEvent = `SELECT ` + bankEventColumns + ` FROM bank_transaction_events WHERE id = $1`

func (q *Queries) GetBankEvent(ctx context.Context, id uuid.UUID) (models.BankTransactionEvent, error) {
	return scanBankEvent(q.db.QueryRow(ctx, getBankEvent, id))
}

const getBankEventForUpdate = getBankEvent + ` FOR UPDATE`

func (q *Queries) GetBankEventForUpdate(ctx context.Context, id uuid.UUID) (models.BankTransactionEvent, error) {
	return scanBankEvent(q.db.QueryRow(ctx, getBankEventForUpdate, id))
}

const getBankEventByExternalID = `SELECT ` + bankEventColumns + ` FROM bank_transaction_events WHERE external_id = $1`

func (q *Queries) GetBankEventByExternalID(ctx context.Context, externalID string) (models.BankTransactionEvent, error) {
	return scanBankEvent(q.db.QueryRow(ctx, getBankEventByExternalID, externalID))
}

type ListBankEventsParams struct {
	MatchStatus domain.BankMatchStatus
	Limit       int32
	Offset      int32
}

const listBankEvents = `SELECT ` + bankEventColumns + ` FROM bank_transaction_events
WHERE ($1 = '' OR match_status = $1)
ORDER BY created_at DESC, id
LIMIT $2 OFFSET $3`

func (q *Queries) ListBankEvents(ctx context.Context, arg ListBankEventsParams) ([]models.BankTransactionEvent, error) {
	rows, err := q.db.Query(ctx, listBankEvents, string(arg.MatchStatus), arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.BankTransactionEvent
	for rows.Next() {
		e, err := scanBankEvent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

type MarkBankEventParams struct {
	ID          uuid.UUID
	MatchStatus domain.BankMatchStatus
	Processed   bool
	OrderID     *uuid.UUID
	Note        string
}

// MarkBankEvent never flips a processed event back to unprocessed.
const markBankEvent = `UPDATE bank_transaction_events
SET match_status = $2,
    processed = $3,
    order_id = COALESCE($4, order_id),
    note = $5,
    processed_at = CASE WHEN $3 THEN NOW() ELSE processed_at END,
    updated_at = NOW()
WHERE id = $1 AND processed = FALSE`

func (q *Queries) MarkBankEvent(ctx context.Context, arg MarkBankEventParams) (int64, error) {
	tag, err := q.db.Exec(ctx, markBankEvent, arg.ID, arg.MatchStatus, arg.Processed, arg.OrderID, arg.Note)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
