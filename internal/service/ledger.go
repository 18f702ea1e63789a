package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/models"
	"github.com/ayo6706/referral-commerce/internal/notify"
	"github.com/ayo6706/referral-commerce/internal/observability"
	"github.com/ayo6706/referral-commerce/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Posting is one signed balance movement on one wallet.
type Posting struct {
	WalletID    uuid.UUID
	Type        domain.LedgerEntryType
	Amount      int64
	Description string
	Metadata    map[string]any
	// RequireFunds rejects a debit that would take the balance below zero.
	RequireFunds bool
}

// Ledger owns every balance mutation. The wallet row is the lock: postings to one wallet
// serialize on SELECT ... FOR UPDATE, postings to different wallets never wait on each other.
type Ledger struct {
	store    QueryStore
	audit    *AuditService
	notifier notify.Notifier
}

func NewLedger(store QueryStore, notifier notify.Notifier) *Ledger {
	if notifier == nil {
		notifier = notify.NewLogNotifier()
	}
	return &Ledger{store: store, audit: NewAuditService(store), notifier: notifier}
}

// Credit adds a positive amount in its own unit of work.
func (l *Ledger) Credit(ctx context.Context, walletID uuid.UUID, amount int64, entryType domain.LedgerEntryType, description string, metadata map[string]any) (models.WalletTransaction, error) {
	if amount <= 0 {
		return models.WalletTransaction{}, domain.ErrInvalidAmount
	}
	return l.postAlone(ctx, Posting{WalletID: walletID, Type: entryType, Amount: amount, Description: description, Metadata: metadata})
}

// Debit removes a positive amount in its own unit of work. requireFunds decides whether the
// balance may go negative.
func (l *Ledger) Debit(ctx context.Context, walletID uuid.UUID, amount int64, entryType domain.LedgerEntryType, description string, metadata map[string]any, requireFunds bool) (models.WalletTransaction, error) {
	if amount <= 0 {
		return models.WalletTransaction{}, domain.ErrInvalidAmount
	}
	return l.postAlone(ctx, Posting{WalletID: walletID, Type: entryType, Amount: -amount, Description: description, Metadata: metadata, RequireFunds: requireFunds})
}

func (l *Ledger) postAlone(ctx context.Context, p Posting) (models.WalletTransaction, error) {
	var entry models.WalletTransaction
	err := l.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		entry, err = l.post(ctx, qtx, p)
		return err
	})
	if err != nil {
		return models.WalletTransaction{}, err
	}
	l.warnIfNegative(ctx, entry)
	return entry, nil
}

// post applies one posting on the caller's transaction: lock, compute, append, update.
func (l *Ledger) post(ctx context.Context, qtx *repository.Queries, p Posting) (models.WalletTransaction, error) {
	if p.Amount == 0 {
		return models.WalletTransaction{}, domain.ErrInvalidAmount
	}

	wallet, err := qtx.GetWalletForUpdate(ctx, p.WalletID)
	if err != nil {
		return models.WalletTransaction{}, notFound(err, domain.ErrWalletNotFound, "lock wallet")
	}

	before := wallet.Balance
	after := before + p.Amount
	if p.RequireFunds && p.Amount < 0 && after < 0 {
		return models.WalletTransaction{}, fmt.Errorf("wallet %s balance %d, debit %d: %w", wallet.ID, before, -p.Amount, domain.ErrInsufficientFunds)
	}

	metadata, err := marshalMetadata(p.Metadata)
	if err != nil {
		return models.WalletTransaction{}, err
	}

	entry, err := qtx.InsertWalletTransaction(ctx, repository.InsertWalletTransactionParams{
		WalletID:      wallet.ID,
		Type:          p.Type,
		Amount:        p.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Description:   p.Description,
		Metadata:      metadata,
	})
	if err != nil {
		return models.WalletTransaction{}, fmt.Errorf("append wallet transaction: %w", err)
	}

	rows, err := qtx.SetWalletBalance(ctx, repository.SetWalletBalanceParams{ID: wallet.ID, Balance: after})
	if err != nil {
		return models.WalletTransaction{}, fmt.Errorf("update wallet balance: %w", err)
	}
	if err := requireExactlyOne(rows, "update wallet balance"); err != nil {
		return models.WalletTransaction{}, err
	}
	return entry, nil
}

// lockWalletsForMembers pre-locks several wallets in id order so multi-wallet units of work
// cannot deadlock against each other. Members without a wallet are absent from the result.
func lockWalletsForMembers(ctx context.Context, qtx *repository.Queries, memberIDs []uuid.UUID) (map[uuid.UUID]models.Wallet, error) {
	if len(memberIDs) == 0 {
		return map[uuid.UUID]models.Wallet{}, nil
	}
	wallets, err := qtx.LockWalletsByMembers(ctx, memberIDs)
	if err != nil {
		return nil, fmt.Errorf("lock wallets: %w", err)
	}
	byMember := make(map[uuid.UUID]models.Wallet, len(wallets))
	for _, w := range wallets {
		byMember[w.MemberID] = w
	}
	return byMember, nil
}

// warnIfNegative runs after commit so a rolled-back posting never raises an alarm.
func (l *Ledger) warnIfNegative(ctx context.Context, entries ...models.WalletTransaction) {
	for _, entry := range entries {
		if entry.BalanceAfter >= 0 || entry.Amount >= 0 {
			continue
		}
		observability.IncrementNegativeBalance()
		zap.L().Warn("wallet balance went negative",
			zap.String("wallet_id", entry.WalletID.String()),
			zap.String("type", string(entry.Type)),
			zap.Int64("balance_after", entry.BalanceAfter))
		l.notifier.NotifyAdmins(ctx, notify.Notice{
			Kind:     notify.KindNegativeBalance,
			EntityID: entry.WalletID,
			Amount:   entry.BalanceAfter,
			Message:  fmt.Sprintf("%s left wallet balance at %d", entry.Type, entry.BalanceAfter),
		})
	}
}

// GetBalance returns the cached balance. History is never summed on the read path.
func (l *Ledger) GetBalance(ctx context.Context, walletID uuid.UUID) (int64, error) {
	wallet, err := l.GetWallet(ctx, walletID)
	if err != nil {
		return 0, err
	}
	return wallet.Balance, nil
}

func (l *Ledger) GetWallet(ctx context.Context, walletID uuid.UUID) (models.Wallet, error) {
	wallet, err := read(ctx, l.store, func(q *repository.Queries) (models.Wallet, error) {
		return q.GetWallet(ctx, walletID)
	})
	if err != nil {
		return models.Wallet{}, notFound(err, domain.ErrWalletNotFound, "get wallet")
	}
	return wallet, nil
}

func (l *Ledger) GetWalletByMember(ctx context.Context, memberID uuid.UUID) (models.Wallet, error) {
	wallet, err := read(ctx, l.store, func(q *repository.Queries) (models.Wallet, error) {
		return q.GetWalletByMember(ctx, memberID)
	})
	if err != nil {
		return models.Wallet{}, notFound(err, domain.ErrWalletNotFound, "get member wallet")
	}
	return wallet, nil
}

type Statement struct {
	Wallet       models.Wallet              `json:"wallet"`
	Transactions []models.WalletTransaction `json:"transactions"`
	Page         int                        `json:"page"`
	PageSize     int                        `json:"page_size"`
	Total        int64                      `json:"total"`
}

// Statement returns one page of wallet history, newest first.
func (l *Ledger) Statement(ctx context.Context, walletID uuid.UUID, page, pageSize int) (Statement, error) {
	limit, offset := pageWindow(page, pageSize)
	stmt := Statement{PageSize: int(limit), Page: max(page, 1)}
	err := l.store.Read(ctx, func(q *repository.Queries) error {
		var err error
		stmt.Wallet, err = q.GetWallet(ctx, walletID)
		if err != nil {
			return notFound(err, domain.ErrWalletNotFound, "get wallet")
		}
		stmt.Transactions, err = q.ListWalletTransactions(ctx, repository.ListWalletTransactionsParams{WalletID: walletID, Limit: limit, Offset: offset})
		if err != nil {
			return fmt.Errorf("list wallet transactions: %w", err)
		}
		stmt.Total, err = q.CountWalletTransactions(ctx, walletID)
		if err != nil {
			return fmt.Errorf("count wallet transactions: %w", err)
		}
		return nil
	})
	if err != nil {
		return Statement{}, err
	}
	return stmt, nil
}

// AdjustBalance is the admin correction path. It never requires funds.
func (l *Ledger) AdjustBalance(ctx context.Context, walletID uuid.UUID, signedAmount int64, description string, actorID uuid.UUID) (models.WalletTransaction, error) {
	if signedAmount == 0 {
		return models.WalletTransaction{}, domain.ErrInvalidAmount
	}
	var entry models.WalletTransaction
	err := l.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		entry, err = l.post(ctx, qtx, Posting{
			WalletID:    walletID,
			Type:        domain.EntryAdjustment,
			Amount:      signedAmount,
			Description: description,
			Metadata:    map[string]any{"actor_id": actorID.String()},
		})
		if err != nil {
			return err
		}
		meta, err := marshalMetadata(map[string]any{"amount": signedAmount, "description": description, "entry_id": entry.ID})
		if err != nil {
			return err
		}
		return l.audit.Write(ctx, qtx, domain.EntityWallet, walletID, &actorID, "wallet.adjusted", "", "", meta)
	})
	if err != nil {
		return models.WalletTransaction{}, err
	}
	l.warnIfNegative(ctx, entry)
	return entry, nil
}

// Divergence describes the first place a wallet's history stops explaining its balance.
type Divergence struct {
	EntryID  int64  `json:"entry_id,omitempty"`
	Expected int64  `json:"expected"`
	Actual   int64  `json:"actual"`
	Reason   string `json:"reason"`
}

type VerifyResult struct {
	WalletID   uuid.UUID   `json:"wallet_id"`
	Balance    int64       `json:"balance"`
	Entries    int         `json:"entries"`
	Consistent bool        `json:"consistent"`
	Divergence *Divergence `json:"divergence,omitempty"`
}

// VerifyWallet replays the wallet's history from zero and compares it with the cached balance.
// The wallet row is share-locked while history loads, so a posting cannot land between the two
// reads and show up as a divergence.
func (l *Ledger) VerifyWallet(ctx context.Context, walletID uuid.UUID) (VerifyResult, error) {
	var (
		wallet  models.Wallet
		history []models.WalletTransaction
	)
	err := l.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		wallet, err = qtx.GetWalletForShare(ctx, walletID)
		if err != nil {
			return notFound(err, domain.ErrWalletNotFound, "lock wallet")
		}
		history, err = qtx.WalletHistory(ctx, walletID)
		if err != nil {
			return fmt.Errorf("load wallet history: %w", err)
		}
		return nil
	})
	if err != nil {
		return VerifyResult{}, err
	}
	div := ReplayHistory(wallet.Balance, history)
	return VerifyResult{
		WalletID:   walletID,
		Balance:    wallet.Balance,
		Entries:    len(history),
		Consistent: div == nil,
		Divergence: div,
	}, nil
}

// ReplayHistory checks that history, in append order, chains from zero through every
// balance_before/balance_after pair and ends at balance. It returns nil when it does.
func ReplayHistory(balance int64, history []models.WalletTransaction) *Divergence {
	entries := make([]models.WalletTransaction, len(history))
	copy(entries, history)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	var running int64
	for _, e := range entries {
		if e.BalanceBefore != running {
			return &Divergence{EntryID: e.ID, Expected: running, Actual: e.BalanceBefore, Reason: "balance_before does not match prior balance_after"}
		}
		if e.BalanceBefore+e.Amount != e.BalanceAfter {
			return &Divergence{EntryID: e.ID, Expected: e.BalanceBefore + e.Amount, Actual: e.BalanceAfter, Reason: "balance_after does not equal balance_before + amount"}
		}
		running = e.BalanceAfter
	}
	if running != balance {
		var last int64
		if len(entries) > 0 {
			last = entries[len(entries)-1].ID
		}
		return &Divergence{EntryID: last, Expected: running, Actual: balance, Reason: "cached balance does not match last balance_after"}
	}
	return nil
}
