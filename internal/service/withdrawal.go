package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/models"
	"github.com/ayo6706/referral-commerce/internal/observability"
	"github.com/ayo6706/referral-commerce/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WithdrawalRequestInput is a member's cash-out request.
type WithdrawalRequestInput struct {
	MemberID uuid.UUID
	Amount   int64
	Bank     models.BankInfo
}

func (in WithdrawalRequestInput) Validate() error {
	if in.Amount <= 0 {
		return domain.ErrInvalidAmount
	}
	if strings.TrimSpace(in.Bank.BankName) == "" || strings.TrimSpace(in.Bank.AccountNumber) == "" || strings.TrimSpace(in.Bank.AccountHolder) == "" {
		return fmt.Errorf("bank name, account number and account holder are required: %w", domain.ErrInvalidInput)
	}
	return nil
}

// CompletionResult is a completed withdrawal with its ledger debit.
type CompletionResult struct {
	Withdrawal      models.WithdrawalRequest `json:"withdrawal"`
	Debit           models.WalletTransaction `json:"debit"`
	CommissionsPaid int                      `json:"commissions_paid"`
}

// WithdrawalProcessor moves cash-out requests through PENDING -> PROCESSING -> COMPLETED or
// PENDING -> REJECTED. Only completion touches the ledger, and it does so in the same unit of
// work as the status change.
type WithdrawalProcessor struct {
	store  QueryStore
	ledger *Ledger
	engine *CommissionEngine
	audit  *AuditService
}

func NewWithdrawalProcessor(store QueryStore, ledger *Ledger, engine *CommissionEngine) *WithdrawalProcessor {
	return &WithdrawalProcessor{store: store, ledger: ledger, engine: engine, audit: NewAuditService(store)}
}

// Request opens a PENDING withdrawal. The member may only claim what is not already held by
// other open requests.
func (p *WithdrawalProcessor) Request(ctx context.Context, in WithdrawalRequestInput) (models.WithdrawalRequest, error) {
	in.Bank.BankName = strings.TrimSpace(in.Bank.BankName)
	in.Bank.AccountNumber = strings.TrimSpace(in.Bank.AccountNumber)
	in.Bank.AccountHolder = strings.TrimSpace(in.Bank.AccountHolder)
	if err := in.Validate(); err != nil {
		return models.WithdrawalRequest{}, err
	}

	var request models.WithdrawalRequest
	err := p.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		member, err := qtx.GetMember(ctx, in.MemberID)
		if err != nil {
			return notFound(err, domain.ErrMemberNotFound, "get member")
		}
		if member.Status != domain.MemberActive {
			return fmt.Errorf("member %s is %s: %w", member.ID, member.Status, domain.ErrMemberInactive)
		}

		wallets, err := lockWalletsForMembers(ctx, qtx, []uuid.UUID{in.MemberID})
		if err != nil {
			return err
		}
		wallet, ok := wallets[in.MemberID]
		if !ok {
			return fmt.Errorf("member %s: %w", in.MemberID, domain.ErrWalletNotFound)
		}

		held, err := qtx.SumOpenWithdrawals(ctx, in.MemberID)
		if err != nil {
			return fmt.Errorf("sum open withdrawals: %w", err)
		}
		if available := wallet.Balance - held; in.Amount > available {
			return fmt.Errorf("requested %d, available %d: %w", in.Amount, available, domain.ErrInsufficientFunds)
		}

		request, err = qtx.CreateWithdrawal(ctx, repository.CreateWithdrawalParams{
			ID:       uuid.New(),
			MemberID: in.MemberID,
			Amount:   in.Amount,
			Bank:     in.Bank,
		})
		if err != nil {
			return fmt.Errorf("create withdrawal: %w", err)
		}
		meta, err := marshalMetadata(map[string]any{"amount": in.Amount, "bank_name": in.Bank.BankName})
		if err != nil {
			return err
		}
		return p.audit.Write(ctx, qtx, domain.EntityWithdrawal, request.ID, &in.MemberID, "withdrawal.requested", "", string(domain.WithdrawalPending), meta)
	})
	if err != nil {
		return models.WithdrawalRequest{}, err
	}

	observability.IncrementWithdrawalTransition("requested")
	p.refreshQueueGauge(ctx)
	zap.L().Info("withdrawal requested",
		zap.String("withdrawal_id", request.ID.String()),
		zap.String("member_id", in.MemberID.String()),
		zap.Int64("amount", in.Amount))
	return request, nil
}

// Approve moves a PENDING request to PROCESSING. The balance is untouched.
func (p *WithdrawalProcessor) Approve(ctx context.Context, id, actorID uuid.UUID) (models.WithdrawalRequest, error) {
	return p.transition(ctx, id, domain.WithdrawalProcessing, actorID, "", "withdrawal.approved", "approved")
}

// Reject closes a PENDING request. The balance is untouched.
func (p *WithdrawalProcessor) Reject(ctx context.Context, id, actorID uuid.UUID, note string) (models.WithdrawalRequest, error) {
	return p.transition(ctx, id, domain.WithdrawalRejected, actorID, note, "withdrawal.rejected", "rejected")
}

func (p *WithdrawalProcessor) transition(ctx context.Context, id uuid.UUID, next domain.WithdrawalStatus, actorID uuid.UUID, note, action, metric string) (models.WithdrawalRequest, error) {
	var request models.WithdrawalRequest
	err := p.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		current, err := qtx.GetWithdrawalForUpdate(ctx, id)
		if err != nil {
			return notFound(err, domain.ErrWithdrawalNotFound, "lock withdrawal")
		}
		err = applyTransition(ctx, qtx, p.audit, stateChange[domain.WithdrawalStatus]{
			machine: domain.WithdrawalStates,
			entity:  domain.EntityWithdrawal,
			id:      id,
			from:    current.Status,
			to:      next,
			actor:   &actorID,
			action:  action,
		}, func() (int64, error) {
			return qtx.UpdateWithdrawalStatus(ctx, repository.UpdateWithdrawalStatusParams{
				ID: id, Status: next, PrevStatus: current.Status, ReviewedBy: &actorID, Note: note,
			})
		})
		if err != nil {
			return err
		}
		request, err = qtx.GetWithdrawal(ctx, id)
		if err != nil {
			return fmt.Errorf("reload withdrawal: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.WithdrawalRequest{}, err
	}
	observability.IncrementWithdrawalTransition(metric)
	p.refreshQueueGauge(ctx)
	zap.L().Info("withdrawal status changed", zap.String("withdrawal_id", id.String()), zap.String("status", string(next)))
	return request, nil
}

// Complete confirms the manual bank transfer happened. The debit requires funds; if it fails the
// request stays PROCESSING. Commissions the payout reaches are marked PAID oldest first.
func (p *WithdrawalProcessor) Complete(ctx context.Context, id, actorID uuid.UUID) (CompletionResult, error) {
	var result CompletionResult
	err := p.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		current, err := qtx.GetWithdrawalForUpdate(ctx, id)
		if err != nil {
			return notFound(err, domain.ErrWithdrawalNotFound, "lock withdrawal")
		}
		if err := domain.WithdrawalStates.Validate(current.Status, domain.WithdrawalCompleted); err != nil {
			return err
		}

		unpaid, err := p.engine.lockUnpaid(ctx, qtx, current.MemberID)
		if err != nil {
			return err
		}
		wallets, err := lockWalletsForMembers(ctx, qtx, []uuid.UUID{current.MemberID})
		if err != nil {
			return err
		}
		wallet, ok := wallets[current.MemberID]
		if !ok {
			return fmt.Errorf("member %s: %w", current.MemberID, domain.ErrWalletNotFound)
		}

		result.Debit, err = p.ledger.post(ctx, qtx, Posting{
			WalletID:     wallet.ID,
			Type:         domain.EntryWithdrawal,
			Amount:       -current.Amount,
			Description:  fmt.Sprintf("Withdrawal to %s %s", current.Bank.BankName, maskAccount(current.Bank.AccountNumber)),
			Metadata:     map[string]any{"withdrawal_id": id.String()},
			RequireFunds: true,
		})
		if err != nil {
			return err
		}

		meta, err := marshalMetadata(map[string]any{"wallet_transaction_id": result.Debit.ID, "amount": current.Amount})
		if err != nil {
			return err
		}
		err = applyTransition(ctx, qtx, p.audit, stateChange[domain.WithdrawalStatus]{
			machine:  domain.WithdrawalStates,
			entity:   domain.EntityWithdrawal,
			id:       id,
			from:     current.Status,
			to:       domain.WithdrawalCompleted,
			actor:    &actorID,
			action:   "withdrawal.completed",
			metadata: meta,
		}, func() (int64, error) {
			return qtx.UpdateWithdrawalStatus(ctx, repository.UpdateWithdrawalStatusParams{
				ID: id, Status: domain.WithdrawalCompleted, PrevStatus: current.Status, ReviewedBy: &actorID,
			})
		})
		if err != nil {
			return err
		}

		result.CommissionsPaid, err = p.engine.markPaidFIFO(ctx, qtx, current.MemberID, unpaid, &actorID)
		if err != nil {
			return err
		}

		result.Withdrawal, err = qtx.GetWithdrawal(ctx, id)
		if err != nil {
			return fmt.Errorf("reload withdrawal: %w", err)
		}
		return nil
	})
	if err != nil {
		return CompletionResult{}, err
	}

	observability.IncrementWithdrawalTransition("completed")
	p.refreshQueueGauge(ctx)
	zap.L().Info("withdrawal completed",
		zap.String("withdrawal_id", id.String()),
		zap.Int64("amount", result.Withdrawal.Amount),
		zap.Int64("balance_after", result.Debit.BalanceAfter),
		zap.Int("commissions_paid", result.CommissionsPaid))
	return result, nil
}

func (p *WithdrawalProcessor) Get(ctx context.Context, id uuid.UUID) (models.WithdrawalRequest, error) {
	request, err := read(ctx, p.store, func(q *repository.Queries) (models.WithdrawalRequest, error) {
		return q.GetWithdrawal(ctx, id)
	})
	if err != nil {
		return models.WithdrawalRequest{}, notFound(err, domain.ErrWithdrawalNotFound, "get withdrawal")
	}
	return request, nil
}

func (p *WithdrawalProcessor) List(ctx context.Context, memberID *uuid.UUID, status domain.WithdrawalStatus, page, pageSize int) ([]models.WithdrawalRequest, error) {
	limit, offset := pageWindow(page, pageSize)
	requests, err := read(ctx, p.store, func(q *repository.Queries) ([]models.WithdrawalRequest, error) {
		return q.ListWithdrawals(ctx, repository.ListWithdrawalsParams{
			MemberID: memberID, Status: status, Limit: limit, Offset: offset,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}
	return requests, nil
}

func (p *WithdrawalProcessor) refreshQueueGauge(ctx context.Context) {
	n, err := read(ctx, p.store, func(q *repository.Queries) (int64, error) {
		return q.CountOpenWithdrawals(ctx)
	})
	if err != nil {
		zap.L().Warn("count open withdrawals failed", zap.Error(err))
		return
	}
	observability.SetWithdrawalQueueSize(n)
}

func maskAccount(number string) string {
	if len(number) <= 4 {
		return number
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}
