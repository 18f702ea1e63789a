package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/models"
	"github.com/ayo6706/referral-commerce/internal/observability"
	"github.com/ayo6706/referral-commerce/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DistributionResult reports what one distribute call did.
type DistributionResult struct {
	OrderID            uuid.UUID           `json:"order_id"`
	RateVersion        int                 `json:"rate_version"`
	Commissions        []models.Commission `json:"commissions"`
	TotalCredited      int64               `json:"total_credited"`
	AlreadyDistributed bool                `json:"already_distributed"`
}

type ReversalResult struct {
	OrderID      uuid.UUID `json:"order_id"`
	Cancelled    int       `json:"cancelled"`
	TotalDebited int64     `json:"total_debited"`
}

// CommissionEngine turns a paid order into one APPROVED commission and one wallet credit per
// qualifying ancestor. A distribution is a single unit of work: every level lands or none does.
type CommissionEngine struct {
	store    QueryStore
	ledger   *Ledger
	rates    RateProvider
	audit    *AuditService
	maxLevel int
	now      func() time.Time
}

func NewCommissionEngine(store QueryStore, ledger *Ledger, rates RateProvider, maxLevel int) *CommissionEngine {
	return &CommissionEngine{
		store:    store,
		ledger:   ledger,
		rates:    rates,
		audit:    NewAuditService(store),
		maxLevel: maxLevel,
		now:      time.Now,
	}
}

// Distribute runs with the current rate version.
func (e *CommissionEngine) Distribute(ctx context.Context, orderID uuid.UUID) (DistributionResult, error) {
	table, err := e.rates.CurrentRates(ctx)
	if err != nil {
		return DistributionResult{}, err
	}
	return e.DistributeWithRates(ctx, orderID, table)
}

// DistributeWithRates is idempotent: an order that already has commissions returns
// AlreadyDistributed without touching anything.
func (e *CommissionEngine) DistributeWithRates(ctx context.Context, orderID uuid.UUID, table domain.RateTable) (DistributionResult, error) {
	var (
		result  DistributionResult
		credits []models.WalletTransaction
	)
	err := e.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		result, credits, err = e.distribute(ctx, qtx, orderID, table)
		return err
	})
	if err != nil {
		observability.IncrementDistribution("failed")
		return DistributionResult{}, err
	}

	if result.AlreadyDistributed {
		observability.IncrementDistribution("already_distributed")
		zap.L().Info("commission distribution skipped, already distributed", zap.String("order_id", orderID.String()))
		return result, nil
	}
	observability.IncrementDistribution("distributed")
	observability.AddCommissionCredited(result.TotalCredited)
	e.ledger.warnIfNegative(ctx, credits...)
	zap.L().Info("commissions distributed",
		zap.String("order_id", orderID.String()),
		zap.Int("rate_version", result.RateVersion),
		zap.Int("beneficiaries", len(result.Commissions)),
		zap.Int64("total_credited", result.TotalCredited))
	return result, nil
}

func (e *CommissionEngine) distribute(ctx context.Context, qtx *repository.Queries, orderID uuid.UUID, table domain.RateTable) (DistributionResult, []models.WalletTransaction, error) {
	result := DistributionResult{OrderID: orderID, RateVersion: table.Version}

	// The order lock serializes concurrent distributions of the same order; the unique
	// (order_id, beneficiary_id) constraint backs it up.
	order, err := qtx.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		return result, nil, notFound(err, domain.ErrOrderNotFound, "lock order")
	}
	if !order.Status.IsPaid() {
		return result, nil, fmt.Errorf("order %s is %s: %w", orderID, order.Status, domain.ErrOrderNotPaid)
	}

	existing, err := qtx.CountCommissionsForOrder(ctx, orderID)
	if err != nil {
		return result, nil, fmt.Errorf("count order commissions: %w", err)
	}
	if existing > 0 {
		result.AlreadyDistributed = true
		return result, nil, nil
	}

	depth := table.MaxLevel
	if e.maxLevel > 0 && e.maxLevel < depth {
		depth = e.maxLevel
	}
	chain, err := upline(ctx, qtx, order.BuyerID, depth)
	if err != nil {
		return result, nil, err
	}

	type award struct {
		ancestor models.GraphMember
		rate     decimal.Decimal
		amount   int64
	}
	awards := make([]award, 0, len(chain))
	beneficiaries := make([]uuid.UUID, 0, len(chain))
	for _, ancestor := range chain {
		if ancestor.Status != domain.MemberActive {
			continue
		}
		rate, ok := table.RateFor(ancestor.Level)
		if !ok {
			continue
		}
		amount := domain.PercentOf(order.TotalAmount, rate)
		if amount <= 0 {
			continue
		}
		awards = append(awards, award{ancestor: ancestor, rate: rate, amount: amount})
		beneficiaries = append(beneficiaries, ancestor.MemberID)
	}
	if len(awards) == 0 {
		return result, nil, nil
	}

	wallets, err := lockWalletsForMembers(ctx, qtx, beneficiaries)
	if err != nil {
		return result, nil, err
	}

	paidAt := e.now()
	if order.PaidAt != nil {
		paidAt = *order.PaidAt
	}
	period := paidAt.UTC().Format("2006-01")

	credits := make([]models.WalletTransaction, 0, len(awards))
	for _, a := range awards {
		wallet, ok := wallets[a.ancestor.MemberID]
		if !ok {
			return result, nil, fmt.Errorf("beneficiary %s: %w", a.ancestor.MemberID, domain.ErrWalletNotFound)
		}

		commission, err := qtx.InsertCommission(ctx, repository.InsertCommissionParams{
			ID:            uuid.New(),
			BeneficiaryID: a.ancestor.MemberID,
			OrderID:       order.ID,
			FromUserID:    order.BuyerID,
			Level:         int32(a.ancestor.Level),
			OrderValue:    order.TotalAmount,
			Rate:          a.rate,
			RateVersion:   int32(table.Version),
			Amount:        a.amount,
			Period:        period,
			Status:        domain.CommissionApproved,
		})
		if err != nil {
			if repository.IsNoRows(err) {
				return result, nil, fmt.Errorf("commission for order %s beneficiary %s: %w", order.ID, a.ancestor.MemberID, domain.ErrDuplicate)
			}
			return result, nil, fmt.Errorf("insert commission: %w", err)
		}

		credit, err := e.ledger.post(ctx, qtx, Posting{
			WalletID:    wallet.ID,
			Type:        domain.EntryCommission,
			Amount:      a.amount,
			Description: fmt.Sprintf("Level %d commission for order %s", a.ancestor.Level, order.Code),
			Metadata: map[string]any{
				"commission_id": commission.ID.String(),
				"order_id":      order.ID.String(),
				"level":         a.ancestor.Level,
				"rate":          a.rate.String(),
				"rate_version":  table.Version,
			},
		})
		if err != nil {
			return result, nil, err
		}

		meta, err := marshalMetadata(map[string]any{"order_id": order.ID.String(), "amount": a.amount, "level": a.ancestor.Level})
		if err != nil {
			return result, nil, err
		}
		if err := e.audit.Write(ctx, qtx, domain.EntityCommission, commission.ID, nil, "commission.approved", "", string(domain.CommissionApproved), meta); err != nil {
			return result, nil, err
		}

		result.Commissions = append(result.Commissions, commission)
		result.TotalCredited += a.amount
		credits = append(credits, credit)
	}
	return result, credits, nil
}

// Reverse cancels an order's commissions in its own unit of work.
func (e *CommissionEngine) Reverse(ctx context.Context, orderID uuid.UUID, actorID *uuid.UUID) (ReversalResult, error) {
	var (
		result ReversalResult
		debits []models.WalletTransaction
	)
	err := e.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		result, debits, err = e.reverse(ctx, qtx, orderID, actorID)
		return err
	})
	if err != nil {
		return ReversalResult{}, err
	}
	e.ledger.warnIfNegative(ctx, debits...)
	return result, nil
}

// reverse cancels every live commission of the order on the caller's transaction. APPROVED
// commissions get a compensating debit that may take the wallet negative. If any commission
// was already PAID out the whole reversal is refused.
func (e *CommissionEngine) reverse(ctx context.Context, qtx *repository.Queries, orderID uuid.UUID, actorID *uuid.UUID) (ReversalResult, []models.WalletTransaction, error) {
	result := ReversalResult{OrderID: orderID}

	commissions, err := qtx.LockCommissionsForOrder(ctx, orderID)
	if err != nil {
		return result, nil, fmt.Errorf("lock order commissions: %w", err)
	}

	var beneficiaries []uuid.UUID
	for _, c := range commissions {
		if c.Status == domain.CommissionPaid {
			return result, nil, fmt.Errorf("commission %s for order %s: %w", c.ID, orderID, domain.ErrCommissionPaidOut)
		}
		if c.Status == domain.CommissionApproved {
			beneficiaries = append(beneficiaries, c.BeneficiaryID)
		}
	}

	wallets, err := lockWalletsForMembers(ctx, qtx, beneficiaries)
	if err != nil {
		return result, nil, err
	}

	var debits []models.WalletTransaction
	for _, c := range commissions {
		if c.Status != domain.CommissionApproved && c.Status != domain.CommissionPending {
			continue
		}
		c := c
		change := stateChange[domain.CommissionStatus]{
			machine: domain.CommissionStates,
			entity:  domain.EntityCommission,
			id:      c.ID,
			from:    c.Status,
			to:      domain.CommissionCancelled,
			actor:   actorID,
			action:  "commission.cancelled",
		}
		err := applyTransition(ctx, qtx, e.audit, change, func() (int64, error) {
			return qtx.UpdateCommissionStatus(ctx, repository.UpdateCommissionStatusParams{
				ID: c.ID, Status: domain.CommissionCancelled, PrevStatus: c.Status,
			})
		})
		if err != nil {
			return result, nil, err
		}
		result.Cancelled++

		if c.Status != domain.CommissionApproved {
			continue
		}
		wallet, ok := wallets[c.BeneficiaryID]
		if !ok {
			return result, nil, fmt.Errorf("beneficiary %s: %w", c.BeneficiaryID, domain.ErrWalletNotFound)
		}
		debit, err := e.ledger.post(ctx, qtx, Posting{
			WalletID:    wallet.ID,
			Type:        domain.EntryCommissionReversal,
			Amount:      -c.Amount,
			Description: fmt.Sprintf("Reversal of level %d commission", c.Level),
			Metadata: map[string]any{
				"commission_id": c.ID.String(),
				"order_id":      orderID.String(),
			},
		})
		if err != nil {
			return result, nil, err
		}
		result.TotalDebited += c.Amount
		debits = append(debits, debit)
	}

	if result.Cancelled > 0 {
		zap.L().Info("commissions reversed",
			zap.String("order_id", orderID.String()),
			zap.Int("cancelled", result.Cancelled),
			zap.Int64("total_debited", result.TotalDebited))
	}
	return result, debits, nil
}

// lockUnpaid locks the member's APPROVED commissions, oldest first. Callers that also touch the
// member's wallet take these locks before the wallet, the same order reversal uses.
func (e *CommissionEngine) lockUnpaid(ctx context.Context, qtx *repository.Queries, memberID uuid.UUID) ([]models.Commission, error) {
	commissions, err := qtx.LockApprovedCommissionsFIFO(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("lock approved commissions: %w", err)
	}
	return commissions, nil
}

// markPaidFIFO settles unpaid commissions against everything the member has withdrawn so far.
// Completed withdrawals are counted cumulatively and a commission is PAID as soon as any part of
// it has left the wallet, so money already withdrawn can never be reversed.
func (e *CommissionEngine) markPaidFIFO(ctx context.Context, qtx *repository.Queries, memberID uuid.UUID, unpaid []models.Commission, actorID *uuid.UUID) (int, error) {
	withdrawn, err := qtx.SumCompletedWithdrawals(ctx, memberID)
	if err != nil {
		return 0, fmt.Errorf("sum completed withdrawals: %w", err)
	}
	settled, err := qtx.SumPaidCommissions(ctx, memberID)
	if err != nil {
		return 0, fmt.Errorf("sum paid commissions: %w", err)
	}

	uncovered := withdrawn - settled
	marked := 0
	for _, c := range unpaid {
		if uncovered <= 0 {
			break
		}
		c := c
		change := stateChange[domain.CommissionStatus]{
			machine: domain.CommissionStates,
			entity:  domain.EntityCommission,
			id:      c.ID,
			from:    c.Status,
			to:      domain.CommissionPaid,
			actor:   actorID,
			action:  "commission.paid",
		}
		err := applyTransition(ctx, qtx, e.audit, change, func() (int64, error) {
			return qtx.UpdateCommissionStatus(ctx, repository.UpdateCommissionStatusParams{
				ID: c.ID, Status: domain.CommissionPaid, PrevStatus: c.Status,
			})
		})
		if err != nil {
			return marked, err
		}
		uncovered -= c.Amount
		marked++
	}
	return marked, nil
}

func (e *CommissionEngine) ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Commission, error) {
	commissions, err := read(ctx, e.store, func(q *repository.Queries) ([]models.Commission, error) {
		return q.ListCommissionsForOrder(ctx, orderID)
	})
	if err != nil {
		return nil, fmt.Errorf("list order commissions: %w", err)
	}
	return commissions, nil
}

func (e *CommissionEngine) ListForMember(ctx context.Context, memberID uuid.UUID, status domain.CommissionStatus, page, pageSize int) ([]models.Commission, error) {
	limit, offset := pageWindow(page, pageSize)
	commissions, err := read(ctx, e.store, func(q *repository.Queries) ([]models.Commission, error) {
		return q.ListCommissionsByBeneficiary(ctx, repository.ListCommissionsByBeneficiaryParams{
			BeneficiaryID: memberID,
			Status:        status,
			Limit:         limit,
			Offset:        offset,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list member commissions: %w", err)
	}
	return commissions, nil
}

// IsRetryable reports whether a failed distribution is worth queueing for another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, domain.ErrTransient) || domain.Class(err) == nil
}
