package service

import (
	"context"
	"sync"
	"testing"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commissionsByBeneficiary(cs []models.Commission) map[uuid.UUID]models.Commission {
	out := make(map[uuid.UUID]models.Commission, len(cs))
	for _, c := range cs {
		out[c.BeneficiaryID] = c
	}
	return out
}

func TestDistribute_TwoLevelChain(t *testing.T) {
	f := newFixture(t, "1:10,2:4")
	ctx := context.Background()
	r, a, b := f.chain(t)
	order := f.paidOrder(t, b.ID, 1_000_000)

	result, err := f.engine.Distribute(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, result.AlreadyDistributed)
	assert.Equal(t, int64(140_000), result.TotalCredited)
	require.Len(t, result.Commissions, 2)

	byMember := commissionsByBeneficiary(result.Commissions)
	assert.Equal(t, 1, byMember[a.ID].Level)
	assert.Equal(t, int64(100_000), byMember[a.ID].Amount)
	assert.Equal(t, domain.CommissionApproved, byMember[a.ID].Status)
	assert.Equal(t, 2, byMember[r.ID].Level)
	assert.Equal(t, int64(40_000), byMember[r.ID].Amount)
	assert.Equal(t, b.ID, byMember[r.ID].FromUserID)

	assert.Equal(t, int64(100_000), f.balance(t, a.ID))
	assert.Equal(t, int64(40_000), f.balance(t, r.ID))
	assert.Equal(t, int64(0), f.balance(t, b.ID))

	stored, err := f.engine.ListForOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestDistribute_IsIdempotent(t *testing.T) {
	f := newFixture(t, "1:10,2:4")
	ctx := context.Background()
	r, a, b := f.chain(t)
	order := f.paidOrder(t, b.ID, 1_000_000)

	_, err := f.engine.Distribute(ctx, order.ID)
	require.NoError(t, err)
	again, err := f.engine.Distribute(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, again.AlreadyDistributed)

	assert.Equal(t, int64(100_000), f.balance(t, a.ID))
	assert.Equal(t, int64(40_000), f.balance(t, r.ID))
}

func TestDistribute_ConcurrentCallsCreditOnce(t *testing.T) {
	f := newFixture(t, "1:10,2:4")
	ctx := context.Background()
	r, a, b := f.chain(t)
	order := f.paidOrder(t, b.ID, 1_000_000)

	const workers = 8
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		distributed int
		errs        []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.engine.Distribute(ctx, order.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if !res.AlreadyDistributed {
				distributed++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, distributed)
	assert.Equal(t, int64(100_000), f.balance(t, a.ID))
	assert.Equal(t, int64(40_000), f.balance(t, r.ID))

	stored, err := f.engine.ListForOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestDistribute_SkipsInactiveAncestorsWithoutCompression(t *testing.T) {
	f := newFixture(t, "1:10,2:4")
	ctx := context.Background()
	r, a, b := f.chain(t)
	_, err := f.members.Suspend(ctx, a.ID, nil)
	require.NoError(t, err)

	order := f.paidOrder(t, b.ID, 1_000_000)
	result, err := f.engine.Distribute(ctx, order.ID)
	require.NoError(t, err)

	// R keeps its level-2 rate; nobody moves up into A's slot.
	require.Len(t, result.Commissions, 1)
	assert.Equal(t, r.ID, result.Commissions[0].BeneficiaryID)
	assert.Equal(t, 2, result.Commissions[0].Level)
	assert.Equal(t, int64(40_000), f.balance(t, r.ID))
	assert.Equal(t, int64(0), f.balance(t, a.ID))
}

func TestDistribute_RequiresPaidOrder(t *testing.T) {
	f := newFixture(t, "1:10")
	ctx := context.Background()
	_, a, _ := f.chain(t)

	order, err := f.orders.CreateManualOrder(ctx, ManualOrderRequest{BuyerID: a.ID, TotalAmount: 5000}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPending, order.Status)

	_, err = f.engine.Distribute(ctx, order.ID)
	assert.ErrorIs(t, err, domain.ErrOrderNotPaid)

	_, err = f.engine.Distribute(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestDistribute_RootBuyerEarnsNothing(t *testing.T) {
	f := newFixture(t, "1:10,2:4")
	ctx := context.Background()
	r, _, _ := f.chain(t)
	order := f.paidOrder(t, r.ID, 1_000_000)

	result, err := f.engine.Distribute(ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, result.Commissions)
	assert.Equal(t, int64(0), f.balance(t, r.ID))
}

func TestUpdateOrderStatus_ConfirmDistributesAndCancelReverses(t *testing.T) {
	f := newFixture(t, "1:10,2:4")
	ctx := context.Background()
	r, a, b := f.chain(t)

	order, err := f.orders.CreateManualOrder(ctx, ManualOrderRequest{BuyerID: b.ID, TotalAmount: 1_000_000}, nil)
	require.NoError(t, err)

	confirmed, err := f.orders.UpdateOrderStatus(ctx, order.ID, domain.OrderConfirmed, &r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderConfirmed, confirmed.Order.Status)
	assert.Equal(t, domain.PaymentPaid, confirmed.Order.PaymentStatus)
	require.NotNil(t, confirmed.Distribution)
	assert.Equal(t, int64(140_000), confirmed.Distribution.TotalCredited)

	cancelled, err := f.orders.UpdateOrderStatus(ctx, order.ID, domain.OrderCancelled, &r.ID)
	require.NoError(t, err)
	require.NotNil(t, cancelled.Reversal)
	assert.Equal(t, 2, cancelled.Reversal.Cancelled)
	assert.Equal(t, int64(140_000), cancelled.Reversal.TotalDebited)
	assert.Equal(t, int64(0), f.balance(t, a.ID))
	assert.Equal(t, int64(0), f.balance(t, r.ID))

	stored, err := f.engine.ListForOrder(ctx, order.ID)
	require.NoError(t, err)
	for _, c := range stored {
		assert.Equal(t, domain.CommissionCancelled, c.Status)
	}

	_, err = f.orders.UpdateOrderStatus(ctx, order.ID, domain.OrderConfirmed, &r.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestReverse_MayTakeWalletNegative(t *testing.T) {
	f := newFixture(t, "1:10")
	ctx := context.Background()
	r, a, b := f.chain(t)
	order := f.paidOrder(t, b.ID, 1_000_000)
	_, err := f.engine.Distribute(ctx, order.ID)
	require.NoError(t, err)

	wallet, err := f.ledger.GetWalletByMember(ctx, a.ID)
	require.NoError(t, err)
	_, err = f.ledger.AdjustBalance(ctx, wallet.ID, -80_000, "manual correction", r.ID)
	require.NoError(t, err)

	result, err := f.engine.Reverse(ctx, order.ID, &r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), result.TotalDebited)
	assert.Equal(t, int64(-80_000), f.balance(t, a.ID))

	verify, err := f.ledger.VerifyWallet(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, verify.Consistent)
}

func TestReverse_RefusedOncePaidOut(t *testing.T) {
	f := newFixture(t, "1:10")
	ctx := context.Background()
	r, a, b := f.chain(t)
	order := f.paidOrder(t, b.ID, 1_000_000)
	_, err := f.engine.Distribute(ctx, order.ID)
	require.NoError(t, err)

	req, err := f.withdrawals.Request(ctx, WithdrawalRequestInput{MemberID: a.ID, Amount: 100_000, Bank: testBank()})
	require.NoError(t, err)
	_, err = f.withdrawals.Approve(ctx, req.ID, r.ID)
	require.NoError(t, err)
	completed, err := f.withdrawals.Complete(ctx, req.ID, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, completed.CommissionsPaid)

	_, err = f.engine.Reverse(ctx, order.ID, &r.ID)
	assert.ErrorIs(t, err, domain.ErrCommissionPaidOut)

	// The refused reversal leaves the order and the commission untouched.
	_, err = f.orders.UpdateOrderStatus(ctx, order.ID, domain.OrderRefunded, &r.ID)
	assert.ErrorIs(t, err, domain.ErrCommissionPaidOut)
	current, err := f.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderConfirmed, current.Status)

	paid, err := f.engine.ListForMember(ctx, a.ID, domain.CommissionPaid, 1, 10)
	require.NoError(t, err)
	assert.Len(t, paid, 1)
}

func TestDistribute_FailureAtDeeperLevelRollsBackEveryLevel(t *testing.T) {
	f := newFixture(t, "1:10,2:4")
	ctx := context.Background()
	r, a, b := f.chain(t)
	order := f.paidOrder(t, b.ID, 1_000_000)

	// The level-2 ancestor loses its wallet, so the second credit cannot land.
	_, err := f.store.Pool().Exec(ctx, `DELETE FROM wallets WHERE member_id = $1`, r.ID)
	require.NoError(t, err)

	_, err = f.engine.Distribute(ctx, order.ID)
	require.ErrorIs(t, err, domain.ErrWalletNotFound)

	stored, err := f.engine.ListForOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Equal(t, int64(0), f.balance(t, a.ID))

	wallet, err := f.ledger.GetWalletByMember(ctx, a.ID)
	require.NoError(t, err)
	stmt, err := f.ledger.Statement(ctx, wallet.ID, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, stmt.Total)
}
