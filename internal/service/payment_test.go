package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHMACKey = "webhook-test-key"

func (f *fixture) webhook() *WebhookService {
	return NewWebhookService(f.reconciler, testHMACKey, false)
}

func (f *fixture) deliver(t *testing.T, payload []byte) IngestResult {
	t.Helper()
	result, err := f.webhook().HandleBankWebhook(context.Background(), payload, SignPayload([]byte(testHMACKey), payload))
	require.NoError(t, err)
	return result
}

// spacedCode renders a code the way buyers type it into a memo, "DH-ABCD2345".
func spacedCode(code string) string {
	return code[:2] + "-" + strings.ToLower(code[2:])
}

func TestWebhook_MatchConvertsAndDistributes(t *testing.T) {
	f := newFixture(t, "1:10,2:4")
	ctx := context.Background()
	r, a, b := f.chain(t)
	pending := f.reserve(t, b.ID, 1_000_000)
	assert.Equal(t, domain.PendingAwaitingPayment, pending.Status)

	result := f.deliver(t, bankPayload(t, 1001, "chuyen tien "+spacedCode(pending.Code)+" cam on", 1_000_000))
	assert.Equal(t, domain.BankMatched, result.MatchStatus)
	assert.True(t, result.Processed)
	require.NotNil(t, result.OrderID)
	require.NotNil(t, result.Distribution)
	assert.Equal(t, int64(140_000), result.Distribution.TotalCredited)

	order, err := f.orders.GetOrder(ctx, *result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderConfirmed, order.Status)
	assert.Equal(t, domain.PaymentPaid, order.PaymentStatus)
	assert.Equal(t, pending.Code, order.Code)

	converted, err := f.checkout.GetPendingOrderByCode(ctx, pending.Code)
	require.NoError(t, err)
	assert.Equal(t, domain.PendingConverted, converted.Status)
	require.NotNil(t, converted.OrderID)
	assert.Equal(t, order.ID, *converted.OrderID)

	assert.Equal(t, int64(100_000), f.balance(t, a.ID))
	assert.Equal(t, int64(40_000), f.balance(t, r.ID))
}

func TestWebhook_RedeliveryIsReplayed(t *testing.T) {
	f := newFixture(t, "1:10,2:4")
	_, a, b := f.chain(t)
	pending := f.reserve(t, b.ID, 500_000)
	payload := bankPayload(t, "evt-42", pending.Code, 500_000)

	first := f.deliver(t, payload)
	require.Equal(t, domain.BankMatched, first.MatchStatus)
	second := f.deliver(t, payload)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.EventID, second.EventID)
	assert.Equal(t, first.OrderID, second.OrderID)

	assert.Equal(t, int64(50_000), f.balance(t, a.ID))
}

func TestWebhook_SecondTransferForSameCodeIsDuplicate(t *testing.T) {
	f := newFixture(t, "1:10")
	_, a, b := f.chain(t)
	pending := f.reserve(t, b.ID, 200_000)

	first := f.deliver(t, bankPayload(t, 1, pending.Code, 200_000))
	require.Equal(t, domain.BankMatched, first.MatchStatus)

	second := f.deliver(t, bankPayload(t, 2, pending.Code, 200_000))
	assert.Equal(t, domain.BankDuplicate, second.MatchStatus)
	assert.True(t, second.Processed)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, int64(20_000), f.balance(t, a.ID))
	assert.Equal(t, 1, f.notifier.Count(notify.KindDuplicatePayment))

	// Redelivering the duplicate does not raise a second notice.
	f.deliver(t, bankPayload(t, 2, pending.Code, 200_000))
	assert.Equal(t, 1, f.notifier.Count(notify.KindDuplicatePayment))
}

func TestWebhook_ConcurrentTransfersConvertOnce(t *testing.T) {
	f := newFixture(t, "1:10")
	ctx := context.Background()
	_, a, b := f.chain(t)
	pending := f.reserve(t, b.ID, 300_000)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		matched int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			res, err := f.reconciler.Ingest(ctx, BankEvent{
				ExternalID:   "race-" + string(rune('a'+id)),
				TransferType: domain.TransferIn,
				Content:      pending.Code,
				Amount:       300_000,
			})
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.MatchStatus == domain.BankMatched {
				matched++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, matched)
	assert.Equal(t, int64(30_000), f.balance(t, a.ID))
	orders, err := f.orders.ListOrders(ctx, &b.ID, "", 1, 10)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestWebhook_UnmatchedAndIgnored(t *testing.T) {
	f := newFixture(t, "1:10")
	ctx := context.Background()

	noCode := f.deliver(t, bankPayload(t, 1, "tien nha thang 5", 10_000))
	assert.Equal(t, domain.BankUnmatched, noCode.MatchStatus)
	assert.False(t, noCode.Processed)

	unknown := f.deliver(t, bankPayload(t, 2, "DHZZZZ9999", 10_000))
	assert.Equal(t, domain.BankUnmatched, unknown.MatchStatus)

	out, err := f.reconciler.Ingest(ctx, BankEvent{ExternalID: "3", TransferType: "out", Content: "DHZZZZ9999", Amount: 5})
	require.NoError(t, err)
	assert.Equal(t, domain.BankIgnored, out.MatchStatus)
	assert.True(t, out.Processed)

	assert.Equal(t, 2, f.notifier.Count(notify.KindUnmatchedPayment))
	review, err := f.reconciler.ListBankEvents(ctx, domain.BankUnmatched, 1, 10)
	require.NoError(t, err)
	assert.Len(t, review, 2)
}

func TestWebhook_BadSignatureAndBadPayload(t *testing.T) {
	f := newFixture(t, "1:10")
	ctx := context.Background()
	payload := bankPayload(t, 1, "DHZZZZ9999", 10)

	_, err := f.webhook().HandleBankWebhook(ctx, payload, "sha256=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	garbage := []byte(`{"id":`)
	result, err := f.webhook().HandleBankWebhook(ctx, garbage, SignPayload([]byte(testHMACKey), garbage))
	require.NoError(t, err)
	assert.NotEmpty(t, result.Note)

	events, err := f.reconciler.ListBankEvents(ctx, "", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestReconciler_AmountMismatchThenManualResolve(t *testing.T) {
	f := newFixture(t, "1:10")
	ctx := context.Background()
	r, a, b := f.chain(t)
	pending := f.reserve(t, b.ID, 1_000_000)

	short := f.deliver(t, bankPayload(t, 77, pending.Code, 999_000))
	assert.Equal(t, domain.BankAmountMismatch, short.MatchStatus)
	assert.False(t, short.Processed)
	assert.Equal(t, 1, f.notifier.Count(notify.KindAmountMismatch))

	still, err := f.checkout.GetPendingOrder(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PendingAwaitingPayment, still.Status)

	resolved, err := f.reconciler.ResolveBankEvent(ctx, short.EventID, spacedCode(pending.Code), r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BankMatched, resolved.MatchStatus)
	require.NotNil(t, resolved.OrderID)

	order, err := f.orders.GetOrder(ctx, *resolved.OrderID)
	require.NoError(t, err)
	// The order keeps the reservation total; the override only waives the check.
	assert.Equal(t, int64(1_000_000), order.TotalAmount)
	assert.Equal(t, int64(100_000), f.balance(t, a.ID))

	_, err = f.reconciler.ResolveBankEvent(ctx, short.EventID, pending.Code, r.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)

	event, err := f.reconciler.GetBankEvent(ctx, short.EventID)
	require.NoError(t, err)
	assert.True(t, event.Processed)
	assert.Equal(t, domain.BankMatched, event.MatchStatus)
}

func TestSweep_CancelsExpiredReservationsOnly(t *testing.T) {
	f := newFixture(t, "1:10")
	ctx := context.Background()
	_, a, b := f.chain(t)

	expired := f.reserve(t, b.ID, 100_000)
	paid := f.reserve(t, b.ID, 200_000)
	f.deliver(t, bankPayload(t, 1, paid.Code, 200_000))
	manual, err := f.orders.CreateManualOrder(ctx, ManualOrderRequest{BuyerID: b.ID, TotalAmount: 50_000}, nil)
	require.NoError(t, err)

	// Nothing is overdue yet.
	result, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, result)

	f.sweeper.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	result, err = f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Reservations)
	assert.Equal(t, 1, result.Orders)

	cancelled, err := f.checkout.GetPendingOrder(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PendingCancelled, cancelled.Status)
	converted, err := f.checkout.GetPendingOrder(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PendingConverted, converted.Status)
	order, err := f.orders.GetOrder(ctx, manual.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, order.Status)

	again, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, again)

	// A transfer for the cancelled reservation is parked for review, not converted.
	late := f.deliver(t, bankPayload(t, 2, expired.Code, 100_000))
	assert.Equal(t, domain.BankUnmatched, late.MatchStatus)
	assert.Equal(t, int64(20_000), f.balance(t, a.ID))
}

func TestCheckout_CodesAreUniqueAndResolvable(t *testing.T) {
	f := newFixture(t, "1:10")
	ctx := context.Background()
	_, _, b := f.chain(t)

	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		p := f.reserve(t, b.ID, 1000)
		assert.False(t, seen[p.Code])
		seen[p.Code] = true
		assert.True(t, strings.HasPrefix(p.Code, "DH"))
		assert.WithinDuration(t, time.Now().Add(30*time.Minute), p.ExpiresAt, time.Minute)

		got, err := f.checkout.GetPendingOrderByCode(ctx, spacedCode(p.Code))
		require.NoError(t, err)
		assert.Equal(t, p.ID, got.ID)
	}

	_, err := f.checkout.GetPendingOrderByCode(ctx, "DHNOPE2345")
	assert.ErrorIs(t, err, domain.ErrPendingOrderNotFound)
}

func TestSweep_RacingPaymentNeverLosesMoney(t *testing.T) {
	f := newFixture(t, "1:10")
	ctx := context.Background()
	_, a, b := f.chain(t)
	f.sweeper.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	for i := 0; i < 5; i++ {
		pending := f.reserve(t, b.ID, 100_000)
		payload := bankPayload(t, fmt.Sprintf("race-%d", i), pending.Code, 100_000)

		var (
			wg     sync.WaitGroup
			result IngestResult
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			var err error
			result, err = f.webhook().HandleBankWebhook(ctx, payload, SignPayload([]byte(testHMACKey), payload))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.sweeper.Sweep(ctx)
			assert.NoError(t, err)
		}()
		wg.Wait()

		final, err := f.checkout.GetPendingOrder(ctx, pending.ID)
		require.NoError(t, err)
		switch final.Status {
		case domain.PendingConverted:
			assert.Equal(t, domain.BankMatched, result.MatchStatus)
		case domain.PendingCancelled:
			assert.Equal(t, domain.BankUnmatched, result.MatchStatus)
			assert.False(t, result.Processed)
		default:
			t.Fatalf("reservation left in %s", final.Status)
		}
	}

	// Every converted reservation paid exactly one commission.
	orders, err := f.orders.ListOrders(ctx, &b.ID, "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(len(orders))*10_000, f.balance(t, a.ID))
}
