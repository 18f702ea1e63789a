package service

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/ayo6706/referral-commerce/internal/db"
	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/models"
	"github.com/ayo6706/referral-commerce/internal/notify"
	"github.com/ayo6706/referral-commerce/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// setupTestDB connects to DATABASE_URL, applies migrations and empties every table.
func setupTestDB(t *testing.T) *repository.Store {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
	require.NoError(t, db.Migrate(dbURL))
	pool, err := db.Connect(context.Background(), dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(context.Background(), `TRUNCATE TABLE
		audit_log, idempotency_keys, withdrawal_requests, bank_transaction_events, commissions,
		commission_rate_versions, orders, pending_orders, wallet_transactions, wallets, tree_edges, members
		CASCADE`)
	require.NoError(t, err)
	return repository.NewStore(pool, 10*time.Second)
}

func testRates(t *testing.T, spec string) domain.RateTable {
	t.Helper()
	rates, err := domain.ParseRateSpec(spec)
	require.NoError(t, err)
	table := domain.RateTable{Version: 1, MaxLevel: 4, Rates: rates}
	require.NoError(t, table.Validate())
	return table
}

// fixture wires every service over one store the way the app does.
type fixture struct {
	store       *repository.Store
	notifier    *notify.Recorder
	codes       *domain.OrderCodes
	graph       *ReferralGraph
	ledger      *Ledger
	engine      *CommissionEngine
	members     *MemberService
	checkout    *CheckoutService
	orders      *OrderService
	reconciler  *PaymentReconciler
	withdrawals *WithdrawalProcessor
	sweeper     *ExpirySweeper
	integrity   *IntegrityService
}

func newFixture(t *testing.T, rateSpec string) *fixture {
	t.Helper()
	store := setupTestDB(t)
	recorder := &notify.Recorder{}
	codes := domain.NewOrderCodes("DH")
	graph := NewReferralGraph(store)
	ledger := NewLedger(store, recorder)
	engine := NewCommissionEngine(store, ledger, StaticRates{Table: testRates(t, rateSpec)}, 4)
	return &fixture{
		store:       store,
		notifier:    recorder,
		codes:       codes,
		graph:       graph,
		ledger:      ledger,
		engine:      engine,
		members:     NewMemberService(store, graph, ledger),
		checkout:    NewCheckoutService(store, codes, 30*time.Minute),
		orders:      NewOrderService(store, engine, codes, nil, recorder),
		reconciler:  NewPaymentReconciler(store, engine, codes, nil, recorder),
		withdrawals: NewWithdrawalProcessor(store, ledger, engine),
		sweeper:     NewExpirySweeper(store, 30*time.Minute, 50),
		integrity:   NewIntegrityService(store, ledger, recorder),
	}
}

// activeMember registers and approves a member. A nil sponsor creates an ADMIN root.
func (f *fixture) activeMember(t *testing.T, name string, sponsor *uuid.UUID) models.Member {
	t.Helper()
	ctx := context.Background()
	role := domain.RoleDistributor
	if sponsor == nil {
		role = domain.RoleAdmin
	}
	m, err := f.members.Register(ctx, RegisterMemberRequest{
		Username:  name,
		Email:     name + "@example.com",
		Role:      role,
		SponsorID: sponsor,
	})
	require.NoError(t, err)
	m, err = f.members.Approve(ctx, m.ID, nil)
	require.NoError(t, err)
	return m
}

// chain builds root R, A under R and B under A.
func (f *fixture) chain(t *testing.T) (r, a, b models.Member) {
	t.Helper()
	r = f.activeMember(t, "root", nil)
	a = f.activeMember(t, "alice", &r.ID)
	b = f.activeMember(t, "bob", &a.ID)
	return r, a, b
}

func (f *fixture) balance(t *testing.T, memberID uuid.UUID) int64 {
	t.Helper()
	w, err := f.ledger.GetWalletByMember(context.Background(), memberID)
	require.NoError(t, err)
	return w.Balance
}

// paidOrder creates a confirmed order without distributing it.
func (f *fixture) paidOrder(t *testing.T, buyerID uuid.UUID, amount int64) models.Order {
	t.Helper()
	ctx := context.Background()
	code, err := f.codes.Generate()
	require.NoError(t, err)
	paidAt := time.Now().UTC()
	order, err := f.store.Queries().CreateOrder(ctx, repository.CreateOrderParams{
		ID:            uuid.New(),
		Code:          code,
		BuyerID:       buyerID,
		Items:         []byte("[]"),
		TotalAmount:   amount,
		Status:        domain.OrderConfirmed,
		PaymentStatus: domain.PaymentPaid,
		PaidAt:        &paidAt,
	})
	require.NoError(t, err)
	return order
}

func (f *fixture) reserve(t *testing.T, buyerID uuid.UUID, amount int64) models.PendingOrder {
	t.Helper()
	pending, err := f.checkout.CreatePendingOrder(context.Background(), CreatePendingOrderRequest{
		BuyerID:  buyerID,
		Items:    []CheckoutItem{{SKU: "SKU-1", Name: "Serum", Quantity: 1, UnitPrice: amount}},
		Subtotal: amount,
	})
	require.NoError(t, err)
	return pending
}

func bankPayload(t *testing.T, id any, content string, amount int64) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":              id,
		"gateway":         "TestBank",
		"transactionDate": "2024-05-01 10:00:00",
		"accountNumber":   "0123456789",
		"content":         content,
		"transferType":    "in",
		"transferAmount":  amount,
		"referenceCode":   "REF",
	})
	require.NoError(t, err)
	return raw
}
