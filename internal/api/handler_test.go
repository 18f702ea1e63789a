package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ayo6706/referral-commerce/internal/api"
	"github.com/ayo6706/referral-commerce/internal/api/handler"
	"github.com/ayo6706/referral-commerce/internal/api/middleware"
	"github.com/ayo6706/referral-commerce/internal/api/problem"
	"github.com/ayo6706/referral-commerce/internal/config"
	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/models"
	"github.com/ayo6706/referral-commerce/internal/service"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testJWTSecret   = "test-secret-0123456789-test-secret"
	testJWTIssuer   = "referral-commerce-test"
	testJWTAudience = "referral-api-test"
)

func TestMain(m *testing.M) {
	middleware.SetJWTSecret(testJWTSecret)
	middleware.SetJWTValidation(testJWTIssuer, testJWTAudience)
	os.Exit(m.Run())
}

type fakeMembers struct {
	members   map[uuid.UUID]models.Member
	registers []service.RegisterMemberRequest
	deleteErr error
	approved  []uuid.UUID
}

func newFakeMembers(ms ...models.Member) *fakeMembers {
	f := &fakeMembers{members: map[uuid.UUID]models.Member{}}
	for _, m := range ms {
		f.members[m.ID] = m
	}
	return f
}

func (f *fakeMembers) Register(_ context.Context, req service.RegisterMemberRequest) (models.Member, error) {
	f.registers = append(f.registers, req)
	if err := req.Validate(); err != nil {
		return models.Member{}, err
	}
	m := models.Member{ID: uuid.New(), Username: req.Username, Email: req.Email, Role: req.Role, SponsorID: req.SponsorID, Status: domain.MemberPending}
	f.members[m.ID] = m
	return m, nil
}

func (f *fakeMembers) Get(_ context.Context, id uuid.UUID) (models.Member, error) {
	m, ok := f.members[id]
	if !ok {
		return models.Member{}, domain.ErrMemberNotFound
	}
	return m, nil
}

func (f *fakeMembers) List(context.Context, domain.MemberStatus, int, int) ([]models.Member, error) {
	out := make([]models.Member, 0, len(f.members))
	for _, m := range f.members {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeMembers) Approve(_ context.Context, id uuid.UUID, _ *uuid.UUID) (models.Member, error) {
	f.approved = append(f.approved, id)
	m, ok := f.members[id]
	if !ok {
		return models.Member{}, domain.ErrMemberNotFound
	}
	if m.Status != domain.MemberPending {
		return models.Member{}, fmt.Errorf("%s -> ACTIVE: %w", m.Status, domain.ErrInvalidTransition)
	}
	m.Status = domain.MemberActive
	f.members[id] = m
	return m, nil
}

func (f *fakeMembers) Reject(context.Context, uuid.UUID, *uuid.UUID) (models.Member, error) {
	return models.Member{}, domain.ErrTransient
}

func (f *fakeMembers) Suspend(context.Context, uuid.UUID, *uuid.UUID) (models.Member, error) {
	return models.Member{}, errors.New("connection reset by peer")
}

func (f *fakeMembers) Reinstate(ctx context.Context, id uuid.UUID, actor *uuid.UUID) (models.Member, error) {
	return f.Get(ctx, id)
}

func (f *fakeMembers) Delete(_ context.Context, id uuid.UUID, _ *uuid.UUID) (service.DeleteResult, error) {
	if f.deleteErr != nil {
		return service.DeleteResult{}, f.deleteErr
	}
	return service.DeleteResult{MemberID: id}, nil
}

type fakeGraph struct{}

func (fakeGraph) Upline(_ context.Context, id uuid.UUID, _ int) ([]models.GraphMember, error) {
	return []models.GraphMember{}, nil
}

func (fakeGraph) Downline(_ context.Context, id uuid.UUID) ([]models.GraphMember, error) {
	return []models.GraphMember{}, nil
}

type fakeWithdrawals struct {
	requestErr error
	requests   []service.WithdrawalRequestInput
}

func (f *fakeWithdrawals) Request(_ context.Context, in service.WithdrawalRequestInput) (models.WithdrawalRequest, error) {
	f.requests = append(f.requests, in)
	if f.requestErr != nil {
		return models.WithdrawalRequest{}, f.requestErr
	}
	return models.WithdrawalRequest{ID: uuid.New(), MemberID: in.MemberID, Amount: in.Amount, Status: domain.WithdrawalPending}, nil
}

func (f *fakeWithdrawals) Approve(context.Context, uuid.UUID, uuid.UUID) (models.WithdrawalRequest, error) {
	return models.WithdrawalRequest{}, nil
}

func (f *fakeWithdrawals) Reject(context.Context, uuid.UUID, uuid.UUID, string) (models.WithdrawalRequest, error) {
	return models.WithdrawalRequest{}, nil
}

func (f *fakeWithdrawals) Complete(context.Context, uuid.UUID, uuid.UUID) (service.CompletionResult, error) {
	return service.CompletionResult{}, nil
}

func (f *fakeWithdrawals) Get(context.Context, uuid.UUID) (models.WithdrawalRequest, error) {
	return models.WithdrawalRequest{}, domain.ErrWithdrawalNotFound
}

func (f *fakeWithdrawals) List(context.Context, *uuid.UUID, domain.WithdrawalStatus, int, int) ([]models.WithdrawalRequest, error) {
	return nil, nil
}

type fakeWebhooks struct {
	err   error
	calls int
}

func (f *fakeWebhooks) HandleBankWebhook(context.Context, []byte, string) (service.IngestResult, error) {
	f.calls++
	return service.IngestResult{MatchStatus: domain.BankUnmatched}, f.err
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type testServer struct {
	handler     http.Handler
	members     *fakeMembers
	withdrawals *fakeWithdrawals
	webhooks    *fakeWebhooks
}

func newTestServer(t *testing.T, members *fakeMembers, dbErr error) *testServer {
	t.Helper()
	cfg := &config.Config{PublicRateLimitRPS: 1000, AuthRateLimitRPS: 1000, WebhookRateLimitRPS: 1000}
	ts := &testServer{
		members:     members,
		withdrawals: &fakeWithdrawals{},
		webhooks:    &fakeWebhooks{},
	}
	router := api.NewRouter(cfg, zap.NewNop(), nil, api.Handlers{
		Health:      handler.NewHealthHandler(fakePinger{err: dbErr}, nil),
		Auth:        handler.NewAuthHandler(members),
		Webhook:     handler.NewWebhookHandler(ts.webhooks),
		Members:     handler.NewMemberHandler(members, fakeGraph{}),
		Checkout:    handler.NewCheckoutHandler(nil),
		Orders:      handler.NewOrderHandler(nil),
		Wallets:     handler.NewWalletHandler(nil),
		Commissions: handler.NewCommissionHandler(nil, nil, 4),
		Withdrawals: handler.NewWithdrawalHandler(ts.withdrawals),
		BankEvents:  handler.NewBankEventHandler(nil),
		Maintenance: handler.NewMaintenanceHandler(nil, nil),
	})
	ts.handler = router.Routes()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func tokenFor(t *testing.T, id uuid.UUID, role domain.MemberRole) string {
	t.Helper()
	token, err := handler.IssueToken(id, role, time.Now())
	require.NoError(t, err)
	return token
}

func decodeProblem(t *testing.T, rr *httptest.ResponseRecorder) problem.Details {
	t.Helper()
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	var p problem.Details
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	return p
}

func activeMember(role domain.MemberRole) models.Member {
	return models.Member{ID: uuid.New(), Username: "m-" + uuid.NewString()[:8], Role: role, Status: domain.MemberActive}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, newFakeMembers(), nil)
	rr := ts.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = ts.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	down := newTestServer(t, newFakeMembers(), errors.New("db down"))
	rr = down.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, problem.Type("health/database-unavailable"), decodeProblem(t, rr).Type)
}

func TestOpenAPIDocumentIsServed(t *testing.T) {
	ts := newTestServer(t, newFakeMembers(), nil)
	rr := ts.do(t, http.MethodGet, "/openapi.yaml", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "openapi:")
}

func TestUnknownRouteIsProblem(t *testing.T) {
	ts := newTestServer(t, newFakeMembers(), nil)
	rr := ts.do(t, http.MethodGet, "/v1/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	p := decodeProblem(t, rr)
	assert.Equal(t, http.StatusNotFound, p.Status)
	assert.Equal(t, "/v1/nowhere", p.Instance)
}

func TestTraceIDFromProxyHeader(t *testing.T) {
	ts := newTestServer(t, newFakeMembers(), nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/nowhere", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)

	assert.Equal(t, "req-123", rr.Header().Get("X-Trace-ID"))
	p := decodeProblem(t, rr)
	assert.Equal(t, "req-123", p.RequestID)
	assert.Equal(t, "resource/not-found", p.Code)
}

func TestAuth_RejectsMissingAndForeignTokens(t *testing.T) {
	ts := newTestServer(t, newFakeMembers(), nil)

	rr := ts.do(t, http.MethodGet, "/v1/members/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, problem.Type("auth/authorization-header-required"), decodeProblem(t, rr).Type)

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": uuid.NewString(),
		"role":    "admin",
		"iss":     testJWTIssuer,
		"aud":     testJWTAudience,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("some-other-secret-some-other-secret"))
	require.NoError(t, err)
	rr = ts.do(t, http.MethodGet, "/v1/members/me", foreign, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLogin_IssuesTokenForActiveMember(t *testing.T) {
	member := activeMember(domain.RoleDistributor)
	ts := newTestServer(t, newFakeMembers(member), nil)

	rr := ts.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"member_id": member.ID.String()})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)

	rr = ts.do(t, http.MethodGet, "/v1/members/me", resp.Token, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var got models.Member
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, member.ID, got.ID)
}

func TestLogin_RefusesSuspendedMember(t *testing.T) {
	member := activeMember(domain.RoleCustomer)
	member.Status = domain.MemberSuspended
	ts := newTestServer(t, newFakeMembers(member), nil)

	rr := ts.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"member_id": member.ID.String()})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, problem.Type("auth/member-inactive"), decodeProblem(t, rr).Type)

	rr = ts.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"member_id": uuid.NewString()})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRegister_PublicSignup(t *testing.T) {
	sponsor := activeMember(domain.RoleLeader)
	members := newFakeMembers(sponsor)
	ts := newTestServer(t, members, nil)

	rr := ts.do(t, http.MethodPost, "/v1/members", "", map[string]string{
		"username": "alice", "email": "alice@example.com", "sponsor_id": sponsor.ID.String(),
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.Len(t, members.registers, 1)
	assert.Equal(t, domain.RoleCustomer, members.registers[0].Role)

	rr = ts.do(t, http.MethodPost, "/v1/members", "", map[string]string{
		"username": "mallory", "email": "mallory@example.com", "role": "admin",
	})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Len(t, members.registers, 1)

	rr = ts.do(t, http.MethodPost, "/v1/members", "", map[string]string{
		"username": "bob", "email": "bob@example.com",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, problem.Type("request/invalid-input"), decodeProblem(t, rr).Type)

	rr = ts.do(t, http.MethodPost, "/v1/members", "", []byte(`{"username":"x","unexpected":1}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, problem.Type("request/invalid-body"), decodeProblem(t, rr).Type)
}

func TestMembers_SelfOrAdmin(t *testing.T) {
	alice := activeMember(domain.RoleCustomer)
	bob := activeMember(domain.RoleCustomer)
	admin := activeMember(domain.RoleAdmin)
	ts := newTestServer(t, newFakeMembers(alice, bob, admin), nil)

	rr := ts.do(t, http.MethodGet, "/v1/members/"+bob.ID.String(), tokenFor(t, alice.ID, alice.Role), nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = ts.do(t, http.MethodGet, "/v1/members/"+bob.ID.String(), tokenFor(t, admin.ID, admin.Role), nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = ts.do(t, http.MethodGet, "/v1/members/me/upline?max_level=2", tokenFor(t, alice.ID, alice.Role), nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = ts.do(t, http.MethodGet, "/v1/members/me/upline?max_level=-1", tokenFor(t, alice.ID, alice.Role), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.do(t, http.MethodGet, "/v1/members/not-a-uuid", tokenFor(t, admin.ID, admin.Role), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdminRoutes_RequireAdminRole(t *testing.T) {
	pending := models.Member{ID: uuid.New(), Role: domain.RoleCustomer, Status: domain.MemberPending}
	customer := activeMember(domain.RoleCustomer)
	admin := activeMember(domain.RoleAdmin)
	members := newFakeMembers(pending, customer, admin)
	ts := newTestServer(t, members, nil)

	rr := ts.do(t, http.MethodPost, "/v1/admin/members/"+pending.ID.String()+"/approve", tokenFor(t, customer.ID, customer.Role), nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, problem.Type("auth/insufficient-permissions"), decodeProblem(t, rr).Type)
	assert.Empty(t, members.approved)

	rr = ts.do(t, http.MethodPost, "/v1/admin/members/"+pending.ID.String()+"/approve", tokenFor(t, admin.ID, admin.Role), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, domain.MemberActive, members.members[pending.ID].Status)

	rr = ts.do(t, http.MethodPost, "/v1/admin/members/"+pending.ID.String()+"/approve", tokenFor(t, admin.ID, admin.Role), nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, problem.Type("resource/conflict"), decodeProblem(t, rr).Type)
}

func TestServiceErrorMapping(t *testing.T) {
	admin := activeMember(domain.RoleAdmin)
	target := activeMember(domain.RoleDistributor)
	members := newFakeMembers(admin, target)
	ts := newTestServer(t, members, nil)
	adminToken := tokenFor(t, admin.ID, admin.Role)
	path := "/v1/admin/members/" + target.ID.String()

	members.deleteErr = domain.ErrHasLiveDownline
	rr := ts.do(t, http.MethodDelete, path, adminToken, nil)
	assert.Equal(t, http.StatusPreconditionFailed, rr.Code)
	assert.Equal(t, problem.Type("resource/precondition-failed"), decodeProblem(t, rr).Type)

	rr = ts.do(t, http.MethodPost, path+"/reject", adminToken, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))

	rr = ts.do(t, http.MethodPost, path+"/suspend", adminToken, nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	p := decodeProblem(t, rr)
	assert.NotContains(t, p.Detail, "connection reset")
}

func TestWithdrawal_InsufficientFundsIsUnprocessable(t *testing.T) {
	member := activeMember(domain.RoleDistributor)
	ts := newTestServer(t, newFakeMembers(member), nil)
	ts.withdrawals.requestErr = fmt.Errorf("balance 10 < 50000: %w", domain.ErrInsufficientFunds)

	rr := ts.do(t, http.MethodPost, "/v1/withdrawals", tokenFor(t, member.ID, member.Role), map[string]any{"amount": 50000, "bank": map[string]any{}})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, problem.Type("ledger/insufficient-funds"), decodeProblem(t, rr).Type)
	require.Len(t, ts.withdrawals.requests, 1)
	assert.Equal(t, member.ID, ts.withdrawals.requests[0].MemberID)

	// Another member's request reads as missing rather than forbidden.
	rr = ts.do(t, http.MethodGet, "/v1/withdrawals/"+uuid.NewString(), tokenFor(t, member.ID, member.Role), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBankWebhook(t *testing.T) {
	ts := newTestServer(t, newFakeMembers(), nil)

	ts.webhooks.err = service.ErrInvalidSignature
	rr := ts.do(t, http.MethodPost, "/v1/webhooks/bank", "", []byte(`{"transactions":[]}`))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, problem.Type("webhook/invalid-signature"), decodeProblem(t, rr).Type)

	ts.webhooks.err = errors.New("store unavailable")
	rr = ts.do(t, http.MethodPost, "/v1/webhooks/bank", "", []byte(`{"transactions":[]}`))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true}`, strings.TrimSpace(rr.Body.String()))
	assert.Equal(t, 2, ts.webhooks.calls)
}

func TestBankWebhook_OversizedBodyIsAcknowledged(t *testing.T) {
	ts := newTestServer(t, newFakeMembers(), nil)

	huge := append([]byte(`{"content":"`), bytes.Repeat([]byte("x"), 2<<20)...)
	rr := ts.do(t, http.MethodPost, "/v1/webhooks/bank", "", append(huge, '"', '}'))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true}`, strings.TrimSpace(rr.Body.String()))
	assert.Zero(t, ts.webhooks.calls)
}
