package service

import (
	"context"
	"testing"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func levels(members []models.GraphMember) map[uuid.UUID]int {
	out := make(map[uuid.UUID]int, len(members))
	for _, m := range members {
		out[m.MemberID] = m.Level
	}
	return out
}

func TestGraph_UplineAndDownline(t *testing.T) {
	f := newFixture(t, "1:10")
	ctx := context.Background()
	r, a, b := f.chain(t)
	c := f.activeMember(t, "carol", &a.ID)

	up, err := f.graph.Upline(ctx, b.ID, 0)
	require.NoError(t, err)
	require.Len(t, up, 2)
	assert.Equal(t, a.ID, up[0].MemberID)
	assert.Equal(t, 1, up[0].Level)
	assert.Equal(t, r.ID, up[1].MemberID)
	assert.Equal(t, 2, up[1].Level)

	capped, err := f.graph.Upline(ctx, b.ID, 1)
	require.NoError(t, err)
	require.Len(t, capped, 1)
	assert.Equal(t, a.ID, capped[0].MemberID)

	rootUp, err := f.graph.Upline(ctx, r.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, rootUp)

	down, err := f.graph.Downline(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]int{a.ID: 1, b.ID: 2, c.ID: 2}, levels(down))

	leaf, err := f.graph.Downline(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, leaf)

	_, err = f.graph.Upline(ctx, uuid.New(), 0)
	assert.ErrorIs(t, err, domain.ErrMemberNotFound)
}

func TestGraph_AttachRules(t *testing.T) {
	f := newFixture(t, "1:10")
	ctx := context.Background()
	r, a, _ := f.chain(t)

	err := f.graph.Attach(ctx, a.ID, r.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyAttached)

	// A registered but unapproved member is not in the graph yet, so nobody can hang below it.
	pending, err := f.members.Register(ctx, RegisterMemberRequest{
		Username: "dave", Email: "dave@example.com", Role: domain.RoleCustomer, SponsorID: &a.ID,
	})
	require.NoError(t, err)
	orphan, err := f.members.Register(ctx, RegisterMemberRequest{
		Username: "erin", Email: "erin@example.com", Role: domain.RoleCustomer, SponsorID: &a.ID,
	})
	require.NoError(t, err)
	err = f.graph.Attach(ctx, orphan.ID, pending.ID)
	assert.ErrorIs(t, err, domain.ErrSponsorNotAttached)

	up, err := f.graph.Upline(ctx, orphan.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, up)
}

func TestGraph_DetachRefusesLiveDownline(t *testing.T) {
	f := newFixture(t, "1:10")
	ctx := context.Background()
	r, a, b := f.chain(t)

	err := f.graph.Detach(ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrHasLiveDownline)
	down, err := f.graph.Downline(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, down, 2)

	require.NoError(t, f.graph.Detach(ctx, b.ID))
	require.NoError(t, f.graph.Detach(ctx, b.ID))
	require.NoError(t, f.graph.Detach(ctx, a.ID))

	down, err = f.graph.Downline(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, down)
}

func TestMember_RegisterNeedsActiveSponsor(t *testing.T) {
	f := newFixture(t, "1:10")
	ctx := context.Background()
	_, a, _ := f.chain(t)

	_, err := f.members.Suspend(ctx, a.ID, nil)
	require.NoError(t, err)
	_, err = f.members.Register(ctx, RegisterMemberRequest{
		Username: "frank", Email: "frank@example.com", Role: domain.RoleCustomer, SponsorID: &a.ID,
	})
	assert.ErrorIs(t, err, domain.ErrSponsorInactive)

	missing := uuid.New()
	_, err = f.members.Register(ctx, RegisterMemberRequest{
		Username: "gina", Email: "gina@example.com", Role: domain.RoleCustomer, SponsorID: &missing,
	})
	assert.ErrorIs(t, err, domain.ErrMemberNotFound)

	_, err = f.members.Register(ctx, RegisterMemberRequest{
		Username: "bob", Email: "other@example.com", Role: domain.RoleAdmin,
	})
	assert.ErrorIs(t, err, domain.ErrDuplicate)
}

func TestMember_StatusTransitions(t *testing.T) {
	f := newFixture(t, "1:10")
	ctx := context.Background()
	_, a, _ := f.chain(t)

	suspended, err := f.members.Suspend(ctx, a.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.MemberSuspended, suspended.Status)
	_, err = f.members.Suspend(ctx, a.ID, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	active, err := f.members.Reinstate(ctx, a.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.MemberActive, active.Status)

	_, err = f.members.Approve(ctx, a.ID, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	pending, err := f.members.Register(ctx, RegisterMemberRequest{
		Username: "hank", Email: "hank@example.com", Role: domain.RoleCustomer, SponsorID: &a.ID,
	})
	require.NoError(t, err)
	rejected, err := f.members.Reject(ctx, pending.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.MemberRejected, rejected.Status)
	_, err = f.members.Approve(ctx, pending.ID, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	listed, err := f.members.List(ctx, domain.MemberRejected, 1, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, pending.ID, listed[0].ID)
}

func TestMember_DeleteNeutralizesLeaf(t *testing.T) {
	f := newFixture(t, "1:10")
	ctx := context.Background()
	r, a, b := f.chain(t)

	// Suspended members still count as live downline.
	_, err := f.members.Suspend(ctx, b.ID, nil)
	require.NoError(t, err)
	_, err = f.members.Delete(ctx, a.ID, &r.ID)
	assert.ErrorIs(t, err, domain.ErrHasLiveDownline)
	_, err = f.members.Reinstate(ctx, b.ID, nil)
	require.NoError(t, err)

	wallet, err := f.ledger.GetWalletByMember(ctx, b.ID)
	require.NoError(t, err)
	_, err = f.ledger.AdjustBalance(ctx, wallet.ID, 25_000, "promo", r.ID)
	require.NoError(t, err)
	_, err = f.withdrawals.Request(ctx, WithdrawalRequestInput{MemberID: b.ID, Amount: 10_000, Bank: testBank()})
	require.NoError(t, err)

	result, err := f.members.Delete(ctx, b.ID, &r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RejectedWithdrawals)
	assert.Equal(t, int64(25_000), result.ForfeitedBalance)
	assert.Equal(t, int64(0), f.balance(t, b.ID))

	deleted, err := f.members.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MemberDeleted, deleted.Status)

	open, err := f.withdrawals.List(ctx, &b.ID, domain.WithdrawalPending, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, open)

	verify, err := f.ledger.VerifyWallet(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, verify.Consistent)

	// With B gone A is a leaf and can go too.
	_, err = f.members.Delete(ctx, a.ID, &r.ID)
	require.NoError(t, err)
	_, err = f.members.Delete(ctx, a.ID, &r.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}
