package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/models"
	"github.com/ayo6706/referral-commerce/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReferralGraph maintains the closure table of sponsor relationships.
//
// Edges are only inserted at approval and only deleted at detach, so attach needs no lock of
// its own beyond a shared lock on the sponsor's self-edge, which keeps the sponsor from being
// detached underneath a new recruit.
type ReferralGraph struct {
	store QueryStore
}

func NewReferralGraph(store QueryStore) *ReferralGraph {
	return &ReferralGraph{store: store}
}

// Attach links memberID under sponsorID in its own unit of work.
func (g *ReferralGraph) Attach(ctx context.Context, memberID, sponsorID uuid.UUID) error {
	return g.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		return g.attach(ctx, qtx, memberID, &sponsorID)
	})
}

// attach runs on the caller's transaction. A nil sponsor attaches a root.
func (g *ReferralGraph) attach(ctx context.Context, qtx *repository.Queries, memberID uuid.UUID, sponsorID *uuid.UUID) error {
	existing, err := qtx.CountEdgesForMember(ctx, memberID)
	if err != nil {
		return fmt.Errorf("count member edges: %w", err)
	}
	if existing > 0 {
		return alreadyAttached(memberID)
	}

	if sponsorID != nil {
		attached, err := qtx.ShareLockSelfEdge(ctx, *sponsorID)
		if err != nil {
			return fmt.Errorf("lock sponsor self-edge: %w", err)
		}
		if !attached {
			return fmt.Errorf("sponsor %s: %w", sponsorID, domain.ErrSponsorNotAttached)
		}
	}

	if err := qtx.InsertSelfEdge(ctx, memberID); err != nil {
		if repository.IsUniqueViolation(err) {
			return alreadyAttached(memberID)
		}
		return fmt.Errorf("insert self-edge: %w", err)
	}

	if sponsorID == nil {
		return nil
	}

	inserted, err := qtx.InsertAncestorEdges(ctx, memberID, *sponsorID)
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return alreadyAttached(memberID)
		}
		return fmt.Errorf("insert ancestor edges: %w", err)
	}
	if inserted == 0 {
		return fmt.Errorf("sponsor %s: %w", sponsorID, domain.ErrSponsorNotAttached)
	}

	zap.L().Debug("member attached",
		zap.String("member_id", memberID.String()),
		zap.String("sponsor_id", sponsorID.String()),
		zap.Int64("ancestor_edges", inserted))
	return nil
}

func alreadyAttached(memberID uuid.UUID) error {
	return fmt.Errorf("member %s: %w", memberID, domain.ErrAlreadyAttached)
}

// Upline returns the member's ancestors nearest first. maxLevel <= 0 returns the whole chain.
func (g *ReferralGraph) Upline(ctx context.Context, memberID uuid.UUID, maxLevel int) ([]models.GraphMember, error) {
	var chain []models.GraphMember
	err := g.store.Read(ctx, func(q *repository.Queries) error {
		if _, err := q.GetMember(ctx, memberID); err != nil {
			return notFound(err, domain.ErrMemberNotFound, "get member")
		}
		var err error
		chain, err = upline(ctx, q, memberID, maxLevel)
		return err
	})
	return chain, err
}

func upline(ctx context.Context, q *repository.Queries, memberID uuid.UUID, maxLevel int) ([]models.GraphMember, error) {
	chain, err := q.GetUpline(ctx, repository.GetUplineParams{MemberID: memberID, MaxLevel: int32(maxLevel)})
	if err != nil {
		return nil, fmt.Errorf("get upline: %w", err)
	}
	return chain, nil
}

// Downline returns every descendant of the member, nearest levels first.
func (g *ReferralGraph) Downline(ctx context.Context, memberID uuid.UUID) ([]models.GraphMember, error) {
	var members []models.GraphMember
	err := g.store.Read(ctx, func(q *repository.Queries) error {
		if _, err := q.GetMember(ctx, memberID); err != nil {
			return notFound(err, domain.ErrMemberNotFound, "get member")
		}
		var err error
		members, err = q.GetDownline(ctx, memberID)
		if err != nil {
			return fmt.Errorf("get downline: %w", err)
		}
		return nil
	})
	return members, err
}

// Detach removes every edge touching the member in its own unit of work.
func (g *ReferralGraph) Detach(ctx context.Context, memberID uuid.UUID) error {
	return g.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		return g.detach(ctx, qtx, memberID)
	})
}

// detach fails with ErrHasLiveDownline, leaving every edge in place, when anyone is still
// attached below the member. Detaching a member that was never attached is a no-op.
func (g *ReferralGraph) detach(ctx context.Context, qtx *repository.Queries, memberID uuid.UUID) error {
	edges, err := qtx.LockEdgesForMember(ctx, memberID)
	if err != nil {
		return fmt.Errorf("lock member edges: %w", err)
	}
	if len(edges) == 0 {
		return nil
	}

	// Re-read after locking: an attach that held the self-edge has committed by now and its
	// rows are only visible to a fresh statement.
	descendants, err := qtx.CountDescendants(ctx, memberID)
	if err != nil {
		return fmt.Errorf("count descendants: %w", err)
	}
	if descendants > 0 {
		return fmt.Errorf("member %s has %d descendants: %w", memberID, descendants, domain.ErrHasLiveDownline)
	}

	removed, err := qtx.DeleteEdgesForMember(ctx, memberID)
	if err != nil {
		return fmt.Errorf("delete member edges: %w", err)
	}
	zap.L().Info("member detached", zap.String("member_id", memberID.String()), zap.Int64("edges", removed))
	return nil
}
