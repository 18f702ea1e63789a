package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/models"
	"github.com/ayo6706/referral-commerce/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type RegisterMemberRequest struct {
	Username  string
	Email     string
	Role      domain.MemberRole
	SponsorID *uuid.UUID
}

func (r RegisterMemberRequest) Validate() error {
	if strings.TrimSpace(r.Username) == "" {
		return fmt.Errorf("username is required: %w", domain.ErrInvalidInput)
	}
	if !strings.Contains(r.Email, "@") {
		return fmt.Errorf("email %q is invalid: %w", r.Email, domain.ErrInvalidInput)
	}
	if !r.Role.Valid() {
		return fmt.Errorf("role %q: %w", r.Role, domain.ErrInvalidRole)
	}
	if r.SponsorID == nil && r.Role != domain.RoleAdmin {
		return domain.ErrSponsorRequired
	}
	return nil
}

// DeleteResult reports what member removal had to neutralize.
type DeleteResult struct {
	MemberID            uuid.UUID `json:"member_id"`
	RejectedWithdrawals int       `json:"rejected_withdrawals"`
	ForfeitedBalance    int64     `json:"forfeited_balance"`
}

// MemberService runs the member lifecycle. Approval is the moment a member joins the referral
// graph and gets a wallet; deletion is the only path out of it.
type MemberService struct {
	store  QueryStore
	graph  *ReferralGraph
	ledger *Ledger
	audit  *AuditService
}

func NewMemberService(store QueryStore, graph *ReferralGraph, ledger *Ledger) *MemberService {
	return &MemberService{store: store, graph: graph, ledger: ledger, audit: NewAuditService(store)}
}

func (s *MemberService) Register(ctx context.Context, req RegisterMemberRequest) (models.Member, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := req.Validate(); err != nil {
		return models.Member{}, err
	}

	var member models.Member
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		if req.SponsorID != nil {
			sponsor, err := qtx.GetMember(ctx, *req.SponsorID)
			if err != nil {
				return notFound(err, fmt.Errorf("sponsor: %w", domain.ErrMemberNotFound), "get sponsor")
			}
			if sponsor.Status != domain.MemberActive {
				return fmt.Errorf("sponsor %s is %s: %w", sponsor.ID, sponsor.Status, domain.ErrSponsorInactive)
			}
		}

		var err error
		member, err = qtx.CreateMember(ctx, repository.CreateMemberParams{
			ID:        uuid.New(),
			Username:  req.Username,
			Email:     req.Email,
			Role:      req.Role,
			SponsorID: req.SponsorID,
		})
		if err != nil {
			if repository.IsUniqueViolation(err) {
				return fmt.Errorf("username or email already registered: %w", domain.ErrDuplicate)
			}
			return fmt.Errorf("create member: %w", err)
		}
		return s.audit.Write(ctx, qtx, domain.EntityMember, member.ID, nil, "member.registered", "", string(domain.MemberPending), nil)
	})
	if err != nil {
		return models.Member{}, err
	}
	zap.L().Info("member registered", zap.String("member_id", member.ID.String()), zap.String("role", string(member.Role)))
	return member, nil
}

func (s *MemberService) Get(ctx context.Context, id uuid.UUID) (models.Member, error) {
	member, err := read(ctx, s.store, func(q *repository.Queries) (models.Member, error) {
		return q.GetMember(ctx, id)
	})
	if err != nil {
		return models.Member{}, notFound(err, domain.ErrMemberNotFound, "get member")
	}
	return member, nil
}

func (s *MemberService) List(ctx context.Context, status domain.MemberStatus, page, pageSize int) ([]models.Member, error) {
	limit, offset := pageWindow(page, pageSize)
	members, err := read(ctx, s.store, func(q *repository.Queries) ([]models.Member, error) {
		return q.ListMembers(ctx, repository.ListMembersParams{Status: status, Limit: limit, Offset: offset})
	})
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

// Approve activates a PENDING member, attaches it under its sponsor and opens its wallet, all
// in one unit of work.
func (s *MemberService) Approve(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) (models.Member, error) {
	var member models.Member
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		current, err := qtx.GetMemberForUpdate(ctx, id)
		if err != nil {
			return notFound(err, domain.ErrMemberNotFound, "lock member")
		}

		now := time.Now().UTC()
		err = applyTransition(ctx, qtx, s.audit, stateChange[domain.MemberStatus]{
			machine: domain.MemberStates,
			entity:  domain.EntityMember,
			id:      id,
			from:    current.Status,
			to:      domain.MemberActive,
			actor:   actorID,
			action:  "member.approved",
		}, func() (int64, error) {
			return qtx.UpdateMemberStatus(ctx, repository.UpdateMemberStatusParams{
				ID: id, Status: domain.MemberActive, PrevStatus: current.Status, ApprovedAt: &now,
			})
		})
		if err != nil {
			return err
		}

		if err := s.graph.attach(ctx, qtx, id, current.SponsorID); err != nil {
			return err
		}

		if _, err := qtx.CreateWallet(ctx, uuid.New(), id); err != nil && !repository.IsNoRows(err) {
			return fmt.Errorf("create wallet: %w", err)
		}

		member, err = qtx.GetMember(ctx, id)
		if err != nil {
			return fmt.Errorf("reload member: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Member{}, err
	}
	zap.L().Info("member approved", zap.String("member_id", id.String()))
	return member, nil
}

func (s *MemberService) Reject(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) (models.Member, error) {
	return s.transition(ctx, id, domain.MemberRejected, actorID, "member.rejected")
}

// Suspend keeps the member's edges; a suspended member still counts as live downline.
func (s *MemberService) Suspend(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) (models.Member, error) {
	return s.transition(ctx, id, domain.MemberSuspended, actorID, "member.suspended")
}

func (s *MemberService) Reinstate(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) (models.Member, error) {
	return s.transition(ctx, id, domain.MemberActive, actorID, "member.reinstated")
}

func (s *MemberService) transition(ctx context.Context, id uuid.UUID, next domain.MemberStatus, actorID *uuid.UUID, action string) (models.Member, error) {
	var member models.Member
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		current, err := qtx.GetMemberForUpdate(ctx, id)
		if err != nil {
			return notFound(err, domain.ErrMemberNotFound, "lock member")
		}
		err = applyTransition(ctx, qtx, s.audit, stateChange[domain.MemberStatus]{
			machine: domain.MemberStates,
			entity:  domain.EntityMember,
			id:      id,
			from:    current.Status,
			to:      next,
			actor:   actorID,
			action:  action,
		}, func() (int64, error) {
			return qtx.UpdateMemberStatus(ctx, repository.UpdateMemberStatusParams{ID: id, Status: next, PrevStatus: current.Status})
		})
		if err != nil {
			return err
		}
		member, err = qtx.GetMember(ctx, id)
		if err != nil {
			return fmt.Errorf("reload member: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Member{}, err
	}
	zap.L().Info("member status changed", zap.String("member_id", id.String()), zap.String("status", string(next)), zap.String("action", action))
	return member, nil
}

// Delete removes a member from the graph and neutralizes its ledger position: open withdrawals
// are rejected and any remaining balance is zeroed with an ADJUSTMENT entry. A member with
// anyone still attached below it cannot be deleted.
func (s *MemberService) Delete(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) (DeleteResult, error) {
	result := DeleteResult{MemberID: id}
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		current, err := qtx.GetMemberForUpdate(ctx, id)
		if err != nil {
			return notFound(err, domain.ErrMemberNotFound, "lock member")
		}
		if err := domain.MemberStates.Validate(current.Status, domain.MemberDeleted); err != nil {
			return err
		}

		if err := s.graph.detach(ctx, qtx, id); err != nil {
			return err
		}

		open, err := qtx.LockOpenWithdrawalsForMember(ctx, id)
		if err != nil {
			return fmt.Errorf("lock open withdrawals: %w", err)
		}
		for _, w := range open {
			if w.Status != domain.WithdrawalPending {
				return fmt.Errorf("withdrawal %s is %s: %w", w.ID, w.Status, domain.ErrPreconditionFailed)
			}
			w := w
			err := applyTransition(ctx, qtx, s.audit, stateChange[domain.WithdrawalStatus]{
				machine: domain.WithdrawalStates,
				entity:  domain.EntityWithdrawal,
				id:      w.ID,
				from:    w.Status,
				to:      domain.WithdrawalRejected,
				actor:   actorID,
				action:  "withdrawal.rejected",
			}, func() (int64, error) {
				return qtx.UpdateWithdrawalStatus(ctx, repository.UpdateWithdrawalStatusParams{
					ID: w.ID, Status: domain.WithdrawalRejected, PrevStatus: w.Status, ReviewedBy: actorID, Note: "member deleted",
				})
			})
			if err != nil {
				return err
			}
			result.RejectedWithdrawals++
		}

		wallet, err := qtx.GetWalletByMember(ctx, id)
		switch {
		case repository.IsNoRows(err):
		case err != nil:
			return fmt.Errorf("get member wallet: %w", err)
		default:
			locked, err := qtx.GetWalletForUpdate(ctx, wallet.ID)
			if err != nil {
				return fmt.Errorf("lock member wallet: %w", err)
			}
			if locked.Balance != 0 {
				_, err := s.ledger.post(ctx, qtx, Posting{
					WalletID:    locked.ID,
					Type:        domain.EntryAdjustment,
					Amount:      -locked.Balance,
					Description: "Balance forfeited on member deletion",
					Metadata:    map[string]any{"member_id": id.String()},
				})
				if err != nil {
					return err
				}
				result.ForfeitedBalance = locked.Balance
			}
		}

		return applyTransition(ctx, qtx, s.audit, stateChange[domain.MemberStatus]{
			machine: domain.MemberStates,
			entity:  domain.EntityMember,
			id:      id,
			from:    current.Status,
			to:      domain.MemberDeleted,
			actor:   actorID,
			action:  "member.deleted",
		}, func() (int64, error) {
			return qtx.UpdateMemberStatus(ctx, repository.UpdateMemberStatusParams{ID: id, Status: domain.MemberDeleted, PrevStatus: current.Status})
		})
	})
	if err != nil {
		return DeleteResult{}, err
	}
	zap.L().Info("member deleted",
		zap.String("member_id", id.String()),
		zap.Int("rejected_withdrawals", result.RejectedWithdrawals),
		zap.Int64("forfeited_balance", result.ForfeitedBalance))
	return result, nil
}
