package handler

import (
	"context"
	"net/http"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/models"
	"github.com/ayo6706/referral-commerce/internal/service"
	"github.com/google/uuid"
)

type WithdrawalService interface {
	Request(ctx context.Context, in service.WithdrawalRequestInput) (models.WithdrawalRequest, error)
	Approve(ctx context.Context, id, actorID uuid.UUID) (models.WithdrawalRequest, error)
	Reject(ctx context.Context, id, actorID uuid.UUID, note string) (models.WithdrawalRequest, error)
	Complete(ctx context.Context, id, actorID uuid.UUID) (service.CompletionResult, error)
	Get(ctx context.Context, id uuid.UUID) (models.WithdrawalRequest, error)
	List(ctx context.Context, memberID *uuid.UUID, status domain.WithdrawalStatus, page, pageSize int) ([]models.WithdrawalRequest, error)
}

type WithdrawalHandler struct {
	withdrawals WithdrawalService
}

func NewWithdrawalHandler(withdrawals WithdrawalService) *WithdrawalHandler {
	return &WithdrawalHandler{withdrawals: withdrawals}
}

type createWithdrawalRequest struct {
	Amount int64           `json:"amount"`
	Bank   models.BankInfo `json:"bank"`
}

// Create handles POST /v1/withdrawals for the calling member.
func (h *WithdrawalHandler) Create(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	var req createWithdrawalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	request, err := h.withdrawals.Request(r.Context(), service.WithdrawalRequestInput{
		MemberID: actorID,
		Amount:   req.Amount,
		Bank:     req.Bank,
	})
	if err != nil {
		respondServiceError(w, r, err, "request withdrawal")
		return
	}
	RespondJSON(w, http.StatusCreated, request)
}

// Get handles GET /v1/withdrawals/{id}.
func (h *WithdrawalHandler) Get(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	request, err := h.withdrawals.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err, "get withdrawal")
		return
	}
	if request.MemberID != actorID && !isAdmin {
		RespondError(w, r, http.StatusNotFound, "resource/not-found", "withdrawal request not found")
		return
	}
	RespondJSON(w, http.StatusOK, request)
}

// ListMine handles GET /v1/withdrawals.
func (h *WithdrawalHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	h.list(w, r, &actorID)
}

// ListAll handles GET /v1/admin/withdrawals?status=&member_id=.
func (h *WithdrawalHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	memberID, ok := queryUUID(w, r, "member_id")
	if !ok {
		return
	}
	h.list(w, r, memberID)
}

func (h *WithdrawalHandler) list(w http.ResponseWriter, r *http.Request, memberID *uuid.UUID) {
	page, size := pageParams(r)
	requests, err := h.withdrawals.List(r.Context(), memberID, domain.WithdrawalStatus(upperQuery(r, "status")), page, size)
	if err != nil {
		respondServiceError(w, r, err, "list withdrawals")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"withdrawals": requests})
}

func (h *WithdrawalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	request, err := h.withdrawals.Approve(r.Context(), id, actorID)
	if err != nil {
		respondServiceError(w, r, err, "approve withdrawal")
		return
	}
	RespondJSON(w, http.StatusOK, request)
}

func (h *WithdrawalHandler) Reject(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Note string `json:"note"`
	}
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	request, err := h.withdrawals.Reject(r.Context(), id, actorID, req.Note)
	if err != nil {
		respondServiceError(w, r, err, "reject withdrawal")
		return
	}
	RespondJSON(w, http.StatusOK, request)
}

// Complete handles POST /v1/admin/withdrawals/{id}/complete once the bank transfer went out.
func (h *WithdrawalHandler) Complete(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	result, err := h.withdrawals.Complete(r.Context(), id, actorID)
	if err != nil {
		respondServiceError(w, r, err, "complete withdrawal")
		return
	}
	RespondJSON(w, http.StatusOK, result)
}
