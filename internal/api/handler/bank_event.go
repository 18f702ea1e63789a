package handler

import (
	"context"
	"net/http"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/models"
	"github.com/ayo6706/referral-commerce/internal/service"
	"github.com/google/uuid"
)

type BankEventService interface {
	GetBankEvent(ctx context.Context, id uuid.UUID) (models.BankTransactionEvent, error)
	ListBankEvents(ctx context.Context, status domain.BankMatchStatus, page, pageSize int) ([]models.BankTransactionEvent, error)
	ResolveBankEvent(ctx context.Context, eventID uuid.UUID, code string, actorID uuid.UUID) (service.IngestResult, error)
}

// BankEventHandler is the admin review queue for transfers that did not match on their own.
type BankEventHandler struct {
	events BankEventService
}

func NewBankEventHandler(events BankEventService) *BankEventHandler {
	return &BankEventHandler{events: events}
}

// List handles GET /v1/admin/bank-events?status=.
func (h *BankEventHandler) List(w http.ResponseWriter, r *http.Request) {
	page, size := pageParams(r)
	events, err := h.events.ListBankEvents(r.Context(), domain.BankMatchStatus(upperQuery(r, "status")), page, size)
	if err != nil {
		respondServiceError(w, r, err, "list bank events")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *BankEventHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	event, err := h.events.GetBankEvent(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err, "get bank event")
		return
	}
	RespondJSON(w, http.StatusOK, event)
}

// Resolve handles POST /v1/admin/bank-events/{id}/resolve and force-matches the event to a
// reservation code.
func (h *BankEventHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		OrderCode string `json:"order_code"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.OrderCode == "" {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-input", "order_code is required")
		return
	}
	result, err := h.events.ResolveBankEvent(r.Context(), id, req.OrderCode, actorID)
	if err != nil {
		respondServiceError(w, r, err, "resolve bank event")
		return
	}
	RespondJSON(w, http.StatusOK, result)
}
