package handler

import (
	"context"
	"net/http"

	"github.com/ayo6706/referral-commerce/internal/models"
	"github.com/ayo6706/referral-commerce/internal/service"
	"github.com/go-chi/chi/v5"
)

type CheckoutService interface {
	CreatePendingOrder(ctx context.Context, req service.CreatePendingOrderRequest) (models.PendingOrder, error)
	GetPendingOrderByCode(ctx context.Context, code string) (models.PendingOrder, error)
}

type CheckoutHandler struct {
	checkout CheckoutService
}

func NewCheckoutHandler(checkout CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout}
}

type createPendingOrderRequest struct {
	Items       []service.CheckoutItem `json:"items"`
	Subtotal    int64                  `json:"subtotal"`
	ShippingFee int64                  `json:"shipping_fee"`
	Discount    int64                  `json:"discount"`
	Shipping    map[string]any         `json:"shipping"`
}

// CreatePendingOrder handles POST /v1/checkout. The caller is the buyer; the response carries the
// code to put in the bank transfer memo and the reservation deadline.
func (h *CheckoutHandler) CreatePendingOrder(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	var req createPendingOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pending, err := h.checkout.CreatePendingOrder(r.Context(), service.CreatePendingOrderRequest{
		BuyerID:     actorID,
		Items:       req.Items,
		Subtotal:    req.Subtotal,
		ShippingFee: req.ShippingFee,
		Discount:    req.Discount,
		Shipping:    req.Shipping,
	})
	if err != nil {
		respondServiceError(w, r, err, "create pending order")
		return
	}
	RespondJSON(w, http.StatusCreated, pending)
}

// GetByCode handles GET /v1/pending-orders/{code}. Buyers only see their own reservations.
func (h *CheckoutHandler) GetByCode(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, ok := mustActor(w, r)
	if !ok {
		return
	}
	pending, err := h.checkout.GetPendingOrderByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		respondServiceError(w, r, err, "get pending order")
		return
	}
	if pending.BuyerID != actorID && !isAdmin {
		RespondError(w, r, http.StatusNotFound, "resource/not-found", "pending order not found")
		return
	}
	RespondJSON(w, http.StatusOK, pending)
}
