package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/models"
	"github.com/ayo6706/referral-commerce/internal/service"
	"github.com/google/uuid"
)

type OrderService interface {
	CreateManualOrder(ctx context.Context, req service.ManualOrderRequest, actorID *uuid.UUID) (models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, next domain.OrderStatus, actorID *uuid.UUID) (service.OrderResult, error)
	Distribute(ctx context.Context, orderID uuid.UUID) (service.DistributionResult, error)
	GetOrder(ctx context.Context, id uuid.UUID) (models.Order, error)
	ListOrders(ctx context.Context, buyerID *uuid.UUID, status domain.OrderStatus, page, pageSize int) ([]models.Order, error)
}

type OrderHandler struct {
	orders OrderService
}

func NewOrderHandler(orders OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

type manualOrderRequest struct {
	BuyerID     string          `json:"buyer_id"`
	TotalAmount int64           `json:"total_amount"`
	Items       json.RawMessage `json:"items"`
}

// CreateManual handles POST /v1/admin/orders for offline sales.
func (h *OrderHandler) CreateManual(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	var req manualOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	buyerID, err := uuid.Parse(req.BuyerID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-buyer-id", "Invalid buyer_id")
		return
	}

	order, err := h.orders.CreateManualOrder(r.Context(), service.ManualOrderRequest{
		BuyerID:     buyerID,
		TotalAmount: req.TotalAmount,
		Items:       req.Items,
	}, &actorID)
	if err != nil {
		respondServiceError(w, r, err, "create manual order")
		return
	}
	RespondJSON(w, http.StatusCreated, order)
}

// UpdateStatus handles POST /v1/admin/orders/{id}/status.
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	next := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if !domain.OrderStates.Known(next) {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-status", "unknown order status")
		return
	}
	result, err := h.orders.UpdateOrderStatus(r.Context(), id, next, &actorID)
	if err != nil {
		respondServiceError(w, r, err, "update order status")
		return
	}
	RespondJSON(w, http.StatusOK, result)
}

// Distribute handles POST /v1/admin/orders/{id}/distribute. Repeating it is harmless.
func (h *OrderHandler) Distribute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	result, err := h.orders.Distribute(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err, "distribute commissions")
		return
	}
	RespondJSON(w, http.StatusOK, result)
}

// Get handles GET /v1/orders/{id}. Buyers see their own orders; admins any.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err, "get order")
		return
	}
	if order.BuyerID != actorID && !isAdmin {
		RespondError(w, r, http.StatusNotFound, "resource/not-found", "order not found")
		return
	}
	RespondJSON(w, http.StatusOK, order)
}

// List handles GET /v1/orders. Members list their own purchases; admins may filter by buyer_id.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, ok := mustActor(w, r)
	if !ok {
		return
	}
	buyerID := &actorID
	if isAdmin {
		var ok bool
		if buyerID, ok = queryUUID(w, r, "buyer_id"); !ok {
			return
		}
	}
	page, size := pageParams(r)
	orders, err := h.orders.ListOrders(r.Context(), buyerID, domain.OrderStatus(upperQuery(r, "status")), page, size)
	if err != nil {
		respondServiceError(w, r, err, "list orders")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"orders": orders})
}
