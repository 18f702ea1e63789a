package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CommissionReader interface {
	ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Commission, error)
	ListForMember(ctx context.Context, memberID uuid.UUID, status domain.CommissionStatus, page, pageSize int) ([]models.Commission, error)
}

type RateManager interface {
	CurrentRates(ctx context.Context) (domain.RateTable, error)
	RatesAt(ctx context.Context, version int) (domain.RateTable, error)
	UpdateRates(ctx context.Context, maxLevel int, rates map[int]decimal.Decimal, actorID *uuid.UUID) (domain.RateTable, error)
}

type CommissionHandler struct {
	commissions CommissionReader
	rates       RateManager
	maxLevel    int
}

// NewCommissionHandler takes the configured maximum depth; rate updates may not exceed it.
func NewCommissionHandler(commissions CommissionReader, rates RateManager, maxLevel int) *CommissionHandler {
	return &CommissionHandler{commissions: commissions, rates: rates, maxLevel: maxLevel}
}

// ListForMember handles GET /v1/members/{id}/commissions?status=.
func (h *CommissionHandler) ListForMember(w http.ResponseWriter, r *http.Request) {
	memberID, ok := selfOrAdmin(w, r, "id")
	if !ok {
		return
	}
	page, size := pageParams(r)
	commissions, err := h.commissions.ListForMember(r.Context(), memberID, domain.CommissionStatus(upperQuery(r, "status")), page, size)
	if err != nil {
		respondServiceError(w, r, err, "list commissions")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"member_id": memberID, "commissions": commissions})
}

// ListForOrder handles GET /v1/admin/orders/{id}/commissions.
func (h *CommissionHandler) ListForOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	commissions, err := h.commissions.ListForOrder(r.Context(), orderID)
	if err != nil {
		respondServiceError(w, r, err, "list order commissions")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"order_id": orderID, "commissions": commissions})
}

// GetRates handles GET /v1/admin/commission-rates[?version=].
func (h *CommissionHandler) GetRates(w http.ResponseWriter, r *http.Request) {
	var (
		table domain.RateTable
		err   error
	)
	if raw := r.URL.Query().Get("version"); raw != "" {
		version, convErr := strconv.Atoi(raw)
		if convErr != nil || version < 1 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-version", "version must be a positive integer")
			return
		}
		table, err = h.rates.RatesAt(r.Context(), version)
	} else {
		table, err = h.rates.CurrentRates(r.Context())
	}
	if err != nil {
		respondServiceError(w, r, err, "get commission rates")
		return
	}
	RespondJSON(w, http.StatusOK, table)
}

type updateRatesRequest struct {
	MaxLevel int                     `json:"max_level"`
	Rates    map[int]decimal.Decimal `json:"rates"`
}

// UpdateRates handles PUT /v1/admin/commission-rates and stores a new version.
func (h *CommissionHandler) UpdateRates(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	var req updateRatesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.MaxLevel == 0 {
		req.MaxLevel = h.maxLevel
	}
	if req.MaxLevel > h.maxLevel {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-input", "max_level exceeds the configured maximum of "+strconv.Itoa(h.maxLevel))
		return
	}

	table, err := h.rates.UpdateRates(r.Context(), req.MaxLevel, req.Rates, &actorID)
	if err != nil {
		respondServiceError(w, r, err, "update commission rates")
		return
	}
	RespondJSON(w, http.StatusOK, table)
}
