package handler

import (
	"context"
	"net/http"

	"github.com/ayo6706/referral-commerce/internal/models"
	"github.com/ayo6706/referral-commerce/internal/service"
	"github.com/google/uuid"
)

type LedgerService interface {
	GetWalletByMember(ctx context.Context, memberID uuid.UUID) (models.Wallet, error)
	GetWallet(ctx context.Context, walletID uuid.UUID) (models.Wallet, error)
	Statement(ctx context.Context, walletID uuid.UUID, page, pageSize int) (service.Statement, error)
	AdjustBalance(ctx context.Context, walletID uuid.UUID, signedAmount int64, description string, actorID uuid.UUID) (models.WalletTransaction, error)
	VerifyWallet(ctx context.Context, walletID uuid.UUID) (service.VerifyResult, error)
}

type WalletHandler struct {
	ledger LedgerService
}

func NewWalletHandler(ledger LedgerService) *WalletHandler {
	return &WalletHandler{ledger: ledger}
}

// GetForMember handles GET /v1/members/{id}/wallet.
func (h *WalletHandler) GetForMember(w http.ResponseWriter, r *http.Request) {
	memberID, ok := selfOrAdmin(w, r, "id")
	if !ok {
		return
	}
	wallet, err := h.ledger.GetWalletByMember(r.Context(), memberID)
	if err != nil {
		respondServiceError(w, r, err, "get wallet")
		return
	}
	RespondJSON(w, http.StatusOK, wallet)
}

// Statement handles GET /v1/members/{id}/wallet/transactions.
func (h *WalletHandler) Statement(w http.ResponseWriter, r *http.Request) {
	memberID, ok := selfOrAdmin(w, r, "id")
	if !ok {
		return
	}
	wallet, err := h.ledger.GetWalletByMember(r.Context(), memberID)
	if err != nil {
		respondServiceError(w, r, err, "get wallet")
		return
	}
	page, size := pageParams(r)
	statement, err := h.ledger.Statement(r.Context(), wallet.ID, page, size)
	if err != nil {
		respondServiceError(w, r, err, "get statement")
		return
	}
	RespondJSON(w, http.StatusOK, statement)
}

type adjustBalanceRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

// Adjust handles POST /v1/admin/wallets/{id}/adjustments. Amount is signed.
func (h *WalletHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	walletID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req adjustBalanceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	entry, err := h.ledger.AdjustBalance(r.Context(), walletID, req.Amount, req.Description, actorID)
	if err != nil {
		respondServiceError(w, r, err, "adjust balance")
		return
	}
	RespondJSON(w, http.StatusCreated, entry)
}

// Verify handles GET /v1/admin/wallets/{id}/verify.
func (h *WalletHandler) Verify(w http.ResponseWriter, r *http.Request) {
	walletID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	result, err := h.ledger.VerifyWallet(r.Context(), walletID)
	if err != nil {
		respondServiceError(w, r, err, "verify wallet")
		return
	}
	RespondJSON(w, http.StatusOK, result)
}
