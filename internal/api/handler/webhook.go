package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/ayo6706/referral-commerce/internal/service"
	"go.uber.org/zap"
)

const SignatureHeader = "X-Webhook-Signature"

type BankWebhookService interface {
	HandleBankWebhook(ctx context.Context, payload []byte, signature string) (service.IngestResult, error)
}

// WebhookHandler receives transfer notifications from the bank gateway.
type WebhookHandler struct {
	webhookSvc BankWebhookService
}

func NewWebhookHandler(webhookSvc BankWebhookService) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc}
}

// HandleBankWebhook handles POST /v1/webhooks/bank. Only a bad signature is refused; every
// authenticated delivery is acknowledged, whatever the match outcome, so the gateway does not
// keep redelivering a transfer that needs human review.
func (h *WebhookHandler) HandleBankWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		// Nothing a redelivery could fix; drop it and let an admin chase the transfer.
		zap.L().Error("bank webhook body too large, acknowledged without processing",
			zap.Int64("limit", tooLarge.Limit),
			zap.String("remote_addr", r.RemoteAddr))
		RespondJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}
	if err != nil {
		zap.L().Error("read webhook body failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	result, err := h.webhookSvc.HandleBankWebhook(r.Context(), body, r.Header.Get(SignatureHeader))
	if errors.Is(err, service.ErrInvalidSignature) {
		zap.L().Warn("bank webhook signature rejected", zap.String("remote_addr", r.RemoteAddr))
		RespondError(w, r, http.StatusUnauthorized, "webhook/invalid-signature", "Invalid signature")
		return
	}
	if err != nil {
		zap.L().Error("process bank webhook failed", zap.Error(err))
	}

	zap.L().Info("bank webhook acknowledged",
		zap.String("event_id", result.EventID.String()),
		zap.String("match_status", string(result.MatchStatus)),
		zap.Bool("replayed", result.Replayed),
		zap.String("note", result.Note))
	RespondJSON(w, http.StatusOK, map[string]bool{"success": true})
}
