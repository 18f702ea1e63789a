package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"go.uber.org/zap"
)

var ErrInvalidSignature = errors.New("invalid signature")

// transactionDateLayouts are the timestamp formats bank gateways have been seen to send.
var transactionDateLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
}

// BankWebhookPayload is the transfer notification posted by the bank gateway.
type BankWebhookPayload struct {
	ID              externalID `json:"id"`
	Gateway         string     `json:"gateway"`
	TransactionDate string     `json:"transactionDate"`
	AccountNumber   string     `json:"accountNumber"`
	Code            *string    `json:"code"`
	Content         string     `json:"content"`
	TransferType    string     `json:"transferType"`
	TransferAmount  int64      `json:"transferAmount"`
	ReferenceCode   string     `json:"referenceCode"`
	Description     string     `json:"description"`
}

// externalID accepts the gateway's id as either a JSON number or a string.
type externalID string

func (e *externalID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = externalID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*e = externalID(n.String())
	return nil
}

// ParseBankWebhook decodes a gateway payload into a BankEvent.
func ParseBankWebhook(payload []byte) (BankEvent, error) {
	var p BankWebhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return BankEvent{}, fmt.Errorf("decode bank webhook: %v: %w", err, domain.ErrInvalidInput)
	}

	event := BankEvent{
		ExternalID:    string(p.ID),
		Gateway:       strings.TrimSpace(p.Gateway),
		AccountNumber: strings.TrimSpace(p.AccountNumber),
		TransferType:  strings.ToLower(strings.TrimSpace(p.TransferType)),
		Content:       p.Content,
		Amount:        p.TransferAmount,
		RawPayload:    payload,
	}
	if event.ExternalID == "" {
		event.ExternalID = strings.TrimSpace(p.ReferenceCode)
	}
	// Some gateways pre-extract the payment code; keep it searchable alongside the memo.
	if p.Code != nil && strings.TrimSpace(*p.Code) != "" {
		event.Content = strings.TrimSpace(*p.Code) + " " + event.Content
	}
	if strings.TrimSpace(event.Content) == "" {
		event.Content = p.Description
	}
	if p.TransactionDate != "" {
		ts, err := parseTransactionDate(p.TransactionDate)
		if err != nil {
			return BankEvent{}, err
		}
		event.TransactionDate = ts
	}
	if err := event.Validate(); err != nil {
		return BankEvent{}, err
	}
	return event, nil
}

func parseTransactionDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range transactionDateLayouts {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("transaction date %q: %w", v, domain.ErrInvalidInput)
}

// WebhookService authenticates bank gateway deliveries and hands them to the reconciler.
type WebhookService struct {
	reconciler *PaymentReconciler
	hmacKey    []byte
	skipSig    bool
}

func NewWebhookService(reconciler *PaymentReconciler, hmacKey string, skipSignature bool) *WebhookService {
	return &WebhookService{
		reconciler: reconciler,
		hmacKey:    []byte(hmacKey),
		skipSig:    skipSignature,
	}
}

// HandleBankWebhook returns ErrInvalidSignature for an unauthenticated delivery. Every other
// failure is logged and reported in the result only: the sender always gets an acknowledgment
// so it does not start a retry storm.
func (s *WebhookService) HandleBankWebhook(ctx context.Context, payload []byte, signature string) (IngestResult, error) {
	if !s.VerifySignature(payload, signature) {
		return IngestResult{}, ErrInvalidSignature
	}

	event, err := ParseBankWebhook(payload)
	if err != nil {
		zap.L().Warn("rejected bank webhook payload", zap.Error(err), zap.Int("payload_bytes", len(payload)))
		return IngestResult{Note: err.Error()}, nil
	}

	result, err := s.reconciler.Ingest(ctx, event)
	if err != nil {
		zap.L().Error("bank webhook ingest failed", zap.String("external_id", event.ExternalID), zap.Error(err))
		result.Note = err.Error()
		return result, nil
	}
	return result, nil
}

// VerifySignature checks X-Webhook-Signature ("sha256=<hex>") in constant time.
func (s *WebhookService) VerifySignature(payload []byte, signature string) bool {
	if s.skipSig {
		return true
	}
	if len(s.hmacKey) == 0 {
		return false
	}
	return hmac.Equal([]byte(strings.TrimSpace(signature)), []byte(SignPayload(s.hmacKey, payload)))
}

// SignPayload returns the signature header value a sender would attach to payload.
func SignPayload(key, payload []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
