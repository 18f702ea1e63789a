package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/models"
	"github.com/ayo6706/referral-commerce/internal/notify"
	"github.com/ayo6706/referral-commerce/internal/observability"
	"github.com/ayo6706/referral-commerce/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BankEvent is one inbound bank transfer notification.
type BankEvent struct {
	ExternalID      string
	Gateway         string
	AccountNumber   string
	TransferType    string
	Content         string
	Amount          int64
	TransactionDate time.Time
	RawPayload      []byte
}

func (e BankEvent) Validate() error {
	if strings.TrimSpace(e.ExternalID) == "" {
		return fmt.Errorf("external id is required: %w", domain.ErrInvalidInput)
	}
	if e.Amount <= 0 {
		return domain.ErrInvalidAmount
	}
	return nil
}

// IngestResult describes what one ingest did. Replayed is set when the external id had
// already been fully processed and nothing changed.
type IngestResult struct {
	EventID      uuid.UUID              `json:"event_id"`
	MatchStatus  domain.BankMatchStatus `json:"match_status"`
	Processed    bool                   `json:"processed"`
	OrderID      *uuid.UUID             `json:"order_id,omitempty"`
	Note         string                 `json:"note,omitempty"`
	Replayed     bool                   `json:"replayed"`
	Distribution *DistributionResult    `json:"distribution,omitempty"`
}

// outcome is the decision taken for an event inside the matching transaction.
type outcome struct {
	status    domain.BankMatchStatus
	processed bool
	orderID   *uuid.UUID
	note      string
}

// PaymentReconciler turns bank transfer notifications into confirmed orders. Each external id
// is stored once; a pending order converts at most once no matter how many events carry its
// code.
type PaymentReconciler struct {
	store    QueryStore
	engine   *CommissionEngine
	codes    *domain.OrderCodes
	retry    CommissionRetryEnqueuer
	notifier notify.Notifier
	audit    *AuditService
	now      func() time.Time
}

func NewPaymentReconciler(store QueryStore, engine *CommissionEngine, codes *domain.OrderCodes, retry CommissionRetryEnqueuer, notifier notify.Notifier) *PaymentReconciler {
	if notifier == nil {
		notifier = notify.NewLogNotifier()
	}
	return &PaymentReconciler{
		store:    store,
		engine:   engine,
		codes:    codes,
		retry:    retry,
		notifier: notifier,
		audit:    NewAuditService(store),
		now:      time.Now,
	}
}

// Ingest stores the event and tries to match it. The event row is committed on its own first so
// a failure while matching leaves it unprocessed for review instead of losing it.
func (r *PaymentReconciler) Ingest(ctx context.Context, event BankEvent) (IngestResult, error) {
	if err := event.Validate(); err != nil {
		return IngestResult{}, err
	}
	if event.TransactionDate.IsZero() {
		event.TransactionDate = r.now().UTC()
	}
	if event.TransferType == "" {
		event.TransferType = domain.TransferIn
	}

	stored, inserted, err := r.record(ctx, event)
	if err != nil {
		return IngestResult{}, err
	}
	logger := zap.L().With(zap.String("external_id", event.ExternalID), zap.String("event_id", stored.ID.String()))
	if !inserted && stored.Processed {
		logger.Info("bank event already processed, ignoring redelivery")
		return IngestResult{
			EventID:     stored.ID,
			MatchStatus: stored.MatchStatus,
			Processed:   true,
			OrderID:     stored.OrderID,
			Note:        stored.Note,
			Replayed:    true,
		}, nil
	}
	if !inserted {
		logger.Info("retrying match for unprocessed bank event")
	}

	var out outcome
	err = r.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		out, err = r.match(ctx, qtx, stored.ID)
		return err
	})
	if err != nil {
		logger.Error("bank event matching failed", zap.Error(err))
		return IngestResult{EventID: stored.ID, MatchStatus: stored.MatchStatus}, err
	}

	result := IngestResult{EventID: stored.ID, MatchStatus: out.status, Processed: out.processed, OrderID: out.orderID, Note: out.note}
	r.afterMatch(ctx, stored, out, &result)
	return result, nil
}

func (r *PaymentReconciler) record(ctx context.Context, event BankEvent) (models.BankTransactionEvent, bool, error) {
	var (
		stored   models.BankTransactionEvent
		inserted bool
	)
	err := r.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		stored, err = qtx.InsertBankEvent(ctx, repository.InsertBankEventParams{
			ID:              uuid.New(),
			ExternalID:      strings.TrimSpace(event.ExternalID),
			Gateway:         event.Gateway,
			AccountNumber:   event.AccountNumber,
			TransferType:    event.TransferType,
			Content:         event.Content,
			Amount:          event.Amount,
			TransactionDate: event.TransactionDate,
			RawPayload:      event.RawPayload,
		})
		if err == nil {
			inserted = true
			return nil
		}
		if !repository.IsNoRows(err) {
			return fmt.Errorf("insert bank event: %w", err)
		}
		stored, err = qtx.GetBankEventByExternalID(ctx, strings.TrimSpace(event.ExternalID))
		if err != nil {
			return fmt.Errorf("get bank event by external id: %w", err)
		}
		return nil
	})
	return stored, inserted, err
}

// match decides the event's fate on the caller's transaction. Only an AWAITING_PAYMENT
// reservation with the exact amount converts; every other case is recorded for review.
func (r *PaymentReconciler) match(ctx context.Context, qtx *repository.Queries, eventID uuid.UUID) (outcome, error) {
	event, err := qtx.GetBankEventForUpdate(ctx, eventID)
	if err != nil {
		return outcome{}, notFound(err, domain.ErrBankEventNotFound, "lock bank event")
	}
	if event.Processed {
		return outcome{status: event.MatchStatus, processed: true, orderID: event.OrderID, note: event.Note}, nil
	}

	var out outcome
	switch {
	case !strings.EqualFold(event.TransferType, domain.TransferIn):
		out = outcome{status: domain.BankIgnored, processed: true, note: "outgoing transfer"}
	default:
		code, ok := r.codes.Extract(event.Content)
		if !ok {
			out = outcome{status: domain.BankUnmatched, note: "no order code in transfer content"}
			break
		}
		out, err = r.matchCode(ctx, qtx, event, code)
		if err != nil {
			return outcome{}, err
		}
	}

	if err := r.mark(ctx, qtx, event, out, nil, nil); err != nil {
		return outcome{}, err
	}
	return out, nil
}

func (r *PaymentReconciler) matchCode(ctx context.Context, qtx *repository.Queries, event models.BankTransactionEvent, code string) (outcome, error) {
	// The reservation lock is what makes conversion exactly-once: a second event carrying the
	// same code waits here and then sees the converted status.
	pending, err := qtx.GetPendingOrderByCodeForUpdate(ctx, code)
	if repository.IsNoRows(err) {
		return outcome{status: domain.BankUnmatched, note: fmt.Sprintf("no reservation with code %s", code)}, nil
	}
	if err != nil {
		return outcome{}, fmt.Errorf("lock pending order: %w", err)
	}

	switch pending.Status {
	case domain.PendingPaid, domain.PendingConverted:
		return outcome{status: domain.BankDuplicate, processed: true, orderID: pending.OrderID, note: fmt.Sprintf("reservation %s already paid", code)}, nil
	case domain.PendingCancelled:
		return outcome{status: domain.BankUnmatched, note: fmt.Sprintf("reservation %s was cancelled before payment", code)}, nil
	}

	if event.Amount != pending.TotalAmount {
		return outcome{
			status: domain.BankAmountMismatch,
			note:   fmt.Sprintf("paid %d, reservation %s expects %d", event.Amount, code, pending.TotalAmount),
		}, nil
	}

	order, err := r.convert(ctx, qtx, pending, event, nil, nil)
	if err != nil {
		return outcome{}, err
	}
	return outcome{status: domain.BankMatched, processed: true, orderID: &order.ID}, nil
}

// convert retires an AWAITING_PAYMENT reservation into a CONFIRMED, PAID order.
func (r *PaymentReconciler) convert(ctx context.Context, qtx *repository.Queries, pending models.PendingOrder, event models.BankTransactionEvent, actorID *uuid.UUID, extra map[string]any) (models.Order, error) {
	fields := map[string]any{"bank_event_id": event.ID.String(), "external_id": event.ExternalID, "amount": event.Amount}
	for k, v := range extra {
		fields[k] = v
	}
	meta, err := marshalMetadata(fields)
	if err != nil {
		return models.Order{}, err
	}

	err = applyTransition(ctx, qtx, r.audit, stateChange[domain.PendingOrderStatus]{
		machine:  domain.PendingOrderStates,
		entity:   domain.EntityPendingOrder,
		id:       pending.ID,
		from:     pending.Status,
		to:       domain.PendingPaid,
		actor:    actorID,
		action:   "pending_order.paid",
		metadata: meta,
	}, func() (int64, error) {
		return qtx.UpdatePendingOrderStatus(ctx, repository.UpdatePendingOrderStatusParams{
			ID: pending.ID, Status: domain.PendingPaid, PrevStatus: pending.Status,
		})
	})
	if err != nil {
		return models.Order{}, err
	}

	paidAt := event.TransactionDate.UTC()
	order, err := qtx.CreateOrder(ctx, repository.CreateOrderParams{
		ID:             uuid.New(),
		Code:           pending.Code,
		BuyerID:        pending.BuyerID,
		PendingOrderID: &pending.ID,
		Items:          pending.Items,
		TotalAmount:    pending.TotalAmount,
		Status:         domain.OrderConfirmed,
		PaymentStatus:  domain.PaymentPaid,
		PaidAt:         &paidAt,
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return models.Order{}, fmt.Errorf("reservation %s: %w", pending.Code, domain.ErrAlreadyConverted)
		}
		return models.Order{}, fmt.Errorf("create order: %w", err)
	}
	if err := r.audit.Write(ctx, qtx, domain.EntityOrder, order.ID, actorID, "order.created", "", string(domain.OrderConfirmed), meta); err != nil {
		return models.Order{}, err
	}

	err = applyTransition(ctx, qtx, r.audit, stateChange[domain.PendingOrderStatus]{
		machine: domain.PendingOrderStates,
		entity:  domain.EntityPendingOrder,
		id:      pending.ID,
		from:    domain.PendingPaid,
		to:      domain.PendingConverted,
		actor:   actorID,
		action:  "pending_order.converted",
	}, func() (int64, error) {
		return qtx.UpdatePendingOrderStatus(ctx, repository.UpdatePendingOrderStatusParams{
			ID: pending.ID, Status: domain.PendingConverted, PrevStatus: domain.PendingPaid, OrderID: &order.ID,
		})
	})
	if err != nil {
		return models.Order{}, err
	}
	return order, nil
}

// mark writes the event's new match status. It is guarded by processed = FALSE, so a processed
// event can never be rewritten.
func (r *PaymentReconciler) mark(ctx context.Context, qtx *repository.Queries, event models.BankTransactionEvent, out outcome, actorID *uuid.UUID, meta []byte) error {
	rows, err := qtx.MarkBankEvent(ctx, repository.MarkBankEventParams{
		ID:          event.ID,
		MatchStatus: out.status,
		Processed:   out.processed,
		OrderID:     out.orderID,
		Note:        out.note,
	})
	if err != nil {
		return fmt.Errorf("mark bank event: %w", err)
	}
	if err := requireExactlyOne(rows, "mark bank event"); err != nil {
		return err
	}
	return r.audit.Write(ctx, qtx, domain.EntityBankEvent, event.ID, actorID, "bank_event."+strings.ToLower(string(out.status)), string(event.MatchStatus), string(out.status), meta)
}

// afterMatch runs once the matching transaction committed: metrics, admin notices and, for a
// fresh match, the commission distribution.
func (r *PaymentReconciler) afterMatch(ctx context.Context, event models.BankTransactionEvent, out outcome, result *IngestResult) {
	observability.IncrementBankEvent(string(out.status))
	logger := zap.L().With(
		zap.String("event_id", event.ID.String()),
		zap.String("external_id", event.ExternalID),
		zap.String("match_status", string(out.status)))

	switch out.status {
	case domain.BankMatched:
		logger.Info("bank payment matched", zap.String("order_id", out.orderID.String()), zap.Int64("amount", event.Amount))
		distribution, err := distributeOrRetry(ctx, r.engine, r.retry, r.notifier, *out.orderID)
		if err == nil {
			result.Distribution = &distribution
		}
	case domain.BankUnmatched:
		logger.Warn("bank payment unmatched", zap.String("note", out.note))
		r.notifier.NotifyAdmins(ctx, notify.Notice{Kind: notify.KindUnmatchedPayment, EntityID: event.ID, Amount: event.Amount, Message: out.note})
	case domain.BankAmountMismatch:
		logger.Warn("bank payment amount mismatch", zap.String("note", out.note))
		r.notifier.NotifyAdmins(ctx, notify.Notice{Kind: notify.KindAmountMismatch, EntityID: event.ID, Amount: event.Amount, Message: out.note})
	case domain.BankDuplicate:
		// A second real transfer for a paid reservation; the buyer is owed a refund.
		logger.Warn("bank payment duplicates a paid reservation", zap.String("note", out.note))
		r.notifier.NotifyAdmins(ctx, notify.Notice{Kind: notify.KindDuplicatePayment, EntityID: event.ID, Amount: event.Amount, Message: out.note})
	default:
		logger.Info("bank event recorded", zap.String("note", out.note))
	}
}

// ResolveBankEvent force-matches an unprocessed event to an AWAITING_PAYMENT reservation. The
// amount check is waived and the override is recorded in the audit trail.
func (r *PaymentReconciler) ResolveBankEvent(ctx context.Context, eventID uuid.UUID, code string, actorID uuid.UUID) (IngestResult, error) {
	code = r.codes.Normalize(code)
	var (
		event models.BankTransactionEvent
		out   outcome
	)
	err := r.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		event, err = qtx.GetBankEventForUpdate(ctx, eventID)
		if err != nil {
			return notFound(err, domain.ErrBankEventNotFound, "lock bank event")
		}
		if event.Processed {
			return fmt.Errorf("bank event %s already processed as %s: %w", eventID, event.MatchStatus, domain.ErrConflict)
		}

		pending, err := qtx.GetPendingOrderByCodeForUpdate(ctx, code)
		if err != nil {
			return notFound(err, domain.ErrPendingOrderNotFound, "lock pending order")
		}
		if pending.Status != domain.PendingAwaitingPayment {
			return fmt.Errorf("reservation %s is %s: %w", code, pending.Status, domain.ErrReservationClosed)
		}

		extra := map[string]any{"forced": true, "expected_amount": pending.TotalAmount}
		order, err := r.convert(ctx, qtx, pending, event, &actorID, extra)
		if err != nil {
			return err
		}
		out = outcome{status: domain.BankMatched, processed: true, orderID: &order.ID, note: fmt.Sprintf("resolved manually to %s", code)}
		meta, err := marshalMetadata(extra)
		if err != nil {
			return err
		}
		return r.mark(ctx, qtx, event, out, &actorID, meta)
	})
	if err != nil {
		return IngestResult{}, err
	}

	result := IngestResult{EventID: event.ID, MatchStatus: out.status, Processed: true, OrderID: out.orderID, Note: out.note}
	r.afterMatch(ctx, event, out, &result)
	return result, nil
}

func (r *PaymentReconciler) GetBankEvent(ctx context.Context, id uuid.UUID) (models.BankTransactionEvent, error) {
	event, err := read(ctx, r.store, func(q *repository.Queries) (models.BankTransactionEvent, error) {
		return q.GetBankEvent(ctx, id)
	})
	if err != nil {
		return models.BankTransactionEvent{}, notFound(err, domain.ErrBankEventNotFound, "get bank event")
	}
	return event, nil
}

func (r *PaymentReconciler) ListBankEvents(ctx context.Context, status domain.BankMatchStatus, page, pageSize int) ([]models.BankTransactionEvent, error) {
	limit, offset := pageWindow(page, pageSize)
	events, err := read(ctx, r.store, func(q *repository.Queries) ([]models.BankTransactionEvent, error) {
		return q.ListBankEvents(ctx, repository.ListBankEventsParams{MatchStatus: status, Limit: limit, Offset: offset})
	})
	if err != nil {
		return nil, fmt.Errorf("list bank events: %w", err)
	}
	return events, nil
}
