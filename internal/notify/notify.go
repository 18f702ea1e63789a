package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Kind classifies an admin notification.
type Kind string

const (
	KindNegativeBalance  Kind = "negative_balance"
	KindUnmatchedPayment Kind = "unmatched_payment"
	KindAmountMismatch   Kind = "amount_mismatch"
	KindDuplicatePayment Kind = "duplicate_payment"
	KindDistributionFail Kind = "distribution_failed"
	KindLedgerImbalance  Kind = "ledger_imbalance"
)

type Notice struct {
	Kind     Kind
	EntityID uuid.UUID
	Amount   int64
	Message  string
}

// Notifier delivers admin-facing warnings. Delivery is best effort and must never fail the caller.
type Notifier interface {
	NotifyAdmins(ctx context.Context, n Notice)
}

// LogNotifier writes notices to the structured log. Outbound delivery (mail, chat) plugs in
// behind the same interface.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (LogNotifier) NotifyAdmins(_ context.Context, n Notice) {
	zap.L().Warn("admin notice",
		zap.String("kind", string(n.Kind)),
		zap.String("entity_id", n.EntityID.String()),
		zap.Int64("amount", n.Amount),
		zap.String("message", n.Message),
	)
}

// Recorder keeps notices in memory. Used by tests.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) NotifyAdmins(_ context.Context, n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

// Notices returns a copy of everything recorded so far.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// Count returns how many notices of kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, notice := range r.notices {
		if notice.Kind == kind {
			n++
		}
	}
	return n
}
