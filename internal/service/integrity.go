package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/referral-commerce/internal/notify"
	"github.com/ayo6706/referral-commerce/internal/observability"
	"github.com/ayo6706/referral-commerce/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IntegrityReport summarizes one pass over every wallet.
type IntegrityReport struct {
	Wallets   int            `json:"wallets"`
	Divergent []VerifyResult `json:"divergent,omitempty"`
}

// IntegrityService verifies that every wallet's history still explains its cached balance.
type IntegrityService struct {
	store    QueryStore
	ledger   *Ledger
	notifier notify.Notifier
}

func NewIntegrityService(store QueryStore, ledger *Ledger, notifier notify.Notifier) *IntegrityService {
	if notifier == nil {
		notifier = notify.NewLogNotifier()
	}
	return &IntegrityService{store: store, ledger: ledger, notifier: notifier}
}

// Run replays every wallet. A divergence is reported, never repaired.
func (s *IntegrityService) Run(ctx context.Context) (IntegrityReport, error) {
	ids, err := read(ctx, s.store, func(q *repository.Queries) ([]uuid.UUID, error) {
		return q.ListWalletIDs(ctx)
	})
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("list wallets: %w", err)
	}

	report := IntegrityReport{Wallets: len(ids)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		result, err := s.ledger.VerifyWallet(ctx, id)
		if err != nil {
			return report, err
		}
		if result.Consistent {
			continue
		}

		report.Divergent = append(report.Divergent, result)
		observability.IncrementLedgerImbalance(result.Divergence.Reason)
		zap.L().Error("CRITICAL: wallet history diverges from balance",
			zap.String("wallet_id", id.String()),
			zap.Int64("balance", result.Balance),
			zap.Int64("entry_id", result.Divergence.EntryID),
			zap.Int64("expected", result.Divergence.Expected),
			zap.Int64("actual", result.Divergence.Actual),
			zap.String("reason", result.Divergence.Reason))
		s.notifier.NotifyAdmins(ctx, notify.Notice{
			Kind:     notify.KindLedgerImbalance,
			EntityID: id,
			Amount:   result.Balance,
			Message:  result.Divergence.Reason,
		})
	}

	if len(report.Divergent) == 0 {
		zap.L().Info("Ledger Balanced", zap.Int("wallets", report.Wallets))
	}
	return report, nil
}
