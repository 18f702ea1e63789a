package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/referral-commerce/internal/observability"
	"github.com/ayo6706/referral-commerce/internal/service"
	"go.uber.org/zap"
)

// IntegrityRunner is the periodic ledger check.
type IntegrityRunner interface {
	Run(ctx context.Context) (service.IntegrityReport, error)
}

// IntegrityWorker replays every wallet's history on a fixed interval.
type IntegrityWorker struct {
	svc      IntegrityRunner
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewIntegrityWorker constructs a worker with a default hourly interval.
func NewIntegrityWorker(svc IntegrityRunner) *IntegrityWorker {
	return &IntegrityWorker{
		svc:      svc,
		interval: time.Hour,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// WithInterval updates the run interval.
func (w *IntegrityWorker) WithInterval(interval time.Duration) *IntegrityWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start blocks and runs the check at the configured interval.
func (w *IntegrityWorker) Start(ctx context.Context) {
	defer close(w.done)
	zap.L().Info("ledger integrity worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("ledger integrity worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("ledger integrity worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop stops the loop and waits for an in-flight run to return.
func (w *IntegrityWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	<-w.done
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *IntegrityWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *IntegrityWorker) runOnce(ctx context.Context) {
	report, err := w.svc.Run(ctx)
	if err != nil {
		observability.IncrementWorkerRun("ledger_integrity", "failed")
		zap.L().Error("ledger integrity run failed", zap.Error(err))
		return
	}
	result := "success"
	if len(report.Divergent) > 0 {
		result = "divergent"
	}
	observability.IncrementWorkerRun("ledger_integrity", result)
}
