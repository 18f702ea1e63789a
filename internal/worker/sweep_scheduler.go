package worker

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ayo6706/referral-commerce/internal/observability"
	"github.com/ayo6706/referral-commerce/internal/service"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type ExpirySweeper interface {
	Sweep(ctx context.Context) (service.SweepResult, error)
}

// SweepScheduler runs the expiry sweep on a cron schedule ("@every 5m", "*/5 * * * *", ...).
// A tick that fires while the previous sweep is still running is skipped.
type SweepScheduler struct {
	sweeper  ExpirySweeper
	schedule string
	cron     *cron.Cron
	running  atomic.Bool
}

func NewSweepScheduler(sweeper ExpirySweeper, schedule string) *SweepScheduler {
	return &SweepScheduler{
		sweeper:  sweeper,
		schedule: schedule,
		cron:     cron.New(),
	}
}

// Run registers the job and starts the scheduler. The returned function stops it and waits for a
// running sweep to finish.
func (s *SweepScheduler) Run(ctx context.Context) (func(), error) {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return nil, fmt.Errorf("schedule expiry sweep %q: %w", s.schedule, err)
	}
	s.cron.Start()
	zap.L().Info("expiry sweep scheduled", zap.String("schedule", s.schedule))
	return func() {
		<-s.cron.Stop().Done()
	}, nil
}

// RunOnce performs one sweep unless one is already in progress.
func (s *SweepScheduler) RunOnce(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		observability.IncrementWorkerRun("expiry_sweep", "skipped")
		return
	}
	defer s.running.Store(false)

	if ctx.Err() != nil {
		return
	}
	result, err := s.sweeper.Sweep(ctx)
	if err != nil {
		observability.IncrementWorkerRun("expiry_sweep", "failed")
		zap.L().Error("expiry sweep failed",
			zap.Error(err),
			zap.Int("reservations", result.Reservations),
			zap.Int("orders", result.Orders))
		return
	}
	observability.IncrementWorkerRun("expiry_sweep", "success")
}
