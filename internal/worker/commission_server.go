package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ayo6706/referral-commerce/internal/observability"
	"github.com/ayo6706/referral-commerce/internal/service"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type Distributor interface {
	Distribute(ctx context.Context, orderID uuid.UUID) (service.DistributionResult, error)
}

// CommissionWorker re-runs distributions that failed inline.
type CommissionWorker struct {
	distributor Distributor
}

func NewCommissionWorker(distributor Distributor) *CommissionWorker {
	return &CommissionWorker{distributor: distributor}
}

// HandleDistribute runs with the rate table current at execution time. An order distributed in
// the meantime is a no-op. Failures that another attempt cannot fix are not retried.
func (w *CommissionWorker) HandleDistribute(ctx context.Context, t *asynq.Task) error {
	var p DistributePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	result, err := w.distributor.Distribute(ctx, p.OrderID)
	if err != nil {
		logger := zap.L().With(zap.String("order_id", p.OrderID.String()))
		if !service.IsRetryable(err) {
			observability.IncrementWorkerRun("commission_retry", "abandoned")
			logger.Error("commission retry abandoned", zap.Error(err))
			return fmt.Errorf("distribute %s: %v: %w", p.OrderID, err, asynq.SkipRetry)
		}
		observability.IncrementWorkerRun("commission_retry", "failed")
		logger.Warn("commission retry failed", zap.Error(err))
		return err
	}

	observability.IncrementWorkerRun("commission_retry", "success")
	zap.L().Info("commission retry succeeded",
		zap.String("order_id", p.OrderID.String()),
		zap.Bool("already_distributed", result.AlreadyDistributed),
		zap.Int64("total_credited", result.TotalCredited))
	return nil
}

// NewCommissionServer builds the asynq server and mux for the retry queue.
func NewCommissionServer(redisOpt asynq.RedisConnOpt, worker *CommissionWorker) (*asynq.Server, *asynq.ServeMux) {
	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				commissionQueue: 1,
			},
			Logger: zapAsynqLogger{zap.S()},
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeCommissionDistribute, worker.HandleDistribute)
	return srv, mux
}

// StartCommissionServer starts processing in the background and returns a stop function.
func StartCommissionServer(redisOpt asynq.RedisConnOpt, worker *CommissionWorker) (func(), error) {
	srv, mux := NewCommissionServer(redisOpt, worker)
	if err := srv.Start(mux); err != nil {
		return nil, fmt.Errorf("start commission retry server: %w", err)
	}
	zap.L().Info("commission retry server started", zap.String("queue", commissionQueue))
	return srv.Shutdown, nil
}

// zapAsynqLogger routes asynq's internal logging through zap.
type zapAsynqLogger struct {
	s *zap.SugaredLogger
}

func (l zapAsynqLogger) Debug(args ...interface{}) { l.s.Debug(args...) }
func (l zapAsynqLogger) Info(args ...interface{})  { l.s.Info(args...) }
func (l zapAsynqLogger) Warn(args ...interface{})  { l.s.Warn(args...) }
func (l zapAsynqLogger) Error(args ...interface{}) { l.s.Error(args...) }
func (l zapAsynqLogger) Fatal(args ...interface{}) { l.s.Fatal(args...) }
