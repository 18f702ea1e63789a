package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Task types
const (
	TypeCommissionDistribute = "commission:distribute"
)

const commissionQueue = "commissions"

type DistributePayload struct {
	OrderID uuid.UUID `json:"order_id"`
}

// NewDistributeTask builds the retry task for one order. The task id is derived from the order
// so an order is never queued twice at the same time.
func NewDistributeTask(orderID uuid.UUID, maxRetry int) (*asynq.Task, error) {
	payload, err := json.Marshal(DistributePayload{OrderID: orderID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeCommissionDistribute, payload,
		asynq.TaskID(distributeTaskID(orderID)),
		asynq.MaxRetry(maxRetry),
		asynq.Queue(commissionQueue),
	), nil
}

func distributeTaskID(orderID uuid.UUID) string {
	return "distribute:" + orderID.String()
}

// ErrRetriesExhausted means the order's earlier retry task ran out of attempts and sits in the
// archive, so asynq will not accept another one under the same id.
var ErrRetriesExhausted = errors.New("commission retries exhausted")

// TaskEnqueuer is the part of *asynq.Client the retry queue uses.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskInspector is the part of *asynq.Inspector used to tell a waiting retry from a dead one.
type TaskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
}

// CommissionRetryQueue hands failed distributions to asynq.
type CommissionRetryQueue struct {
	client    TaskEnqueuer
	inspector TaskInspector
	maxRetry  int
}

// NewCommissionRetryQueue builds the queue. A nil inspector trusts every id conflict to be a
// live task.
func NewCommissionRetryQueue(client TaskEnqueuer, inspector TaskInspector, maxRetry int) *CommissionRetryQueue {
	return &CommissionRetryQueue{client: client, inspector: inspector, maxRetry: maxRetry}
}

// EnqueueDistribution queues one more attempt. An attempt already waiting for the same order
// counts as success; an archived one returns ErrRetriesExhausted so the caller escalates.
func (q *CommissionRetryQueue) EnqueueDistribution(ctx context.Context, orderID uuid.UUID) error {
	task, err := NewDistributeTask(orderID, q.maxRetry)
	if err != nil {
		return fmt.Errorf("build distribute task: %w", err)
	}
	info, err := q.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return q.checkExisting(orderID)
	}
	if err != nil {
		return fmt.Errorf("enqueue distribute task: %w", err)
	}
	zap.L().Info("commission retry queued",
		zap.String("order_id", orderID.String()),
		zap.String("task_id", info.ID),
		zap.String("queue", info.Queue))
	return nil
}

func (q *CommissionRetryQueue) checkExisting(orderID uuid.UUID) error {
	logger := zap.L().With(zap.String("order_id", orderID.String()))
	if q.inspector == nil {
		logger.Info("commission retry already queued")
		return nil
	}
	info, err := q.inspector.GetTaskInfo(commissionQueue, distributeTaskID(orderID))
	if err != nil {
		return fmt.Errorf("inspect distribute task: %w", err)
	}
	if info.State == asynq.TaskStateArchived {
		logger.Warn("commission retry archived, not queueing again",
			zap.Int("retried", info.Retried),
			zap.String("last_err", info.LastErr))
		return fmt.Errorf("order %s: %w", orderID, ErrRetriesExhausted)
	}
	logger.Info("commission retry already queued", zap.String("state", info.State.String()))
	return nil
}
