package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/aerodocs/techpubs-backend/internal/platform/envutil"
	"github.com/aerodocs/techpubs-backend/internal/platform/logger"
)

// Queue names. One queue per worker type so operators can drain a single
// stage without touching the other.
const (
	QueueChunking  = "chunking"
	QueueEmbedding = "embedding"
)

const (
	TaskChunkDocument = "document:chunk"
	TaskEmbedChunks   = "document:embed"
)

// JobPayload is the entire queue message. Everything else the worker needs
// lives in the job ledger row, so a message that outlives its job carries no
// stale state.
type JobPayload struct {
	JobID int64 `json:"job_id"`
}

func RedisOptFromEnv(log *logger.Logger) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     envutil.GetEnv("REDIS_ADDR", "localhost:6379", log),
		Password: envutil.GetEnv("REDIS_PASSWORD", "", log),
		DB:       envutil.GetEnvAsInt("ASYNQ_REDIS_DB", 0, log),
	}
}

func NewChunkingTask(jobID int64) (*asynq.Task, error) {
	payload, err := json.Marshal(JobPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	// Retries are owned by the ledger (explicit requeue), not the broker.
	return asynq.NewTask(
		TaskChunkDocument,
		payload,
		asynq.MaxRetry(0),
		asynq.Timeout(30*time.Minute),
		asynq.Queue(QueueChunking),
	), nil
}

func NewEmbeddingTask(jobID int64) (*asynq.Task, error) {
	payload, err := json.Marshal(JobPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TaskEmbedChunks,
		payload,
		asynq.MaxRetry(0),
		asynq.Timeout(30*time.Minute),
		asynq.Queue(QueueEmbedding),
	), nil
}

// Enqueuer hands jobs to the background workers.
type Enqueuer interface {
	EnqueueChunking(ctx context.Context, jobID int64) error
	EnqueueEmbedding(ctx context.Context, jobID int64) error
	Close() error
}

type enqueuer struct {
	client *asynq.Client
	log    *logger.Logger
}

func NewEnqueuer(opt asynq.RedisClientOpt, baseLog *logger.Logger) Enqueuer {
	return &enqueuer{
		client: asynq.NewClient(opt),
		log:    baseLog.With("component", "queue_enqueuer"),
	}
}

func (e *enqueuer) EnqueueChunking(ctx context.Context, jobID int64) error {
	task, err := NewChunkingTask(jobID)
	if err != nil {
		return err
	}
	info, err := e.client.EnqueueContext(ctx, task)
	if err != nil {
		return err
	}
	e.log.Info("Enqueued chunking task", "job_id", jobID, "task_id", info.ID, "queue", info.Queue)
	return nil
}

func (e *enqueuer) EnqueueEmbedding(ctx context.Context, jobID int64) error {
	task, err := NewEmbeddingTask(jobID)
	if err != nil {
		return err
	}
	info, err := e.client.EnqueueContext(ctx, task)
	if err != nil {
		return err
	}
	e.log.Info("Enqueued embedding task", "job_id", jobID, "task_id", info.ID, "queue", info.Queue)
	return nil
}

func (e *enqueuer) Close() error { return e.client.Close() }

// Inspector exposes the queue-drain operation used by the admin monitor.
type Inspector interface {
	ClearPending(queue string) (int, error)
	PendingCount(queue string) (int, error)
	Close() error
}

type inspector struct {
	ins *asynq.Inspector
	log *logger.Logger
}

func NewInspector(opt asynq.RedisClientOpt, baseLog *logger.Logger) Inspector {
	return &inspector{
		ins: asynq.NewInspector(opt),
		log: baseLog.With("component", "queue_inspector"),
	}
}

func (i *inspector) ClearPending(queue string) (int, error) {
	n, err := i.ins.DeleteAllPendingTasks(queue)
	if err != nil {
		return 0, err
	}
	i.log.Info("Deleted pending tasks", "queue", queue, "count", n)
	return n, nil
}

func (i *inspector) PendingCount(queue string) (int, error) {
	info, err := i.ins.GetQueueInfo(queue)
	if err != nil {
		return 0, err
	}
	return info.Pending, nil
}

func (i *inspector) Close() error { return i.ins.Close() }

// IsKnownQueue guards the drain endpoint against arbitrary queue names.
func IsKnownQueue(name string) bool {
	return name == QueueChunking || name == QueueEmbedding
}
