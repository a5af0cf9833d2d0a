package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/commitlore/backend/internal/config"
	"github.com/commitlore/backend/pkg/logger"
)

// Queue names. Each queue has its own worker pool so slow PDF renders
// never starve commit summarization.
const (
	QueueSummary = "summary"
	QueueReport  = "report"
	QueuePDF     = "pdf"
)

// Task types registered on the queue workers.
const (
	TaskTypeSummary = "summary:generate"
	TaskTypeReport  = "report:generate"
	TaskTypePDF     = "pdf:render"
)

// Job states exposed to callers. Broker-internal states (scheduled,
// retry) all collapse into "waiting".
const (
	JobStateWaiting   = "waiting"
	JobStateActive    = "active"
	JobStateCompleted = "completed"
	JobStateFailed    = "failed"
)

// ErrJobNotFound is returned by Status when the broker no longer knows
// the job, e.g. after retention cleanup.
var ErrJobNotFound = errors.New("job not found")

// JobHandle identifies an enqueued job.
type JobHandle struct {
	ID    string `json:"id"`
	Queue string `json:"queue"`
}

// JobStatus is a point-in-time snapshot of a job.
type JobStatus struct {
	State    string `json:"state"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
	Retried  int    `json:"retried"`
}

// JobBroker is the durable queue abstraction used by the pipeline.
type JobBroker interface {
	// Enqueue adds a task to the named queue and returns its handle.
	Enqueue(ctx context.Context, queue, taskType string, payload interface{}) (*JobHandle, error)
	// Status reports the current state of a job previously enqueued.
	Status(ctx context.Context, queue, jobID string) (*JobStatus, error)
	// Cleanup removes completed jobs older than completedAge and failed
	// jobs older than failedAge from every queue.
	Cleanup(ctx context.Context, completedAge, failedAge time.Duration) error
	// Close releases broker connections.
	Close() error
}

// AsynqBroker implements JobBroker on top of asynq (Redis-backed).
type AsynqBroker struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queues    *config.QueuesConfig
}

// NewAsynqBroker connects to Redis and verifies the connection.
func NewAsynqBroker(redisCfg *config.RedisConfig, queues *config.QueuesConfig) (*AsynqBroker, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	}

	client := asynq.NewClient(redisOpt)
	inspector := asynq.NewInspector(redisOpt)

	// Verify connectivity before handing the broker out.
	if _, err := inspector.Queues(); err != nil {
		client.Close()
		inspector.Close()
		return nil, err
	}

	return &AsynqBroker{
		client:    client,
		inspector: inspector,
		queues:    queues,
	}, nil
}

// queuePolicy returns the retry policy configured for a queue.
func (b *AsynqBroker) queuePolicy(queue string) *config.QueueConfig {
	switch queue {
	case QueueReport:
		return &b.queues.Report
	case QueuePDF:
		return &b.queues.PDF
	default:
		return &b.queues.Summary
	}
}

// Enqueue marshals the payload and submits it to the named queue with
// the queue's configured retry budget and retention.
func (b *AsynqBroker) Enqueue(ctx context.Context, queue, taskType string, payload interface{}) (*JobHandle, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	policy := b.queuePolicy(queue)
	task := asynq.NewTask(taskType, data)
	info, err := b.client.EnqueueContext(ctx, task,
		asynq.Queue(queue),
		// asynq counts retries after the first attempt.
		asynq.MaxRetry(policy.MaxAttempts-1),
		asynq.Retention(policy.Retention),
	)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("queue", info.Queue).
		Str("task", taskType).
		Str("job_id", info.ID).
		Msg("job enqueued")

	return &JobHandle{ID: info.ID, Queue: info.Queue}, nil
}

// Status translates the broker's task state into the pipeline's
// four-state vocabulary.
func (b *AsynqBroker) Status(ctx context.Context, queue, jobID string) (*JobStatus, error) {
	info, err := b.inspector.GetTaskInfo(queue, jobID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	state := translateTaskState(info.State)
	return &JobStatus{
		State:    state,
		Progress: progressForState(state),
		Error:    info.LastErr,
		Retried:  info.Retried,
	}, nil
}

func translateTaskState(state asynq.TaskState) string {
	switch state {
	case asynq.TaskStateActive:
		return JobStateActive
	case asynq.TaskStateCompleted:
		return JobStateCompleted
	case asynq.TaskStateArchived:
		return JobStateFailed
	default:
		// pending, scheduled, retry and aggregating are all waiting
		// from the caller's point of view.
		return JobStateWaiting
	}
}

// progressForState maps a job state to a coarse percentage. Individual
// jobs do not report fine-grained progress.
func progressForState(state string) int {
	switch state {
	case JobStateActive:
		return 50
	case JobStateCompleted, JobStateFailed:
		return 100
	default:
		return 0
	}
}

// Cleanup deletes terminal jobs past their age threshold from all
// pipeline queues. Archived (failed) jobs are kept longer than
// completed ones so operators can inspect errors.
func (b *AsynqBroker) Cleanup(ctx context.Context, completedAge, failedAge time.Duration) error {
	now := time.Now()
	var firstErr error

	for _, queue := range []string{QueueSummary, QueueReport, QueuePDF} {
		removed := 0

		completed, err := b.inspector.ListCompletedTasks(queue, asynq.PageSize(500))
		if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, task := range completed {
			if now.Sub(task.CompletedAt) < completedAge {
				continue
			}
			if err := b.inspector.DeleteTask(queue, task.ID); err == nil {
				removed++
			}
		}

		archived, err := b.inspector.ListArchivedTasks(queue, asynq.PageSize(500))
		if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, task := range archived {
			if now.Sub(task.LastFailedAt) < failedAge {
				continue
			}
			if err := b.inspector.DeleteTask(queue, task.ID); err == nil {
				removed++
			}
		}

		if removed > 0 {
			logger.Info().Str("queue", queue).Int("removed", removed).Msg("queue cleanup")
		}
	}

	return firstErr
}

// Close shuts down the broker's Redis connections.
func (b *AsynqBroker) Close() error {
	if err := b.inspector.Close(); err != nil {
		logger.Warn().Err(err).Msg("inspector close")
	}
	return b.client.Close()
}
