package services

import (
	"context"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/commitlore/backend/internal/config"
	"github.com/commitlore/backend/pkg/logger"
)

// Worker runs an asynq server bound to a single queue. Each pipeline
// queue gets its own Worker so concurrency and retry backoff can be
// tuned independently.
type Worker struct {
	queue   string
	server  *asynq.Server
	mux     *asynq.ServeMux
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewWorker creates a worker for one queue using its configured
// concurrency and exponential backoff base.
func NewWorker(redisCfg *config.RedisConfig, queue string, queueCfg *config.QueueConfig) *Worker {
	redisOpt := asynq.RedisClientOpt{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	}

	base := queueCfg.BackoffBase
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: queueCfg.Concurrency,
			Queues: map[string]int{
				queue: 1,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return backoffDelay(base, n)
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Warn().
					Str("queue", queue).
					Str("task", task.Type()).
					Err(err).
					Msg("task attempt failed")
			}),
		},
	)

	return &Worker{
		queue:  queue,
		server: server,
		mux:    asynq.NewServeMux(),
	}
}

// backoffDelay doubles the base delay for each prior failure.
func backoffDelay(base time.Duration, retried int) time.Duration {
	return base * time.Duration(1<<uint(retried))
}

// Handle registers a handler for a task type on this worker's queue.
func (w *Worker) Handle(taskType string, handler asynq.HandlerFunc) {
	w.mux.HandleFunc(taskType, handler)
}

// Start begins processing tasks in a background goroutine.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	w.running = true
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()
		logger.Infof("[Worker] Starting %s queue worker...", w.queue)
		if err := w.server.Run(w.mux); err != nil {
			logger.Errorf("[Worker] %s queue server error: %v", w.queue, err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the worker, waiting for in-flight tasks.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	logger.Infof("[Worker] Shutting down %s queue worker...", w.queue)
	w.server.Shutdown()
	w.running = false
	w.wg.Wait()
	logger.Infof("[Worker] %s queue worker stopped", w.queue)
}

// IsLastAttempt reports whether the task running under ctx has
// exhausted its retry budget. Used by handlers to persist terminal
// failure state before returning the final error.
func IsLastAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}
