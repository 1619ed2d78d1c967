package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/jhossain1509/email-database-manager/internal/queue"
)

// TaskSource is the queue workers pop from.
type TaskSource interface {
	Pop(ctx context.Context, timeout time.Duration) (*queue.Task, error)
	Length(ctx context.Context) (int64, error)
}

type TaskDispatcher interface {
	Dispatch(ctx context.Context, task *queue.Task) error
}

// JobLock guards one job against concurrent processing by two workers.
type JobLock interface {
	Acquire(ctx context.Context) (bool, error)
	Extend(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type LockFactory func(key string, ttl time.Duration) JobLock

type Recorder interface {
	RecordJob(jobType, status string, d time.Duration)
	RecordWorkerMetrics(poolName string, queueSize int, utilization float64)
}

type Worker struct {
	id         int
	tasks      TaskSource
	dispatcher TaskDispatcher
	locks      LockFactory
	lockTTL    time.Duration
	popTimeout time.Duration
	metrics    Recorder
	logger     *zap.Logger
	busy       func(delta int)
}

func NewWorker(id int, tasks TaskSource, dispatcher TaskDispatcher, locks LockFactory, lockTTL, popTimeout time.Duration, metrics Recorder, logger *zap.Logger) *Worker {
	return &Worker{
		id:         id,
		tasks:      tasks,
		dispatcher: dispatcher,
		locks:      locks,
		lockTTL:    lockTTL,
		popTimeout: popTimeout,
		metrics:    metrics,
		logger:     logger.With(zap.Int("worker_id", id)),
		busy:       func(int) {},
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Worker started")

	for {
		if ctx.Err() != nil {
			w.logger.Info("Worker stopped")
			return
		}

		task, err := w.tasks.Pop(ctx, w.popTimeout)
		if err != nil {
			if errors.Is(err, queue.ErrTimeout) || ctx.Err() != nil {
				continue
			}
			w.logger.Error("Failed to pop task", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		w.processTask(ctx, task)
	}
}

func (w *Worker) processTask(ctx context.Context, task *queue.Task) {
	start := time.Now()
	logger := w.logger.With(zap.String("job_id", task.JobID), zap.String("job_type", task.Type))

	lock := w.locks("job:"+task.JobID, w.lockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		logger.Error("Failed to acquire job lock", zap.Error(err))
		return
	}
	if !acquired {
		logger.Info("Job is already being processed elsewhere")
		return
	}
	defer func() {
		// the run's context may already be cancelled
		if err := lock.Release(context.Background()); err != nil {
			logger.Warn("Failed to release job lock", zap.Error(err))
		}
	}()

	stopRenew := w.renewLock(ctx, lock, logger)
	defer stopRenew()

	w.busy(1)
	defer w.busy(-1)

	logger.Debug("Processing job")
	status := "completed"
	if err := w.dispatcher.Dispatch(ctx, task); err != nil {
		status = "failed"
		logger.Error("Job failed", zap.Error(err))
	}
	if w.metrics != nil {
		w.metrics.RecordJob(task.Type, status, time.Since(start))
	}

	logger.Debug("Job processed",
		zap.String("status", status),
		zap.Duration("duration", time.Since(start)),
	)
}

// renewLock extends the job lock every third of its TTL until the returned
// stop function is called.
func (w *Worker) renewLock(ctx context.Context, lock JobLock, logger *zap.Logger) func() {
	interval := w.lockTTL / 3
	if interval <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				held, err := lock.Extend(ctx)
				switch {
				case err != nil:
					if ctx.Err() == nil {
						logger.Warn("Failed to extend job lock", zap.Error(err))
					}
				case !held:
					logger.Warn("Job lock lost while processing")
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
