package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jhossain1509/email-database-manager/internal/db"
	"github.com/jhossain1509/email-database-manager/internal/queue"
)

const poolName = "jobs"

type PoolConfig struct {
	Concurrency    int
	PopTimeout     time.Duration
	LockTTL        time.Duration
	ReportInterval time.Duration
}

// Pool runs a fixed number of workers against the shared queue.
type Pool struct {
	config     PoolConfig
	tasks      TaskSource
	dispatcher TaskDispatcher
	locks      LockFactory
	metrics    Recorder
	logger     *zap.Logger
	workers    []*Worker
	busy       atomic.Int64
	wg         sync.WaitGroup
}

func NewPool(cfg PoolConfig, tasks TaskSource, dispatcher TaskDispatcher, locks LockFactory, metrics Recorder, logger *zap.Logger) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 5 * time.Second
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = 15 * time.Second
	}
	return &Pool{
		config:     cfg,
		tasks:      tasks,
		dispatcher: dispatcher,
		locks:      locks,
		metrics:    metrics,
		logger:     logger,
	}
}

// Start blocks until ctx is cancelled and every worker has returned.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("Starting worker pool", zap.Int("worker_count", p.config.Concurrency))

	p.workers = make([]*Worker, p.config.Concurrency)
	for i := 0; i < p.config.Concurrency; i++ {
		worker := NewWorker(i, p.tasks, p.dispatcher, p.locks, p.config.LockTTL, p.config.PopTimeout, p.metrics, p.logger)
		worker.busy = func(delta int) { p.busy.Add(int64(delta)) }
		p.workers[i] = worker
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Start(ctx)
		}(worker)
	}

	ticker := time.NewTicker(p.config.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Stopping worker pool")
			p.wg.Wait()
			return
		case <-ticker.C:
			p.report(ctx)
		}
	}
}

func (p *Pool) report(ctx context.Context) {
	if p.metrics == nil {
		return
	}
	size, err := p.tasks.Length(ctx)
	if err != nil {
		p.logger.Warn("Failed to read queue length", zap.Error(err))
		return
	}
	utilization := float64(p.busy.Load()) / float64(p.config.Concurrency)
	p.metrics.RecordWorkerMetrics(poolName, int(size), utilization)
}

type JobCreator interface {
	CreateJob(ctx context.Context, j *db.Job) error
}

type TaskSink interface {
	Push(ctx context.Context, task *queue.Task) error
}

// Scheduler enqueues the periodic SMTP endpoint health check.
type Scheduler struct {
	jobs     JobCreator
	queue    TaskSink
	interval time.Duration
	logger   *zap.Logger
}

func NewScheduler(jobs JobCreator, queue TaskSink, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		jobs:     jobs,
		queue:    queue,
		interval: interval,
		logger:   logger,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting scheduler", zap.Duration("health_interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping scheduler")
			return
		case <-ticker.C:
			if _, err := s.EnqueueHealthCheck(ctx); err != nil {
				s.logger.Error("Failed to schedule smtp health check", zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) EnqueueHealthCheck(ctx context.Context) (*db.Job, error) {
	job := &db.Job{
		ID:        uuid.New().String(),
		Type:      db.JobSMTPHealth,
		Status:    db.JobPending,
		Params:    db.JSONB{},
		CreatedAt: time.Now(),
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	if err := s.queue.Push(ctx, &queue.Task{JobID: job.ID, Type: string(job.Type)}); err != nil {
		return nil, err
	}
	s.logger.Debug("Scheduled smtp health check", zap.String("job_id", job.ID))
	return job, nil
}
