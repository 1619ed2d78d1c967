package jobs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jhossain1509/email-database-manager/internal/db"
	"github.com/jhossain1509/email-database-manager/internal/events"
)

var (
	ErrProgressRegression = errors.New("progress counters cannot move backwards")
	ErrTerminal           = errors.New("job already finished")
)

// Store persists tracked job state.
type Store interface {
	SaveJob(ctx context.Context, j *db.Job) error
}

// Observer counts progress events that could not be delivered.
type Observer interface {
	RecordPublishFailure(jobType string)
}

type nopObserver struct{}

func (nopObserver) RecordPublishFailure(string) {}

// Tracker owns the lifecycle of one job row for the duration of a run.
type Tracker struct {
	mu       sync.Mutex
	job      *db.Job
	store    Store
	sink     events.Sink
	observer Observer
	logger   *zap.Logger
}

func NewTracker(job *db.Job, store Store, sink events.Sink, observer Observer, logger *zap.Logger) *Tracker {
	if sink == nil {
		sink = events.NopSink{}
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Tracker{
		job:      job,
		store:    store,
		sink:     sink,
		observer: observer,
		logger:   logger.With(zap.String("job_id", job.ID), zap.String("job_type", string(job.Type))),
	}
}

// Snapshot returns a copy of the current job state.
func (t *Tracker) Snapshot() db.Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.job
}

// Percent is processed*100/total rounded to two decimals and capped at 100.
func Percent(processed, total int) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(processed) * 100 / float64(total)
	if p > 100 {
		p = 100
	}
	return math.Round(p*100) / 100
}

func (t *Tracker) Start(ctx context.Context, total int) error {
	t.mu.Lock()
	if t.job.Status.Terminal() {
		t.mu.Unlock()
		return ErrTerminal
	}
	now := time.Now()
	t.job.Status = db.JobRunning
	t.job.Total = total
	if t.job.StartedAt == nil {
		t.job.StartedAt = &now
	}
	snap := *t.job
	t.mu.Unlock()

	return t.persist(ctx, snap, "")
}

// SetTotal adjusts the denominator once the real workload size is known.
func (t *Tracker) SetTotal(ctx context.Context, total int) error {
	t.mu.Lock()
	if t.job.Status.Terminal() {
		t.mu.Unlock()
		return ErrTerminal
	}
	t.job.Total = total
	t.job.ProgressPercent = math.Max(t.job.ProgressPercent, Percent(t.job.Processed, total))
	snap := *t.job
	t.mu.Unlock()

	return t.persist(ctx, snap, "")
}

// ApplyProgress moves the counters forward. A value lower than the stored one
// leaves the job untouched and returns ErrProgressRegression.
func (t *Tracker) ApplyProgress(ctx context.Context, processed, errs int) error {
	t.mu.Lock()
	if t.job.Status.Terminal() {
		t.mu.Unlock()
		return ErrTerminal
	}
	if processed < t.job.Processed || errs < t.job.Errors {
		t.mu.Unlock()
		return fmt.Errorf("%w: processed %d, errors %d", ErrProgressRegression, processed, errs)
	}
	t.job.Processed = processed
	t.job.Errors = errs
	t.job.ProgressPercent = math.Max(t.job.ProgressPercent, Percent(processed, t.job.Total))
	snap := *t.job
	t.mu.Unlock()

	return t.persist(ctx, snap, "")
}

// RecordError bumps the error counter in memory; it is flushed with the next
// progress update or terminal transition.
func (t *Tracker) RecordError() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.job.Status.Terminal() {
		t.job.Errors++
	}
}

func (t *Tracker) Errors() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.job.Errors
}

func (t *Tracker) Complete(ctx context.Context, message string, payload map[string]interface{}) error {
	t.mu.Lock()
	if t.job.Status.Terminal() {
		t.mu.Unlock()
		return ErrTerminal
	}
	now := time.Now()
	t.job.Status = db.JobCompleted
	t.job.ResultMessage = message
	t.job.ResultData = db.JSONB(payload)
	t.job.ProgressPercent = 100
	if t.job.Processed < t.job.Total {
		t.job.Processed = t.job.Total
	}
	t.job.CompletedAt = &now
	snap := *t.job
	t.mu.Unlock()

	t.logger.Info("Job completed", zap.String("message", message))
	return t.persist(ctx, snap, message)
}

func (t *Tracker) Fail(ctx context.Context, cause error) error {
	t.mu.Lock()
	if t.job.Status.Terminal() {
		t.mu.Unlock()
		return ErrTerminal
	}
	now := time.Now()
	t.job.Status = db.JobFailed
	t.job.ErrorMessage = cause.Error()
	t.job.CompletedAt = &now
	snap := *t.job
	t.mu.Unlock()

	t.logger.Error("Job failed", zap.Error(cause))
	return t.persist(ctx, snap, cause.Error())
}

func (t *Tracker) persist(ctx context.Context, snap db.Job, message string) error {
	if err := t.store.SaveJob(ctx, &snap); err != nil {
		return fmt.Errorf("failed to persist job state: %w", err)
	}

	p := events.Progress{
		JobID:   snap.ID,
		Status:  string(snap.Status),
		Current: snap.Processed,
		Total:   snap.Total,
		Percent: snap.ProgressPercent,
		Message: message,
	}
	if err := t.sink.Publish(ctx, p); err != nil {
		t.observer.RecordPublishFailure(string(snap.Type))
		t.logger.Warn("Failed to publish job progress", zap.Error(err))
	}
	return nil
}
