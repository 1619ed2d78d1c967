package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jhossain1509/email-database-manager/internal/db"
	"github.com/jhossain1509/email-database-manager/internal/events"
	"github.com/jhossain1509/email-database-manager/internal/jobs"
)

const (
	TestStatusSuccess = "success"
	TestStatusFailed  = "failed"
)

type HealthStore interface {
	jobs.Store
	ListSMTPEndpoints(ctx context.Context) ([]*db.SMTPEndpoint, error)
	UpdateSMTPTestStatus(ctx context.Context, id, status string, at time.Time) error
}

type HealthProber interface {
	HealthCheck(ctx context.Context, ep *db.SMTPEndpoint) error
}

type HealthRecorder interface {
	RecordEndpointHealth(endpointID, host string, healthy bool)
}

// HealthChecker opens a session against every configured endpoint and
// records the result as the endpoint's test status.
type HealthChecker struct {
	store    HealthStore
	prober   HealthProber
	recorder HealthRecorder
	sink     events.Sink
	observer jobs.Observer
	logger   *zap.Logger
}

func NewHealthChecker(store HealthStore, prober HealthProber, recorder HealthRecorder, sink events.Sink, observer jobs.Observer, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		store:    store,
		prober:   prober,
		recorder: recorder,
		sink:     sink,
		observer: observer,
		logger:   logger,
	}
}

func (h *HealthChecker) Run(ctx context.Context, job *db.Job) error {
	logger := h.logger.With(zap.String("job_id", job.ID))
	tr := jobs.NewTracker(job, h.store, h.sink, h.observer, h.logger)

	endpoints, err := h.store.ListSMTPEndpoints(ctx)
	if err != nil {
		cause := fmt.Errorf("failed to list smtp endpoints: %w", err)
		if ferr := tr.Fail(ctx, cause); ferr != nil {
			logger.Error("Failed to record job failure", zap.Error(ferr))
		}
		return cause
	}
	if err := tr.Start(ctx, len(endpoints)); err != nil {
		return err
	}

	healthy := 0
	for i, ep := range endpoints {
		status := TestStatusSuccess
		if err := h.prober.HealthCheck(ctx, ep); err != nil {
			status = TestStatusFailed
			logger.Warn("SMTP endpoint failed health check",
				zap.String("endpoint_id", ep.ID),
				zap.String("host", ep.Host),
				zap.Error(err),
			)
		} else {
			healthy++
		}
		if h.recorder != nil {
			h.recorder.RecordEndpointHealth(ep.ID, ep.Host, status == TestStatusSuccess)
		}
		if err := h.store.UpdateSMTPTestStatus(ctx, ep.ID, status, time.Now()); err != nil {
			tr.RecordError()
			logger.Error("Failed to store endpoint test status", zap.String("endpoint_id", ep.ID), zap.Error(err))
		}
		if err := tr.ApplyProgress(ctx, i+1, tr.Errors()); err != nil {
			logger.Warn("Failed to record progress", zap.Error(err))
		}
	}

	msg := fmt.Sprintf("Checked %d endpoints, %d healthy", len(endpoints), healthy)
	return tr.Complete(ctx, msg, map[string]interface{}{
		"checked": len(endpoints),
		"healthy": healthy,
	})
}
