package scheduler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jhossain1509/email-database-manager/internal/db"
	"github.com/jhossain1509/email-database-manager/internal/events"
	"github.com/jhossain1509/email-database-manager/internal/jobs"
	"github.com/jhossain1509/email-database-manager/internal/pipeline"
	"github.com/jhossain1509/email-database-manager/internal/queue"
)

// Store is what the dispatcher and its handlers read and write.
type Store interface {
	pipeline.Store
	HealthStore
}

// Dispatcher routes a queued task to the pipeline for its job type.
type Dispatcher struct {
	store     Store
	importer  *pipeline.Importer
	validator *pipeline.BatchValidator
	exporter  *pipeline.Exporter
	health    *HealthChecker
	sink      events.Sink
	observer  jobs.Observer
	logger    *zap.Logger
}

func NewDispatcher(store Store, importer *pipeline.Importer, validator *pipeline.BatchValidator, exporter *pipeline.Exporter, health *HealthChecker, sink events.Sink, observer jobs.Observer, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		importer:  importer,
		validator: validator,
		exporter:  exporter,
		health:    health,
		sink:      sink,
		observer:  observer,
		logger:    logger,
	}
}

// Dispatch runs one job. Redelivered jobs that already finished are not an
// error.
func (d *Dispatcher) Dispatch(ctx context.Context, task *queue.Task) error {
	job, err := d.store.GetJob(ctx, task.JobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", task.JobID, err)
	}
	if job.Status.Terminal() {
		d.logger.Info("Skipping finished job", zap.String("job_id", job.ID), zap.String("status", string(job.Status)))
		return nil
	}

	err = d.run(ctx, job)
	if errors.Is(err, pipeline.ErrAlreadyFinished) {
		return nil
	}
	return err
}

func (d *Dispatcher) run(ctx context.Context, job *db.Job) error {
	switch job.Type {
	case db.JobImport:
		var p jobs.ImportParams
		if err := jobs.DecodeParams(job.Params, &p); err != nil {
			return d.reject(ctx, job, err)
		}
		policy, err := pipeline.ParsePolicy(d.store, job.TenantID, p.Policy)
		if err != nil {
			return d.reject(ctx, job, err)
		}
		_, err = d.importer.Run(ctx, pipeline.ImportRequest{
			JobID:      job.ID,
			BatchID:    p.BatchID,
			TenantID:   job.TenantID,
			SourcePath: p.SourcePath,
			Consent:    p.Consent,
			Policy:     policy,
		})
		return err

	case db.JobValidate:
		var p jobs.ValidateParams
		if err := jobs.DecodeParams(job.Params, &p); err != nil {
			return d.reject(ctx, job, err)
		}
		policy, err := pipeline.ParsePolicy(d.store, job.TenantID, p.Policy)
		if err != nil {
			return d.reject(ctx, job, err)
		}
		_, err = d.validator.Run(ctx, pipeline.ValidateRequest{
			JobID:    job.ID,
			TenantID: job.TenantID,
			Selector: pipeline.Selector{BatchID: p.BatchID, AllUnverified: p.AllUnverified, Domains: p.Domains},
			CheckMX:  p.CheckMX,
			UseSMTP:  p.UseSMTP,
			Policy:   policy,
		})
		return err

	case db.JobExport:
		var p jobs.ExportParams
		if err := jobs.DecodeParams(job.Params, &p); err != nil {
			return d.reject(ctx, job, err)
		}
		policy, err := pipeline.ParsePolicy(d.store, job.TenantID, p.Policy)
		if err != nil {
			return d.reject(ctx, job, err)
		}
		_, err = d.exporter.Run(ctx, pipeline.ExportRequest{
			JobID:    job.ID,
			TenantID: job.TenantID,
			Filter:   p.Filter,
			Format:   p.Format,
			Policy:   policy,
		})
		return err

	case db.JobSMTPHealth:
		return d.health.Run(ctx, job)

	default:
		return d.reject(ctx, job, fmt.Errorf("unknown job type %q", job.Type))
	}
}

// reject fails a job whose parameters cannot be turned into a request.
func (d *Dispatcher) reject(ctx context.Context, job *db.Job, cause error) error {
	tr := jobs.NewTracker(job, d.store, d.sink, d.observer, d.logger)
	if err := tr.Fail(ctx, cause); err != nil {
		d.logger.Error("Failed to record job failure", zap.String("job_id", job.ID), zap.Error(err))
	}
	return cause
}
