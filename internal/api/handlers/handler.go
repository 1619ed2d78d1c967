package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jhossain1509/email-database-manager/internal/api/middleware"
	"github.com/jhossain1509/email-database-manager/internal/config"
	"github.com/jhossain1509/email-database-manager/internal/db"
	"github.com/jhossain1509/email-database-manager/internal/jobs"
	"github.com/jhossain1509/email-database-manager/internal/queue"
	"github.com/jhossain1509/email-database-manager/internal/storage/artifacts"
)

// Store is the slice of the repository the HTTP API touches.
type Store interface {
	Ping(ctx context.Context) error

	CreateBatch(ctx context.Context, b *db.Batch) error
	GetBatchForTenant(ctx context.Context, id, tenantID string) (*db.Batch, error)
	ListBatches(ctx context.Context, tenantID string, limit, offset int) ([]*db.Batch, error)
	ListRejected(ctx context.Context, batchID string) ([]*db.RejectedEntry, error)

	CreateJob(ctx context.Context, j *db.Job) error
	GetJobForTenant(ctx context.Context, id, tenantID string) (*db.Job, error)

	ListSMTPEndpoints(ctx context.Context) ([]*db.SMTPEndpoint, error)
	InsertSMTPEndpoints(ctx context.Context, endpoints []*db.SMTPEndpoint) error
	SetSMTPEndpointActive(ctx context.Context, id string, active bool) error

	AddSuppressions(ctx context.Context, entries []db.Suppression) (int, error)
	ListIgnoreDomains(ctx context.Context) ([]string, error)
	AddIgnoreDomains(ctx context.Context, domains []string) (int, error)
	DeleteIgnoreDomain(ctx context.Context, domain string) error

	ListDownloadHistory(ctx context.Context, tenantID string, isolated bool) ([]*db.DownloadHistory, error)
	GetDownloadHistory(ctx context.Context, id, tenantID string, isolated bool) (*db.DownloadHistory, error)
	IncrementTenantDownload(ctx context.Context, id string, at time.Time) error
}

type Enqueuer interface {
	Push(ctx context.Context, task *queue.Task) error
}

// ProgressSubscriber opens the pub/sub channel a running job publishes on.
type ProgressSubscriber interface {
	Subscribe(ctx context.Context, jobID string) *redis.PubSub
}

type Handler struct {
	store     Store
	queue     Enqueuer
	progress  ProgressSubscriber
	artifacts artifacts.Store
	files     config.FilesConfig
	logger    *zap.Logger
}

func NewHandler(store Store, queue Enqueuer, progress ProgressSubscriber, artifacts artifacts.Store, files config.FilesConfig, logger *zap.Logger) *Handler {
	return &Handler{
		store:     store,
		queue:     queue,
		progress:  progress,
		artifacts: artifacts,
		files:     files,
		logger:    logger,
	}
}

// enqueue creates the pending job row and hands its id to the workers.
func (h *Handler) enqueue(c *gin.Context, jobType db.JobType, batchID *string, params interface{}) (*db.Job, error) {
	encoded, err := jobs.EncodeParams(params)
	if err != nil {
		return nil, err
	}

	tenantID := middleware.TenantID(c)
	job := &db.Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Status:    db.JobPending,
		Params:    encoded,
		TenantID:  tenantID,
		BatchID:   batchID,
		CreatedAt: time.Now(),
	}
	ctx := c.Request.Context()
	if err := h.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	task := &queue.Task{JobID: job.ID, Type: string(jobType), TenantID: tenantID}
	if err := h.queue.Push(ctx, task); err != nil {
		return nil, err
	}

	h.logger.Info("Job enqueued",
		zap.String("job_id", job.ID),
		zap.String("job_type", string(jobType)),
		zap.String("tenant_id", tenantID),
	)
	return job, nil
}
