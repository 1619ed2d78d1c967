package pipeline

import (
	"context"
	"time"

	"github.com/jhossain1509/email-database-manager/internal/db"
)

// Store is the persistence the pipelines need. *db.Repository satisfies it.
type Store interface {
	GetBatch(ctx context.Context, id string) (*db.Batch, error)
	UpdateBatchCounters(ctx context.Context, b *db.Batch) error
	SetBatchStatus(ctx context.Context, id string, status db.BatchStatus) error
	CountBatchValidity(ctx context.Context, batchID string) (int, int, error)
	CountTenantBatchValidity(ctx context.Context, batchID, tenantID string) (int, int, error)

	InsertRecord(ctx context.Context, rec *db.AddressRecord) (bool, error)
	FindRecordByEmail(ctx context.Context, normalized string) (*db.AddressRecord, error)
	ListRecords(ctx context.Context, q db.RecordQuery) ([]*db.AddressRecord, error)
	ApplyValidation(ctx context.Context, u db.ValidationUpdate) (bool, error)
	MarkDownloaded(ctx context.Context, ids []string, at time.Time) error

	InsertRejected(ctx context.Context, e *db.RejectedEntry) error
	InsertTenantItem(ctx context.Context, it *db.TenantItem) (bool, error)
	ResetImportRun(ctx context.Context, batchID, jobID string) error

	GetJob(ctx context.Context, id string) (*db.Job, error)
	SaveJob(ctx context.Context, j *db.Job) error

	IsSuppressed(ctx context.Context, email string) (bool, error)
	SuppressedEmails(ctx context.Context) ([]string, error)
	ListIgnoreDomains(ctx context.Context) ([]string, error)

	ListActiveSMTPEndpoints(ctx context.Context) ([]*db.SMTPEndpoint, error)
	TouchSMTPEndpoint(ctx context.Context, id string, at time.Time) error

	InsertDownloadHistory(ctx context.Context, h *db.DownloadHistory) error
	InsertTenantDownloadHistory(ctx context.Context, h *db.DownloadHistory) error
	IncrementTenantDownload(ctx context.Context, id string, at time.Time) error
}

// Observer receives pipeline counters. metrics.Collector implements it.
type Observer interface {
	RecordAdmission(policy, outcome string)
	RecordRejection(reason string)
	RecordValidation(method, state string)
	RecordExport(kind string, records int)
}

type nopObserver struct{}

func (nopObserver) RecordAdmission(string, string)  {}
func (nopObserver) RecordRejection(string)          {}
func (nopObserver) RecordValidation(string, string) {}
func (nopObserver) RecordExport(string, int)        {}
