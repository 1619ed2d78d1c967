package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jhossain1509/email-database-manager/internal/db"
	"github.com/jhossain1509/email-database-manager/internal/export"
	"github.com/jhossain1509/email-database-manager/internal/logging"
	"github.com/jhossain1509/email-database-manager/internal/storage/artifacts"
	"github.com/jhossain1509/email-database-manager/internal/validator"
)

const exportProgressEvery = 100

type ExportRequest struct {
	JobID    string
	TenantID string
	Filter   export.Filter
	Format   export.Format
	Policy   IsolationPolicy
}

type ExportResult struct {
	Files       []string `json:"files"`
	RecordCount int      `json:"record_count"`
	HistoryIDs  []string `json:"history_ids"`
}

type Exporter struct {
	Deps
	exportDir string
	artifacts artifacts.Store
}

func NewExporter(deps Deps, exportDir string, store artifacts.Store) *Exporter {
	if store == nil {
		store = artifacts.NewLocalStore(exportDir)
	}
	return &Exporter{Deps: deps, exportDir: exportDir, artifacts: store}
}

func artifactBase(jobID string, now time.Time) string {
	short := jobID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("export_%s_%s", now.Format("20060102_150405"), short)
}

func (ex *Exporter) Run(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	logger := ex.Logger.With(zap.String("job_id", req.JobID))

	tr, _, err := ex.begin(ctx, req.JobID)
	if err != nil {
		return nil, err
	}

	fail := func(cause error) (*ExportResult, error) {
		if err := tr.Fail(ctx, cause); err != nil {
			logger.Error("Failed to record job failure", zap.Error(err))
		}
		return nil, cause
	}

	if req.Policy == nil {
		return fail(fmt.Errorf("%w: none configured", ErrUnknownPolicy))
	}
	if err := req.Filter.Validate(); err != nil {
		return fail(err)
	}
	format := req.Format.Normalized()

	candidates, err := req.Policy.ExportCandidates(ctx, req.Filter)
	if err != nil {
		return fail(fmt.Errorf("failed to resolve export candidates: %w", err))
	}
	candidates = export.ApplyLimits(candidates, req.Filter.DomainLimits)
	candidates = export.Sample(candidates, req.Filter.Sample)

	if err := tr.Start(ctx, len(candidates)); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(ex.exportDir, 0o755); err != nil {
		return fail(fmt.Errorf("failed to create export directory: %w", err))
	}

	split := format.Split && len(candidates) > format.SplitSize
	chunkSize := 0
	if split {
		chunkSize = format.SplitSize
	}
	now := time.Now()
	base := artifactBase(req.JobID, now)
	chunker := export.NewChunker(ex.exportDir, base, format, chunkSize)

	written := make([]*db.AddressRecord, 0, len(candidates))
	for _, rec := range candidates {
		// suppression is checked per row so entries added mid-export still apply
		suppressed, err := ex.Store.IsSuppressed(ctx, validator.Normalize(rec.Email))
		if err != nil {
			tr.RecordError()
			logger.Error("Failed to check suppression, skipping record", logging.Email(rec.Email), zap.Error(err))
			continue
		}
		if suppressed {
			continue
		}
		if err := chunker.Write(rec); err != nil {
			chunker.Close()
			return fail(err)
		}
		written = append(written, rec)
		if len(written)%exportProgressEvery == 0 {
			progress(ctx, tr, logger, len(written))
		}
	}

	files, err := chunker.Close()
	if err != nil {
		return fail(err)
	}
	if split {
		zipPath := filepath.Join(ex.exportDir, base+".zip")
		if err := export.Archive(zipPath, files); err != nil {
			return fail(err)
		}
		files = []string{zipPath}
	}

	result := &ExportResult{RecordCount: len(written)}
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			return fail(fmt.Errorf("failed to stat artifact: %w", err))
		}
		location, err := ex.artifacts.Put(ctx, path)
		if err != nil {
			return fail(err)
		}

		h := &db.DownloadHistory{
			ID:          uuid.New().String(),
			TenantID:    req.TenantID,
			JobID:       req.JobID,
			Filename:    filepath.Base(path),
			Path:        location,
			SizeBytes:   info.Size(),
			RecordCount: len(written),
			Filters:     fmt.Sprintf("%s format=%s", req.Filter.Describe(), format.Kind),
			CreatedAt:   now,
		}
		if req.Filter.BatchID != "" {
			batchID := req.Filter.BatchID
			h.BatchID = &batchID
		}
		if err := req.Policy.RecordExport(ctx, h, written); err != nil {
			return fail(fmt.Errorf("failed to record export: %w", err))
		}
		result.Files = append(result.Files, h.Filename)
		result.HistoryIDs = append(result.HistoryIDs, h.ID)
	}
	ex.observer().RecordExport(string(format.Kind), len(written))

	msg := fmt.Sprintf("Exported %d records to %d file(s)", len(written), len(result.Files))
	payload := map[string]interface{}{
		"files":        result.Files,
		"record_count": result.RecordCount,
		"history_ids":  result.HistoryIDs,
	}
	if err := tr.Complete(ctx, msg, payload); err != nil {
		return result, err
	}

	logger.Info("Export finished",
		zap.Int("records", len(written)),
		zap.Int("candidates", len(candidates)),
		zap.Strings("files", result.Files),
	)
	return result, nil
}
