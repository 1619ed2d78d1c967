package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/jhossain1509/email-database-manager/internal/db"
	"github.com/jhossain1509/email-database-manager/internal/events"
	"github.com/jhossain1509/email-database-manager/internal/jobs"
	"github.com/jhossain1509/email-database-manager/internal/logging"
	"github.com/jhossain1509/email-database-manager/internal/validator"
)

const (
	importProgressEvery = 100
	maxLineBytes        = 1024 * 1024
)

// ErrAlreadyFinished is returned when a redelivered job has already reached a
// terminal state.
var ErrAlreadyFinished = errors.New("job already finished")

type ImportRequest struct {
	JobID      string
	BatchID    string
	TenantID   string
	SourcePath string
	Consent    bool
	Policy     IsolationPolicy
}

type ImportResult struct {
	Imported   int `json:"imported"`
	Rejected   int `json:"rejected"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
	Errors     int `json:"errors"`
}

// Deps are the collaborators shared by every pipeline.
type Deps struct {
	Store         Store
	Validator     *validator.Validator
	Sink          events.Sink
	Observer      Observer
	EventObserver jobs.Observer
	Logger        *zap.Logger
}

func (d Deps) observer() Observer {
	if d.Observer == nil {
		return nopObserver{}
	}
	return d.Observer
}

// begin loads the job and wraps it in a tracker. Terminal jobs are refused.
func (d Deps) begin(ctx context.Context, jobID string) (*jobs.Tracker, *db.Job, error) {
	job, err := d.Store.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job.Status.Terminal() {
		return nil, job, ErrAlreadyFinished
	}
	return jobs.NewTracker(job, d.Store, d.Sink, d.EventObserver, d.Logger), job, nil
}

// progress reports a checkpoint. Regressions happen when a redelivered job
// restarts below its stored counters and are not worth more than a debug line.
func progress(ctx context.Context, tr *jobs.Tracker, logger *zap.Logger, processed int) {
	err := tr.ApplyProgress(ctx, processed, tr.Errors())
	switch {
	case err == nil:
	case errors.Is(err, jobs.ErrProgressRegression):
		logger.Debug("Progress below stored checkpoint", zap.Int("processed", processed))
	default:
		logger.Warn("Failed to record progress", zap.Error(err))
	}
}

// withIgnoreList returns the validator bound to the current ignore domains.
func (d Deps) withIgnoreList(ctx context.Context) (*validator.Validator, error) {
	domains, err := d.Store.ListIgnoreDomains(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ignore domains: %w", err)
	}
	return d.Validator.WithIgnoreList(validator.NewStaticIgnoreList(domains)), nil
}

type Importer struct {
	Deps
}

func NewImporter(deps Deps) *Importer {
	return &Importer{Deps: deps}
}

func (im *Importer) Run(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	logger := im.Logger.With(zap.String("job_id", req.JobID), zap.String("batch_id", req.BatchID))

	tr, job, err := im.begin(ctx, req.JobID)
	if err != nil {
		return nil, err
	}

	fail := func(cause error) (*ImportResult, error) {
		if err := im.Store.SetBatchStatus(ctx, req.BatchID, db.BatchFailed); err != nil && !errors.Is(err, db.ErrNotFound) {
			logger.Warn("Failed to mark batch failed", zap.Error(err))
		}
		if err := tr.Fail(ctx, cause); err != nil {
			logger.Error("Failed to record job failure", zap.Error(err))
		}
		return nil, cause
	}

	if req.Policy == nil {
		return fail(fmt.Errorf("%w: none configured", ErrUnknownPolicy))
	}

	batch, err := im.Store.GetBatch(ctx, req.BatchID)
	if err != nil {
		return fail(fmt.Errorf("failed to load batch %s: %w", req.BatchID, err))
	}

	if job.Status == db.JobRunning {
		logger.Info("Resuming import from the top")
		if err := im.Store.ResetImportRun(ctx, batch.ID, req.JobID); err != nil {
			return fail(err)
		}
	}

	total, err := countLines(req.SourcePath)
	if err != nil {
		return fail(err)
	}

	v, err := im.withIgnoreList(ctx)
	if err != nil {
		return fail(err)
	}
	suppressedList, err := im.Store.SuppressedEmails(ctx)
	if err != nil {
		return fail(fmt.Errorf("failed to load suppression list: %w", err))
	}
	suppressed := make(map[string]struct{}, len(suppressedList))
	for _, e := range suppressedList {
		suppressed[validator.Normalize(e)] = struct{}{}
	}

	if err := tr.Start(ctx, total); err != nil {
		return nil, err
	}
	if err := im.Store.SetBatchStatus(ctx, batch.ID, db.BatchRunning); err != nil {
		logger.Warn("Failed to mark batch running", zap.Error(err))
	}

	f, err := os.Open(req.SourcePath)
	if err != nil {
		return fail(fmt.Errorf("failed to open source file: %w", err))
	}
	defer f.Close()

	obs := im.observer()
	var tally Tally
	seen := make(map[string]struct{})

	reject := func(email string, reason validator.Reason, detail string) {
		if err := req.Policy.Reject(ctx, batch, req.JobID, email, validator.ExtractDomain(email), reason, detail); err != nil {
			tally.Errors++
			tr.RecordError()
			logger.Error("Failed to record rejected line", logging.Email(email), zap.Error(err))
			return
		}
		obs.RecordRejection(string(reason))
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		tally.Lines++
		if tally.Lines%importProgressEvery == 0 {
			progress(ctx, tr, logger, tally.Lines)
		}

		email := firstColumn(scanner.Text())
		if !strings.Contains(email, "@") {
			tally.Skipped++
			continue
		}

		if _, dup := seen[email]; dup {
			tally.Duplicate++
			reject(email, validator.ReasonDuplicate, "Duplicate in current batch")
			continue
		}
		seen[email] = struct{}{}

		if _, ok := suppressed[email]; ok {
			tally.Rejected++
			reject(email, validator.ReasonSuppressed, "Email in suppression list")
			continue
		}

		out := v.Validate(ctx, email, validator.ImportOptions())
		if !out.OK {
			tally.Rejected++
			reject(email, out.Reason, out.Detail)
			continue
		}

		adm, err := req.Policy.Admit(ctx, batch, req.JobID, Candidate{
			Email:      email,
			Normalized: email,
			Domain:     out.Domain,
			Category:   v.Classifier().Classify(out.Domain),
			Consent:    req.Consent,
		})
		if err != nil {
			tally.Errors++
			tr.RecordError()
			logger.Error("Failed to admit address", logging.Email(email), zap.Error(err))
			continue
		}
		switch adm.Outcome {
		case AdmitImported:
			tally.Imported++
			obs.RecordAdmission(req.Policy.Name(), "imported")
		case AdmitDuplicate:
			tally.Duplicate++
			obs.RecordAdmission(req.Policy.Name(), "duplicate")
		}
	}
	if err := scanner.Err(); err != nil {
		return fail(fmt.Errorf("failed to read source file: %w", err))
	}

	req.Policy.FinalizeCounters(batch, tally)
	batch.Status = db.BatchUploaded
	if err := im.Store.UpdateBatchCounters(ctx, batch); err != nil {
		return fail(err)
	}

	result := &ImportResult{
		Imported:   tally.Imported,
		Rejected:   tally.Rejected,
		Duplicates: tally.Duplicate,
		Skipped:    tally.Skipped,
		Errors:     tally.Errors,
	}
	msg := fmt.Sprintf("Imported %d emails, rejected %d, duplicates %d", tally.Imported, tally.Rejected, tally.Duplicate)
	payload := map[string]interface{}{
		"imported":   tally.Imported,
		"rejected":   tally.Rejected,
		"duplicates": tally.Duplicate,
		"skipped":    tally.Skipped,
	}
	if err := tr.Complete(ctx, msg, payload); err != nil {
		return result, err
	}

	logger.Info("Import finished",
		zap.Int("lines", tally.Lines),
		zap.Int("imported", tally.Imported),
		zap.Int("rejected", tally.Rejected),
		zap.Int("duplicates", tally.Duplicate),
		zap.Int("skipped", tally.Skipped),
		zap.Int("errors", tally.Errors),
	)
	return result, nil
}

// firstColumn takes the first comma-separated field of a line, with invalid
// UTF-8 replaced, surrounding quotes removed, and case folded.
func firstColumn(line string) string {
	line = strings.ToValidUTF8(line, "\uFFFD")
	if first, _, ok := strings.Cut(line, ","); ok {
		line = first
	}
	line = strings.TrimSpace(line)
	line = strings.Trim(line, `"'`)
	return validator.Normalize(line)
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open source file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	n := 0
	for scanner.Scan() {
		n++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to read source file: %w", err)
	}
	return n, nil
}
