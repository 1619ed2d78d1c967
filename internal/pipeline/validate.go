package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jhossain1509/email-database-manager/internal/db"
	"github.com/jhossain1509/email-database-manager/internal/logging"
	"github.com/jhossain1509/email-database-manager/internal/scoring"
	"github.com/jhossain1509/email-database-manager/internal/smtpverify"
	"github.com/jhossain1509/email-database-manager/internal/validator"
)

const validateProgressEvery = 50

type ValidateRequest struct {
	JobID    string
	TenantID string
	Selector Selector
	CheckMX  bool
	UseSMTP  bool
	Policy   IsolationPolicy
}

type ValidateResult struct {
	Valid   int  `json:"valid"`
	Invalid int  `json:"invalid"`
	Errors  int  `json:"errors"`
	Mode    Mode `json:"mode"`
}

type BatchValidator struct {
	Deps
	engine *smtpverify.Engine
}

// NewBatchValidator builds the validation pipeline. engine may be nil, in
// which case SMTP requests run MX-only.
func NewBatchValidator(deps Deps, engine *smtpverify.Engine) *BatchValidator {
	return &BatchValidator{Deps: deps, engine: engine}
}

func (bv *BatchValidator) verifier(v *validator.Validator, req ValidateRequest) Verifier {
	if req.UseSMTP {
		return NewSMTPVerifier(v, bv.engine, bv.Store, bv.Logger)
	}
	return NewStandardVerifier(v, req.CheckMX)
}

func (bv *BatchValidator) Run(ctx context.Context, req ValidateRequest) (*ValidateResult, error) {
	logger := bv.Logger.With(zap.String("job_id", req.JobID))

	tr, _, err := bv.begin(ctx, req.JobID)
	if err != nil {
		return nil, err
	}

	var batch *db.Batch
	fail := func(cause error) (*ValidateResult, error) {
		if batch != nil {
			if err := bv.Store.SetBatchStatus(ctx, batch.ID, db.BatchFailed); err != nil {
				logger.Warn("Failed to mark batch failed", zap.Error(err))
			}
		}
		if err := tr.Fail(ctx, cause); err != nil {
			logger.Error("Failed to record job failure", zap.Error(err))
		}
		return nil, cause
	}

	if req.Policy == nil {
		return fail(fmt.Errorf("%w: none configured", ErrUnknownPolicy))
	}
	if err := req.Selector.Validate(); err != nil {
		return fail(err)
	}

	if !req.Selector.AllUnverified {
		batch, err = bv.Store.GetBatch(ctx, req.Selector.BatchID)
		if err != nil {
			return fail(fmt.Errorf("failed to load batch %s: %w", req.Selector.BatchID, err))
		}
	}

	v, err := bv.withIgnoreList(ctx)
	if err != nil {
		return fail(err)
	}

	targets, err := req.Policy.Targets(ctx, req.Selector)
	if err != nil {
		return fail(fmt.Errorf("failed to resolve targets: %w", err))
	}
	pending := targets[:0]
	for _, rec := range targets {
		if rec.State == db.StateUnvalidated {
			pending = append(pending, rec)
		}
	}

	if err := tr.Start(ctx, len(pending)); err != nil {
		return nil, err
	}
	if batch != nil {
		if err := bv.Store.SetBatchStatus(ctx, batch.ID, db.BatchValidating); err != nil {
			logger.Warn("Failed to mark batch validating", zap.Error(err))
		}
	}

	owners := make(map[string]string, len(pending))
	for _, rec := range pending {
		owners[rec.ID] = rec.OwningBatch()
	}
	touched := map[string]struct{}{}

	result := &ValidateResult{}
	processed := 0
	emit := func(vd Verdict) {
		if id := owners[vd.RecordID]; id != "" {
			touched[id] = struct{}{}
		}
		valid, err := bv.applyVerdict(ctx, v, vd)
		if err != nil {
			result.Errors++
			tr.RecordError()
			logger.Error("Failed to apply verdict", logging.Email(vd.Email), zap.Error(err))
		}
		if valid {
			result.Valid++
		} else {
			result.Invalid++
		}
		processed++
		if processed%validateProgressEvery == 0 {
			progress(ctx, tr, logger, processed)
		}
	}

	mode, err := bv.verifier(v, req).Verify(ctx, pending, emit)
	result.Mode = mode
	if err != nil {
		return fail(fmt.Errorf("validation stopped after %d records: %w", processed, err))
	}

	if batch != nil {
		touched[batch.ID] = struct{}{}
	}
	for batchID := range touched {
		if err := bv.refreshBatch(ctx, req.Policy, batch, batchID); err != nil {
			return fail(err)
		}
	}

	msg := fmt.Sprintf("Validated %d valid, %d invalid emails", result.Valid, result.Invalid)
	payload := map[string]interface{}{
		"valid":   result.Valid,
		"invalid": result.Invalid,
		"errors":  result.Errors,
		"mode":    string(mode),
	}
	if err := tr.Complete(ctx, msg, payload); err != nil {
		return result, err
	}

	logger.Info("Validation finished",
		zap.String("mode", string(mode)),
		zap.Int("valid", result.Valid),
		zap.Int("invalid", result.Invalid),
		zap.Int("errors", result.Errors),
	)
	return result, nil
}

// refreshBatch recomputes the validity counters of a batch the run touched
// and marks it validated.
func (bv *BatchValidator) refreshBatch(ctx context.Context, policy IsolationPolicy, loaded *db.Batch, batchID string) error {
	b := loaded
	if b == nil || b.ID != batchID {
		var err error
		if b, err = bv.Store.GetBatch(ctx, batchID); err != nil {
			return fmt.Errorf("failed to load batch %s: %w", batchID, err)
		}
	}
	valid, invalid, err := policy.BatchValidity(ctx, batchID)
	if err != nil {
		return err
	}
	b.Valid = valid
	b.Invalid = invalid
	b.Status = db.BatchValidated
	return bv.Store.UpdateBatchCounters(ctx, b)
}

// applyVerdict scores a verdict and writes every validation field at once.
// If that write fails the record is still closed out as invalid with a zero
// score so it never stays half validated.
func (bv *BatchValidator) applyVerdict(ctx context.Context, v *validator.Validator, vd Verdict) (bool, error) {
	score, rating := scoring.Evaluate(vd.Signals)
	state := db.StateInvalid
	if vd.Valid {
		state = db.StateValid
	}

	detail := vd.Detail
	if !vd.Valid && vd.Reason != "" {
		detail = fmt.Sprintf("%s: %s", vd.Reason, vd.Detail)
	}
	if vd.Valid {
		detail = ""
	}

	u := db.ValidationUpdate{
		RecordID:        vd.RecordID,
		State:           state,
		Method:          vd.Method,
		Score:           score,
		Rating:          string(rating),
		DomainCategory:  v.Classifier().ClassifyWithValidity(vd.Domain, vd.Valid),
		ValidationError: detail,
		VerifiedAt:      time.Now(),
	}
	_, err := bv.Store.ApplyValidation(ctx, u)
	if err == nil {
		bv.observer().RecordValidation(string(vd.Method), string(state))
		return vd.Valid, nil
	}

	u.State = db.StateInvalid
	u.Score = 0
	u.Rating = string(scoring.RatingD)
	u.DomainCategory = v.Classifier().Classify(vd.Domain)
	u.ValidationError = fmt.Sprintf("processing error: %v", err)
	if _, ferr := bv.Store.ApplyValidation(ctx, u); ferr != nil {
		return false, fmt.Errorf("%w (marking invalid also failed: %v)", err, ferr)
	}
	bv.observer().RecordValidation(string(vd.Method), string(db.StateInvalid))
	return false, err
}
