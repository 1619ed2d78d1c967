package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jhossain1509/email-database-manager/internal/db"
	"github.com/jhossain1509/email-database-manager/internal/scoring"
	"github.com/jhossain1509/email-database-manager/internal/smtpverify"
	"github.com/jhossain1509/email-database-manager/internal/validator"
)

// Mode names how a validation run reached its verdicts.
type Mode string

const (
	ModeStandard   Mode = "standard"
	ModeSMTP       Mode = "smtp"
	ModeMXFallback Mode = "mx_fallback"
)

// Verdict is one record's validation result, whichever strategy produced it.
type Verdict struct {
	RecordID string
	Email    string
	Domain   string
	Valid    bool
	Reason   string
	Detail   string
	Signals  scoring.Signals
	Method   db.ValidationMethod
}

// Verifier produces verdicts for a set of records. emit is always called on
// the goroutine that called Verify.
type Verifier interface {
	Verify(ctx context.Context, records []*db.AddressRecord, emit func(Verdict)) (Mode, error)
}

func verdictFromOutcome(v *validator.Validator, rec *db.AddressRecord, out validator.Outcome, method db.ValidationMethod) Verdict {
	domain := out.Domain
	if domain == "" {
		domain = rec.Domain
	}
	return Verdict{
		RecordID: rec.ID,
		Email:    rec.Email,
		Domain:   domain,
		Valid:    out.OK,
		Reason:   string(out.Reason),
		Detail:   out.Detail,
		Method:   method,
		Signals: scoring.Signals{
			SyntaxOK:      out.Checks.SyntaxOK,
			MXChecked:     out.Checks.MXChecked,
			HasMX:         out.Checks.HasMX,
			RoleChecked:   out.Checks.RoleChecked,
			RoleBased:     out.Checks.RoleBased,
			Disposable:    out.Checks.Disposable,
			NamedProvider: v.Classifier().IsNamedProvider(v.Classifier().Classify(domain)),
			Valid:         out.OK,
		},
	}
}

// StandardVerifier runs the enhanced checks one record at a time.
type StandardVerifier struct {
	validator *validator.Validator
	checkMX   bool
	mode      Mode
}

func NewStandardVerifier(v *validator.Validator, checkMX bool) *StandardVerifier {
	return &StandardVerifier{validator: v, checkMX: checkMX, mode: ModeStandard}
}

func (s *StandardVerifier) Verify(ctx context.Context, records []*db.AddressRecord, emit func(Verdict)) (Mode, error) {
	opts := validator.EnhancedOptions(s.checkMX)
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return s.mode, err
		}
		out := s.validator.Validate(ctx, rec.Email, opts)
		emit(verdictFromOutcome(s.validator, rec, out, db.MethodStandard))
	}
	return s.mode, nil
}

// EndpointSource lists the endpoints usable for probing.
type EndpointSource interface {
	ListActiveSMTPEndpoints(ctx context.Context) ([]*db.SMTPEndpoint, error)
}

// SMTPVerifier runs the enhanced checks first and probes the survivors
// through the concurrent engine. Without an active endpoint it degrades to
// MX-only validation and reports ModeMXFallback.
type SMTPVerifier struct {
	validator *validator.Validator
	engine    *smtpverify.Engine
	endpoints EndpointSource
	logger    *zap.Logger
}

func NewSMTPVerifier(v *validator.Validator, engine *smtpverify.Engine, endpoints EndpointSource, logger *zap.Logger) *SMTPVerifier {
	return &SMTPVerifier{validator: v, engine: engine, endpoints: endpoints, logger: logger}
}

func (s *SMTPVerifier) fallback(ctx context.Context, records []*db.AddressRecord, emit func(Verdict)) (Mode, error) {
	s.logger.Warn("No active SMTP endpoints, falling back to MX-only validation", zap.Int("records", len(records)))
	std := &StandardVerifier{validator: s.validator, checkMX: true, mode: ModeMXFallback}
	return std.Verify(ctx, records, emit)
}

func (s *SMTPVerifier) Verify(ctx context.Context, records []*db.AddressRecord, emit func(Verdict)) (Mode, error) {
	endpoints, err := s.endpoints.ListActiveSMTPEndpoints(ctx)
	if err != nil {
		return ModeSMTP, fmt.Errorf("failed to load smtp endpoints: %w", err)
	}
	if len(endpoints) == 0 || s.engine == nil {
		return s.fallback(ctx, records, emit)
	}

	opts := validator.EnhancedOptions(true)
	prechecked := make(map[string]Verdict, len(records))
	candidates := make([]smtpverify.Candidate, 0, len(records))
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return ModeSMTP, err
		}
		vd := verdictFromOutcome(s.validator, rec, s.validator.Validate(ctx, rec.Email, opts), db.MethodStandard)
		if !vd.Valid {
			emit(vd)
			continue
		}
		prechecked[rec.ID] = vd
		candidates = append(candidates, smtpverify.Candidate{RecordID: rec.ID, Email: rec.Email})
	}

	err = s.engine.VerifyAll(ctx, endpoints, candidates, func(r smtpverify.Result) {
		vd := prechecked[r.RecordID]
		vd.Method = db.MethodSMTP
		switch {
		case r.Outcome.Failed():
			vd.Valid = false
			vd.Reason = string(r.Outcome.Failure)
			vd.Detail = r.Outcome.Detail
		case r.Outcome.Valid:
			vd.Reason = ""
			vd.Detail = r.Outcome.Detail
		default:
			vd.Valid = false
			vd.Reason = "smtp_rejected"
			vd.Detail = r.Outcome.Detail
		}
		vd.Signals.Valid = vd.Valid
		emit(vd)
	})
	if errors.Is(err, smtpverify.ErrNoActiveEndpoints) {
		// every listed endpoint was inactive
		remaining := make([]*db.AddressRecord, 0, len(candidates))
		for _, rec := range records {
			if _, ok := prechecked[rec.ID]; ok {
				remaining = append(remaining, rec)
			}
		}
		return s.fallback(ctx, remaining, emit)
	}
	return ModeSMTP, err
}
