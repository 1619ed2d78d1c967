package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jhossain1509/email-database-manager/internal/classifier"
	"github.com/jhossain1509/email-database-manager/internal/db"
	"github.com/jhossain1509/email-database-manager/internal/export"
	"github.com/jhossain1509/email-database-manager/internal/validator"
)

var ErrUnknownPolicy = errors.New("unknown isolation policy")

const (
	PolicyShared   = "shared_pool"
	PolicyIsolated = "isolated_tenant"
)

// Candidate is an address that passed the import filters.
type Candidate struct {
	Email      string
	Normalized string
	Domain     string
	Category   string
	Consent    bool
}

type AdmitOutcome int

const (
	AdmitImported AdmitOutcome = iota
	AdmitDuplicate
)

type Admission struct {
	Outcome  AdmitOutcome
	RecordID string
}

// Tally is what one import run counted.
type Tally struct {
	Lines     int
	Imported  int
	Rejected  int
	Duplicate int
	Skipped   int
	Errors    int
}

// Selector picks validation targets: one batch, or every unvalidated record
// the caller can reach. Domains narrows either by exact domain or "mixed".
type Selector struct {
	BatchID       string
	AllUnverified bool
	Domains       []string
}

func (s Selector) Validate() error {
	if s.BatchID == "" && !s.AllUnverified {
		return errors.New("selector needs a batch or all_unverified")
	}
	return nil
}

// IsolationPolicy decides how a tenant reads and writes the shared pool.
type IsolationPolicy interface {
	Name() string
	Admit(ctx context.Context, batch *db.Batch, jobID string, c Candidate) (Admission, error)
	Reject(ctx context.Context, batch *db.Batch, jobID, email, domain string, reason validator.Reason, detail string) error
	Targets(ctx context.Context, sel Selector) ([]*db.AddressRecord, error)
	ExportCandidates(ctx context.Context, f export.Filter) ([]*db.AddressRecord, error)
	RecordExport(ctx context.Context, h *db.DownloadHistory, records []*db.AddressRecord) error
	FinalizeCounters(batch *db.Batch, t Tally)
	BatchValidity(ctx context.Context, batchID string) (int, int, error)
}

func PolicyName(isolated bool) string {
	if isolated {
		return PolicyIsolated
	}
	return PolicyShared
}

func PolicyFor(store Store, tenantID string, isolated bool) IsolationPolicy {
	if isolated {
		return NewIsolatedTenant(store, tenantID)
	}
	return NewSharedPool(store, tenantID)
}

// ParsePolicy resolves the policy name stored with a job.
func ParsePolicy(store Store, tenantID, name string) (IsolationPolicy, error) {
	switch name {
	case PolicyShared:
		return NewSharedPool(store, tenantID), nil
	case PolicyIsolated:
		if tenantID == "" {
			return nil, fmt.Errorf("%w: isolated policy without tenant", ErrUnknownPolicy)
		}
		return NewIsolatedTenant(store, tenantID), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
}

func newRecord(batch *db.Batch, c Candidate, tenantID string) *db.AddressRecord {
	category := c.Category
	if category == "" {
		category = classifier.Mixed
	}
	return &db.AddressRecord{
		ID:              uuid.New().String(),
		Email:           c.Email,
		EmailNormalized: c.Normalized,
		Domain:          c.Domain,
		DomainCategory:  category,
		State:           db.StateUnvalidated,
		Method:          db.MethodNone,
		Consent:         c.Consent,
		BatchID:         batch.ID,
		TenantID:        tenantID,
		CreatedAt:       time.Now(),
	}
}

func rejectedEntry(batch *db.Batch, jobID, email, domain string, reason validator.Reason, detail string) *db.RejectedEntry {
	return &db.RejectedEntry{
		ID:        uuid.New().String(),
		BatchID:   batch.ID,
		JobID:     jobID,
		Email:     email,
		Domain:    domain,
		Reason:    string(reason),
		Details:   detail,
		CreatedAt: time.Now(),
	}
}

// SharedPool writes Address Records directly.
type SharedPool struct {
	store    Store
	tenantID string
}

func NewSharedPool(store Store, tenantID string) *SharedPool {
	return &SharedPool{store: store, tenantID: tenantID}
}

func (p *SharedPool) Name() string { return PolicyShared }

// Admit inserts the record. An address already owned by this batch comes
// from an earlier delivery of the same job and counts as imported; one owned
// by another batch is a duplicate and gets a rejected entry.
func (p *SharedPool) Admit(ctx context.Context, batch *db.Batch, jobID string, c Candidate) (Admission, error) {
	rec := newRecord(batch, c, p.tenantID)
	inserted, err := p.store.InsertRecord(ctx, rec)
	if err != nil {
		return Admission{}, err
	}
	if inserted {
		return Admission{Outcome: AdmitImported, RecordID: rec.ID}, nil
	}

	existing, err := p.store.FindRecordByEmail(ctx, c.Normalized)
	if err != nil {
		return Admission{}, fmt.Errorf("failed to resolve existing record: %w", err)
	}
	if existing.BatchID == batch.ID {
		return Admission{Outcome: AdmitImported, RecordID: existing.ID}, nil
	}

	entry := rejectedEntry(batch, jobID, c.Email, c.Domain, validator.ReasonDuplicate, "Already exists in database")
	if err := p.store.InsertRejected(ctx, entry); err != nil {
		return Admission{}, err
	}
	return Admission{Outcome: AdmitDuplicate, RecordID: existing.ID}, nil
}

func (p *SharedPool) Reject(ctx context.Context, batch *db.Batch, jobID, email, domain string, reason validator.Reason, detail string) error {
	return p.store.InsertRejected(ctx, rejectedEntry(batch, jobID, email, domain, reason, detail))
}

func (p *SharedPool) Targets(ctx context.Context, sel Selector) ([]*db.AddressRecord, error) {
	q := db.RecordQuery{
		States:  []db.ValidationState{db.StateUnvalidated},
		Domains: sel.Domains,
	}
	if !sel.AllUnverified {
		q.BatchID = sel.BatchID
	}
	return p.store.ListRecords(ctx, q)
}

func (p *SharedPool) ExportCandidates(ctx context.Context, f export.Filter) ([]*db.AddressRecord, error) {
	return p.store.ListRecords(ctx, f.Query())
}

func (p *SharedPool) RecordExport(ctx context.Context, h *db.DownloadHistory, records []*db.AddressRecord) error {
	if err := p.store.InsertDownloadHistory(ctx, h); err != nil {
		return err
	}
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return p.store.MarkDownloaded(ctx, ids, h.CreatedAt)
}

func (p *SharedPool) FinalizeCounters(batch *db.Batch, t Tally) {
	batch.TotalRows = t.Lines
	batch.Imported = t.Imported
	batch.Rejected = t.Rejected
	batch.Duplicate = t.Duplicate
}

func (p *SharedPool) BatchValidity(ctx context.Context, batchID string) (int, int, error) {
	return p.store.CountBatchValidity(ctx, batchID)
}

// IsolatedTenant keeps a tenant's view in its own items and only reaches the
// shared pool through them.
type IsolatedTenant struct {
	store    Store
	tenantID string
}

func NewIsolatedTenant(store Store, tenantID string) *IsolatedTenant {
	return &IsolatedTenant{store: store, tenantID: tenantID}
}

func (p *IsolatedTenant) Name() string { return PolicyIsolated }

func (p *IsolatedTenant) item(batch *db.Batch, jobID string, c Candidate, outcome db.ItemOutcome, recordID string) *db.TenantItem {
	it := &db.TenantItem{
		ID:              uuid.New().String(),
		BatchID:         batch.ID,
		TenantID:        p.tenantID,
		JobID:           jobID,
		EmailNormalized: c.Normalized,
		Domain:          c.Domain,
		Outcome:         outcome,
		CreatedAt:       time.Now(),
	}
	if recordID != "" {
		it.RecordID = &recordID
	}
	return it
}

// Admit never creates a second shared record for an address. A record this
// tenant created for this batch in an earlier delivery counts as new again.
func (p *IsolatedTenant) Admit(ctx context.Context, batch *db.Batch, jobID string, c Candidate) (Admission, error) {
	existing, err := p.store.FindRecordByEmail(ctx, c.Normalized)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return Admission{}, err
	}

	adm := Admission{Outcome: AdmitDuplicate}
	switch {
	case existing != nil && existing.BatchID == batch.ID && existing.TenantID == p.tenantID:
		adm = Admission{Outcome: AdmitImported, RecordID: existing.ID}
	case existing != nil:
		adm.RecordID = existing.ID
	default:
		rec := newRecord(batch, c, p.tenantID)
		inserted, err := p.store.InsertRecord(ctx, rec)
		if err != nil {
			return Admission{}, err
		}
		if inserted {
			adm = Admission{Outcome: AdmitImported, RecordID: rec.ID}
		} else {
			// lost a race with another upload of the same address
			raced, err := p.store.FindRecordByEmail(ctx, c.Normalized)
			if err != nil {
				return Admission{}, fmt.Errorf("failed to resolve existing record: %w", err)
			}
			adm.RecordID = raced.ID
		}
	}

	outcome := db.OutcomeInserted
	if adm.Outcome == AdmitDuplicate {
		outcome = db.OutcomeDuplicate
	}
	created, err := p.store.InsertTenantItem(ctx, p.item(batch, jobID, c, outcome, adm.RecordID))
	if err != nil {
		return Admission{}, err
	}
	if !created {
		return Admission{Outcome: AdmitDuplicate, RecordID: adm.RecordID}, nil
	}
	return adm, nil
}

func (p *IsolatedTenant) Reject(ctx context.Context, batch *db.Batch, jobID, email, domain string, reason validator.Reason, detail string) error {
	if err := p.store.InsertRejected(ctx, rejectedEntry(batch, jobID, email, domain, reason, detail)); err != nil {
		return err
	}
	it := p.item(batch, jobID, Candidate{Normalized: validator.Normalize(email), Domain: domain}, db.OutcomeRejected, "")
	it.RejectReason = string(reason)
	it.RejectDetail = detail
	if _, err := p.store.InsertTenantItem(ctx, it); err != nil {
		return err
	}
	return nil
}

func (p *IsolatedTenant) Targets(ctx context.Context, sel Selector) ([]*db.AddressRecord, error) {
	q := db.RecordQuery{
		TenantID:           p.tenantID,
		ThroughTenantItems: true,
		States:             []db.ValidationState{db.StateUnvalidated},
		Domains:            sel.Domains,
	}
	if !sel.AllUnverified {
		q.BatchID = sel.BatchID
	}
	return p.store.ListRecords(ctx, q)
}

func (p *IsolatedTenant) ExportCandidates(ctx context.Context, f export.Filter) ([]*db.AddressRecord, error) {
	q := f.Query()
	q.TenantID = p.tenantID
	q.ThroughTenantItems = true
	return p.store.ListRecords(ctx, q)
}

// RecordExport leaves shared download markers alone and counts the export
// on the tenant's own history entry.
func (p *IsolatedTenant) RecordExport(ctx context.Context, h *db.DownloadHistory, _ []*db.AddressRecord) error {
	h.TenantID = p.tenantID
	if err := p.store.InsertTenantDownloadHistory(ctx, h); err != nil {
		return err
	}
	if err := p.store.IncrementTenantDownload(ctx, h.ID, h.CreatedAt); err != nil {
		return err
	}
	h.DownloadedTimes++
	return nil
}

func (p *IsolatedTenant) FinalizeCounters(batch *db.Batch, t Tally) {
	batch.TotalRows = t.Lines
	batch.Imported = t.Imported
	batch.Rejected = t.Rejected
	batch.Duplicate = t.Duplicate
}

func (p *IsolatedTenant) BatchValidity(ctx context.Context, batchID string) (int, int, error) {
	return p.store.CountTenantBatchValidity(ctx, batchID, p.tenantID)
}
