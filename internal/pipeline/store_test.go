package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jhossain1509/email-database-manager/internal/db"
)

// memStore is an in-memory Store with just enough query semantics for the
// pipeline tests.
type memStore struct {
	mu sync.Mutex

	batches     map[string]*db.Batch
	jobs        map[string]*db.Job
	records     []*db.AddressRecord
	items       []*db.TenantItem
	rejected    []*db.RejectedEntry
	suppressed  map[string]bool
	ignore      []string
	endpoints   []*db.SMTPEndpoint
	history     []*db.DownloadHistory
	tenantHist  []*db.DownloadHistory
	touched     []string
	downloadIDs []string

	// hooks
	onIsSuppressed  func(email string) (bool, error)
	applyErrFor     map[string]error
	resetCalls      int
	markDownloadHit int
}

func newMemStore() *memStore {
	return &memStore{
		batches:     make(map[string]*db.Batch),
		jobs:        make(map[string]*db.Job),
		suppressed:  make(map[string]bool),
		applyErrFor: make(map[string]error),
	}
}

func (s *memStore) addBatch(id, tenant string, isolated bool) *db.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := &db.Batch{ID: id, Name: id, TenantID: tenant, Isolated: isolated, Status: db.BatchQueued, CreatedAt: time.Now()}
	s.batches[id] = b
	return b
}

func (s *memStore) addJob(id string, typ db.JobType, status db.JobStatus) *db.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := &db.Job{ID: id, Type: typ, Status: status, CreatedAt: time.Now()}
	s.jobs[id] = j
	return j
}

func (s *memStore) addRecord(rec *db.AddressRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.EmailNormalized == "" {
		rec.EmailNormalized = strings.ToLower(rec.Email)
	}
	if rec.State == "" {
		rec.State = db.StateUnvalidated
	}
	s.records = append(s.records, rec)
}

func (s *memStore) job(id string) db.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *memStore) batch(id string) db.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.batches[id]
}

func (s *memStore) recordsByEmail(email string) []*db.AddressRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*db.AddressRecord
	for _, r := range s.records {
		if r.EmailNormalized == email {
			out = append(out, r)
		}
	}
	return out
}

func (s *memStore) GetBatch(_ context.Context, id string) (*db.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *memStore) UpdateBatchCounters(_ context.Context, b *db.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.batches[b.ID] = &cp
	return nil
}

func (s *memStore) SetBatchStatus(_ context.Context, id string, status db.BatchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return db.ErrNotFound
	}
	b.Status = status
	return nil
}

func (s *memStore) CountBatchValidity(_ context.Context, batchID string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	valid, invalid := 0, 0
	for _, r := range s.records {
		if r.BatchID != batchID {
			continue
		}
		switch r.State {
		case db.StateValid:
			valid++
		case db.StateInvalid:
			invalid++
		}
	}
	return valid, invalid, nil
}

func (s *memStore) CountTenantBatchValidity(_ context.Context, batchID, tenantID string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	valid, invalid := 0, 0
	for _, it := range s.items {
		if it.BatchID != batchID || it.TenantID != tenantID || it.RecordID == nil || seen[*it.RecordID] {
			continue
		}
		seen[*it.RecordID] = true
		for _, r := range s.records {
			if r.ID != *it.RecordID {
				continue
			}
			switch r.State {
			case db.StateValid:
				valid++
			case db.StateInvalid:
				invalid++
			}
		}
	}
	return valid, invalid, nil
}

func (s *memStore) InsertRecord(_ context.Context, rec *db.AddressRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.EmailNormalized == rec.EmailNormalized {
			return false, nil
		}
	}
	cp := *rec
	s.records = append(s.records, &cp)
	return true, nil
}

func (s *memStore) FindRecordByEmail(_ context.Context, normalized string) (*db.AddressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.EmailNormalized == strings.ToLower(normalized) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, db.ErrNotFound
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func (s *memStore) matches(r *db.AddressRecord, q db.RecordQuery) bool {
	if len(q.States) > 0 && !contains(q.States, r.State) {
		return false
	}
	if len(q.Methods) > 0 && !contains(q.Methods, r.Method) {
		return false
	}
	if len(q.Domains) > 0 {
		ok := false
		for _, d := range q.Domains {
			if (d == "mixed" && r.DomainCategory == "mixed") || strings.EqualFold(d, r.Domain) {
				ok = true
			}
		}
		if !ok {
			return false
		}
	}
	if len(q.Ratings) > 0 && (r.Rating == nil || !contains(q.Ratings, *r.Rating)) {
		return false
	}
	if q.ExcludeSuppressed && r.Suppressed {
		return false
	}
	return true
}

func (s *memStore) ListRecords(_ context.Context, q db.RecordQuery) ([]*db.AddressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*db.AddressRecord
	if q.ThroughTenantItems {
		seen := map[string]bool{}
		for _, it := range s.items {
			if it.TenantID != q.TenantID || it.RecordID == nil || seen[*it.RecordID] {
				continue
			}
			if q.BatchID != "" && it.BatchID != q.BatchID {
				continue
			}
			for _, r := range s.records {
				if r.ID == *it.RecordID && s.matches(r, q) {
					seen[r.ID] = true
					cp := *r
					cp.ItemBatchID = it.BatchID
					out = append(out, &cp)
				}
			}
		}
		return out, nil
	}

	for _, r := range s.records {
		if q.TenantID != "" && r.TenantID != q.TenantID {
			continue
		}
		if q.BatchID != "" && r.BatchID != q.BatchID {
			continue
		}
		if s.matches(r, q) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) ApplyValidation(_ context.Context, u db.ValidationUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.applyErrFor[u.RecordID]; ok {
		delete(s.applyErrFor, u.RecordID)
		return false, err
	}
	for _, r := range s.records {
		if r.ID != u.RecordID {
			continue
		}
		if r.State != db.StateUnvalidated {
			return false, nil
		}
		score := u.Score
		rating := u.Rating
		at := u.VerifiedAt
		r.State = u.State
		r.Method = u.Method
		r.QualityScore = &score
		r.Rating = &rating
		r.DomainCategory = u.DomainCategory
		r.ValidationError = u.ValidationError
		r.VerifiedAt = &at
		return true, nil
	}
	return false, nil
}

func (s *memStore) MarkDownloaded(_ context.Context, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markDownloadHit++
	for _, r := range s.records {
		if contains(ids, r.ID) {
			r.Downloaded = true
			r.DownloadCount++
			t := at
			r.DownloadedAt = &t
		}
	}
	s.downloadIDs = append(s.downloadIDs, ids...)
	return nil
}

func (s *memStore) InsertRejected(_ context.Context, e *db.RejectedEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected = append(s.rejected, e)
	return nil
}

func (s *memStore) InsertTenantItem(_ context.Context, it *db.TenantItem) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, x := range s.items {
		if x.BatchID == it.BatchID && x.EmailNormalized == it.EmailNormalized {
			return false, nil
		}
	}
	s.items = append(s.items, it)
	return true, nil
}

func (s *memStore) ResetImportRun(_ context.Context, batchID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetCalls++
	var rejected []*db.RejectedEntry
	for _, e := range s.rejected {
		if e.BatchID != batchID || e.JobID != jobID {
			rejected = append(rejected, e)
		}
	}
	s.rejected = rejected
	var items []*db.TenantItem
	for _, it := range s.items {
		if it.BatchID != batchID || it.JobID != jobID {
			items = append(items, it)
		}
	}
	s.items = items
	return nil
}

func (s *memStore) GetJob(_ context.Context, id string) (*db.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *memStore) SaveJob(_ context.Context, j *db.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

func (s *memStore) IsSuppressed(_ context.Context, email string) (bool, error) {
	if s.onIsSuppressed != nil {
		return s.onIsSuppressed(email)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suppressed[email], nil
}

func (s *memStore) SuppressedEmails(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for e := range s.suppressed {
		out = append(out, e)
	}
	return out, nil
}

func (s *memStore) ListIgnoreDomains(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ignore...), nil
}

func (s *memStore) ListActiveSMTPEndpoints(_ context.Context) ([]*db.SMTPEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*db.SMTPEndpoint
	for _, ep := range s.endpoints {
		if ep.Active {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (s *memStore) TouchSMTPEndpoint(_ context.Context, id string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = append(s.touched, id)
	return nil
}

func (s *memStore) InsertDownloadHistory(_ context.Context, h *db.DownloadHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *h
	s.history = append(s.history, &cp)
	return nil
}

func (s *memStore) InsertTenantDownloadHistory(_ context.Context, h *db.DownloadHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *h
	s.tenantHist = append(s.tenantHist, &cp)
	return nil
}

func (s *memStore) IncrementTenantDownload(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.tenantHist {
		if h.ID == id {
			h.DownloadedTimes++
			t := at
			h.LastDownloadedAt = &t
			return nil
		}
	}
	return db.ErrNotFound
}
