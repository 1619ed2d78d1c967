package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type Repository struct {
	db *sqlx.DB
}

func NewConnection(databaseURL string, maxOpen, maxIdle int) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	if maxOpen <= 0 {
		maxOpen = 25
	}
	if maxIdle <= 0 {
		maxIdle = 5
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Batch operations
func (r *Repository) CreateBatch(ctx context.Context, b *Batch) error {
	query := `
		INSERT INTO batches (
			id, name, filename, tenant_id, isolated, status, total_rows,
			imported_count, rejected_count, duplicate_count, valid_count, invalid_count,
			created_at, updated_at
		) VALUES (
			:id, :name, :filename, :tenant_id, :isolated, :status, :total_rows,
			:imported_count, :rejected_count, :duplicate_count, :valid_count, :invalid_count,
			:created_at, :updated_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, b); err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	return nil
}

func (r *Repository) GetBatch(ctx context.Context, id string) (*Batch, error) {
	var b Batch
	err := r.db.GetContext(ctx, &b, `SELECT * FROM batches WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return &b, nil
}

func (r *Repository) GetBatchForTenant(ctx context.Context, id, tenantID string) (*Batch, error) {
	var b Batch
	err := r.db.GetContext(ctx, &b, `SELECT * FROM batches WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return &b, nil
}

func (r *Repository) ListBatches(ctx context.Context, tenantID string, limit, offset int) ([]*Batch, error) {
	batches := []*Batch{}
	query := `
		SELECT * FROM batches
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	if err := r.db.SelectContext(ctx, &batches, query, tenantID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	return batches, nil
}

func (r *Repository) UpdateBatchCounters(ctx context.Context, b *Batch) error {
	b.UpdatedAt = time.Now()
	query := `
		UPDATE batches SET
			status = :status,
			total_rows = :total_rows,
			imported_count = :imported_count,
			rejected_count = :rejected_count,
			duplicate_count = :duplicate_count,
			valid_count = :valid_count,
			invalid_count = :invalid_count,
			updated_at = :updated_at
		WHERE id = :id`

	if _, err := r.db.NamedExecContext(ctx, query, b); err != nil {
		return fmt.Errorf("failed to update batch counters: %w", err)
	}
	return nil
}

func (r *Repository) SetBatchStatus(ctx context.Context, id string, status BatchStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE batches SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to set batch status: %w", err)
	}
	return nil
}

// CountBatchValidity counts valid and invalid shared records owned by a batch.
func (r *Repository) CountBatchValidity(ctx context.Context, batchID string) (int, int, error) {
	var counts struct {
		Valid   int `db:"valid"`
		Invalid int `db:"invalid"`
	}
	query := `
		SELECT
			COUNT(*) FILTER (WHERE validation_state = 'valid') AS valid,
			COUNT(*) FILTER (WHERE validation_state = 'invalid') AS invalid
		FROM address_records
		WHERE batch_id = $1`

	if err := r.db.GetContext(ctx, &counts, query, batchID); err != nil {
		return 0, 0, fmt.Errorf("failed to count batch validity: %w", err)
	}
	return counts.Valid, counts.Invalid, nil
}

// CountTenantBatchValidity counts through a tenant's items so that records
// shared with other tenants are seen once per item.
func (r *Repository) CountTenantBatchValidity(ctx context.Context, batchID, tenantID string) (int, int, error) {
	var counts struct {
		Valid   int `db:"valid"`
		Invalid int `db:"invalid"`
	}
	query := `
		SELECT
			COUNT(DISTINCT r.id) FILTER (WHERE r.validation_state = 'valid') AS valid,
			COUNT(DISTINCT r.id) FILTER (WHERE r.validation_state = 'invalid') AS invalid
		FROM tenant_items i
		JOIN address_records r ON r.id = i.record_id
		WHERE i.batch_id = $1 AND i.tenant_id = $2`

	if err := r.db.GetContext(ctx, &counts, query, batchID, tenantID); err != nil {
		return 0, 0, fmt.Errorf("failed to count tenant batch validity: %w", err)
	}
	return counts.Valid, counts.Invalid, nil
}

// Address record operations

// InsertRecord inserts a shared record. It reports false when a record with
// the same normalized email already exists.
func (r *Repository) InsertRecord(ctx context.Context, rec *AddressRecord) (bool, error) {
	query := `
		INSERT INTO address_records (
			id, email, email_normalized, domain, domain_category, validation_state,
			validation_method, consent, batch_id, tenant_id, created_at
		) VALUES (
			:id, :email, :email_normalized, :domain, :domain_category, :validation_state,
			:validation_method, :consent, :batch_id, :tenant_id, :created_at
		) ON CONFLICT (email_normalized) DO NOTHING`

	res, err := r.db.NamedExecContext(ctx, query, rec)
	if err != nil {
		return false, fmt.Errorf("failed to insert record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return n == 1, nil
}

func (r *Repository) FindRecordByEmail(ctx context.Context, normalized string) (*AddressRecord, error) {
	var rec AddressRecord
	err := r.db.GetContext(ctx, &rec,
		`SELECT * FROM address_records WHERE email_normalized = LOWER($1)`, normalized)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find record: %w", err)
	}
	return &rec, nil
}

// RecordQuery selects address records. With ThroughTenantItems set, records
// are reached only through the tenant's own items.
type RecordQuery struct {
	TenantID           string
	ThroughTenantItems bool
	BatchID            string
	States             []ValidationState
	Methods            []ValidationMethod
	Domains            []string
	Ratings            []string
	ExcludeSuppressed  bool
}

func (r *Repository) ListRecords(ctx context.Context, q RecordQuery) ([]*AddressRecord, error) {
	query, args := buildRecordQuery(q)
	records := []*AddressRecord{}
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return records, nil
}

func buildRecordQuery(q RecordQuery) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var sb strings.Builder
	if q.ThroughTenantItems {
		sb.WriteString(`SELECT DISTINCT ON (r.id) r.*, i.batch_id AS item_batch_id FROM tenant_items i JOIN address_records r ON r.id = i.record_id`)
		where = append(where, "i.tenant_id = "+arg(q.TenantID))
		if q.BatchID != "" {
			where = append(where, "i.batch_id = "+arg(q.BatchID))
		}
	} else {
		sb.WriteString(`SELECT r.* FROM address_records r`)
		if q.TenantID != "" {
			where = append(where, "r.tenant_id = "+arg(q.TenantID))
		}
		if q.BatchID != "" {
			where = append(where, "r.batch_id = "+arg(q.BatchID))
		}
	}

	if len(q.States) > 0 {
		states := make([]string, len(q.States))
		for i, s := range q.States {
			states[i] = string(s)
		}
		where = append(where, "r.validation_state = ANY("+arg(pq.Array(states))+")")
	}
	if len(q.Methods) > 0 {
		methods := make([]string, len(q.Methods))
		for i, m := range q.Methods {
			methods[i] = string(m)
		}
		where = append(where, "r.validation_method = ANY("+arg(pq.Array(methods))+")")
	}
	if len(q.Domains) > 0 {
		var domains []string
		mixed := false
		for _, d := range q.Domains {
			d = strings.ToLower(strings.TrimSpace(d))
			if d == "mixed" {
				mixed = true
				continue
			}
			if d != "" {
				domains = append(domains, d)
			}
		}
		var parts []string
		if len(domains) > 0 {
			parts = append(parts, "r.domain = ANY("+arg(pq.Array(domains))+")")
		}
		if mixed {
			parts = append(parts, "r.domain_category = 'mixed'")
		}
		if len(parts) > 0 {
			where = append(where, "("+strings.Join(parts, " OR ")+")")
		}
	}
	if len(q.Ratings) > 0 {
		where = append(where, "r.rating = ANY("+arg(pq.Array(q.Ratings))+")")
	}
	if q.ExcludeSuppressed {
		where = append(where, "r.suppressed = FALSE")
	}

	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	if q.ThroughTenantItems {
		sb.WriteString(" ORDER BY r.id")
	} else {
		sb.WriteString(" ORDER BY r.created_at, r.id")
	}
	return sb.String(), args
}

// ApplyValidation writes every validation field in one statement. Records
// that are no longer unvalidated are left untouched.
func (r *Repository) ApplyValidation(ctx context.Context, u ValidationUpdate) (bool, error) {
	query := `
		UPDATE address_records SET
			validation_state = $2,
			validation_method = $3,
			quality_score = $4,
			rating = $5,
			domain_category = $6,
			validation_error = $7,
			verified_at = $8
		WHERE id = $1 AND validation_state = 'unvalidated'`

	res, err := r.db.ExecContext(ctx, query,
		u.RecordID, u.State, u.Method, u.Score, u.Rating,
		u.DomainCategory, u.ValidationError, u.VerifiedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to apply validation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read update result: %w", err)
	}
	return n == 1, nil
}

// MarkDownloaded touches only the download marker fields.
func (r *Repository) MarkDownloaded(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE address_records SET
			downloaded = TRUE,
			download_count = download_count + 1,
			downloaded_at = $2
		WHERE id = ANY($1)`

	if _, err := r.db.ExecContext(ctx, query, pq.Array(ids), at); err != nil {
		return fmt.Errorf("failed to mark downloaded: %w", err)
	}
	return nil
}

// Rejected entries and tenant items
func (r *Repository) InsertRejected(ctx context.Context, e *RejectedEntry) error {
	query := `
		INSERT INTO rejected_entries (
			id, batch_id, job_id, email, domain, reason, details, created_at
		) VALUES (
			:id, :batch_id, :job_id, :email, :domain, :reason, :details, :created_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, e); err != nil {
		return fmt.Errorf("failed to insert rejected entry: %w", err)
	}
	return nil
}

func (r *Repository) ListRejected(ctx context.Context, batchID string) ([]*RejectedEntry, error) {
	entries := []*RejectedEntry{}
	query := `SELECT * FROM rejected_entries WHERE batch_id = $1 ORDER BY created_at, id`
	if err := r.db.SelectContext(ctx, &entries, query, batchID); err != nil {
		return nil, fmt.Errorf("failed to list rejected entries: %w", err)
	}
	return entries, nil
}

// InsertTenantItem reports false when the batch already holds the email.
func (r *Repository) InsertTenantItem(ctx context.Context, it *TenantItem) (bool, error) {
	query := `
		INSERT INTO tenant_items (
			id, batch_id, tenant_id, job_id, email_normalized, domain, outcome,
			record_id, reject_reason, reject_detail, created_at
		) VALUES (
			:id, :batch_id, :tenant_id, :job_id, :email_normalized, :domain, :outcome,
			:record_id, :reject_reason, :reject_detail, :created_at
		) ON CONFLICT (batch_id, email_normalized) DO NOTHING`

	res, err := r.db.NamedExecContext(ctx, query, it)
	if err != nil {
		return false, fmt.Errorf("failed to insert tenant item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return n == 1, nil
}

// ResetImportRun removes what an earlier delivery of the same import job
// wrote, so the job can restart from the top.
func (r *Repository) ResetImportRun(ctx context.Context, batchID, jobID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM rejected_entries WHERE batch_id = $1 AND job_id = $2`, batchID, jobID); err != nil {
		return fmt.Errorf("failed to reset rejected entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM tenant_items WHERE batch_id = $1 AND job_id = $2`, batchID, jobID); err != nil {
		return fmt.Errorf("failed to reset tenant items: %w", err)
	}

	return tx.Commit()
}

// Jobs
func (r *Repository) CreateJob(ctx context.Context, j *Job) error {
	query := `
		INSERT INTO jobs (
			id, type, status, total, processed, errors, progress_percent,
			result_message, error_message, result_data, params, tenant_id, batch_id, created_at
		) VALUES (
			:id, :type, :status, :total, :processed, :errors, :progress_percent,
			:result_message, :error_message, :result_data, :params, :tenant_id, :batch_id, :created_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, j); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (r *Repository) GetJob(ctx context.Context, id string) (*Job, error) {
	var j Job
	err := r.db.GetContext(ctx, &j, `SELECT * FROM jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &j, nil
}

func (r *Repository) GetJobForTenant(ctx context.Context, id, tenantID string) (*Job, error) {
	var j Job
	err := r.db.GetContext(ctx, &j, `SELECT * FROM jobs WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &j, nil
}

// SaveJob persists the tracked job state. Progress counters never move
// backwards at the storage level either.
func (r *Repository) SaveJob(ctx context.Context, j *Job) error {
	query := `
		UPDATE jobs SET
			status = :status,
			total = :total,
			processed = GREATEST(processed, :processed),
			errors = GREATEST(errors, :errors),
			progress_percent = GREATEST(progress_percent, :progress_percent),
			result_message = :result_message,
			error_message = :error_message,
			result_data = :result_data,
			started_at = :started_at,
			completed_at = :completed_at
		WHERE id = :id`

	if _, err := r.db.NamedExecContext(ctx, query, j); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}
