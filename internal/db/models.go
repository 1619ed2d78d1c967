package db

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("not found")

type ValidationState string

const (
	StateUnvalidated ValidationState = "unvalidated"
	StateValid       ValidationState = "valid"
	StateInvalid     ValidationState = "invalid"
)

type ValidationMethod string

const (
	MethodNone     ValidationMethod = "none"
	MethodStandard ValidationMethod = "standard"
	MethodSMTP     ValidationMethod = "smtp"
)

type BatchStatus string

const (
	BatchQueued     BatchStatus = "queued"
	BatchRunning    BatchStatus = "running"
	BatchUploaded   BatchStatus = "uploaded"
	BatchValidating BatchStatus = "validating"
	BatchValidated  BatchStatus = "validated"
	BatchFailed     BatchStatus = "failed"
)

type JobType string

const (
	JobImport     JobType = "import"
	JobValidate   JobType = "validate"
	JobExport     JobType = "export"
	JobSMTPHealth JobType = "smtp_health"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

type ItemOutcome string

const (
	OutcomeInserted  ItemOutcome = "inserted_new"
	OutcomeDuplicate ItemOutcome = "duplicate_existing"
	OutcomeRejected  ItemOutcome = "rejected"
)

// AddressRecord is the canonical shared-pool row, unique on EmailNormalized.
type AddressRecord struct {
	ID              string           `json:"id" db:"id"`
	Email           string           `json:"email" db:"email"`
	EmailNormalized string           `json:"-" db:"email_normalized"`
	Domain          string           `json:"domain" db:"domain"`
	DomainCategory  string           `json:"domain_category" db:"domain_category"`
	State           ValidationState  `json:"validation_state" db:"validation_state"`
	QualityScore    *int             `json:"quality_score,omitempty" db:"quality_score"`
	Rating          *string          `json:"rating,omitempty" db:"rating"`
	Method          ValidationMethod `json:"validation_method" db:"validation_method"`
	ValidationError string           `json:"validation_error,omitempty" db:"validation_error"`
	Consent         bool             `json:"consent" db:"consent"`
	Suppressed      bool             `json:"suppressed" db:"suppressed"`
	Downloaded      bool             `json:"downloaded" db:"downloaded"`
	DownloadCount   int              `json:"download_count" db:"download_count"`
	BatchID         string           `json:"batch_id" db:"batch_id"`
	TenantID        string           `json:"-" db:"tenant_id"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
	VerifiedAt      *time.Time       `json:"verified_at,omitempty" db:"verified_at"`
	DownloadedAt    *time.Time       `json:"downloaded_at,omitempty" db:"downloaded_at"`
	// ItemBatchID is set when the record was reached through a tenant item.
	ItemBatchID     string           `json:"-" db:"item_batch_id"`
}

// OwningBatch is the batch whose counters this record contributes to.
func (r *AddressRecord) OwningBatch() string {
	if r.ItemBatchID != "" {
		return r.ItemBatchID
	}
	return r.BatchID
}

// TenantItem is an isolated tenant's view of one uploaded line.
type TenantItem struct {
	ID              string      `json:"id" db:"id"`
	BatchID         string      `json:"batch_id" db:"batch_id"`
	TenantID        string      `json:"-" db:"tenant_id"`
	JobID           string      `json:"job_id" db:"job_id"`
	EmailNormalized string      `json:"email" db:"email_normalized"`
	Domain          string      `json:"domain" db:"domain"`
	Outcome         ItemOutcome `json:"outcome" db:"outcome"`
	RecordID        *string     `json:"record_id,omitempty" db:"record_id"`
	RejectReason    string      `json:"reject_reason,omitempty" db:"reject_reason"`
	RejectDetail    string      `json:"reject_detail,omitempty" db:"reject_detail"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
}

type RejectedEntry struct {
	ID        string    `json:"id" db:"id"`
	BatchID   string    `json:"batch_id" db:"batch_id"`
	JobID     string    `json:"job_id" db:"job_id"`
	Email     string    `json:"email" db:"email"`
	Domain    string    `json:"domain" db:"domain"`
	Reason    string    `json:"reason" db:"reason"`
	Details   string    `json:"details" db:"details"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Batch struct {
	ID        string      `json:"id" db:"id"`
	Name      string      `json:"name" db:"name"`
	Filename  string      `json:"filename" db:"filename"`
	TenantID  string      `json:"-" db:"tenant_id"`
	Isolated  bool        `json:"isolated" db:"isolated"`
	Status    BatchStatus `json:"status" db:"status"`
	TotalRows int         `json:"total_rows" db:"total_rows"`
	Imported  int         `json:"imported" db:"imported_count"`
	Rejected  int         `json:"rejected" db:"rejected_count"`
	Duplicate int         `json:"duplicate" db:"duplicate_count"`
	Valid     int         `json:"valid" db:"valid_count"`
	Invalid   int         `json:"invalid" db:"invalid_count"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt time.Time   `json:"updated_at" db:"updated_at"`
}

type Job struct {
	ID              string     `json:"id" db:"id"`
	Type            JobType    `json:"type" db:"type"`
	Status          JobStatus  `json:"status" db:"status"`
	Total           int        `json:"total" db:"total"`
	Processed       int        `json:"processed" db:"processed"`
	Errors          int        `json:"errors" db:"errors"`
	ProgressPercent float64    `json:"progress_percent" db:"progress_percent"`
	ResultMessage   string     `json:"result_message" db:"result_message"`
	ErrorMessage    string     `json:"error_message" db:"error_message"`
	ResultData      JSONB      `json:"result_data,omitempty" db:"result_data"`
	Params          JSONB      `json:"-" db:"params"`
	TenantID        string     `json:"-" db:"tenant_id"`
	BatchID         *string    `json:"batch_id,omitempty" db:"batch_id"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// DownloadHistory is stored in download_history for shared-pool exports and
// in tenant_download_history (with DownloadedTimes) for isolated tenants.
type DownloadHistory struct {
	ID               string     `json:"id" db:"id"`
	TenantID         string     `json:"-" db:"tenant_id"`
	BatchID          *string    `json:"batch_id,omitempty" db:"batch_id"`
	JobID            string     `json:"job_id" db:"job_id"`
	Filename         string     `json:"filename" db:"filename"`
	Path             string     `json:"path" db:"path"`
	SizeBytes        int64      `json:"size_bytes" db:"size_bytes"`
	RecordCount      int        `json:"record_count" db:"record_count"`
	Filters          string     `json:"filters" db:"filters"`
	DownloadedTimes  int        `json:"downloaded_times" db:"downloaded_times"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	LastDownloadedAt *time.Time `json:"last_downloaded_at,omitempty" db:"last_downloaded_at"`
}

type SMTPEndpoint struct {
	ID          string     `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	Host        string     `json:"host" db:"host"`
	Port        int        `json:"port" db:"port"`
	Username    string     `json:"username" db:"username"`
	Password    string     `json:"-" db:"password"`
	UseTLS      bool       `json:"use_tls" db:"use_tls"`
	UseSSL      bool       `json:"use_ssl" db:"use_ssl"`
	FromEmail   string     `json:"from_email" db:"from_email"`
	Timeout     int        `json:"timeout" db:"timeout"`
	Active      bool       `json:"active" db:"is_active"`
	ThreadCount int        `json:"thread_count" db:"thread_count"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	TestStatus  string     `json:"test_status" db:"test_status"`
	TestedAt    *time.Time `json:"tested_at,omitempty" db:"tested_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

type Suppression struct {
	Email     string    `json:"email" db:"email"`
	Reason    string    `json:"reason" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type IgnoreDomain struct {
	Domain    string    `json:"domain" db:"domain"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ValidationUpdate is the full set of fields written when a record is
// validated. It is applied in one statement.
type ValidationUpdate struct {
	RecordID        string
	State           ValidationState
	Method          ValidationMethod
	Score           int
	Rating          string
	DomainCategory  string
	ValidationError string
	VerifiedAt      time.Time
}

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return fmt.Errorf("unsupported JSONB source %T", value)
	}
}
