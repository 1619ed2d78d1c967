package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/jhossain1509/email-database-manager/internal/db"
	"github.com/jhossain1509/email-database-manager/internal/export"
)

// ImportParams are stored on an import job when it is enqueued.
type ImportParams struct {
	BatchID    string `json:"batch_id"`
	SourcePath string `json:"source_path"`
	Consent    bool   `json:"consent"`
	Policy     string `json:"policy"`
}

type ValidateParams struct {
	BatchID       string   `json:"batch_id,omitempty"`
	AllUnverified bool     `json:"all_unverified,omitempty"`
	Domains       []string `json:"domains,omitempty"`
	CheckMX       bool     `json:"check_mx"`
	UseSMTP       bool     `json:"use_smtp"`
	Policy        string   `json:"policy"`
}

type ExportParams struct {
	Filter export.Filter `json:"filter"`
	Format export.Format `json:"format"`
	Policy string        `json:"policy"`
}

// EncodeParams flattens a params struct into the job's JSONB column.
func EncodeParams(v interface{}) (db.JSONB, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job params: %w", err)
	}
	var out db.JSONB
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to encode job params: %w", err)
	}
	return out, nil
}

func DecodeParams(raw db.JSONB, v interface{}) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to decode job params: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode job params: %w", err)
	}
	return nil
}
