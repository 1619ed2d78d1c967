package export

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/jhossain1509/email-database-manager/internal/db"
)

const DefaultSplitSize = 10000

type Kind string

const (
	KindCSV Kind = "csv"
	KindTXT Kind = "txt"
)

type Format struct {
	Kind      Kind     `json:"kind"`
	Fields    []string `json:"fields,omitempty"`
	SplitSize int      `json:"split_size,omitempty"`
	Split     bool     `json:"split"`
}

// Normalized fills defaults: csv, the email column, and the default split size.
func (f Format) Normalized() Format {
	if f.Kind != KindTXT {
		f.Kind = KindCSV
	}
	var fields []string
	for _, name := range f.Fields {
		name = strings.TrimSpace(name)
		if name != "" {
			fields = append(fields, name)
		}
	}
	if len(fields) == 0 {
		fields = []string{"email"}
	}
	f.Fields = fields
	if f.SplitSize <= 0 {
		f.SplitSize = DefaultSplitSize
	}
	return f
}

func (f Format) Extension() string {
	return "." + string(f.Kind)
}

// FieldValue renders one column of a record. Names outside the documented
// set are looked up by column name and default to "".
func FieldValue(rec *db.AddressRecord, field string) string {
	switch field {
	case "email":
		return rec.Email
	case "domain":
		return rec.Domain
	case "domain_category":
		return rec.DomainCategory
	case "quality_score":
		if rec.QualityScore == nil {
			return ""
		}
		return strconv.Itoa(*rec.QualityScore)
	case "rating":
		if rec.Rating == nil {
			return ""
		}
		return *rec.Rating
	case "validation_state":
		return string(rec.State)
	case "validation_method":
		return string(rec.Method)
	case "batch_id":
		return rec.BatchID
	case "created_at":
		return formatTime(&rec.CreatedAt)
	case "verified_at":
		return formatTime(rec.VerifiedAt)
	}
	return lookupColumn(rec, field)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func lookupColumn(rec *db.AddressRecord, field string) string {
	v := reflect.ValueOf(rec).Elem()
	typ := v.Type()
	for i := 0; i < typ.NumField(); i++ {
		if typ.Field(i).Tag.Get("db") != field {
			continue
		}
		fv := v.Field(i)
		if fv.Kind() == reflect.Pointer {
			if fv.IsNil() {
				return ""
			}
			fv = fv.Elem()
		}
		if t, ok := fv.Interface().(time.Time); ok {
			return formatTime(&t)
		}
		return fmt.Sprint(fv.Interface())
	}
	return ""
}
