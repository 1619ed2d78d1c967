package export

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/jhossain1509/email-database-manager/internal/db"
)

// RecordWriter serializes records to one output stream.
type RecordWriter interface {
	Write(rec *db.AddressRecord) error
	Flush() error
}

type CSVWriter struct {
	w      *csv.Writer
	fields []string
	row    []string
}

// NewCSVWriter writes the header row immediately.
func NewCSVWriter(out io.Writer, fields []string) (*CSVWriter, error) {
	w := csv.NewWriter(out)
	if err := w.Write(fields); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}
	return &CSVWriter{w: w, fields: fields, row: make([]string, len(fields))}, nil
}

func (c *CSVWriter) Write(rec *db.AddressRecord) error {
	for i, f := range c.fields {
		c.row[i] = FieldValue(rec, f)
	}
	return c.w.Write(c.row)
}

func (c *CSVWriter) Flush() error {
	c.w.Flush()
	return c.w.Error()
}

// TextWriter writes one address per line.
type TextWriter struct {
	w *bufio.Writer
}

func NewTextWriter(out io.Writer) *TextWriter {
	return &TextWriter{w: bufio.NewWriter(out)}
}

func (t *TextWriter) Write(rec *db.AddressRecord) error {
	if _, err := t.w.WriteString(rec.Email); err != nil {
		return err
	}
	return t.w.WriteByte('\n')
}

func (t *TextWriter) Flush() error {
	return t.w.Flush()
}

func NewWriter(out io.Writer, format Format) (RecordWriter, error) {
	if format.Kind == KindTXT {
		return NewTextWriter(out), nil
	}
	return NewCSVWriter(out, format.Fields)
}
