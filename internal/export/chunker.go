package export

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jhossain1509/email-database-manager/internal/db"
)

// Chunker writes records to numbered files of at most chunkSize records.
// A chunkSize of zero keeps everything in a single file named base+ext.
type Chunker struct {
	dir       string
	base      string
	format    Format
	chunkSize int

	file    *os.File
	writer  RecordWriter
	inChunk int
	files   []string
}

func NewChunker(dir, base string, format Format, chunkSize int) *Chunker {
	return &Chunker{dir: dir, base: base, format: format, chunkSize: chunkSize}
}

func (c *Chunker) open() error {
	name := c.base + c.format.Extension()
	if c.chunkSize > 0 {
		name = fmt.Sprintf("%s_part%d%s", c.base, len(c.files)+1, c.format.Extension())
	}
	path := filepath.Join(c.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	w, err := NewWriter(f, c.format)
	if err != nil {
		f.Close()
		return err
	}
	c.file = f
	c.writer = w
	c.inChunk = 0
	c.files = append(c.files, path)
	return nil
}

func (c *Chunker) closeCurrent() error {
	if c.file == nil {
		return nil
	}
	if err := c.writer.Flush(); err != nil {
		c.file.Close()
		return fmt.Errorf("failed to flush export file: %w", err)
	}
	err := c.file.Close()
	c.file = nil
	c.writer = nil
	return err
}

func (c *Chunker) Write(rec *db.AddressRecord) error {
	if c.file != nil && c.chunkSize > 0 && c.inChunk >= c.chunkSize {
		if err := c.closeCurrent(); err != nil {
			return err
		}
	}
	if c.file == nil {
		if err := c.open(); err != nil {
			return err
		}
	}
	if err := c.writer.Write(rec); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	c.inChunk++
	return nil
}

// Close flushes the open file and returns every file written. An export
// with no records still produces one file holding just the header.
func (c *Chunker) Close() ([]string, error) {
	if len(c.files) == 0 {
		if err := c.open(); err != nil {
			return nil, err
		}
	}
	if err := c.closeCurrent(); err != nil {
		return c.files, err
	}
	return c.files, nil
}

// Archive zips files into zipPath and removes the originals.
func Archive(zipPath string, files []string) error {
	out, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	zw := zip.NewWriter(out)
	for _, path := range files {
		if err := addToZip(zw, path); err != nil {
			zw.Close()
			out.Close()
			os.Remove(zipPath)
			return err
		}
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close archive: %w", err)
	}

	for _, path := range files {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove chunk %s: %w", path, err)
		}
	}
	return nil
}

func addToZip(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open chunk: %w", err)
	}
	defer f.Close()

	w, err := zw.Create(filepath.Base(path))
	if err != nil {
		return fmt.Errorf("failed to add %s to archive: %w", path, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to copy %s into archive: %w", path, err)
	}
	return nil
}
