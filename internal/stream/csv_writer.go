package stream

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"fractalstream/internal/telemetry"
)

// CSVWriter appends dispatch results to the telemetry log. Every row is flushed and
// synced before Write returns, so a crash loses at most the row being written.
type CSVWriter struct {
	mu   sync.Mutex
	path string
	file *os.File
	enc  *csv.Writer
	rows int
}

// OpenCSVLog opens the telemetry log at path. A missing or empty file gets the header;
// an existing log is appended to after its header is checked. overwrite truncates first.
func OpenCSVLog(path string, overwrite bool) (*CSVWriter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	flags := os.O_CREATE | os.O_RDWR
	if overwrite {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, err
	}
	w := &CSVWriter{path: path, file: f, enc: csv.NewWriter(f)}

	head, err := csv.NewReader(bufio.NewReader(f)).Read()
	switch {
	case errors.Is(err, io.EOF):
		if err := w.enc.Write(telemetry.Header); err != nil {
			f.Close()
			return nil, err
		}
		if err := w.flush(); err != nil {
			f.Close()
			return nil, err
		}
	case err != nil:
		f.Close()
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	case !telemetry.HeaderMatches(head):
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, telemetry.ErrBadHeader)
	default:
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return nil, err
		}
	}
	return w, nil
}

// Write appends one result.
func (w *CSVWriter) Write(row telemetry.DispatchResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return os.ErrClosed
	}
	if err := w.enc.Write(row.Record()); err != nil {
		return err
	}
	if err := w.flush(); err != nil {
		return err
	}
	w.rows++
	return nil
}

// WriteBatch appends rows and syncs once.
func (w *CSVWriter) WriteBatch(rows []telemetry.DispatchResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return os.ErrClosed
	}
	for _, r := range rows {
		if err := w.enc.Write(r.Record()); err != nil {
			return err
		}
	}
	if err := w.flush(); err != nil {
		return err
	}
	w.rows += len(rows)
	return nil
}

// Rows returns how many results this writer has appended.
func (w *CSVWriter) Rows() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// Path returns the log file name.
func (w *CSVWriter) Path() string { return w.path }

// Close flushes and closes the log.
func (w *CSVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.flush()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.file = nil
	return err
}

func (w *CSVWriter) flush() error {
	w.enc.Flush()
	if err := w.enc.Error(); err != nil {
		return err
	}
	return w.file.Sync()
}
