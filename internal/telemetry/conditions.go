package telemetry

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Condition names used by scenarios. Any other non-empty value is treated as disrupted.
const (
	ConditionNormal    = "normal"
	ConditionDisrupted = "disrupted"
)

// ConditionSample is one reading of the network-condition tag.
type ConditionSample struct {
	Time      time.Time `json:"timestamp"`
	Condition string    `json:"condition"`
}

// Disrupted reports whether the sample reads a degraded network state.
func (c ConditionSample) Disrupted() bool {
	switch strings.ToLower(strings.TrimSpace(c.Condition)) {
	case "", ConditionNormal, "ok", "healthy":
		return false
	}
	return true
}

// ReadConditions decodes a `timestamp,condition` CSV. Samples are returned in time order.
func ReadConditions(r io.Reader) ([]ConditionSample, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	var out []ConditionSample
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) < 2 {
			return nil, fmt.Errorf("line %d: expected timestamp,condition", line)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "timestamp") {
			continue
		}
		ts, err := ParseTime(rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, ConditionSample{Time: ts, Condition: strings.TrimSpace(rec[1])})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// ReadConditionsFile opens path and decodes its condition samples.
func ReadConditionsFile(path string) ([]ConditionSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadConditions(f)
}

// ConditionWriter appends condition samples to a `timestamp,condition` CSV.
type ConditionWriter struct {
	mu   sync.Mutex
	file *os.File
	enc  *csv.Writer
}

// ErrBadConditionHeader is returned when an existing condition log has foreign columns.
var ErrBadConditionHeader = errors.New("condition log header mismatch")

var conditionHeader = []string{"timestamp", "condition"}

// OpenConditionLog opens path for appending, writing the header when the file is new
// or empty. An existing log must carry the condition header. overwrite truncates it.
func OpenConditionLog(path string, overwrite bool) (*ConditionWriter, error) {
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
	w := &ConditionWriter{file: f, enc: csv.NewWriter(f)}

	head, err := csv.NewReader(bufio.NewReader(f)).Read()
	switch {
	case errors.Is(err, io.EOF):
		err = w.write(conditionHeader)
	case err != nil:
		err = fmt.Errorf("read header of %s: %w", path, err)
	case len(head) < 2 || !strings.EqualFold(strings.TrimSpace(head[0]), "timestamp"):
		err = fmt.Errorf("%s: %w", path, ErrBadConditionHeader)
	default:
		_, err = f.Seek(0, io.SeekEnd)
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Write appends one sample and syncs it to disk.
func (w *ConditionWriter) Write(c ConditionSample) error {
	return w.write([]string{FormatTime(c.Time), c.Condition})
}

// Close closes the log.
func (w *ConditionWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

func (w *ConditionWriter) write(rec []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Write(rec); err != nil {
		return err
	}
	w.enc.Flush()
	if err := w.enc.Error(); err != nil {
		return err
	}
	return w.file.Sync()
}
