package telemetry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrBadHeader is returned when a telemetry log does not start with the expected columns.
var ErrBadHeader = errors.New("telemetry log header mismatch")

// FormatTime encodes t as epoch seconds with microsecond precision.
func FormatTime(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixMicro())/1e6, 'f', 6, 64)
}

// ParseTime accepts epoch seconds or an ISO-8601 timestamp.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return time.UnixMicro(int64(math.Round(f * 1e6))), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999", "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// Record encodes r in Header column order.
func (r DispatchResult) Record() []string {
	success := "0"
	if r.Success {
		success = "1"
	}
	return []string{
		FormatTime(r.SentTime),
		FormatTime(r.EndTime),
		strconv.Itoa(r.FrameID),
		r.ServedBy,
		strconv.FormatFloat(r.LatencyMs, 'f', 3, 64),
		strconv.FormatFloat(r.CalcTimeMs, 'f', 3, 64),
		success,
	}
}

// HeaderMatches reports whether rec names exactly the telemetry columns in order.
func HeaderMatches(rec []string) bool {
	if len(rec) != len(Header) {
		return false
	}
	for i, h := range Header {
		if strings.TrimSpace(rec[i]) != h {
			return false
		}
	}
	return true
}

// ReadCSV decodes a telemetry log. Columns are located by name so logs written by
// other tools with the same column set are accepted.
func ReadCSV(r io.Reader) ([]DispatchResult, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	head, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	idx := make(map[string]int, len(head))
	for i, h := range head {
		idx[strings.TrimSpace(h)] = i
	}
	for _, h := range Header {
		if _, ok := idx[h]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrBadHeader, h)
		}
	}

	var out []DispatchResult
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		row, err := parseRecord(rec, idx)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, row)
	}
}

// ReadCSVFile opens path and decodes its telemetry rows.
func ReadCSVFile(path string) ([]DispatchResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

func parseRecord(rec []string, idx map[string]int) (DispatchResult, error) {
	var (
		row DispatchResult
		err error
	)
	field := func(name string) string { return strings.TrimSpace(rec[idx[name]]) }

	if row.SentTime, err = ParseTime(field("sent_time")); err != nil {
		return row, fmt.Errorf("sent_time: %w", err)
	}
	if row.EndTime, err = ParseTime(field("end_time")); err != nil {
		return row, fmt.Errorf("end_time: %w", err)
	}
	if row.FrameID, err = strconv.Atoi(field("frame_id")); err != nil {
		return row, fmt.Errorf("frame_id: %w", err)
	}
	row.ServedBy = field("worker")
	if row.LatencyMs, err = strconv.ParseFloat(field("latency_ms"), 64); err != nil {
		return row, fmt.Errorf("latency_ms: %w", err)
	}
	if s := field("calc_time_ms"); s != "" {
		if row.CalcTimeMs, err = strconv.ParseFloat(s, 64); err != nil {
			return row, fmt.Errorf("calc_time_ms: %w", err)
		}
	}
	if row.Success, err = strconv.ParseBool(field("success")); err != nil {
		return row, fmt.Errorf("success: %w", err)
	}
	return row, nil
}
