// Writers printing dispatch results to STDOUT
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"fractalstream/internal/telemetry"
)

const (
	colorReset = "\x1b[0m"
	colorRed   = "\x1b[31m"
	colorGreen = "\x1b[32m"
	colorCyan  = "\x1b[36m"
	colorGray  = "\x1b[90m"
)

// ConsoleWriter prints one human-readable line per result.
type ConsoleWriter struct {
	mu       sync.Mutex
	out      io.Writer
	colorize bool
}

// NewConsoleWriter creates a ConsoleWriter writing to os.Stdout.
func NewConsoleWriter(colorize bool) *ConsoleWriter {
	return &ConsoleWriter{out: os.Stdout, colorize: colorize}
}

// Write prints `frame N -> worker: latency (calc) OK|FAIL`.
func (w *ConsoleWriter) Write(row telemetry.DispatchResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	status := "OK"
	statusColor := colorGreen
	if !row.Success {
		status = "FAIL"
		statusColor = colorRed
	}
	if !w.colorize {
		_, err := fmt.Fprintf(w.out, "[%s] frame %d -> %s: %.1fms (calc %.1fms) %s\n",
			row.SentTime.Format(time.RFC3339), row.FrameID, row.ServedBy, row.LatencyMs, row.CalcTimeMs, status)
		return err
	}
	_, err := fmt.Fprintf(w.out, "%s[%s]%s frame %d -> %s%s%s: %.1fms (calc %.1fms) %s%s%s\n",
		colorGray, row.SentTime.Format(time.RFC3339), colorReset,
		row.FrameID,
		colorCyan, row.ServedBy, colorReset,
		row.LatencyMs, row.CalcTimeMs,
		statusColor, status, colorReset)
	return err
}

// JSONStdoutWriter prints results as JSON lines.
type JSONStdoutWriter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewJSONStdoutWriter creates a JSONStdoutWriter writing to os.Stdout.
func NewJSONStdoutWriter() *JSONStdoutWriter {
	return &JSONStdoutWriter{out: os.Stdout}
}

// Write outputs a result in JSON format.
func (w *JSONStdoutWriter) Write(row telemetry.DispatchResult) error {
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = fmt.Fprintln(w.out, string(data))
	return err
}

// WriteBatch outputs multiple results in JSON format.
func (w *JSONStdoutWriter) WriteBatch(rows []telemetry.DispatchResult) error {
	for _, r := range rows {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}
