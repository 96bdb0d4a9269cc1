// Telemetry sinks fed by the dispatcher
package stream

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"

	"fractalstream/internal/telemetry"
)

// TelemetryWriter is an interface to support different result sinks.
type TelemetryWriter interface {
	Write(telemetry.DispatchResult) error
}

// Optional: writers can also support batch mode
type batchWriter interface {
	WriteBatch([]telemetry.DispatchResult) error
}

// MultiWriter fans results out to multiple writers. An optional durable writer is
// written first and is the only one whose failure is returned once it is set; the
// other writers are all attempted, and their failures are logged and counted.
type MultiWriter struct {
	durable TelemetryWriter
	writers []TelemetryWriter
	log     *slog.Logger

	secondaryFailures atomic.Int64
}

// NewMultiWriter creates a new MultiWriter. Nil writers are skipped.
func NewMultiWriter(ws ...TelemetryWriter) *MultiWriter {
	mw := &MultiWriter{}
	for _, w := range ws {
		if w != nil {
			mw.writers = append(mw.writers, w)
		}
	}
	return mw
}

// Add appends a writer.
func (mw *MultiWriter) Add(w TelemetryWriter) {
	mw.writers = append(mw.writers, w)
}

// SetDurable makes w the writer of record.
func (mw *MultiWriter) SetDurable(w TelemetryWriter) {
	mw.durable = w
}

// SetLogger sets the logger used for secondary write failures.
func (mw *MultiWriter) SetLogger(l *slog.Logger) {
	mw.log = l
}

// SecondaryFailures returns how many writes to non-durable writers failed.
func (mw *MultiWriter) SecondaryFailures() int64 {
	return mw.secondaryFailures.Load()
}

// Write sends a result to every writer.
func (mw *MultiWriter) Write(row telemetry.DispatchResult) error {
	return mw.fanOut(1, func(w TelemetryWriter) error { return w.Write(row) })
}

// WriteBatch sends multiple results to every writer, using batch if supported.
func (mw *MultiWriter) WriteBatch(rows []telemetry.DispatchResult) error {
	return mw.fanOut(len(rows), func(w TelemetryWriter) error { return writeAll(w, rows) })
}

func (mw *MultiWriter) fanOut(rows int, write func(TelemetryWriter) error) error {
	if mw.durable != nil {
		if err := write(mw.durable); err != nil {
			return err
		}
	}
	var result *multierror.Error
	for _, w := range mw.writers {
		if err := write(w); err != nil {
			result = multierror.Append(result, fmt.Errorf("%T: %w", w, err))
		}
	}
	err := result.ErrorOrNil()
	if err == nil || mw.durable == nil {
		return err
	}
	mw.secondaryFailures.Add(int64(len(result.Errors)))
	mw.logger().Warn("secondary telemetry write failed", "rows", rows, "err", err)
	return nil
}

func (mw *MultiWriter) logger() *slog.Logger {
	if mw.log == nil {
		return slog.Default()
	}
	return mw.log
}

// Close closes every writer that has a Close method and reports all failures.
func (mw *MultiWriter) Close() error {
	var result *multierror.Error
	all := mw.writers
	if mw.durable != nil {
		all = append(append([]TelemetryWriter(nil), mw.writers...), mw.durable)
	}
	for _, w := range all {
		if c, ok := w.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

func writeAll(w TelemetryWriter, rows []telemetry.DispatchResult) error {
	if bw, ok := w.(batchWriter); ok {
		return bw.WriteBatch(rows)
	}
	for _, r := range rows {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}
