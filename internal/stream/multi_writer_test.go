package stream

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"fractalstream/internal/telemetry"
)

type closingWriter struct {
	memWriter
	closed   bool
	closeErr error
}

func (c *closingWriter) Close() error {
	c.closed = true
	return c.closeErr
}

type batchOnlyWriter struct {
	memWriter
	batches int
}

func (b *batchOnlyWriter) WriteBatch(rows []telemetry.DispatchResult) error {
	b.batches++
	for _, r := range rows {
		b.memWriter.Write(r)
	}
	return nil
}

func TestMultiWriterFanOut(t *testing.T) {
	a, b := &memWriter{}, &batchOnlyWriter{}
	mw := NewMultiWriter(a, nil, b)
	rows := sampleRows(3)
	if err := mw.Write(rows[0]); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := mw.WriteBatch(rows[1:]); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if len(a.Rows()) != 3 || len(b.Rows()) != 3 {
		t.Fatalf("rows not fanned out: %d, %d", len(a.Rows()), len(b.Rows()))
	}
	if b.batches != 1 {
		t.Fatalf("batch writer used %d times", b.batches)
	}
}

func TestMultiWriterAttemptsEveryWriter(t *testing.T) {
	bad := &memWriter{err: errors.New("boom")}
	worse := &memWriter{err: errors.New("bang")}
	after := &memWriter{}
	mw := NewMultiWriter(bad, after, worse)
	err := mw.Write(sampleRows(1)[0])
	if err == nil {
		t.Fatalf("expected error without a durable writer")
	}
	if !strings.Contains(err.Error(), "boom") || !strings.Contains(err.Error(), "bang") {
		t.Fatalf("aggregated error missing causes: %v", err)
	}
	if len(after.Rows()) != 1 {
		t.Fatalf("writer after a failure should still be called")
	}
}

func TestMultiWriterSecondaryFailureKeepsDurableRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.csv")
	lw, err := OpenCSVLog(path, false)
	if err != nil {
		t.Fatalf("OpenCSVLog: %v", err)
	}
	down := &memWriter{err: errors.New("greptime down")}
	mw := NewMultiWriter(down)
	mw.SetDurable(lw)

	row := sampleRows(8)[7]
	if err := mw.Write(row); err != nil {
		t.Fatalf("secondary failure should not be returned: %v", err)
	}
	if err := mw.WriteBatch(sampleRows(2)); err != nil {
		t.Fatalf("secondary batch failure should not be returned: %v", err)
	}
	if got := mw.SecondaryFailures(); got != 2 {
		t.Fatalf("secondary failures = %d, want 2", got)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	rows, err := telemetry.ReadCSVFile(path)
	if err != nil {
		t.Fatalf("ReadCSVFile: %v", err)
	}
	if len(rows) != 3 || rows[0].FrameID != 7 {
		t.Fatalf("durable log rows = %+v", rows)
	}
}

func TestMultiWriterDurableFailureIsReturned(t *testing.T) {
	durable := &memWriter{err: errors.New("disk full")}
	other := &memWriter{}
	mw := NewMultiWriter(other)
	mw.SetDurable(durable)
	if err := mw.Write(sampleRows(1)[0]); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected durable error, got %v", err)
	}
	if mw.SecondaryFailures() != 0 {
		t.Fatalf("durable failure counted as secondary")
	}
}

func TestMultiWriterCloseAggregates(t *testing.T) {
	c1 := &closingWriter{closeErr: errors.New("first")}
	c2 := &closingWriter{}
	c3 := &closingWriter{closeErr: errors.New("third")}
	mw := NewMultiWriter(c1, &memWriter{})
	mw.Add(c2)
	mw.Add(c3)

	err := mw.Close()
	if err == nil {
		t.Fatalf("expected aggregated error")
	}
	if !c1.closed || !c2.closed || !c3.closed {
		t.Fatalf("not every writer closed")
	}
	msg := err.Error()
	if !strings.Contains(msg, "first") || !strings.Contains(msg, "third") {
		t.Fatalf("aggregated error missing causes: %s", msg)
	}
	if err := NewMultiWriter(c2).Close(); err != nil {
		t.Fatalf("clean close returned %v", err)
	}
}
