package stream

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"fractalstream/internal/telemetry"
)

func csvLog(rows []telemetry.DispatchResult) *bytes.Buffer {
	buf := &bytes.Buffer{}
	buf.WriteString(strings.Join(telemetry.Header, ",") + "\n")
	for _, r := range rows {
		buf.WriteString(strings.Join(r.Record(), ",") + "\n")
	}
	return buf
}

func TestReplayLog(t *testing.T) {
	w := &memWriter{}
	n, err := ReplayLog(context.Background(), csvLog(sampleRows(4)), w, 0)
	if err != nil {
		t.Fatalf("ReplayLog: %v", err)
	}
	if n != 4 || len(w.Rows()) != 4 {
		t.Fatalf("replayed %d rows, writer has %d", n, len(w.Rows()))
	}
	if w.Rows()[3].Success != sampleRows(4)[3].Success {
		t.Fatalf("row content changed during replay")
	}
}

func TestReplayLogHonoursSpeed(t *testing.T) {
	// rows are one second apart; at 50x the three gaps take about 60ms
	start := time.Now()
	if _, err := ReplayLog(context.Background(), csvLog(sampleRows(4)), &memWriter{}, 50); err != nil {
		t.Fatalf("ReplayLog: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("replay too fast: %s", elapsed)
	}
}

func TestReplayLogCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	w := &memWriter{}
	n, err := ReplayLog(ctx, csvLog(sampleRows(4)), w, 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if n != 1 {
		t.Fatalf("replayed %d rows before cancel, want 1", n)
	}
}
