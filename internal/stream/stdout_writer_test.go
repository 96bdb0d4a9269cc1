package stream

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"fractalstream/internal/telemetry"
)

func TestConsoleWriterPlain(t *testing.T) {
	buf := &bytes.Buffer{}
	w := &ConsoleWriter{out: buf}
	rows := sampleRows(3)
	for _, r := range rows {
		if err := w.Write(r); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %q", buf.String())
	}
	if !strings.Contains(lines[0], "frame 0 -> replica-a: 10.0ms (calc 2.0ms) OK") {
		t.Fatalf("unexpected line %q", lines[0])
	}
	if !strings.HasSuffix(lines[2], "FAIL") || !strings.Contains(lines[2], telemetry.UnknownWorker) {
		t.Fatalf("unexpected failure line %q", lines[2])
	}
	if strings.Contains(buf.String(), "\x1b[") {
		t.Fatalf("plain output contains color codes")
	}
}

func TestConsoleWriterColorized(t *testing.T) {
	buf := &bytes.Buffer{}
	w := &ConsoleWriter{out: buf, colorize: true}
	w.Write(sampleRows(1)[0])
	if !strings.Contains(buf.String(), "\x1b[") {
		t.Fatalf("expected color codes in output: %q", buf.String())
	}
}

func TestJSONStdoutWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	w := &JSONStdoutWriter{out: buf}
	if err := w.WriteBatch(sampleRows(2)); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["frame_id"].(float64) != 1 || got["worker"] != "replica-a" {
		t.Fatalf("unexpected JSON: %v", got)
	}
}
