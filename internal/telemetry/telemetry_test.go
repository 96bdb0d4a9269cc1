package telemetry

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewResultFailureUsesUnknownWorker(t *testing.T) {
	sent := time.Unix(100, 0)
	r := NewResult(3, sent, sent.Add(250*time.Millisecond), "10.0.0.1:50051", 12, false)
	if r.ServedBy != UnknownWorker || r.CalcTimeMs != 0 || r.Success {
		t.Fatalf("unexpected failure row: %+v", r)
	}
	if r.LatencyMs != 250 {
		t.Fatalf("latency = %v, want 250", r.LatencyMs)
	}
}

func TestNewResultClampsEndTime(t *testing.T) {
	sent := time.Unix(100, 0)
	r := NewResult(1, sent, sent.Add(-time.Second), "a", 1, true)
	if r.EndTime.Before(r.SentTime) || r.LatencyMs != 0 {
		t.Fatalf("end before sent: %+v", r)
	}
}

func TestCSVRoundTrip(t *testing.T) {
	sent := time.UnixMicro(1_700_000_000_123_456)
	rows := []DispatchResult{
		NewResult(0, sent, sent.Add(1500*time.Microsecond), "replica-a", 2.25, true),
		NewResult(1, sent.Add(time.Second), sent.Add(2*time.Second), "replica-b", 0, false),
	}
	var buf bytes.Buffer
	buf.WriteString(strings.Join(Header, ",") + "\n")
	for _, r := range rows {
		buf.WriteString(strings.Join(r.Record(), ",") + "\n")
	}

	got, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(got) != len(rows) {
		t.Fatalf("got %d rows, want %d", len(got), len(rows))
	}
	for i := range rows {
		if !got[i].SentTime.Equal(rows[i].SentTime) || !got[i].EndTime.Equal(rows[i].EndTime) {
			t.Fatalf("row %d times: got %v/%v want %v/%v", i, got[i].SentTime, got[i].EndTime, rows[i].SentTime, rows[i].EndTime)
		}
		if got[i].FrameID != rows[i].FrameID || got[i].ServedBy != rows[i].ServedBy ||
			got[i].LatencyMs != rows[i].LatencyMs || got[i].Success != rows[i].Success {
			t.Fatalf("row %d: got %+v want %+v", i, got[i], rows[i])
		}
	}
}

func TestReadCSVAcceptsISOTimestampsAndReorderedColumns(t *testing.T) {
	in := "frame_id,worker,sent_time,end_time,latency_ms,calc_time_ms,success\n" +
		"4,w1,2024-05-01T10:00:00Z,2024-05-01T10:00:00.5Z,500,3.5,true\n"
	got, err := ReadCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if len(got) != 1 || !got[0].SentTime.Equal(want) || got[0].FrameID != 4 || !got[0].Success {
		t.Fatalf("unexpected rows: %+v", got)
	}
}

func TestReadCSVErrors(t *testing.T) {
	cases := map[string]string{
		"missing column": "sent_time,end_time,frame_id\n1,2,3\n",
		"bad success":    strings.Join(Header, ",") + "\n1,2,3,w,1,1,maybe\n",
		"bad time":       strings.Join(Header, ",") + "\nyesterday,2,3,w,1,1,1\n",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ReadCSV(strings.NewReader(in)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
	if _, err := ReadCSV(strings.NewReader("a,b\n")); !errors.Is(err, ErrBadHeader) {
		t.Fatalf("expected ErrBadHeader, got %v", err)
	}
}

func TestReadCSVEmpty(t *testing.T) {
	got, err := ReadCSV(strings.NewReader(""))
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestHeaderMatches(t *testing.T) {
	if !HeaderMatches(append([]string(nil), Header...)) {
		t.Fatalf("header should match itself")
	}
	if HeaderMatches([]string{"sent_time"}) {
		t.Fatalf("short header matched")
	}
}

func TestReadConditions(t *testing.T) {
	in := "timestamp,condition\n105,disrupted\n100,normal\n110,normal\n"
	got, err := ReadConditions(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadConditions: %v", err)
	}
	if len(got) != 3 || got[0].Time.Unix() != 100 || got[1].Condition != "disrupted" {
		t.Fatalf("unexpected samples: %+v", got)
	}
	if got[0].Disrupted() || !got[1].Disrupted() {
		t.Fatalf("disrupted classification wrong: %+v", got)
	}
}

func TestConditionDisrupted(t *testing.T) {
	cases := map[string]bool{
		"":            false,
		"normal":      false,
		"OK":          false,
		"disrupted":   true,
		"partitioned": true,
		"packet_loss": true,
	}
	for cond, want := range cases {
		if got := (ConditionSample{Condition: cond}).Disrupted(); got != want {
			t.Errorf("%q: got %v want %v", cond, got, want)
		}
	}
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "results.db")
	s, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sent := time.UnixMicro(1_700_000_000_500_000)
	rows := []DispatchResult{
		NewResult(0, sent, sent.Add(time.Millisecond), "a", 1, true),
		NewResult(1, sent.Add(time.Second), sent.Add(time.Second+2*time.Millisecond), "b", 0, false),
	}
	if err := s.Insert(ctx, rows...); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := LoadSQLite(ctx, path)
	if err != nil {
		t.Fatalf("LoadSQLite: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows", len(got))
	}
	if !got[0].SentTime.Equal(rows[0].SentTime) || got[1].Success || got[1].ServedBy != UnknownWorker {
		t.Fatalf("unexpected rows: %+v", got)
	}
}

func TestLoadSQLiteMissingFile(t *testing.T) {
	if _, err := LoadSQLite(context.Background(), filepath.Join(t.TempDir(), "none.db")); err == nil {
		t.Fatalf("expected error for missing database")
	}
}

func TestConditionWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conditions.csv")
	w, err := OpenConditionLog(path, false)
	if err != nil {
		t.Fatalf("OpenConditionLog: %v", err)
	}
	start := time.UnixMicro(1_700_000_000_000_000)
	w.Write(ConditionSample{Time: start, Condition: ConditionNormal})
	w.Write(ConditionSample{Time: start.Add(5 * time.Second), Condition: ConditionDisrupted})
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	got, err := ReadConditionsFile(path)
	if err != nil {
		t.Fatalf("ReadConditionsFile: %v", err)
	}
	if len(got) != 2 || !got[1].Time.Equal(start.Add(5*time.Second)) || !got[1].Disrupted() {
		t.Fatalf("unexpected samples: %+v", got)
	}
}

func TestConditionLogAppendsAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs", "conditions.csv")
	start := time.UnixMicro(1_700_000_000_000_000)
	for run := 0; run < 2; run++ {
		w, err := OpenConditionLog(path, false)
		if err != nil {
			t.Fatalf("run %d: OpenConditionLog: %v", run, err)
		}
		at := start.Add(time.Duration(run) * time.Minute)
		if err := w.Write(ConditionSample{Time: at.Add(5 * time.Second), Condition: ConditionDisrupted}); err != nil {
			t.Fatalf("Write: %v", err)
		}
		w.Close()
	}
	data, _ := os.ReadFile(path)
	if n := strings.Count(string(data), "timestamp"); n != 1 {
		t.Fatalf("header written %d times:\n%s", n, data)
	}
	got, err := ReadConditionsFile(path)
	if err != nil {
		t.Fatalf("ReadConditionsFile: %v", err)
	}
	if len(got) != 2 || !got[0].Time.Equal(start.Add(5*time.Second)) {
		t.Fatalf("earlier run's samples lost: %+v", got)
	}

	w, err := OpenConditionLog(path, true)
	if err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	w.Close()
	if got, _ := ReadConditionsFile(path); len(got) != 0 {
		t.Fatalf("overwrite kept %d samples", len(got))
	}
}

func TestConditionLogRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conditions.csv")
	if err := os.WriteFile(path, []byte("a,b\n1,2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenConditionLog(path, false); !errors.Is(err, ErrBadConditionHeader) {
		t.Fatalf("expected ErrBadConditionHeader, got %v", err)
	}
}
