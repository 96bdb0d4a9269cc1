package stream

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"fractalstream/internal/rpc"
	"fractalstream/internal/telemetry"
	"fractalstream/internal/workload"
)

// fakeRenderer answers by frame id: failing frames fail, panicking frames panic.
type fakeRenderer struct {
	mu      sync.Mutex
	calls   int
	fail    map[int]bool
	panics  map[int]bool
	delay   time.Duration
	started chan int
	release chan struct{}
}

func (f *fakeRenderer) Render(ctx context.Context, req workload.RequestDescriptor) rpc.Outcome {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.started != nil {
		f.started <- req.FrameID
	}
	if f.release != nil {
		<-f.release
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.panics[req.FrameID] {
		panic("renderer exploded")
	}
	if f.fail[req.FrameID] {
		return rpc.Failure{Reason: "Unavailable: connection refused", Err: &rpc.RemoteCallError{Attempts: 3, Replica: "r1"}}
	}
	return rpc.Success{CalcTimeMs: 1.5, ServerID: "replica-" + string(rune('a'+req.FrameID%2)), Replica: "r", Attempts: 1}
}

type memWriter struct {
	mu   sync.Mutex
	rows []telemetry.DispatchResult
	err  error
}

func (m *memWriter) Write(r telemetry.DispatchResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, r)
	return nil
}

func (m *memWriter) Rows() []telemetry.DispatchResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]telemetry.DispatchResult(nil), m.rows...)
}

func makeBatch(n int) []workload.RequestDescriptor {
	out := make([]workload.RequestDescriptor, n)
	for i := range out {
		out[i] = workload.RequestDescriptor{FrameID: i}
	}
	return out
}

func frameIDs(rows []telemetry.DispatchResult) []int {
	ids := make([]int, len(rows))
	for i, r := range rows {
		ids[i] = r.FrameID
	}
	sort.Ints(ids)
	return ids
}

func TestPartition(t *testing.T) {
	cases := []struct {
		n, lanes  int
		wantLanes int
		wantFirst int
	}{
		{n: 10, lanes: 3, wantLanes: 3, wantFirst: 4},
		{n: 2, lanes: 8, wantLanes: 2, wantFirst: 1},
		{n: 0, lanes: 4, wantLanes: 0},
	}
	for _, tc := range cases {
		parts := Partition(makeBatch(tc.n), tc.lanes)
		if len(parts) != tc.wantLanes {
			t.Fatalf("n=%d lanes=%d: got %d lanes", tc.n, tc.lanes, len(parts))
		}
		if tc.wantLanes > 0 && len(parts[0]) != tc.wantFirst {
			t.Fatalf("n=%d lanes=%d: first lane has %d items", tc.n, tc.lanes, len(parts[0]))
		}
	}
	parts := Partition(makeBatch(7), 3)
	if parts[1][0].FrameID != 1 || parts[1][1].FrameID != 4 {
		t.Fatalf("partition not round-robin: %+v", parts[1])
	}
}

func TestDispatchIsolatesFailures(t *testing.T) {
	r := &fakeRenderer{fail: map[int]bool{1: true, 6: true}}
	w := &memWriter{}
	d, err := NewDispatcher(r, w, 4)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	results, err := d.Dispatch(context.Background(), makeBatch(10))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(results) != 10 {
		t.Fatalf("got %d results, want 10", len(results))
	}
	for i, id := range frameIDs(results) {
		if id != i {
			t.Fatalf("frame ids not one-per-request: %v", frameIDs(results))
		}
	}
	failed := 0
	for _, res := range results {
		if res.EndTime.Before(res.SentTime) {
			t.Fatalf("end before sent: %+v", res)
		}
		if !res.Success {
			failed++
			if res.ServedBy != telemetry.UnknownWorker {
				t.Fatalf("failed row served by %q", res.ServedBy)
			}
			if res.FrameID != 1 && res.FrameID != 6 {
				t.Fatalf("unexpected failure for frame %d", res.FrameID)
			}
		}
	}
	if failed != 2 {
		t.Fatalf("failed = %d, want 2", failed)
	}
	if len(w.Rows()) != 10 {
		t.Fatalf("writer got %d rows", len(w.Rows()))
	}
}

func TestDispatchRecoversLanePanic(t *testing.T) {
	r := &fakeRenderer{panics: map[int]bool{2: true}}
	d, _ := NewDispatcher(r, nil, 2)

	results, err := d.Dispatch(context.Background(), makeBatch(6))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(results) != 6 {
		t.Fatalf("got %d results", len(results))
	}
	for _, res := range results {
		if res.FrameID == 2 && res.Success {
			t.Fatalf("panicking frame recorded as success")
		}
		if res.FrameID != 2 && !res.Success {
			t.Fatalf("frame %d failed alongside the panicking one", res.FrameID)
		}
	}
}

func TestDispatchLatencyIncludesRenderTime(t *testing.T) {
	r := &fakeRenderer{delay: 20 * time.Millisecond}
	d, _ := NewDispatcher(r, nil, 1)
	results, _ := d.Dispatch(context.Background(), makeBatch(1))
	if results[0].LatencyMs < 20 {
		t.Fatalf("latency %.2fms shorter than render", results[0].LatencyMs)
	}
}

func TestDispatchUsesInjectedClock(t *testing.T) {
	base := time.Unix(1000, 0)
	var ticks int
	d, _ := NewDispatcher(&fakeRenderer{}, nil, 1)
	d.now = func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks) * 250 * time.Millisecond)
	}
	results, _ := d.Dispatch(context.Background(), makeBatch(1))
	if results[0].LatencyMs != 250 {
		t.Fatalf("latency = %v, want 250", results[0].LatencyMs)
	}
}

func TestDispatchReportsWriteFailure(t *testing.T) {
	w := &memWriter{err: errors.New("disk full")}
	d, _ := NewDispatcher(&fakeRenderer{}, w, 2)

	results, err := d.Dispatch(context.Background(), makeBatch(4))
	var twe *TelemetryWriteError
	if !errors.As(err, &twe) {
		t.Fatalf("expected TelemetryWriteError, got %v", err)
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("error lost cause: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("results should still be returned, got %d", len(results))
	}
}

func TestNewDispatcherValidation(t *testing.T) {
	if _, err := NewDispatcher(nil, nil, 1); err == nil {
		t.Fatalf("expected error for nil renderer")
	}
	if _, err := NewDispatcher(&fakeRenderer{}, nil, 0); err == nil {
		t.Fatalf("expected error for zero lanes")
	}
}
