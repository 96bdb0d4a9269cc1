package stream

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestMetricsWriter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWriter(reg)
	for _, r := range sampleRows(3) {
		if err := m.Write(r); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("replica-a", "success")); got != 2 {
		t.Fatalf("success count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("unknown", "failure")); got != 1 {
		t.Fatalf("failure count = %v, want 1", got)
	}

	m.ObserveAttempt("r1", 1, status.Error(codes.Unavailable, "down"))
	m.ObserveAttempt("r1", 2, status.Error(codes.Unavailable, "down"))
	if got := testutil.ToFloat64(m.attempts.WithLabelValues("r1", "Unavailable")); got != 2 {
		t.Fatalf("attempt count = %v, want 2", got)
	}

	n, err := testutil.GatherAndCount(reg)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n == 0 {
		t.Fatalf("no metrics registered")
	}
}
