// Dispatch telemetry rows shared by the recorder, sinks and analyzer
package telemetry

import (
	"os"
	"time"
)

// DispatchResult is the outcome of one dispatched render request. It is created once
// per request and never mutated after it has been written.
type DispatchResult struct {
	FrameID    int       `json:"frame_id"`     // TAG
	SentTime   time.Time `json:"sent_time"`    // TIME INDEX
	EndTime    time.Time `json:"end_time"`     // FIELD
	ServedBy   string    `json:"worker"`       // TAG
	LatencyMs  float64   `json:"latency_ms"`   // FIELD
	CalcTimeMs float64   `json:"calc_time_ms"` // FIELD
	Success    bool      `json:"success"`      // FIELD
}

// UnknownWorker is recorded as the serving replica of failed requests.
const UnknownWorker = "unknown"

// Header lists the telemetry log columns in write order.
var Header = []string{"sent_time", "end_time", "frame_id", "worker", "latency_ms", "calc_time_ms", "success"}

// TableName holds the table used for database sinks. It defaults to
// "fractal_dispatch" and can be overridden via GREPTIMEDB_TABLE.
var TableName = func() string {
	if env := os.Getenv("GREPTIMEDB_TABLE"); env != "" {
		return env
	}
	return "fractal_dispatch"
}()

// NewResult builds a result for a request sent at sent and finished at end.
// end is clamped so it never precedes sent.
func NewResult(frameID int, sent, end time.Time, servedBy string, calcTimeMs float64, success bool) DispatchResult {
	if end.Before(sent) {
		end = sent
	}
	if !success {
		servedBy = UnknownWorker
		calcTimeMs = 0
	}
	return DispatchResult{
		FrameID:    frameID,
		SentTime:   sent,
		EndTime:    end,
		ServedBy:   servedBy,
		LatencyMs:  float64(end.Sub(sent)) / float64(time.Millisecond),
		CalcTimeMs: calcTimeMs,
		Success:    success,
	}
}
