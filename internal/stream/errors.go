package stream

import (
	"fmt"
	"time"
)

// PartitionLaneError reports a dispatch lane that panicked while handling a request.
// The request is recorded as failed; other lanes are unaffected.
type PartitionLaneError struct {
	Lane    int
	FrameID int
	Value   any
}

func (e *PartitionLaneError) Error() string {
	return fmt.Sprintf("lane %d panicked on frame %d: %v", e.Lane, e.FrameID, e.Value)
}

// SchedulerConfigError rejects a scheduler that cannot derive a trigger cadence.
type SchedulerConfigError struct {
	TotalRequests int
	Duration      time.Duration
	Reason        string
}

func (e *SchedulerConfigError) Error() string {
	return fmt.Sprintf("scheduler config (total=%d, duration=%s): %s", e.TotalRequests, e.Duration, e.Reason)
}

// TelemetryWriteError wraps a failure to persist a dispatch result. Runs stop on it.
type TelemetryWriteError struct {
	FrameID int
	Err     error
}

func (e *TelemetryWriteError) Error() string {
	return fmt.Sprintf("record frame %d: %v", e.FrameID, e.Err)
}

func (e *TelemetryWriteError) Unwrap() error { return e.Err }
