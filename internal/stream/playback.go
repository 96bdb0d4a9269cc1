package stream

import (
	"context"
	"io"
	"os"
	"time"

	"fractalstream/internal/telemetry"
)

// ReplayLog replays telemetry rows from r to writer. A speed >0 spaces rows by their
// original sent_time gaps divided by speed; speed <= 0 replays without delay.
func ReplayLog(ctx context.Context, r io.Reader, writer TelemetryWriter, speed float64) (int, error) {
	rows, err := telemetry.ReadCSV(r)
	if err != nil {
		return 0, err
	}
	var prev time.Time
	for i, row := range rows {
		if !prev.IsZero() && speed > 0 {
			diff := row.SentTime.Sub(prev)
			if speed != 1 {
				diff = time.Duration(float64(diff) / speed)
			}
			if diff > 0 {
				t := time.NewTimer(diff)
				select {
				case <-ctx.Done():
					t.Stop()
					return i, ctx.Err()
				case <-t.C:
				}
			}
		}
		if err := writer.Write(row); err != nil {
			return i, &TelemetryWriteError{FrameID: row.FrameID, Err: err}
		}
		prev = row.SentTime
	}
	return len(rows), nil
}

// ReplayLogFile opens a file and replays its telemetry rows.
func ReplayLogFile(ctx context.Context, path string, writer TelemetryWriter, speed float64) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return ReplayLog(ctx, f, writer, speed)
}
