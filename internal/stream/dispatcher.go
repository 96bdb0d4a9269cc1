package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fractalstream/internal/logging"
	"fractalstream/internal/rpc"
	"fractalstream/internal/telemetry"
	"fractalstream/internal/workload"
)

// Renderer performs one logical render call. *rpc.BalancedClient implements it.
type Renderer interface {
	Render(ctx context.Context, req workload.RequestDescriptor) rpc.Outcome
}

// Dispatcher fans a batch out over a fixed number of lanes. Each request yields exactly
// one DispatchResult; a failing request never stops its siblings.
type Dispatcher struct {
	renderer Renderer
	writer   TelemetryWriter
	lanes    int
	now      func() time.Time

	writeMu sync.Mutex
}

// NewDispatcher creates a dispatcher. writer may be nil to skip recording.
func NewDispatcher(renderer Renderer, writer TelemetryWriter, lanes int) (*Dispatcher, error) {
	if renderer == nil {
		return nil, errors.New("dispatcher: renderer is required")
	}
	if lanes <= 0 {
		return nil, errors.New("dispatcher: lanes must be positive")
	}
	return &Dispatcher{renderer: renderer, writer: writer, lanes: lanes, now: time.Now}, nil
}

// Lanes returns the configured lane count.
func (d *Dispatcher) Lanes() int { return d.lanes }

// Partition assigns batch items to lanes round-robin. It never returns more lanes
// than items.
func Partition(batch []workload.RequestDescriptor, lanes int) [][]workload.RequestDescriptor {
	if lanes > len(batch) {
		lanes = len(batch)
	}
	if lanes <= 0 {
		return nil
	}
	parts := make([][]workload.RequestDescriptor, lanes)
	for i, req := range batch {
		parts[i%lanes] = append(parts[i%lanes], req)
	}
	return parts
}

// Dispatch processes batch and returns one result per request, in no particular order.
// Results are written as they complete. The only error returned is a
// *TelemetryWriteError; every result is still returned alongside it.
func (d *Dispatcher) Dispatch(ctx context.Context, batch []workload.RequestDescriptor) ([]telemetry.DispatchResult, error) {
	parts := Partition(batch, d.lanes)
	perLane := make([][]telemetry.DispatchResult, len(parts))

	var (
		g        errgroup.Group
		errMu    sync.Mutex
		writeErr error
	)
	for lane, part := range parts {
		g.Go(func() error {
			out := make([]telemetry.DispatchResult, 0, len(part))
			for _, req := range part {
				res := d.process(ctx, lane, req)
				out = append(out, res)
				if err := d.record(res); err != nil {
					errMu.Lock()
					if writeErr == nil {
						writeErr = err
					}
					errMu.Unlock()
				}
			}
			perLane[lane] = out
			return nil
		})
	}
	_ = g.Wait()

	results := make([]telemetry.DispatchResult, 0, len(batch))
	for _, out := range perLane {
		results = append(results, out...)
	}
	return results, writeErr
}

func (d *Dispatcher) process(ctx context.Context, lane int, req workload.RequestDescriptor) telemetry.DispatchResult {
	log := logging.FromContext(ctx)
	sent := d.now()
	outcome := d.render(ctx, lane, req)
	end := d.now()

	switch o := outcome.(type) {
	case rpc.Success:
		log.Debug("request served", "frame_id", req.FrameID, "worker", o.ServerID, "replica", o.Replica, "attempts", o.Attempts)
		return telemetry.NewResult(req.FrameID, sent, end, o.ServerID, o.CalcTimeMs, true)
	case rpc.Failure:
		attrs := []any{"frame_id", req.FrameID, "lane", lane, "reason", o.Reason}
		var rce *rpc.RemoteCallError
		if errors.As(o.Err, &rce) {
			attrs = append(attrs, "replica", rce.Replica, "attempts", rce.Attempts)
		}
		log.Warn("request failed", attrs...)
		return telemetry.NewResult(req.FrameID, sent, end, telemetry.UnknownWorker, 0, false)
	default:
		log.Error("unexpected render outcome", "frame_id", req.FrameID, "outcome", outcome)
		return telemetry.NewResult(req.FrameID, sent, end, telemetry.UnknownWorker, 0, false)
	}
}

// render calls the renderer, turning a panic into a failed outcome.
func (d *Dispatcher) render(ctx context.Context, lane int, req workload.RequestDescriptor) (out rpc.Outcome) {
	defer func() {
		if v := recover(); v != nil {
			err := &PartitionLaneError{Lane: lane, FrameID: req.FrameID, Value: v}
			out = rpc.Failure{Reason: err.Error(), Err: err}
		}
	}()
	return d.renderer.Render(ctx, req)
}

func (d *Dispatcher) record(res telemetry.DispatchResult) error {
	if d.writer == nil {
		return nil
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if err := d.writer.Write(res); err != nil {
		return &TelemetryWriteError{FrameID: res.FrameID, Err: err}
	}
	return nil
}
