package workload

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/time/rate"

	"fractalstream/internal/logging"
)

// Point is a position in the complex parameter plane.
type Point struct {
	Real float64
	Imag float64
}

// TrajectoryConfig describes the parameter walk for a run.
type TrajectoryConfig struct {
	Count         int
	Start         Point
	Step          Point
	Bound         float64
	Width         int
	Height        int
	MaxIterations int
	PolyDegree    int
}

// DefaultTrajectoryConfig returns the Julia set walk used for resilience runs.
func DefaultTrajectoryConfig(count int) TrajectoryConfig {
	return TrajectoryConfig{
		Count:         count,
		Start:         Point{Real: -0.8, Imag: 0.156},
		Step:          Point{Real: 0.0015, Imag: 0.0008},
		Bound:         2.0,
		Width:         DefaultWidth,
		Height:        DefaultHeight,
		MaxIterations: DefaultMaxIterations,
		PolyDegree:    DefaultPolyDegree,
	}
}

// Trajectory yields RequestDescriptors lazily. It is not safe for concurrent use;
// call Reset to replay the same sequence.
type Trajectory struct {
	cfg  TrajectoryConfig
	next int
	c    Point
	step Point
}

// NewTrajectory validates cfg and returns a trajectory positioned at frame 0.
func NewTrajectory(cfg TrajectoryConfig) (*Trajectory, error) {
	if cfg.Count <= 0 {
		return nil, fmt.Errorf("trajectory: %w", ErrInvalidCount)
	}
	if cfg.Bound <= 0 {
		return nil, fmt.Errorf("trajectory: bound must be positive, got %v", cfg.Bound)
	}
	if math.Abs(cfg.Start.Real) > cfg.Bound || math.Abs(cfg.Start.Imag) > cfg.Bound {
		return nil, fmt.Errorf("trajectory: start %+v outside bound %v", cfg.Start, cfg.Bound)
	}
	t := &Trajectory{cfg: cfg}
	t.Reset()
	return t, nil
}

// Reset rewinds the trajectory to its first frame.
func (t *Trajectory) Reset() {
	t.next = 0
	t.c = t.cfg.Start
	t.step = t.cfg.Step
}

// Len returns the total number of frames in the trajectory.
func (t *Trajectory) Len() int { return t.cfg.Count }

// Next returns the next descriptor, or false once Count frames were produced.
func (t *Trajectory) Next() (RequestDescriptor, bool) {
	if t.next >= t.cfg.Count {
		return RequestDescriptor{}, false
	}
	r := RequestDescriptor{
		FrameID:       t.next,
		CReal:         round6(t.c.Real),
		CImag:         round6(t.c.Imag),
		Width:         t.cfg.Width,
		Height:        t.cfg.Height,
		MaxIterations: t.cfg.MaxIterations,
		PolyDegree:    t.cfg.PolyDegree,
	}
	t.next++
	t.advance()
	return r, true
}

// advance moves c by one step and reverses a coordinate's direction once it leaves the bound.
func (t *Trajectory) advance() {
	t.c.Real += t.step.Real
	t.c.Imag += t.step.Imag
	if math.Abs(t.c.Real) > t.cfg.Bound {
		t.step.Real = -t.step.Real
	}
	if math.Abs(t.c.Imag) > t.cfg.Bound {
		t.step.Imag = -t.step.Imag
	}
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// RequestWriter receives generated descriptors, e.g. a DirWriter.
type RequestWriter interface {
	WriteRequest(RequestDescriptor) error
}

// Generator emits a trajectory to a RequestWriter at the configured pacing.
type Generator struct {
	traj     *Trajectory
	interval float64 // seconds between emissions, 0 for unpaced
	limiter  *rate.Limiter
}

// NewGenerator builds a generator for cfg with the given pacing.
func NewGenerator(cfg TrajectoryConfig, pacing Pacing) (*Generator, error) {
	traj, err := NewTrajectory(cfg)
	if err != nil {
		return nil, err
	}
	interval, err := pacing.Interval(cfg.Count)
	if err != nil {
		return nil, err
	}
	g := &Generator{traj: traj, interval: interval.Seconds()}
	if interval > 0 {
		g.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
	return g, nil
}

// Emit writes every descriptor of the trajectory, waiting between writes when paced.
// It returns the number of descriptors written.
func (g *Generator) Emit(ctx context.Context, w RequestWriter) (int, error) {
	log := logging.FromContext(ctx)
	g.traj.Reset()
	n := 0
	for {
		r, ok := g.traj.Next()
		if !ok {
			break
		}
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return n, err
			}
		}
		if err := w.WriteRequest(r); err != nil {
			return n, fmt.Errorf("write frame %d: %w", r.FrameID, err)
		}
		n++
		if g.limiter != nil {
			log.Debug("emitted request", "frame_id", r.FrameID, "delay_s", g.interval)
		}
	}
	log.Info("workload generated", "requests", n)
	return n, nil
}
