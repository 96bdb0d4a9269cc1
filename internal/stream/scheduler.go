package stream

import (
	"context"
	"sync/atomic"
	"time"

	"fractalstream/internal/logging"
	"fractalstream/internal/workload"
)

// Source yields requests that have become available since the previous poll.
type Source interface {
	Poll(ctx context.Context) ([]workload.RequestDescriptor, error)
}

// State is the scheduler lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateWaitingForInput
	StateBatchReady
	StateDispatching
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingForInput:
		return "waiting_for_input"
	case StateBatchReady:
		return "batch_ready"
	case StateDispatching:
		return "dispatching"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// SchedulerConfig controls trigger cadence.
type SchedulerConfig struct {
	TotalRequests int
	Duration      time.Duration
	// StopWhenComplete ends Run once TotalRequests results have been dispatched.
	StopWhenComplete bool
	// OnStateChange, if set, is called on every transition.
	OnStateChange func(State)
}

// Stats is a point-in-time view of scheduler progress.
type Stats struct {
	State      string        `json:"state"`
	Interval   time.Duration `json:"interval_ns"`
	Batches    int64         `json:"batches"`
	Dispatched int64         `json:"dispatched"`
	Failed     int64         `json:"failed"`
	Total      int           `json:"total_requests"`
}

// Scheduler releases polled requests to the dispatcher at a fixed cadence.
type Scheduler struct {
	source     Source
	dispatcher *Dispatcher
	interval   time.Duration
	cfg        SchedulerConfig

	state      atomic.Int32
	batches    atomic.Int64
	dispatched atomic.Int64
	failed     atomic.Int64
}

// TriggerInterval returns duration/total, the pause between triggers.
func TriggerInterval(total int, duration time.Duration) (time.Duration, error) {
	if total <= 0 {
		return 0, &SchedulerConfigError{TotalRequests: total, Duration: duration, Reason: "total requests must be positive"}
	}
	if duration <= 0 {
		return 0, &SchedulerConfigError{TotalRequests: total, Duration: duration, Reason: "duration must be positive"}
	}
	interval := duration / time.Duration(total)
	if interval <= 0 {
		return 0, &SchedulerConfigError{TotalRequests: total, Duration: duration, Reason: "trigger interval rounds to zero"}
	}
	return interval, nil
}

// NewScheduler validates cfg before anything is dispatched.
func NewScheduler(cfg SchedulerConfig, source Source, dispatcher *Dispatcher) (*Scheduler, error) {
	interval, err := TriggerInterval(cfg.TotalRequests, cfg.Duration)
	if err != nil {
		return nil, err
	}
	if source == nil || dispatcher == nil {
		return nil, &SchedulerConfigError{TotalRequests: cfg.TotalRequests, Duration: cfg.Duration, Reason: "source and dispatcher are required"}
	}
	return &Scheduler{source: source, dispatcher: dispatcher, interval: interval, cfg: cfg}, nil
}

// Interval returns the trigger interval.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// State returns the current lifecycle state.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// Stats returns current counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		State:      s.State().String(),
		Interval:   s.interval,
		Batches:    s.batches.Load(),
		Dispatched: s.dispatched.Load(),
		Failed:     s.failed.Load(),
		Total:      s.cfg.TotalRequests,
	}
}

// Run triggers until ctx is done, a result cannot be recorded, or (with
// StopWhenComplete) every expected request has been dispatched. A batch already
// dispatching when ctx is cancelled runs to completion before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	log := logging.FromContext(ctx)
	log.Info("starting scheduler", "trigger_interval", s.interval, "lanes", s.dispatcher.Lanes())
	s.setState(StateIdle)
	defer s.setState(StateStopped)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("stopping scheduler", "dispatched", s.dispatched.Load())
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			done, err := s.trigger(ctx)
			if err != nil {
				log.Error("recording failed, stopping scheduler", "err", err)
				return err
			}
			if done {
				log.Info("all requests dispatched", "dispatched", s.dispatched.Load())
				return nil
			}
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context) (bool, error) {
	log := logging.FromContext(ctx)
	s.setState(StateWaitingForInput)
	batch, err := s.source.Poll(ctx)
	if err != nil {
		log.Warn("poll failed", "err", err)
		return false, nil
	}
	if len(batch) == 0 {
		return false, nil
	}

	s.setState(StateBatchReady)
	id := s.batches.Add(1)
	s.setState(StateDispatching)
	log.Debug("dispatching batch", "batch", id, "size", len(batch))

	results, err := s.dispatcher.Dispatch(context.WithoutCancel(ctx), batch)
	s.dispatched.Add(int64(len(results)))
	for _, r := range results {
		if !r.Success {
			s.failed.Add(1)
		}
	}
	s.setState(StateIdle)
	if err != nil {
		return false, err
	}
	return s.cfg.StopWhenComplete && s.dispatched.Load() >= int64(s.cfg.TotalRequests), nil
}

func (s *Scheduler) setState(st State) {
	s.state.Store(int32(st))
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(st)
	}
}
