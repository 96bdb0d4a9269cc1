package workload

import (
	"fmt"
	"time"
)

// PacingMode selects how emissions are spaced.
type PacingMode int

const (
	PacingNone PacingMode = iota
	PacingFixedDelay
	PacingTargetDuration
)

// Pacing controls the delay between generated requests.
type Pacing struct {
	Mode  PacingMode
	Delay time.Duration
	Total time.Duration
}

// NoPacing emits as fast as the writer accepts.
func NoPacing() Pacing { return Pacing{Mode: PacingNone} }

// FixedDelay waits d between emissions.
func FixedDelay(d time.Duration) Pacing { return Pacing{Mode: PacingFixedDelay, Delay: d} }

// TargetDuration spreads count emissions evenly over d.
func TargetDuration(d time.Duration) Pacing { return Pacing{Mode: PacingTargetDuration, Total: d} }

// Interval returns the per-item delay for count emissions.
func (p Pacing) Interval(count int) (time.Duration, error) {
	switch p.Mode {
	case PacingNone:
		return 0, nil
	case PacingFixedDelay:
		if p.Delay < 0 {
			return 0, fmt.Errorf("pacing: negative delay %s", p.Delay)
		}
		return p.Delay, nil
	case PacingTargetDuration:
		if count <= 0 {
			return 0, fmt.Errorf("pacing: target duration over %d requests: %w", count, ErrInvalidCount)
		}
		if p.Total < 0 {
			return 0, fmt.Errorf("pacing: negative duration %s", p.Total)
		}
		return p.Total / time.Duration(count), nil
	default:
		return 0, fmt.Errorf("pacing: unknown mode %d", p.Mode)
	}
}
