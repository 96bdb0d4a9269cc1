// Disruption scenarios: timed network-condition phases for a run
package scenario

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"fractalstream/internal/telemetry"
)

// Scenario defines ordered condition phases relative to the start of a run.
type Scenario struct {
	Name        string  `yaml:"name,omitempty"`
	Description string  `yaml:"description,omitempty"`
	Phases      []Phase `yaml:"phases"`
}

// Phase is entered At after the run starts and holds Condition until the next phase.
type Phase struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description,omitempty"`
	At          time.Duration `yaml:"at"`
	Condition   string        `yaml:"condition"`
}

// Load reads a YAML scenario definition from disk.
func Load(path string) (*Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(b)
}

// Parse decodes and validates a YAML scenario.
func Parse(b []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks that phases are named and start in increasing order.
func (s *Scenario) Validate() error {
	if len(s.Phases) == 0 {
		return errors.New("scenario has no phases")
	}
	for i, p := range s.Phases {
		if p.Name == "" {
			return fmt.Errorf("phase %d has no name", i)
		}
		if p.At < 0 {
			return fmt.Errorf("phase %s starts before the run", p.Name)
		}
		if i > 0 && p.At <= s.Phases[i-1].At {
			return fmt.Errorf("phase %s must start after %s", p.Name, s.Phases[i-1].Name)
		}
	}
	return nil
}

// PhaseAt returns the phase active at offset into the run. ok is false before the
// first phase starts.
func (s *Scenario) PhaseAt(offset time.Duration) (phase Phase, ok bool) {
	for _, p := range s.Phases {
		if p.At > offset {
			break
		}
		phase, ok = p, true
	}
	return phase, ok
}

// Conditions converts the phases into a condition timeline for a run started at start.
func (s *Scenario) Conditions(start time.Time) []telemetry.ConditionSample {
	out := make([]telemetry.ConditionSample, 0, len(s.Phases))
	for _, p := range s.Phases {
		out = append(out, telemetry.ConditionSample{Time: start.Add(p.At), Condition: p.Condition})
	}
	return out
}

// Play emits each phase's condition sample when its start time is reached, until all
// phases have been emitted or ctx is done.
func (s *Scenario) Play(ctx context.Context, start time.Time, emit func(telemetry.ConditionSample) error) error {
	for _, c := range s.Conditions(start) {
		if wait := time.Until(c.Time); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		if err := emit(c); err != nil {
			return err
		}
	}
	return nil
}
