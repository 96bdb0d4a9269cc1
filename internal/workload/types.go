// Request descriptors emitted by the workload generator
package workload

import (
	"errors"
	"fmt"
	"math"
)

// RequestDescriptor is one render request in the generated trajectory.
// Field names follow the on-disk workload schema.
type RequestDescriptor struct {
	FrameID       int     `json:"frame_id"`
	CReal         float64 `json:"c_real"`
	CImag         float64 `json:"c_imag"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	MaxIterations int     `json:"max_iterations"`
	PolyDegree    int     `json:"poly_degree"`
}

// Default render parameters for generated requests.
const (
	DefaultWidth         = 800
	DefaultHeight        = 600
	DefaultMaxIterations = 100
	DefaultPolyDegree    = 2
)

// ErrInvalidCount is returned when a trajectory or pacing is built for a non-positive count.
var ErrInvalidCount = errors.New("request count must be positive")

// Validate reports descriptors that cannot be rendered.
func (r RequestDescriptor) Validate() error {
	if r.FrameID < 0 {
		return fmt.Errorf("frame %d: negative frame id", r.FrameID)
	}
	if r.Width < 0 || r.Height < 0 || r.MaxIterations < 0 || r.PolyDegree < 0 {
		return fmt.Errorf("frame %d: negative render dimensions", r.FrameID)
	}
	if math.IsNaN(r.CReal) || math.IsNaN(r.CImag) {
		return fmt.Errorf("frame %d: parameter is NaN", r.FrameID)
	}
	return nil
}

// WithDefaults fills zero-valued render fields with the defaults.
func (r RequestDescriptor) WithDefaults() RequestDescriptor {
	if r.Width == 0 {
		r.Width = DefaultWidth
	}
	if r.Height == 0 {
		r.Height = DefaultHeight
	}
	if r.MaxIterations == 0 {
		r.MaxIterations = DefaultMaxIterations
	}
	if r.PolyDegree == 0 {
		r.PolyDegree = DefaultPolyDegree
	}
	return r
}
