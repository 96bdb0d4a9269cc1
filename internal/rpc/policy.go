package rpc

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RetryPolicy bounds how the balanced client retries a logical call.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	RetryableCodes []codes.Code
}

// DefaultRetryPolicy retries UNAVAILABLE and DEADLINE_EXCEEDED three times,
// backing off 100ms, 200ms, ... capped at 1s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2,
		RetryableCodes: []codes.Code{codes.Unavailable, codes.DeadlineExceeded},
	}
}

// Validate rejects policies the client cannot honour.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry policy: max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.InitialBackoff < 0 || p.MaxBackoff < p.InitialBackoff {
		return fmt.Errorf("retry policy: invalid backoff range [%s, %s]", p.InitialBackoff, p.MaxBackoff)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("retry policy: multiplier must be >= 1, got %v", p.Multiplier)
	}
	return nil
}

// Backoff returns the wait before retrying after the given failed attempt (1-based):
// min(initial * multiplier^(attempt-1), max).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.MaxBackoff) || math.IsInf(d, 0) {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

// Retryable reports whether err carries one of the retryable status codes.
// Errors without a gRPC status are never retried.
func (p RetryPolicy) Retryable(err error) bool {
	s, ok := status.FromError(err)
	if !ok {
		return false
	}
	return slices.Contains(p.RetryableCodes, s.Code())
}

// ParseCodes converts names such as "UNAVAILABLE" into status codes.
func ParseCodes(names []string) ([]codes.Code, error) {
	out := make([]codes.Code, 0, len(names))
	for _, n := range names {
		var c codes.Code
		if err := c.UnmarshalJSON([]byte(strconv.Quote(strings.ToUpper(strings.TrimSpace(n))))); err != nil {
			return nil, fmt.Errorf("retryable code %q: %w", n, err)
		}
		out = append(out, c)
	}
	return out, nil
}
