package rpc

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Outcome is the result of one logical render call: Success or Failure.
type Outcome interface {
	outcome()
}

// Success is a render served by a replica.
type Success struct {
	CalcTimeMs float64
	ServerID   string
	Replica    string
	Attempts   int
}

// Failure is a render that failed after the client gave up.
type Failure struct {
	Reason string
	Err    error
}

func (Success) outcome() {}
func (Failure) outcome() {}

// RemoteCallError is returned once a call exhausts its attempts or hits a
// non-retryable condition.
type RemoteCallError struct {
	Attempts  int
	Replica   string
	Code      codes.Code
	Transient bool
	Err       error
}

func (e *RemoteCallError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("remote call failed after %d attempt(s), last replica %s (%s %s): %v",
		e.Attempts, e.Replica, kind, e.Code, e.Err)
}

func (e *RemoteCallError) Unwrap() error { return e.Err }

// Reason returns a short description of the last condition.
func (e *RemoteCallError) Reason() string {
	if s, ok := status.FromError(e.Err); ok && s.Message() != "" {
		return fmt.Sprintf("%s: %s", s.Code(), s.Message())
	}
	return e.Err.Error()
}

// FailureFromError wraps any error into a Failure outcome.
func FailureFromError(err error) Failure {
	var rce *RemoteCallError
	if errors.As(err, &rce) {
		return Failure{Reason: rce.Reason(), Err: err}
	}
	return Failure{Reason: err.Error(), Err: err}
}
