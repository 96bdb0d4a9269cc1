// Round-robin render client with bounded retries
package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"fractalstream/internal/workload"
)

// ReplicaTarget is one render replica endpoint.
type ReplicaTarget struct {
	Address string
}

// Targets builds ReplicaTargets from addresses, keeping their order.
func Targets(addrs []string) []ReplicaTarget {
	out := make([]ReplicaTarget, len(addrs))
	for i, a := range addrs {
		out[i] = ReplicaTarget{Address: a}
	}
	return out
}

// Window is the complex-plane region sent with every request.
type Window struct {
	XMin, XMax, YMin, YMax float64
}

// DefaultWindow covers [-2, 2] on both axes.
func DefaultWindow() Window { return Window{XMin: -2, XMax: 2, YMin: -2, YMax: 2} }

// AttemptObserver is told about every failed attempt.
type AttemptObserver func(replica string, attempt int, err error)

// Option configures a BalancedClient.
type Option func(*BalancedClient)

// WithConns uses pre-built connections, one per target, instead of dialing.
func WithConns(conns []grpc.ClientConnInterface) Option {
	return func(c *BalancedClient) { c.conns = conns }
}

// WithDialOptions appends options used when dialing targets.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *BalancedClient) { c.dialOpts = append(c.dialOpts, opts...) }
}

// WithAttemptTimeout bounds each individual attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *BalancedClient) { c.attemptTimeout = d }
}

// WithWindow sets the render window sent to replicas.
func WithWindow(w Window) Option {
	return func(c *BalancedClient) { c.window = w }
}

// WithAttemptObserver registers fn for failed attempts.
func WithAttemptObserver(fn AttemptObserver) Option {
	return func(c *BalancedClient) { c.observer = fn }
}

// BalancedClient spreads render calls over a fixed replica set. A single instance is
// meant to be shared by all dispatch lanes; Call is safe for concurrent use.
type BalancedClient struct {
	targets        []ReplicaTarget
	conns          []grpc.ClientConnInterface
	owned          []*grpc.ClientConn
	dialOpts       []grpc.DialOption
	policy         RetryPolicy
	window         Window
	attemptTimeout time.Duration
	observer       AttemptObserver
	cursor         atomic.Uint64
}

// NewBalancedClient creates one connection per target. Connections are established
// lazily by gRPC, so unreachable replicas surface as UNAVAILABLE on first use.
func NewBalancedClient(targets []ReplicaTarget, policy RetryPolicy, opts ...Option) (*BalancedClient, error) {
	if len(targets) == 0 {
		return nil, errors.New("balanced client: no replica targets")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	c := &BalancedClient{
		targets: append([]ReplicaTarget(nil), targets...),
		policy:  policy,
		window:  DefaultWindow(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.conns != nil {
		if len(c.conns) != len(c.targets) {
			return nil, fmt.Errorf("balanced client: %d conns for %d targets", len(c.conns), len(c.targets))
		}
		return c, nil
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, c.dialOpts...)
	for _, t := range c.targets {
		cc, err := grpc.NewClient(t.Address, dialOpts...)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("dial %s: %w", t.Address, err)
		}
		c.owned = append(c.owned, cc)
		c.conns = append(c.conns, cc)
	}
	return c, nil
}

// Targets returns the replica set in selection order.
func (c *BalancedClient) Targets() []ReplicaTarget {
	return append([]ReplicaTarget(nil), c.targets...)
}

// Close releases connections the client dialed itself.
func (c *BalancedClient) Close() error {
	var first error
	for _, cc := range c.owned {
		if err := cc.Close(); err != nil && first == nil {
			first = err
		}
	}
	c.owned = nil
	return first
}

// next advances the shared cursor and returns the replica index for one attempt.
func (c *BalancedClient) next() int {
	return int((c.cursor.Add(1) - 1) % uint64(len(c.targets)))
}

// Reply is a successful render together with where and how it was served.
type Reply struct {
	Response *JuliaResponse
	Replica  string
	Attempts int
}

// Call renders req, retrying retryable failures on the next replica in rotation.
// It fails with *RemoteCallError once attempts are exhausted or the condition is permanent.
func (c *BalancedClient) Call(ctx context.Context, req workload.RequestDescriptor) (*Reply, error) {
	in := c.request(req)
	attempts := 0
	var replica string
	var out *JuliaResponse

	err := retry.Do(
		func() error {
			attempts++
			idx := c.next()
			replica = c.targets[idx].Address
			resp, err := c.attempt(ctx, idx, in)
			if err != nil {
				if c.observer != nil {
					c.observer(replica, attempts, err)
				}
				return err
			}
			out = resp
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.policy.MaxAttempts)),
		retry.Delay(c.policy.InitialBackoff),
		retry.MaxDelay(c.policy.MaxBackoff),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return c.policy.Backoff(int(n) + 1)
		}),
		retry.RetryIf(c.policy.Retryable),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, &RemoteCallError{
			Attempts:  attempts,
			Replica:   replica,
			Code:      status.Code(err),
			Transient: c.policy.Retryable(err),
			Err:       err,
		}
	}
	return &Reply{Response: out, Replica: replica, Attempts: attempts}, nil
}

// Render wraps Call into an Outcome.
func (c *BalancedClient) Render(ctx context.Context, req workload.RequestDescriptor) Outcome {
	reply, err := c.Call(ctx, req)
	if err != nil {
		return FailureFromError(err)
	}
	serverID := reply.Response.ServerID
	if serverID == "" {
		serverID = reply.Replica
	}
	return Success{
		CalcTimeMs: reply.Response.CalculationTimeMs,
		ServerID:   serverID,
		Replica:    reply.Replica,
		Attempts:   reply.Attempts,
	}
}

func (c *BalancedClient) attempt(ctx context.Context, idx int, in *JuliaRequest) (*JuliaResponse, error) {
	if c.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
		defer cancel()
	}
	out := new(JuliaResponse)
	if err := c.conns[idx].Invoke(ctx, CalculateJuliaMethod, in, out, grpc.CallContentSubtype(CodecName)); err != nil {
		if _, ok := status.FromError(err); !ok {
			err = status.Error(codes.Unknown, err.Error())
		}
		return nil, err
	}
	return out, nil
}

func (c *BalancedClient) request(r workload.RequestDescriptor) *JuliaRequest {
	r = r.WithDefaults()
	return &JuliaRequest{
		CReal:         r.CReal,
		CImag:         r.CImag,
		Width:         int32(r.Width),
		Height:        int32(r.Height),
		MaxIterations: int32(r.MaxIterations),
		PolyDegree:    int32(r.PolyDegree),
		XMin:          c.window.XMin,
		XMax:          c.window.XMax,
		YMin:          c.window.YMin,
		YMax:          c.window.YMax,
	}
}
