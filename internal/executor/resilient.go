package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/fortify/bulkhead"
	"github.com/felixgeelhaar/fortify/circuitbreaker"

	"github.com/nikhilranga4/online-compiler-backend/internal/isolation"
)

// ResilientExecutor wraps an Executor with an admission bulkhead and a
// circuit breaker. The bulkhead bounds the number of simultaneous
// environments so overload queues or rejects deterministically instead of
// degrading per-environment limits. The breaker fast-fails while the
// isolation backend is unreachable; it never retries, and user outcomes
// (non-zero exits, timeouts) do not count as failures.
type ResilientExecutor struct {
	inner    Executor
	bulkhead bulkhead.Bulkhead[*Result]
	breaker  circuitbreaker.CircuitBreaker[*Result]
}

var _ Executor = (*ResilientExecutor)(nil)

// NewResilientExecutor wraps inner with an admission limit of
// maxConcurrent in-flight executions and a bounded wait queue.
func NewResilientExecutor(inner Executor, maxConcurrent int) *ResilientExecutor {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}

	return &ResilientExecutor{
		inner: inner,
		bulkhead: bulkhead.New[*Result](bulkhead.Config{
			MaxConcurrent: maxConcurrent,
			MaxQueue:      maxConcurrent * 2,
			QueueTimeout:  30 * time.Second,
		}),
		breaker: circuitbreaker.New[*Result](circuitbreaker.Config{
			MaxRequests: 2,
			Interval:    10 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(from, to circuitbreaker.State) {
				slog.Warn("executor circuit breaker state change",
					"from", from.String(),
					"to", to.String())
			},
		}),
	}
}

// Run admits the request through the bulkhead and breaker, then delegates
// to the wrapped executor.
func (e *ResilientExecutor) Run(ctx context.Context, req Request, timeout time.Duration) (*Result, error) {
	// Only infrastructure failures feed the breaker: a user's broken
	// program must not open the circuit for everyone else.
	var callerErr error

	res, err := e.breaker.Execute(ctx, func(ctx context.Context) (*Result, error) {
		res, innerErr := e.bulkhead.Execute(ctx, func(ctx context.Context) (*Result, error) {
			return e.inner.Run(ctx, req, timeout)
		})
		if innerErr != nil && !errors.Is(innerErr, isolation.ErrInfrastructure) {
			callerErr = innerErr
			return nil, nil
		}
		return res, innerErr
	})

	if callerErr != nil {
		return nil, callerErr
	}
	return res, err
}
