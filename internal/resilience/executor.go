package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker/v2"

	"hyperregistry/internal/api"
	"hyperregistry/pkg/logging"
)

const subsystem = "Resilience"

// Policy configures retry, breaker, and timeout behavior.
type Policy struct {
	// Retry envelope: delay = min(BaseDelay * Multiplier^attempt, MaxDelay)
	// with multiplicative jitter of ±JitterFactor.
	BaseDelay    time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	MaxRetries   int
	JitterFactor float64

	// Timeout bounds each individual attempt.
	Timeout time.Duration

	// BreakerThreshold consecutive failures trip the breaker open;
	// after RecoveryTimeout one probe is admitted.
	BreakerThreshold uint32
	RecoveryTimeout  time.Duration
}

// DefaultPolicy returns the standard envelope.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:        time.Second,
		Multiplier:       2,
		MaxDelay:         300 * time.Second,
		MaxRetries:       5,
		JitterFactor:     0.1,
		Timeout:          30 * time.Second,
		BreakerThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
	}
}

// Executor runs guarded operations. One breaker per logical dependency,
// created lazily on first use.
type Executor struct {
	policy Policy

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[interface{}]
}

// New returns an executor with the given policy.
func New(policy Policy) *Executor {
	return &Executor{
		policy:   policy,
		breakers: make(map[string]*gobreaker.CircuitBreaker[interface{}]),
	}
}

func (e *Executor) breaker(dependency string) *gobreaker.CircuitBreaker[interface{}] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[dependency]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        dependency,
		MaxRequests: 1,
		Timeout:     e.policy.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= e.policy.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn(subsystem, "Breaker %s: %s -> %s", name, from, to)
		},
	})
	e.breakers[dependency] = cb
	return cb
}

// Execute runs op under the breaker for dependency, retrying retryable
// failures per the policy. Each attempt is bounded by the policy timeout;
// a breaker that is open fails fast with CircuitOpenError.
func (e *Executor) Execute(ctx context.Context, dependency string, op func(context.Context) error) error {
	cb := e.breaker(dependency)

	attempt := func() (struct{}, error) {
		_, err := cb.Execute(func() (interface{}, error) {
			return nil, e.runWithTimeout(ctx, dependency, op)
		})
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// Breaker is open; retrying within this envelope cannot help.
			return struct{}{}, backoff.Permanent(api.NewCircuitOpenError(dependency))
		}
		if !api.IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		logging.Debug(subsystem, "Retrying %s after error: %v", dependency, err)
		return struct{}{}, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.policy.BaseDelay
	bo.Multiplier = e.policy.Multiplier
	bo.MaxInterval = e.policy.MaxDelay
	bo.RandomizationFactor = e.policy.JitterFactor

	_, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(e.policy.MaxRetries)+1))
	return err
}

// runWithTimeout enforces the per-attempt deadline even when op ignores
// its context.
func (e *Executor) runWithTimeout(ctx context.Context, dependency string, op func(context.Context) error) error {
	timeout := e.policy.Timeout
	if timeout <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- op(attemptCtx) }()

	select {
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) {
			return api.NewTimeoutError(dependency, timeout)
		}
		return err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return api.NewTimeoutError(dependency, timeout)
	}
}
