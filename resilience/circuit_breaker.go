package resilience

import (
	"context"
	"sync"
	"time"
)

// BreakerState represents the state of a circuit breaker.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreaker protects a downstream dependency from repeated calls while it
// is unhealthy. Create one per protected resource (an endpoint, not a call)
// and share it for the life of the process.
//
// All state lives behind a single mutex: every read that can trigger a
// transition and every counter update is linearizable, so concurrent callers
// cannot race into inconsistent half-open entry or lose failure counts.
type CircuitBreaker struct {
	failureThreshold int
	recoveryTimeout  time.Duration
	name             string
	now              func() time.Time

	mu              sync.Mutex
	state           BreakerState
	failureCount    int
	lastFailureTime time.Time
	trialInFlight   bool
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithName labels the breaker in metrics. Unnamed breakers are not reported.
func WithName(name string) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.name = name
	}
}

// WithClock overrides the breaker's time source for deterministic tests.
func WithClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.now = now
	}
}

// NewCircuitBreaker creates a closed breaker that opens after
// failureThreshold consecutive failures and probes again once
// recoveryTimeout has elapsed since the last failure.
func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration, opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		now:              time.Now,
		state:            StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Allow reports whether a call may proceed, transitioning Open to HalfOpen as
// an atomic side effect of the check once the recovery timeout has elapsed.
// It returns ErrCircuitOpen when the call must be rejected; rejected calls do
// not count as failures. A caller that uses Allow directly must pair it with
// RecordSuccess or RecordFailure.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) < cb.recoveryTimeout {
			recordBreakerRejection(cb.name)
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		cb.trialInFlight = true
		return nil

	case StateHalfOpen:
		// One probe at a time decides the breaker's fate.
		if cb.trialInFlight {
			recordBreakerRejection(cb.name)
			return ErrCircuitOpen
		}
		cb.trialInFlight = true
		return nil

	default:
		recordBreakerRejection(cb.name)
		return ErrCircuitOpen
	}
}

// IsOpen reports whether the breaker currently rejects calls. Like Allow, an
// Open breaker whose recovery timeout has elapsed transitions to HalfOpen
// atomically with this check (without claiming the trial slot). On a Closed
// breaker the call is a pure read.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.lastFailureTime) >= cb.recoveryTimeout {
		cb.setState(StateHalfOpen)
	}
	return cb.state == StateOpen
}

// RecordSuccess resets the failure count and, from HalfOpen, closes the
// breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	cb.trialInFlight = false
	if cb.state == StateHalfOpen {
		cb.setState(StateClosed)
	}
}

// RecordFailure bumps the failure count and opens the breaker when the
// threshold is reached. A failed half-open trial reopens immediately,
// regardless of the count.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = cb.now()
	cb.trialInFlight = false

	switch cb.state {
	case StateHalfOpen:
		cb.setState(StateOpen)
	case StateClosed:
		if cb.failureCount >= cb.failureThreshold {
			cb.setState(StateOpen)
		}
	}
}

// setState must be called with cb.mu held.
func (cb *CircuitBreaker) setState(s BreakerState) {
	cb.state = s
	recordBreakerState(cb.name, s)
}

// Execute runs op through the breaker. When the breaker is open the call is
// rejected with ErrCircuitOpen and op is never invoked; otherwise op's own
// error is returned unchanged and recorded against the breaker. The breaker
// does not classify errors: any non-nil error counts as a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cb.Allow(); err != nil {
		return err
	}
	if err := op(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// ExecuteValue is Execute for operations that produce a result.
func ExecuteValue[T any](ctx context.Context, cb *CircuitBreaker, op func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if err := cb.Allow(); err != nil {
		return zero, err
	}
	v, err := op()
	if err != nil {
		cb.RecordFailure()
		return zero, err
	}
	cb.RecordSuccess()
	return v, nil
}

// DoWithBreaker retries op under policy with every attempt passing through
// the breaker. ErrCircuitOpen is KindCircuitOpen and therefore not retryable
// under the default kind set, so an open breaker fails the call immediately
// instead of burning attempts.
func DoWithBreaker[T any](ctx context.Context, policy RetryPolicy, cb *CircuitBreaker, label string, op func() (T, error)) (T, error) {
	return Do(ctx, policy, label, func() (T, error) {
		return ExecuteValue(ctx, cb, op)
	})
}

// RetryWithBreaker is DoWithBreaker for operations without a result value.
func RetryWithBreaker(ctx context.Context, policy RetryPolicy, cb *CircuitBreaker, label string, op func() error) error {
	_, err := DoWithBreaker(ctx, policy, cb, label, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

// State returns the current state without triggering any transition.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount = 0
	cb.trialInFlight = false
	cb.setState(StateClosed)
}

// BreakerStatus is a point-in-time snapshot of a breaker.
type BreakerStatus struct {
	State           BreakerState
	Failures        int
	LastFailureTime time.Time
}

// Status returns a snapshot without triggering any transition; it is a pure
// read and never mutates the breaker.
func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerStatus{
		State:           cb.state,
		Failures:        cb.failureCount,
		LastFailureTime: cb.lastFailureTime,
	}
}
