package resilience

import (
	"context"
	"slices"
	"time"
)

// RetryPolicy declares how an operation is retried. Policies are immutable
// values: construct one, share it across any number of concurrent executions.
type RetryPolicy struct {
	// MaxAttempts is the total number of invocations, including the first.
	// Must be at least 1; a zero value is a configuration error, not a no-op.
	MaxAttempts int

	// InitialDelay is the backoff before the second attempt.
	InitialDelay time.Duration

	// MaxDelay caps the exponential growth of the backoff (jitter may still
	// push the slept delay up to 25% above it).
	MaxDelay time.Duration

	// ExponentialBase is the growth factor between attempts. Must be > 0.
	ExponentialBase float64

	// Jitter enables the multiplicative [1.0, 1.25) jitter window.
	Jitter bool

	// RetryableKinds overrides which error kinds are retried. Nil means
	// DefaultRetryableKinds. An empty non-nil slice retries nothing.
	RetryableKinds []ErrorKind

	// Rand supplies jitter randomness in [0.0, 1.0). Nil uses the global
	// math/rand source; tests inject a seeded source for determinism.
	Rand func() float64
}

// DefaultRetryableKinds are the transient infrastructure failures worth
// retrying. Client and validation errors are deliberately absent.
var DefaultRetryableKinds = []ErrorKind{
	KindServerError,
	KindRateLimited,
	KindTimeout,
	KindConnectionFailure,
}

// DefaultRetryPolicy returns the general-purpose policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialDelay:    1 * time.Second,
		MaxDelay:        60 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
	}
}

// DownloadRetryPolicy suits large-payload transfers: fewer attempts and
// shorter delays, since each attempt is already expensive.
func DownloadRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     2,
		InitialDelay:    500 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
	}
}

// ProtocolRetryPolicy suits chatty query endpoints: more attempts with longer
// delays, tolerating rate limiting.
func ProtocolRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialDelay:    2 * time.Second,
		MaxDelay:        120 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
	}
}

// Validate rejects policies that cannot drive a retry loop. A zero MaxAttempts
// would silently skip the operation, so it fails fast here instead.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts <= 0 {
		return NewError(KindValidation, "retry policy: MaxAttempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.ExponentialBase <= 0 {
		return NewError(KindValidation, "retry policy: ExponentialBase must be positive, got %v", p.ExponentialBase)
	}
	return nil
}

// IsRetryable reports whether the policy allows retrying after err. The
// decision consults only the policy's kind set, never the default table, so
// call sites can redefine what is retryable.
func IsRetryable(err error, policy RetryPolicy) bool {
	kinds := policy.RetryableKinds
	if kinds == nil {
		kinds = DefaultRetryableKinds
	}
	return slices.Contains(kinds, KindOf(err))
}

// AttemptOutcome records one attempt of a retried operation. Outcomes exist
// for observability and tests only; nothing persists them.
type AttemptOutcome struct {
	// Attempt is the 1-indexed attempt number.
	Attempt int
	// Err is the error the attempt produced, nil on success.
	Err error
	// Delay is the backoff slept after this attempt (zero on the final one).
	Delay time.Duration
}

// Do invokes op up to policy.MaxAttempts times, sleeping Backoff between
// attempts. The first success returns immediately. A non-retryable error, or
// the error from the final attempt, is returned unchanged — never wrapped —
// so callers can branch on its kind and fields.
//
// label names the operation in metrics and is otherwise inert.
func Do[T any](ctx context.Context, policy RetryPolicy, label string, op func() (T, error)) (T, error) {
	v, _, err := doRetry(ctx, policy, label, op, false)
	return v, err
}

// Retry is Do for operations without a result value.
func Retry(ctx context.Context, policy RetryPolicy, label string, op func() error) error {
	_, _, err := doRetry(ctx, policy, label, func() (struct{}, error) {
		return struct{}{}, op()
	}, false)
	return err
}

// DoWithOutcomes is Do, additionally returning a record of every attempt.
func DoWithOutcomes[T any](ctx context.Context, policy RetryPolicy, label string, op func() (T, error)) (T, []AttemptOutcome, error) {
	return doRetry(ctx, policy, label, op, true)
}

func doRetry[T any](ctx context.Context, policy RetryPolicy, label string, op func() (T, error), record bool) (T, []AttemptOutcome, error) {
	var zero T
	if err := policy.Validate(); err != nil {
		return zero, nil, err
	}

	var outcomes []AttemptOutcome
	if record {
		outcomes = make([]AttemptOutcome, 0, policy.MaxAttempts)
	}

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		recordAttempt(label)
		v, err := op()
		if err == nil {
			if record {
				outcomes = append(outcomes, AttemptOutcome{Attempt: attempt})
			}
			return v, outcomes, nil
		}

		if attempt == policy.MaxAttempts || !IsRetryable(err, policy) {
			if record {
				outcomes = append(outcomes, AttemptOutcome{Attempt: attempt, Err: err})
			}
			recordExhausted(label, KindOf(err))
			return zero, outcomes, err
		}

		d := Backoff(attempt, policy)
		if record {
			outcomes = append(outcomes, AttemptOutcome{Attempt: attempt, Err: err, Delay: d})
		}
		recordRetry(label)
		if err := sleepContext(ctx, d); err != nil {
			return zero, outcomes, err
		}
	}

	// Unreachable: the loop always returns on the final attempt.
	return zero, outcomes, NewError(KindValidation, "retry loop exited without result")
}

// sleepContext sleeps for d unless the context finishes first. Non-positive
// delays return immediately.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
