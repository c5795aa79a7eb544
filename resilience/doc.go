// Package resilience provides a retry executor with classified error
// handling and exponential backoff, plus a circuit breaker protecting a
// downstream service from repeated calls while it is unhealthy.
//
// # Retrying
//
// Callers supply a zero-argument operation and an immutable [RetryPolicy]:
//
//	policy := resilience.DefaultRetryPolicy()
//	status, err := resilience.Do(ctx, policy, "fetch-status", func() (Status, error) {
//	    return client.Status()
//	})
//
// Failures are classified by [ErrorKind], not by inspecting error types: the
// transport adapter tags each error at the boundary (see [NewError],
// [WrapError], and the [Kinder] interface), and [IsRetryable] consults the
// policy's retryable kind set. Timeouts, connection failures, 5xx-equivalent
// server errors and rate limits are retryable by default; client and
// validation errors are surfaced on first occurrence. A policy can override
// the set entirely per call site.
//
// The executor never wraps errors — the caller sees the exact error from the
// final failed attempt.
//
// # Circuit breaking
//
// A [CircuitBreaker] is created once per protected endpoint and shared:
//
//	cb := resilience.NewCircuitBreaker(5, 30*time.Second)
//	err := cb.Execute(ctx, func() error { return client.Ping() })
//
// While open, calls fail fast with [ErrCircuitOpen] and the operation is not
// invoked; after the recovery timeout, a single trial call decides whether
// the breaker closes again. Combine both protections with [DoWithBreaker].
package resilience
