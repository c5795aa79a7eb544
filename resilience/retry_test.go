package resilience

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
)

// fastPolicy keeps test runs short; semantics are identical at any scale.
func fastPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialDelay:    1 * time.Millisecond,
		MaxDelay:        10 * time.Millisecond,
		ExponentialBase: 2.0,
		Jitter:          false,
	}
}

func TestRetry_SucceedsAfterRetries(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastPolicy(3), "test", func() error {
		attempts++
		if attempts < 3 {
			return NewError(KindServerError, "temporary error")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_FirstSuccessReturnsImmediately(t *testing.T) {
	attempts := 0
	start := time.Now()
	v, err := Do(context.Background(), fastPolicy(5), "test", func() (string, error) {
		attempts++
		return "ok", nil
	})

	if err != nil {
		t.Errorf("Expected success, got error: %v", err)
	}
	if v != "ok" {
		t.Errorf("Expected result %q, got %q", "ok", v)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Millisecond {
		t.Errorf("Expected no backoff on immediate success, took %v", elapsed)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	final := NewError(KindTimeout, "request timed out")
	attempts := 0
	err := Retry(context.Background(), fastPolicy(3), "test", func() error {
		attempts++
		return final
	})

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
	// The error from the final attempt is returned unchanged, never wrapped.
	if err != final {
		t.Errorf("Expected the original error value, got %v", err)
	}
}

func TestRetry_NonRetryableInvokedOnce(t *testing.T) {
	original := NewError(KindClientError, "bad request")
	attempts := 0
	_, err := Do(context.Background(), fastPolicy(5), "test", func() (int, error) {
		attempts++
		return 0, original
	})

	if attempts != 1 {
		t.Errorf("Expected 1 attempt for non-retryable error, got %d", attempts)
	}
	if err != original {
		t.Errorf("Expected the original error value, got %v", err)
	}
}

func TestRetry_OverriddenRetryableKinds(t *testing.T) {
	// ClientError becomes retryable when the policy says so.
	policy := fastPolicy(3)
	policy.RetryableKinds = []ErrorKind{KindClientError}

	attempts := 0
	err := Retry(context.Background(), policy, "test", func() error {
		attempts++
		return NewError(KindClientError, "conflict")
	})
	if attempts != 3 {
		t.Errorf("Expected 3 attempts with overridden kinds, got %d", attempts)
	}
	if err == nil {
		t.Error("Expected error, got nil")
	}

	// And kinds missing from the override are not retried, even if they are
	// retryable by default.
	attempts = 0
	err = Retry(context.Background(), policy, "test", func() error {
		attempts++
		return NewError(KindTimeout, "timed out")
	})
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for kind outside the override, got %d", attempts)
	}
	if err == nil {
		t.Error("Expected error, got nil")
	}
}

func TestRetry_EmptyKindSetRetriesNothing(t *testing.T) {
	policy := fastPolicy(4)
	policy.RetryableKinds = []ErrorKind{}

	attempts := 0
	Retry(context.Background(), policy, "test", func() error {
		attempts++
		return NewError(KindServerError, "boom")
	})
	if attempts != 1 {
		t.Errorf("Expected 1 attempt with empty kind set, got %d", attempts)
	}
}

func TestRetry_UnclassifiedErrorNotRetried(t *testing.T) {
	attempts := 0
	Retry(context.Background(), fastPolicy(4), "test", func() error {
		attempts++
		return errors.New("who knows")
	})
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for unclassified error, got %d", attempts)
	}
}

func TestRetry_ZeroMaxAttemptsFailsFast(t *testing.T) {
	policy := fastPolicy(0)

	invoked := false
	err := Retry(context.Background(), policy, "test", func() error {
		invoked = true
		return nil
	})

	if invoked {
		t.Error("Operation must not be invoked under a zero-attempt policy")
	}
	if err == nil {
		t.Fatal("Expected validation error, got nil")
	}
	if KindOf(err) != KindValidation {
		t.Errorf("Expected KindValidation, got %v", KindOf(err))
	}
}

func TestRetryPolicy_Validate(t *testing.T) {
	policy := fastPolicy(1)
	if err := policy.Validate(); err != nil {
		t.Errorf("Expected valid policy, got %v", err)
	}

	policy.ExponentialBase = 0
	if err := policy.Validate(); KindOf(err) != KindValidation {
		t.Errorf("Expected KindValidation for zero base, got %v", err)
	}

	policy = fastPolicy(-1)
	if err := policy.Validate(); KindOf(err) != KindValidation {
		t.Errorf("Expected KindValidation for negative attempts, got %v", err)
	}
}

func TestRetry_ContextCancellationAbortsBackoff(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:     5,
		InitialDelay:    100 * time.Millisecond,
		MaxDelay:        1 * time.Second,
		ExponentialBase: 2.0,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	attempts := 0
	err := Retry(ctx, policy, "test", func() error {
		attempts++
		return NewError(KindServerError, "boom")
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got %v", err)
	}
	if attempts == 0 {
		t.Error("Expected at least 1 attempt")
	}
	if attempts > 2 {
		t.Errorf("Expected the backoff to be cut short, got %d attempts", attempts)
	}
}

func TestDoWithOutcomes(t *testing.T) {
	attempts := 0
	v, outcomes, err := DoWithOutcomes(context.Background(), fastPolicy(3), "test", func() (int, error) {
		attempts++
		if attempts < 3 {
			return 0, NewError(KindServerError, "boom")
		}
		return 42, nil
	})

	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if v != 42 {
		t.Errorf("Expected 42, got %d", v)
	}
	if len(outcomes) != 3 {
		t.Fatalf("Expected 3 outcomes, got %d", len(outcomes))
	}
	// Deterministic doubling: 1ms then 2ms between attempts.
	if outcomes[0].Delay != 1*time.Millisecond || outcomes[1].Delay != 2*time.Millisecond {
		t.Errorf("Expected delays 1ms and 2ms, got %v and %v", outcomes[0].Delay, outcomes[1].Delay)
	}
	if outcomes[2].Err != nil || outcomes[2].Delay != 0 {
		t.Errorf("Expected clean final outcome, got %+v", outcomes[2])
	}
	for i, o := range outcomes {
		if o.Attempt != i+1 {
			t.Errorf("Outcome %d: expected attempt %d, got %d", i, i+1, o.Attempt)
		}
	}
}

func TestRetry_SharedPolicyConcurrent(t *testing.T) {
	policy := fastPolicy(3)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			attempts := 0
			err := Retry(context.Background(), policy, "test", func() error {
				attempts++
				if attempts < 2 {
					return NewError(KindConnectionFailure, "reset")
				}
				return nil
			})
			if err != nil {
				t.Errorf("Expected success, got %v", err)
			}
		}()
	}
	wg.Wait()
}
