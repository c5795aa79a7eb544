package resilience

import (
	"math"
	"math/rand"
	"time"
)

// jitterSpread is the width of the multiplicative jitter window [1.0, 1.25).
const jitterSpread = 0.25

// Backoff computes the delay to sleep after the given attempt (1-indexed).
//
// The base delay is min(InitialDelay * ExponentialBase^(attempt-1), MaxDelay).
// When the policy enables jitter, the base is multiplied by a uniform factor in
// [1.0, 1.25) drawn from policy.Rand, so a jittered delay may exceed MaxDelay
// by up to 25%. That overshoot is intentional: the cap bounds the exponential
// growth, not the jitter window.
//
// No floor is enforced. A policy with non-positive InitialDelay or MaxDelay
// produces non-positive delays verbatim, which the executor treats as "retry
// immediately".
//
// Pure function; safe to call concurrently with a shared policy.
func Backoff(attempt int, policy RetryPolicy) time.Duration {
	base := float64(policy.InitialDelay) * math.Pow(policy.ExponentialBase, float64(attempt-1))
	base = math.Min(base, float64(policy.MaxDelay))
	if policy.Jitter {
		rnd := policy.Rand
		if rnd == nil {
			rnd = rand.Float64
		}
		base *= 1.0 + rnd()*jitterSpread
	}
	return time.Duration(base)
}
