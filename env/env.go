package env

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/coregrid/go-resilience/resilience"
)

// RetryPolicyFromEnv builds a RetryPolicy from environment variables sharing
// a prefix, falling back to DefaultRetryPolicy for anything unset. Recognized
// variables (for prefix "API"):
//
//	API_RETRY_MAX_ATTEMPTS     integer
//	API_RETRY_INITIAL_DELAY    duration ("500ms", "2s", "1m")
//	API_RETRY_MAX_DELAY        duration
//	API_RETRY_EXPONENTIAL_BASE float
//	API_RETRY_JITTER           boolean
//
// Durations accept the extended day/week syntax of str2duration ("1d", "2w").
func RetryPolicyFromEnv(prefix string) (resilience.RetryPolicy, error) {
	policy := resilience.DefaultRetryPolicy()

	if v := os.Getenv(prefix + "_RETRY_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return policy, errors.Wrapf(err, "%s_RETRY_MAX_ATTEMPTS", prefix)
		}
		policy.MaxAttempts = n
	}
	if v := os.Getenv(prefix + "_RETRY_INITIAL_DELAY"); v != "" {
		d, err := str2duration.ParseDuration(v)
		if err != nil {
			return policy, errors.Wrapf(err, "%s_RETRY_INITIAL_DELAY", prefix)
		}
		policy.InitialDelay = d
	}
	if v := os.Getenv(prefix + "_RETRY_MAX_DELAY"); v != "" {
		d, err := str2duration.ParseDuration(v)
		if err != nil {
			return policy, errors.Wrapf(err, "%s_RETRY_MAX_DELAY", prefix)
		}
		policy.MaxDelay = d
	}
	if v := os.Getenv(prefix + "_RETRY_EXPONENTIAL_BASE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return policy, errors.Wrapf(err, "%s_RETRY_EXPONENTIAL_BASE", prefix)
		}
		policy.ExponentialBase = f
	}
	if v := os.Getenv(prefix + "_RETRY_JITTER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return policy, errors.Wrapf(err, "%s_RETRY_JITTER", prefix)
		}
		policy.Jitter = b
	}

	if err := policy.Validate(); err != nil {
		return policy, err
	}
	return policy, nil
}

// BreakerSettings is the constructor input for a circuit breaker, resolved
// from the environment.
type BreakerSettings struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// DefaultBreakerSettings matches the values used by the api client.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
	}
}

// BreakerSettingsFromEnv reads PREFIX_BREAKER_FAILURE_THRESHOLD and
// PREFIX_BREAKER_RECOVERY_TIMEOUT, falling back to DefaultBreakerSettings.
func BreakerSettingsFromEnv(prefix string) (BreakerSettings, error) {
	settings := DefaultBreakerSettings()

	if v := os.Getenv(prefix + "_BREAKER_FAILURE_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return settings, errors.Wrapf(err, "%s_BREAKER_FAILURE_THRESHOLD", prefix)
		}
		if n <= 0 {
			return settings, errors.Newf("%s_BREAKER_FAILURE_THRESHOLD: must be positive, got %d", prefix, n)
		}
		settings.FailureThreshold = n
	}
	if v := os.Getenv(prefix + "_BREAKER_RECOVERY_TIMEOUT"); v != "" {
		d, err := str2duration.ParseDuration(v)
		if err != nil {
			return settings, errors.Wrapf(err, "%s_BREAKER_RECOVERY_TIMEOUT", prefix)
		}
		settings.RecoveryTimeout = d
	}
	return settings, nil
}

// NewBreaker constructs a circuit breaker from the settings, named for
// metrics.
func (s BreakerSettings) NewBreaker(name string) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(s.FailureThreshold, s.RecoveryTimeout, resilience.WithName(name))
}
