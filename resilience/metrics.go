package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// retryAttempts tracks operation invocations per labeled operation.
	retryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_retry_attempts_total",
			Help: "Total number of operation attempts made by the retry executor",
		},
		[]string{"operation"},
	)

	// retrySleeps tracks backoff sleeps (attempts that will be retried).
	retrySleeps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_retries_total",
			Help: "Total number of retries (failed attempts followed by backoff)",
		},
		[]string{"operation"},
	)

	// retriesExhausted tracks operations that gave up, by final error kind.
	retriesExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_retries_exhausted_total",
			Help: "Total number of operations that failed after their final attempt",
		},
		[]string{"operation", "kind"},
	)

	// breakerState reports the current state per named breaker (0=closed,
	// 1=half-open, 2=open).
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resilience_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"breaker"},
	)

	// breakerRejections tracks calls rejected without invoking the operation.
	breakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_circuit_breaker_rejections_total",
			Help: "Total number of calls rejected by an open circuit breaker",
		},
		[]string{"breaker"},
	)
)

func recordAttempt(operation string) {
	if operation != "" {
		retryAttempts.WithLabelValues(operation).Inc()
	}
}

func recordRetry(operation string) {
	if operation != "" {
		retrySleeps.WithLabelValues(operation).Inc()
	}
}

func recordExhausted(operation string, kind ErrorKind) {
	if operation != "" {
		retriesExhausted.WithLabelValues(operation, kind.String()).Inc()
	}
}

func recordBreakerState(breaker string, state BreakerState) {
	if breaker != "" {
		breakerState.WithLabelValues(breaker).Set(float64(state))
	}
}

func recordBreakerRejection(breaker string) {
	if breaker != "" {
		breakerRejections.WithLabelValues(breaker).Inc()
	}
}
