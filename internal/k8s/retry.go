package k8s

import (
	"context"
	"errors"
	"log/slog"
	"time"

	kubeerr "k8s.io/apimachinery/pkg/api/errors"

	"github.com/cropsinsilico/cis-dispatcher/internal/metrics"
)

// RetryPolicy is a fixed attempt count with a fixed delay between attempts.
// There is no backoff and no jitter.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetryPolicy returns three attempts one second apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Delay: time.Second}
}

// retryable reports whether a control-plane error may succeed on a later
// attempt, and the HTTP status code when one was returned.
func retryable(err error) (bool, int32) {
	var status kubeerr.APIStatus
	if errors.As(err, &status) {
		code := status.Status().Code
		return code >= 500, code
	}
	// No API status: the request never got an answer.
	return true, 0
}

// Retry calls fn until it succeeds, fails with a non-retryable status, or
// the policy's attempts are used up. Retryable failures surface as
// TransientClusterError and the rest as ClusterRequestError. A cancelled
// context stops the loop and returns the context error.
func Retry[T any](ctx context.Context, policy RetryPolicy, logger *slog.Logger, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if logger == nil {
		logger = slog.Default()
	}
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	start := time.Now()
	defer func() {
		metrics.ClusterRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := fn(ctx)
		if err == nil {
			metrics.ClusterRequests.WithLabelValues(op, "success").Inc()
			return v, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		ok, code := retryable(err)
		logger.Warn("control-plane request failed",
			"operation", op,
			"attempt", attempt,
			"status", code,
			"retryable", ok,
			"error", err,
		)
		if !ok {
			metrics.ClusterRequests.WithLabelValues(op, "error").Inc()
			return zero, &ClusterRequestError{Operation: op, Code: code, Err: err}
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		metrics.ClusterRetries.WithLabelValues(op).Inc()

		timer := time.NewTimer(policy.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	metrics.ClusterRequests.WithLabelValues(op, "transient").Inc()
	return zero, &TransientClusterError{Operation: op, Attempts: attempts, Err: lastErr}
}

// IsNotFound reports whether err, possibly wrapped by Retry, is a 404.
func IsNotFound(err error) bool {
	return kubeerr.IsNotFound(err)
}

// isAlreadyExists reports whether err, possibly wrapped by Retry, is a 409
// AlreadyExists.
func isAlreadyExists(err error) bool {
	return kubeerr.IsAlreadyExists(err)
}
