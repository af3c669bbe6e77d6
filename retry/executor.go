package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ExhaustedError is returned once every attempt allowed by a Policy failed.
// It unwraps to the last attempt's error so callers keep its classification.
type ExhaustedError struct {
	Label    string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Label, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Operation is one attempt. attempt starts at 1.
type Operation[T any] func(ctx context.Context, attempt int) (T, error)

type options struct {
	timer backoff.Timer
}

// Option customizes a single Execute call.
type Option func(*options)

// WithTimer replaces the wall-clock timer used between attempts.
func WithTimer(t backoff.Timer) Option {
	return func(o *options) {
		o.timer = t
	}
}

// Execute runs op until it succeeds, the policy is exhausted, the error is
// classified as not retryable, or ctx is done. It never touches entity state;
// persisting the outcome is up to the caller.
func Execute[T any](ctx context.Context, policy Policy, label string, op Operation[T], opts ...Option) (T, error) {
	var zero T
	policy = policy.normalized()

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		attempt   int
		lastErr   error
		permanent bool
		started   = time.Now()
	)

	b := backoff.WithMaxRetries(backoff.WithContext(policy.backOff(), ctx), uint64(policy.MaxAttempts-1))

	run := func() (T, error) {
		attempt++
		res, err := op(ctx, attempt)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if policy.Retryable != nil && !policy.Retryable(err) {
			permanent = true
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	notify := func(err error, next time.Duration) {
		attemptsTotal.WithLabelValues(label, "retry").Inc()
		slog.Warn("Attempt failed, retrying",
			"operation", label,
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"next_delay", next,
			"error", err)
	}

	res, err := backoff.RetryNotifyWithTimerAndData[T](run, b, notify, o.timer)
	if err == nil {
		attemptsTotal.WithLabelValues(label, "success").Inc()
		if attempt > 1 {
			slog.Info("Operation succeeded after retry", "operation", label, "attempt", attempt, "elapsed", time.Since(started))
		}
		return res, nil
	}

	switch {
	case permanent:
		attemptsTotal.WithLabelValues(label, "permanent").Inc()
		slog.Error("Operation failed with non-retryable error", "operation", label, "attempt", attempt, "error", err)
		return zero, err
	case ctx.Err() != nil:
		attemptsTotal.WithLabelValues(label, "canceled").Inc()
		slog.Warn("Operation abandoned", "operation", label, "attempt", attempt, "error", ctx.Err())
		if lastErr != nil {
			return zero, fmt.Errorf("%s abandoned after %d attempts: %w", label, attempt, ctx.Err())
		}
		return zero, ctx.Err()
	default:
		attemptsTotal.WithLabelValues(label, "exhausted").Inc()
		slog.Error("Operation failed after all attempts", "operation", label, "attempts", attempt, "error", lastErr)
		return zero, &ExhaustedError{Label: label, Attempts: attempt, Err: lastErr}
	}
}
