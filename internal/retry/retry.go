// Package retry runs an operation a bounded number of times with a fixed delay
// between failed attempts. Each attempt reports a tagged Result instead of
// relying on error control flow alone.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/waybacker/internal/metrics"
)

// ErrExhausted wraps the last attempt error once every attempt has failed.
var ErrExhausted = errors.New("retries exhausted")

// Status tags the result of a single attempt.
type Status int

// Attempt statuses.
const (
	StatusSuccess Status = iota
	StatusRetryable
	StatusTerminal
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRetryable:
		return "retryable"
	case StatusTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Result is produced by every attempt.
type Result[T any] struct {
	Status Status
	Value  T
	Err    error
}

// Succeed reports a successful attempt.
func Succeed[T any](v T) Result[T] {
	return Result[T]{Status: StatusSuccess, Value: v}
}

// Retryable reports a failed attempt that may be tried again.
func Retryable[T any](err error) Result[T] {
	return Result[T]{Status: StatusRetryable, Err: err}
}

// Terminal reports a failure that must not be retried.
func Terminal[T any](err error) Result[T] {
	return Result[T]{Status: StatusTerminal, Err: err}
}

// Policy holds the attempt ceiling and the pause between failed attempts.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Runner executes attempts under a Policy. It is shared by every network
// operation of the pipeline.
type Runner struct {
	policy Policy
	sleep  SleepFunc
	logger *zap.Logger
}

// Option customizes a Runner.
type Option func(*Runner)

// WithSleep replaces the wait between attempts (used by tests).
func WithSleep(fn SleepFunc) Option {
	return func(r *Runner) {
		if fn != nil {
			r.sleep = fn
		}
	}
}

// NewRunner builds a Runner. At least one attempt is always made and negative
// delays are treated as zero.
func NewRunner(policy Policy, logger *zap.Logger, opts ...Option) *Runner {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if policy.Delay < 0 {
		policy.Delay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		policy: policy,
		sleep:  contextSleep,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the runner's effective policy.
func (r *Runner) Policy() Policy {
	return r.policy
}

// Do runs attempt until it succeeds, reports a terminal failure, or the policy's
// attempts are used up. After exhaustion the last error is returned wrapped in
// ErrExhausted; no partial value is returned.
func Do[T any](ctx context.Context, r *Runner, operation string, attempt func(ctx context.Context) Result[T]) (T, error) {
	var zero T
	var lastErr error
	for n := 1; n <= r.policy.Attempts; n++ {
		res := attempt(ctx)
		metrics.ObserveAttempt(operation, res.Status.String())

		switch res.Status {
		case StatusSuccess:
			return res.Value, nil
		case StatusTerminal:
			return zero, fmt.Errorf("%s: %w", operation, res.Err)
		}

		lastErr = res.Err
		r.logger.Warn("attempt failed",
			zap.String("operation", operation),
			zap.Int("attempt", n),
			zap.Int("max_attempts", r.policy.Attempts),
			zap.Duration("delay", r.policy.Delay),
			zap.Error(res.Err),
		)
		if n == r.policy.Attempts {
			break
		}
		if err := r.sleep(ctx, r.policy.Delay); err != nil {
			return zero, fmt.Errorf("%s interrupted after %d attempts: %w", operation, n, err)
		}
	}
	return zero, fmt.Errorf("%w: %s failed after %d attempts: %w", ErrExhausted, operation, r.policy.Attempts, lastErr)
}

func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
