package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Classifier decides whether an error is worth retrying. Errors it
// rejects are returned to the caller immediately, consuming none of the
// retry budget.
type Classifier func(error) bool

// RetryAll treats every error as retriable.
func RetryAll(error) bool { return true }

// RetryConfig configures a Retry. Zero values take the defaults
// documented in spec §6.
type RetryConfig struct {
	MaxAttempts    int           // default 3
	BaseDelay      time.Duration // default 100ms
	MaxDelay       time.Duration // default 10s
	BackoffFactor  float64       // default 2.0
	Jitter         bool          // default false (delays are not randomized)
	Classifier     Classifier    // default RetryAll
	AttemptTimeout time.Duration // default 0 (no per-attempt timeout)
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = 2.0
	}
	if c.Classifier == nil {
		c.Classifier = RetryAll
	}
	return c
}

// Retry is bounded retry with exponential backoff and optional jitter,
// built on github.com/cenkalti/backoff/v5 — present in the teacher's
// go.mod but never wired.
type Retry struct {
	cfg RetryConfig
}

// NewRetry constructs a Retry from cfg.
func NewRetry(cfg RetryConfig) *Retry {
	return &Retry{cfg: cfg.withDefaults()}
}

// Do executes op, retrying per the configured policy. Non-retriable
// errors (per Classifier) are returned immediately. On exhaustion, the
// last error is returned.
func (r *Retry) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := r.DoWithAttempts(ctx, op)
	return err
}

// DoWithAttempts behaves like Do but additionally reports how many times
// op was invoked, so a caller that dead-letters an exhausted op (spec §3's
// DLQ retry_count field, §8 scenario 5) can record the real attempt count
// rather than a hard-coded one.
func (r *Retry) DoWithAttempts(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.cfg.BaseDelay
	eb.MaxInterval = r.cfg.MaxDelay
	eb.Multiplier = r.cfg.BackoffFactor
	if !r.cfg.Jitter {
		eb.RandomizationFactor = 0
	}

	attempts := 0
	operation := func() (struct{}, error) {
		attempts++
		attemptCtx := ctx
		var cancel context.CancelFunc
		if r.cfg.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.cfg.AttemptTimeout)
			defer cancel()
		}

		err := op(attemptCtx)
		if err == nil {
			return struct{}{}, nil
		}
		if !r.cfg.Classifier(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(r.cfg.MaxAttempts)),
	)
	return attempts, err
}
