// Package retry runs remote operations under a bounded retry/backoff policy.
//
// Backoff is composed from github.com/sethvargo/go-retry building blocks:
// exponential growth from BaseDelay, capped at MaxDelay, plus additive
// jitter, limited to MaxRetries retries. The policy holds no state between
// calls; every Execute builds its own backoff.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/dmitrijs2005/adpipe/internal/logging"
	goretry "github.com/sethvargo/go-retry"
)

const (
	// DefaultJitterFraction is the maximum extra delay added to each wait,
	// as a fraction of the computed delay.
	DefaultJitterFraction = 0.3

	minBaseDelay = time.Millisecond
)

// Policy describes how an operation is retried.
type Policy struct {
	// Name identifies the operation in log entries.
	Name string
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries uint64
	// BaseDelay is the wait before the first retry; it doubles per retry.
	BaseDelay time.Duration
	// MaxDelay caps the exponential delay (before jitter). Zero means no cap.
	MaxDelay time.Duration
	// Timeout bounds each attempt. Zero means no per-attempt deadline.
	Timeout time.Duration
	// JitterFraction overrides DefaultJitterFraction when positive.
	// Negative disables jitter.
	JitterFraction float64
	// IsRetryable decides whether a failed attempt is retried.
	// Nil means DefaultRetryable.
	IsRetryable func(error) bool
}

// Attempts is the maximum number of times the operation runs.
func (p Policy) Attempts() uint64 { return p.MaxRetries + 1 }

func (p Policy) retryable(err error) bool {
	if p.IsRetryable == nil {
		return DefaultRetryable(err)
	}
	return p.IsRetryable(err)
}

func (p Policy) jitter() float64 {
	switch {
	case p.JitterFraction < 0:
		return 0
	case p.JitterFraction == 0:
		return DefaultJitterFraction
	default:
		return p.JitterFraction
	}
}

func (p Policy) backoff() goretry.Backoff {
	base := p.BaseDelay
	if base < minBaseDelay {
		base = minBaseDelay
	}
	b := goretry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = goretry.WithCappedDuration(p.MaxDelay, b)
	}
	b = withAdditiveJitter(p.jitter(), b)
	return goretry.WithMaxRetries(p.MaxRetries, b)
}

// withAdditiveJitter adds a random extra in [0, fraction*d) to every delay.
// go-retry's WithJitterPercent spreads the delay both ways; the delay here
// must never drop below the exponential value.
func withAdditiveJitter(fraction float64, next goretry.Backoff) goretry.Backoff {
	if fraction <= 0 {
		return next
	}
	return goretry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := next.Next()
		if stop {
			return 0, true
		}
		extra := time.Duration(rand.Float64() * fraction * float64(d))
		return d + extra, false
	})
}

// Execute runs op until it succeeds, fails with a non-retryable error, or
// the policy is exhausted. The error of the last attempt is returned as-is.
//
// Each attempt gets its own context bounded by p.Timeout. Cancelling ctx
// stops the loop and returns ctx.Err().
func Execute[T any](ctx context.Context, log logging.Logger, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	log = logging.OrNop(log)

	var (
		result  T
		attempt uint64
		lastErr error
	)

	inner := p.backoff()
	b := goretry.BackoffFunc(func() (time.Duration, bool) {
		delay, stop := inner.Next()
		if stop {
			log.Warn(ctx, "operation failed, retries exhausted",
				"op", p.Name, "attempt", attempt, "max_attempts", p.Attempts(),
				"retrying", false, "error", lastErr)
			return 0, true
		}
		log.Warn(ctx, "operation failed, retrying",
			"op", p.Name, "attempt", attempt, "max_attempts", p.Attempts(),
			"delay", delay, "retrying", true, "error", lastErr)
		return delay, false
	})

	err := goretry.Do(ctx, b, func(ctx context.Context) error {
		attempt++

		attemptCtx, cancel := withTimeout(ctx, p.Timeout)
		defer cancel()

		v, err := op(attemptCtx)
		if err == nil {
			result = v
			return nil
		}

		lastErr = err
		if ctx.Err() != nil || !p.retryable(err) {
			log.Warn(ctx, "operation failed, not retryable",
				"op", p.Name, "attempt", attempt, "retrying", false, "error", err)
			return err
		}
		return goretry.RetryableError(err)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// Run is Execute for operations without a result value.
func Run(ctx context.Context, log logging.Logger, p Policy, op func(ctx context.Context) error) error {
	_, err := Execute(ctx, log, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
