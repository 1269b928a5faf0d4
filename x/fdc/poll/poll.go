// Package poll drives fixed-interval wait loops with an attempt budget and a
// consecutive-error budget on top of backoff.Retry.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tokenx-labs/fdc-validator/x/fdc/fault"
)

// Config bounds a wait loop. Zero budgets mean unlimited; the context
// deadline still applies.
type Config struct {
	Interval             time.Duration `mapstructure:"interval"               yaml:"interval"`
	MaxAttempts          uint          `mapstructure:"max_attempts"           yaml:"max_attempts"`
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors" yaml:"max_consecutive_errors"`
}

// Check performs one observation. It returns ok=true once the awaited
// condition holds. Retryable errors count against the consecutive-error
// budget, any other error ends the loop.
type Check[T any] func(ctx context.Context, attempt uint) (value T, ok bool, err error)

// Result describes a finished loop.
type Result struct {
	Attempts uint
	Elapsed  time.Duration
}

var errNotReady = errors.New("condition not yet satisfied")

// Until calls check immediately and then every cfg.Interval until it reports
// ok, returns a non-retryable error, or a budget or ctx runs out. Exhausted
// budgets and deadlines are reported as fault.KindTimedOut.
func Until[T any](ctx context.Context, op string, cfg Config, check Check[T]) (T, Result, error) {
	if cfg.Interval <= 0 {
		var zero T
		return zero, Result{}, fault.Newf(fault.KindInvalid, op, "poll interval must be positive, got %s", cfg.Interval)
	}

	start := time.Now()
	var (
		attempts    uint
		consecutive int
	)

	operation := func() (T, error) {
		attempts++
		value, ok, err := check(ctx, attempts)
		switch {
		case err != nil:
			if !fault.IsRetryable(err) {
				return value, backoff.Permanent(err)
			}
			consecutive++
			if cfg.MaxConsecutiveErrors > 0 && consecutive >= cfg.MaxConsecutiveErrors {
				return value, backoff.Permanent(
					fault.Wrap(fault.KindTransient, op, err, fmt.Sprintf("%d consecutive errors", consecutive)),
				)
			}
			return value, err
		case !ok:
			consecutive = 0
			return value, errNotReady
		default:
			return value, nil
		}
	}

	value, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(cfg.Interval)),
		backoff.WithMaxTries(cfg.MaxAttempts),
		backoff.WithMaxElapsedTime(0),
	)
	res := Result{Attempts: attempts, Elapsed: time.Since(start)}
	if err == nil {
		return value, res, nil
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return value, res, fault.Wrap(fault.KindTimedOut, op, err, fmt.Sprintf("deadline exceeded after %d attempts", attempts))
	case errors.Is(err, context.Canceled):
		return value, res, fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, errNotReady):
		return value, res, fault.Newf(fault.KindTimedOut, op, "not ready after %d attempts", attempts)
	case fault.IsRetryable(err) && cfg.MaxAttempts > 0 && attempts >= cfg.MaxAttempts:
		return value, res, fault.Wrap(fault.KindTimedOut, op, err, fmt.Sprintf("attempt budget of %d exhausted", cfg.MaxAttempts))
	default:
		return value, res, err
	}
}
