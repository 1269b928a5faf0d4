package pipeline

import (
	"context"

	"github.com/cenkalti/backoff/v5"

	"github.com/tokenx-labs/fdc-validator/x/fdc/fault"
)

func backoffFor(cfg Config) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.StageBackoffInitial
	b.MaxInterval = cfg.StageBackoffMax
	return b
}

// retry runs fn up to tries times. Only transient faults are retried.
func retry[T any](
	ctx context.Context,
	b backoff.BackOff,
	tries uint,
	fn func(context.Context) (T, error),
	notify backoff.Notify,
) (T, error) {
	operation := func() (T, error) {
		v, err := fn(ctx)
		if err != nil && !fault.IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(tries),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
}
