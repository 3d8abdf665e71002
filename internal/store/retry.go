package store

import (
	"context"
	"errors"
	"time"

	"github.com/CamFlow/callgraphs/internal/telemetry"
	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds how long a writer keeps retrying while other processes
// hold the store lock. It applies on top of the driver busy timeout.
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

// DefaultRetryPolicy suits a parallel build where many compile jobs share one store.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxTries:        10,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsed:      30 * time.Second,
	}
}

func (p RetryPolicy) options() []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(p.MaxElapsed),
		backoff.WithNotify(func(error, time.Duration) {
			telemetry.PersistRetries.Inc()
		}),
	}
	if p.MaxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(p.MaxTries))
	}
	return opts
}

// retry runs fn until it succeeds, fails with a non-busy error, or the policy
// gives up. The last error is returned unwrapped.
func retry[T any](ctx context.Context, p RetryPolicy, fn func() (T, error)) (T, error) {
	v, err := backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && !isBusy(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, p.options()...)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	return v, err
}
