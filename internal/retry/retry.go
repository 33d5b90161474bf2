// Package retry runs an operation with a bounded number of attempts inside a
// time window measured from the first attempt.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultAttempts = 3
	DefaultWindow   = 60 * time.Second
	DefaultInterval = 500 * time.Millisecond
	DefaultMaxDelay = 10 * time.Second
)

// Policy bounds retries of one logical call. A Policy value is immutable and
// safe to share; every Do starts its own attempt count and window.
type Policy struct {
	// Attempts is the total number of calls, including the first.
	Attempts int

	// Window stops retrying once this much time has passed since the first
	// attempt started.
	Window time.Duration

	// Interval is the delay before the first retry. Later delays grow
	// exponentially up to MaxDelay.
	Interval time.Duration
	MaxDelay time.Duration

	// Classify decides which errors are retried (default: IsTransient).
	Classify func(error) bool

	// Notify is called before each retry with the failed attempt's error and
	// the delay until the next one.
	Notify func(attempt int, err error, next time.Duration)
}

// Default returns the policy used when nothing is configured.
func Default() Policy {
	return Policy{
		Attempts: DefaultAttempts,
		Window:   DefaultWindow,
		Interval: DefaultInterval,
		MaxDelay: DefaultMaxDelay,
	}
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultAttempts
	}
	if p.Window <= 0 {
		p.Window = DefaultWindow
	}
	if p.Interval <= 0 {
		p.Interval = DefaultInterval
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxDelay < p.Interval {
		p.MaxDelay = p.Interval
	}
	if p.Classify == nil {
		p.Classify = IsTransient
	}
	return p
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Interval
	b.MaxInterval = p.MaxDelay
	b.MaxElapsedTime = p.Window
	b.RandomizationFactor = 0.1
	b.Multiplier = 2
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.Attempts-1)), ctx)
}

// Do calls op until it succeeds, returns a non-transient error, or the
// attempts or window run out. The last error is returned unchanged.
//
// Retrying re-issues the whole operation. Callers with side effects must make
// op idempotent themselves (for WebHDFS CREATE, overwrite=true).
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	p = p.withDefaults()

	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return backoff.Permanent(perm.err)
		}
		if ctx.Err() != nil || !p.Classify(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var notify backoff.Notify
	if p.Notify != nil {
		notify = func(err error, next time.Duration) {
			p.Notify(attempt, err, next)
		}
	}

	return backoff.RetryNotify(operation, p.backOff(ctx), notify)
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
