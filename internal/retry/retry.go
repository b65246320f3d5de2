// Package retry provides the retry-until-available primitive used to wait for
// host page elements.
//
// A Policy either waits forever (initial anchor acquisition) or gives up after
// a fixed number of attempts (menu insertion). Both are driven by the same
// constant-interval loop.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrExhausted is returned when a bounded policy runs out of attempts.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy describes how often and how many times a probe is attempted.
type Policy struct {
	Name        string        // used in log messages
	Interval    time.Duration // delay between attempts
	MaxAttempts uint          // zero means unbounded
}

// Forever returns a policy that probes every interval until it succeeds or the
// context is cancelled.
func Forever(name string, interval time.Duration) Policy {
	return Policy{Name: name, Interval: interval}
}

// Bounded returns a policy that gives up after attempts probes.
func Bounded(name string, interval time.Duration, attempts uint) Policy {
	return Policy{Name: name, Interval: interval, MaxAttempts: attempts}
}

// Unbounded reports whether the policy never gives up on its own.
func (p Policy) Unbounded() bool {
	return p.MaxAttempts == 0
}

// Until calls probe until it returns a nil error. The first probe runs
// immediately; later probes are spaced by p.Interval. It returns the probe's
// value, ErrExhausted (wrapping the last probe error) once a bounded policy is
// used up, or the context's error when ctx is cancelled.
func Until[T any](ctx context.Context, p Policy, probe func() (T, error)) (T, error) {
	var zero T
	attempts := uint(0)

	op := func() (T, error) {
		if err := ctx.Err(); err != nil {
			return zero, backoff.Permanent(err)
		}
		attempts++
		return probe()
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Interval)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Debug("retry.Until: probe not ready", "policy", p.Name, "attempt", attempts, "next", next, "error", err)
		}),
	}
	if !p.Unbounded() {
		opts = append(opts, backoff.WithMaxTries(p.MaxAttempts))
	}

	v, err := backoff.Retry(ctx, op, opts...)
	if err == nil {
		slog.Debug("retry.Until: probe succeeded", "policy", p.Name, "attempts", attempts)
		return v, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return zero, ctxErr
	}
	return zero, fmt.Errorf("%s: %w after %d attempts: %w", p.Name, ErrExhausted, attempts, err)
}
