// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package backoff retries fallible operations with exponential delay and
// jitter. Retry is bounded and hands back the final error unchanged; Forever
// keeps trying until the operation succeeds or the context is cancelled.
package backoff

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// DefaultMaxAttempts is the attempt bound used when Policy.MaxAttempts is unset.
const DefaultMaxAttempts = 5

// Policy controls delays between attempts. The zero value makes
// DefaultMaxAttempts attempts with no waiting, which is what tests want.
type Policy struct {
	// MaxAttempts bounds Retry. Values <= 0 mean DefaultMaxAttempts.
	MaxAttempts int

	// Base is the exponent base. Values <= 1 mean 2.
	Base float64

	// Unit scales Base^n. Forever waits exactly Unit between attempts.
	Unit time.Duration

	// Jitter is the upper bound of the uniform random delay added to each wait.
	Jitter time.Duration

	// Logger receives one record per failed attempt. Nil means slog.Default().
	Logger *slog.Logger
}

// DefaultPolicy waits 2s, 4s, 8s, 16s (plus up to 1s of jitter) between five attempts.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Base:        2,
		Unit:        time.Second,
		Jitter:      time.Second,
	}
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

func (p Policy) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// Delay returns the wait after the given failed attempt (1-based):
// Base^attempt * Unit plus a uniform random share of Jitter.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 1 {
		base = 2
	}
	d := time.Duration(math.Pow(base, float64(attempt)) * float64(p.Unit))
	if p.Jitter > 0 {
		d += rand.N(p.Jitter)
	}
	return d
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Retry stops immediately and
// returns the wrapped error. Permanent(nil) is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn until it succeeds, returns a Permanent error, or
// p.MaxAttempts attempts have failed. On exhaustion the error from the last
// attempt is returned as is, not wrapped. A cancelled context during a wait
// returns the context error.
func Retry(ctx context.Context, name string, p Policy, fn func(ctx context.Context) error) error {
	log := p.logger()
	attempts := p.attempts()

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			log.Warn("operation failed permanently", "operation", name, "attempt", attempt, "error", perm.err)
			return perm.err
		}
		last = err
		log.Warn("operation failed", "operation", name, "attempt", attempt, "max_attempts", attempts, "error", err)
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, p.Delay(attempt)); err != nil {
			return err
		}
	}
	log.Error("retries exhausted", "operation", name, "attempts", attempts, "error", last)
	return last
}

// Do is Retry for operations that produce a value.
func Do[T any](ctx context.Context, name string, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Retry(ctx, name, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Forever calls fn until it succeeds, waiting p.Unit between attempts. It
// returns only on success or when ctx is done. Permanent errors are honored.
func Forever(ctx context.Context, name string, p Policy, fn func(ctx context.Context) error) error {
	log := p.logger()
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		log.Warn("operation failed, retrying", "operation", name, "attempt", attempt, "error", err)
		if err := sleep(ctx, p.Unit); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
