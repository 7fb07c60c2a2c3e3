// Package retry implements the reusable retry-via-decorator policy called
// for by spec.md §9: a policy type parameterized by a predicate over error
// classes (the FATAL_ORDER_EXCEPTIONS set) and a backoff distribution,
// rather than the source's tenacity decorator.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Fatal, when returned true by the caller's classifier, aborts retrying
// immediately — authentication, permission, invalid-arguments,
// insufficient-funds, invalid-order, and order-not-found per spec.md §4.3.
type Fatal func(err error) bool

// Policy is a bounded-attempt retry with jittered backoff.
type Policy struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	IsFatal     Fatal
}

// Default matches spec.md §4.3: up to 3 attempts, randomized backoff in
// [5s, 20s].
func Default(isFatal Fatal) Policy {
	return Policy{
		MaxAttempts: 3,
		MinBackoff:  5 * time.Second,
		MaxBackoff:  20 * time.Second,
		IsFatal:     isFatal,
	}
}

// Do runs fn up to MaxAttempts times. It stops immediately (no further
// attempts) if IsFatal classifies the error as fatal. Between attempts it
// sleeps a random jittered duration in [MinBackoff, MaxBackoff], honoring
// ctx cancellation.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if p.IsFatal != nil && p.IsFatal(err) {
			return zero, err
		}
		if attempt == p.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(jitter(p.MinBackoff, p.MaxBackoff)):
		}
	}
	return zero, lastErr
}

func jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
