package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoStopsImmediatelyOnFatal(t *testing.T) {
	attempts := 0
	fatalErr := errors.New("authentication failed")
	p := Policy{MaxAttempts: 3, MinBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, IsFatal: func(err error) bool {
		return errors.Is(err, fatalErr)
	}}

	_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		attempts++
		return 0, fatalErr
	})

	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", attempts)
	}
	if !errors.Is(err, fatalErr) {
		t.Fatalf("expected fatal error to propagate, got %v", err)
	}
}

func TestDoRetriesTransientUpToMaxAttempts(t *testing.T) {
	attempts := 0
	transientErr := errors.New("timeout")
	p := Policy{MaxAttempts: 3, MinBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

	_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		attempts++
		return 0, transientErr
	})

	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if !errors.Is(err, transientErr) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestDoReturnsOnFirstSuccess(t *testing.T) {
	attempts := 0
	p := Policy{MaxAttempts: 3, MinBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

	got, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		attempts++
		if attempts < 2 {
			return 0, errors.New("not yet")
		}
		return 42, nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}
