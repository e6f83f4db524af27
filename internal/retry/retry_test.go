package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestDo_SucceedsFirstTry(t *testing.T) {
	var calls int
	err := Do(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	var calls int
	err := Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	}, WithBackoff(time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ExhaustionReturnsLastError(t *testing.T) {
	var calls int
	err := Do(context.Background(), func() error {
		calls++
		return fmt.Errorf("attempt %d", calls)
	}, WithMaxAttempts(2), WithBackoff(time.Millisecond))
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
	if err.Error() != "attempt 2" {
		t.Errorf("expected last error returned, got %v", err)
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	sentinel := errors.New("bad credentials")
	var calls int
	err := Do(context.Background(), func() error {
		calls++
		return Permanent(sentinel)
	}, WithBackoff(time.Millisecond))
	if calls != 1 {
		t.Errorf("expected 1 call for permanent error, got %d", calls)
	}
	// The wrapper is stripped before returning.
	if !errors.Is(err, sentinel) || err != sentinel {
		t.Errorf("expected unwrapped sentinel, got %v", err)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	err := Do(ctx, func() error {
		calls++
		cancel()
		return fmt.Errorf("transient")
	}, WithBackoff(time.Minute))
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected cancellation to stop retries, got %d calls", calls)
	}
}

func TestDoVal_ReturnsValue(t *testing.T) {
	var calls int
	v, err := DoVal(context.Background(), func() (int, error) {
		calls++
		if calls < 2 {
			return 0, fmt.Errorf("transient")
		}
		return 42, nil
	}, WithBackoff(time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Errorf("expected 42, got %d", v)
	}
}

func TestBackoffDelay_ReusesLastDelay(t *testing.T) {
	backoff := []time.Duration{time.Second, 5 * time.Second}
	if d := backoffDelay(backoff, 0); d != time.Second {
		t.Errorf("expected 1s, got %s", d)
	}
	if d := backoffDelay(backoff, 5); d != 5*time.Second {
		t.Errorf("expected last delay reused, got %s", d)
	}
}
