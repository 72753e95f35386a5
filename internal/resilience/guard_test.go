package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testGuard(attempts, threshold int) *Guard {
	g := NewGuard("search", "finalize", attempts, threshold)
	g.Retry.InitialBackoff = time.Millisecond
	g.Retry.MaxBackoff = time.Millisecond
	return g
}

func TestGuard_RetriesTransient(t *testing.T) {
	g := testGuard(3, 0)
	var calls int
	v, err := Call(context.Background(), g, func(_ context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError(errors.New("busy"), 503)
		}
		return "done", nil
	})
	if err != nil || v != "done" {
		t.Fatalf("expected done, got %q (%v)", v, err)
	}
	if g.Breaker != nil {
		t.Error("threshold 0 should disable the breaker")
	}
}

func TestGuard_BreakerEndsRetryLoop(t *testing.T) {
	g := testGuard(5, 2)
	var calls int
	_, err := Call(context.Background(), g, func(_ context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("down"), 502)
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls before the breaker opened, got %d", calls)
	}
	if !g.Open() {
		t.Error("expected guard to report open")
	}

	// Later calls are rejected without reaching fn.
	_, err = Call(context.Background(), g, func(_ context.Context) (int, error) {
		t.Error("should not be called")
		return 0, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestGuard_Nil(t *testing.T) {
	var g *Guard
	v, err := Call(context.Background(), g, func(_ context.Context) (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Errorf("expected 7, got %d (%v)", v, err)
	}
	if g.Open() {
		t.Error("nil guard is never open")
	}
}

func TestGuard_DoRetriesThroughBreaker(t *testing.T) {
	g := testGuard(3, 5)
	var calls int
	err := g.Do(context.Background(), func(_ context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("locked"), 0)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if g.Failures() != 0 {
		t.Errorf("success should reset failures, got %d", g.Failures())
	}
}

func TestGuard_DoStopsOnPermanentError(t *testing.T) {
	g := testGuard(3, 0)
	var calls int
	err := g.Do(context.Background(), func(_ context.Context) error {
		calls++
		return errors.New("constraint failed")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("permanent errors are not retried, got %d calls", calls)
	}
}

func TestGuard_NilGuard(t *testing.T) {
	var g *Guard
	var calls int
	if err := g.Do(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if g.Open() || g.Failures() != 0 {
		t.Error("nil guard never opens")
	}
}

func TestGuard_FailuresCountsTrips(t *testing.T) {
	g := testGuard(1, 3)
	_ = g.Do(context.Background(), func(_ context.Context) error {
		return NewTransientError(errors.New("down"), 503)
	})
	if g.Failures() != 1 {
		t.Errorf("expected 1 failure, got %d", g.Failures())
	}
}
