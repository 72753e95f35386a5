package resilience

import (
	"context"
	"errors"
)

// Guard combines a retry policy with an optional circuit breaker for one
// backend. Each attempt passes through the breaker, so an opened circuit
// also ends an in-flight retry loop.
type Guard struct {
	Retry   RetryConfig
	Breaker *CircuitBreaker
}

// NewGuard builds a guard for backend with attempts total tries and a
// breaker that opens after breakerThreshold consecutive transient failures.
// breakerThreshold <= 0 disables the breaker.
func NewGuard(backend, operation string, attempts, breakerThreshold int) *Guard {
	retry := DefaultRetryConfig()
	if attempts > 0 {
		retry.MaxAttempts = attempts
	}
	retry.OnRetry = RetryLogger(backend, operation)
	retry.ShouldRetry = func(err error) bool {
		return !errors.Is(err, ErrCircuitOpen) && IsTransient(err)
	}

	g := &Guard{Retry: retry}
	if breakerThreshold > 0 {
		g.Breaker = NewCircuitBreaker(CircuitBreakerConfig{
			Name:             backend,
			FailureThreshold: breakerThreshold,
			ShouldTrip:       IsTransient,
		})
	}
	return g
}

// Call runs fn under the guard.
func Call[T any](ctx context.Context, g *Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	if g == nil {
		return fn(ctx)
	}
	return DoVal(ctx, g.Retry, func(ctx context.Context) (T, error) {
		if g.Breaker == nil {
			return fn(ctx)
		}
		return ExecuteVal(ctx, g.Breaker, fn)
	})
}

// Do runs fn under the guard.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if g == nil {
		return fn(ctx)
	}
	return Do(ctx, g.Retry, func(ctx context.Context) error {
		if g.Breaker == nil {
			return fn(ctx)
		}
		return g.Breaker.Execute(ctx, fn)
	})
}

// Open reports whether the breaker is currently rejecting calls.
func (g *Guard) Open() bool {
	return g != nil && g.Breaker != nil && g.Breaker.State() == CircuitOpen
}

// Failures returns the breaker's consecutive failure count.
func (g *Guard) Failures() int {
	if g == nil || g.Breaker == nil {
		return 0
	}
	return g.Breaker.Failures()
}
