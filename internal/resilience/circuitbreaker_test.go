package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errFeed = errors.New("feed down")

func failing(context.Context) error { return errFeed }
func healthy(context.Context) error { return nil }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("kite", CircuitBreakerConfig{FailureThreshold: 3, Cooldown: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, failing); !errors.Is(err, errFeed) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %s", cb.State())
	}

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("open circuit must reject without calling: err=%v called=%v", err, called)
	}
}

func TestBreakerHalfOpenTrial(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("kite", CircuitBreakerConfig{FailureThreshold: 1, Cooldown: 30 * time.Second})
	cb.now = func() time.Time { return now }
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %s", cb.State())
	}

	now = now.Add(31 * time.Second)
	if err := cb.Execute(ctx, failing); !errors.Is(err, errFeed) {
		t.Fatalf("trial call should run: %v", err)
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("failed trial must reopen, state = %s", cb.State())
	}

	now = now.Add(31 * time.Second)
	if err := cb.Execute(ctx, healthy); err != nil {
		t.Fatalf("trial: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("successful trial must close, state = %s", cb.State())
	}
}

func TestBreakerIgnoresClassifiedErrors(t *testing.T) {
	notFound := errors.New("unknown symbol")
	cb := NewCircuitBreaker("kite", CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Minute,
		IsFailure:        func(err error) bool { return !errors.Is(err, notFound) },
	})

	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error { return notFound })
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("non-failures must not trip the breaker, state = %s", cb.State())
	}
}

func TestExecuteWithResult(t *testing.T) {
	cb := NewCircuitBreaker("kite", DefaultCircuitBreakerConfig())
	v, err := ExecuteWithResult(context.Background(), cb, func(context.Context) (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("v=%d err=%v", v, err)
	}
	if s := cb.Stats(); s.TotalRequests != 1 || s.TotalFailures != 0 {
		t.Fatalf("stats = %+v", s)
	}
}
