package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	apperrors "paper-trader/internal/errors"
	"paper-trader/internal/models"
	"paper-trader/internal/resilience"
)

// GuardOptions configures a GuardedSource.
type GuardOptions struct {
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	BreakerFailures   int
	BreakerCooldown   time.Duration
}

// GuardedSource wraps a PriceSource with a token bucket, a per-call
// timeout and a circuit breaker. Every failure surfaces as ErrDataUnavailable.
type GuardedSource struct {
	inner   PriceSource
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	timeout time.Duration
}

// NewGuardedSource wraps inner.
func NewGuardedSource(inner PriceSource, opts GuardOptions) *GuardedSource {
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 3
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	cfg := resilience.DefaultCircuitBreakerConfig()
	if opts.BreakerFailures > 0 {
		cfg.FailureThreshold = opts.BreakerFailures
	}
	if opts.BreakerCooldown > 0 {
		cfg.Cooldown = opts.BreakerCooldown
	}
	// An unknown symbol says nothing about feed health.
	cfg.IsFailure = func(err error) bool { return !apperrors.Is(err, apperrors.ErrDataNotFound) }

	return &GuardedSource{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		breaker: resilience.NewCircuitBreaker(inner.Name(), cfg),
		timeout: opts.Timeout,
	}
}

func (g *GuardedSource) Name() string { return g.inner.Name() }

// Unwrap returns the guarded source.
func (g *GuardedSource) Unwrap() PriceSource { return g.inner }

// Breaker exposes the breaker state for status reporting.
func (g *GuardedSource) Breaker() *resilience.CircuitBreaker { return g.breaker }

func (g *GuardedSource) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return guardedCall(ctx, g, symbol, func(ctx context.Context) (decimal.Decimal, error) {
		return g.inner.CurrentPrice(ctx, symbol)
	})
}

func (g *GuardedSource) History(ctx context.Context, symbol string, days int) ([]models.Candle, error) {
	return guardedCall(ctx, g, symbol, func(ctx context.Context) ([]models.Candle, error) {
		return g.inner.History(ctx, symbol, days)
	})
}

func guardedCall[T any](ctx context.Context, g *GuardedSource, symbol string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return zero, apperrors.NewDataError(g.Name(), symbol, "rate limit wait aborted", apperrors.Join(apperrors.ErrRateLimited, err))
	}

	v, err := resilience.ExecuteWithResult(ctx, g.breaker, func(ctx context.Context) (T, error) {
		return withTimeout(ctx, fn)
	})
	if err != nil {
		if _, ok := err.(*apperrors.DataError); ok {
			return zero, err
		}
		return zero, apperrors.NewDataError(g.Name(), symbol, "price request failed", err)
	}
	return v, nil
}

// withTimeout runs fn in its own goroutine so a client that ignores ctx
// still cannot block the caller past the deadline.
func withTimeout[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		if ctx.Err() == context.DeadlineExceeded {
			return zero, apperrors.Join(apperrors.ErrTimeout, ctx.Err())
		}
		return zero, ctx.Err()
	}
}
