// Package broker provides market data sources for the paper engine.
package broker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	apperrors "paper-trader/internal/errors"
	"paper-trader/internal/models"
	"paper-trader/internal/resilience"
	"paper-trader/internal/store"
)

// PriceSource supplies current prices and daily history for NSE symbols.
type PriceSource interface {
	Name() string
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	History(ctx context.Context, symbol string, days int) ([]models.Candle, error)
}

// Source modes.
const (
	ModeKite      = "kite"
	ModeSimulated = "simulated"
	ModeAuto      = "auto"
)

// Options configures NewPriceSource.
type Options struct {
	Mode              string
	Exchange          string
	APIKey            string
	AccessToken       string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	CacheTTL          time.Duration
	Seed              int64
	BreakerFailures   int
	BreakerCooldown   time.Duration
}

// NewPriceSource picks the price feed for this process. The choice is made
// once and logged. cache may be nil.
func NewPriceSource(opts Options, cache store.CandleCache, logger zerolog.Logger) (PriceSource, error) {
	useKite := false
	switch opts.Mode {
	case ModeKite:
		if opts.APIKey == "" || opts.AccessToken == "" {
			return nil, apperrors.Wrap(apperrors.ErrNotAuthenticated, "kite price source needs an api key and a stored access token")
		}
		useKite = true
	case ModeAuto, "":
		useKite = opts.APIKey != "" && opts.AccessToken != ""
	case ModeSimulated:
	default:
		return nil, apperrors.NewValidationError("price_source.mode", opts.Mode, "unknown mode")
	}

	if !useKite {
		logger.Warn().
			Str("source", "simulated").
			Str("mode", opts.Mode).
			Msg("Using simulated prices; no live Kite session configured")
		return NewSimulatedSource(opts.Seed), nil
	}

	var src PriceSource = NewKiteSource(NewKiteClient(opts.APIKey, opts.AccessToken), opts.Exchange)
	src = NewGuardedSource(src, GuardOptions{
		RequestsPerSecond: opts.RequestsPerSecond,
		Burst:             opts.Burst,
		Timeout:           opts.Timeout,
		BreakerFailures:   opts.BreakerFailures,
		BreakerCooldown:   opts.BreakerCooldown,
	})
	if cache != nil {
		src = NewCachedSource(src, cache, opts.CacheTTL, logger)
	}

	logger.Info().Str("source", src.Name()).Str("exchange", opts.Exchange).Msg("Using Kite Connect prices")
	return src, nil
}

// FetchPrices fetches current prices for symbols in parallel. Each symbol
// gets its own timeout; failures are reported per symbol and never abort
// the others.
func FetchPrices(ctx context.Context, src PriceSource, symbols []string, timeout time.Duration, concurrency int) (map[string]decimal.Decimal, map[string]error) {
	type quote struct {
		symbol string
		price  decimal.Decimal
		err    error
	}
	if concurrency < 1 {
		concurrency = 1
	}

	p := pool.NewWithResults[quote]().WithMaxGoroutines(concurrency)
	for _, sym := range symbols {
		sym := sym
		p.Go(func() quote {
			qctx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				qctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			price, err := src.CurrentPrice(qctx, sym)
			return quote{symbol: sym, price: price, err: err}
		})
	}

	prices := make(map[string]decimal.Decimal, len(symbols))
	failures := make(map[string]error)
	for _, q := range p.Wait() {
		switch {
		case q.err != nil:
			failures[q.symbol] = q.err
		case !q.price.IsPositive():
			failures[q.symbol] = apperrors.NewDataError(src.Name(), q.symbol, "non-positive price", nil)
		default:
			prices[q.symbol] = q.price
		}
	}
	return prices, failures
}

// BreakerOf returns the circuit breaker guarding src, or nil when src is
// not guarded.
func BreakerOf(src PriceSource) *resilience.CircuitBreaker {
	for src != nil {
		if g, ok := src.(*GuardedSource); ok {
			return g.Breaker()
		}
		u, ok := src.(interface{ Unwrap() PriceSource })
		if !ok {
			return nil
		}
		src = u.Unwrap()
	}
	return nil
}
