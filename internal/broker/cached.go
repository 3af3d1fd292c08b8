package broker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"paper-trader/internal/models"
	"paper-trader/internal/store"
)

const dailyTimeframe = "day"

// CachedSource serves History from the candle cache while it is fresher
// than ttl, and falls back to stale candles when the feed is down.
type CachedSource struct {
	inner  PriceSource
	cache  store.CandleCache
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

// NewCachedSource wraps inner with a candle cache.
func NewCachedSource(inner PriceSource, cache store.CandleCache, ttl time.Duration, logger zerolog.Logger) *CachedSource {
	return &CachedSource{inner: inner, cache: cache, ttl: ttl, logger: logger, now: time.Now}
}

func (c *CachedSource) Name() string { return c.inner.Name() }

// Unwrap returns the source behind the cache.
func (c *CachedSource) Unwrap() PriceSource { return c.inner }

// CurrentPrice is never cached.
func (c *CachedSource) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return c.inner.CurrentPrice(ctx, symbol)
}

func (c *CachedSource) History(ctx context.Context, symbol string, days int) ([]models.Candle, error) {
	now := c.now()
	from := now.AddDate(0, 0, -days)

	fetched, err := c.cache.CandlesFreshness(ctx, symbol, dailyTimeframe)
	if err == nil && !fetched.IsZero() && now.Sub(fetched) < c.ttl {
		cached, err := c.cache.GetCandles(ctx, symbol, dailyTimeframe, from, now)
		if err == nil && len(cached) > 0 {
			return cached, nil
		}
	}

	candles, err := c.inner.History(ctx, symbol, days)
	if err != nil {
		stale, cacheErr := c.cache.GetCandles(ctx, symbol, dailyTimeframe, from, now)
		if cacheErr == nil && len(stale) > 0 {
			c.logger.Warn().Err(err).Str("symbol", symbol).Msg("Serving stale candles from cache")
			return stale, nil
		}
		return nil, err
	}

	if err := c.cache.SaveCandles(ctx, symbol, dailyTimeframe, candles); err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache candles")
	}
	return candles, nil
}
