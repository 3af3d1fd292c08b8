package backtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	apperrors "paper-trader/internal/errors"
	"paper-trader/internal/models"
	"paper-trader/pkg/utils"
)

// replaySource serves fixed candles as seen from its clock.
// It satisfies broker.PriceSource and signals.HistoryProvider.
type replaySource struct {
	candles map[string][]models.Candle

	mu sync.RWMutex
	at time.Time
}

func newReplaySource(series map[string][]models.Candle) *replaySource {
	candles := make(map[string][]models.Candle, len(series))
	for sym, cs := range series {
		cs = append([]models.Candle(nil), cs...)
		sort.Slice(cs, func(i, j int) bool { return cs[i].Timestamp.Before(cs[j].Timestamp) })
		candles[sym] = cs
	}
	return &replaySource{candles: candles}
}

func (r *replaySource) Name() string { return "replay" }

// Now is the replay clock.
func (r *replaySource) Now() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.at
}

func (r *replaySource) advance(at time.Time) {
	r.mu.Lock()
	r.at = at
	r.mu.Unlock()
}

// visible returns the candles at or before the clock.
func (r *replaySource) visible(symbol string) ([]models.Candle, time.Time) {
	r.mu.RLock()
	at := r.at
	r.mu.RUnlock()

	cs := r.candles[symbol]
	n := sort.Search(len(cs), func(i int) bool { return cs[i].Timestamp.After(at) })
	return cs[:n], at
}

// CurrentPrice is the close of the latest visible candle.
func (r *replaySource) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	cs, at := r.visible(symbol)
	if len(cs) == 0 {
		return decimal.Zero, apperrors.NewDataError(r.Name(), symbol, "no candle on or before "+at.Format("2006-01-02"), apperrors.ErrDataNotFound)
	}
	return decimal.NewFromFloat(cs[len(cs)-1].Close).Round(2), nil
}

// History returns the visible candles from the last days calendar days.
func (r *replaySource) History(ctx context.Context, symbol string, days int) ([]models.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cs, at := r.visible(symbol)
	from := at.AddDate(0, 0, -days)
	i := sort.Search(len(cs), func(i int) bool { return cs[i].Timestamp.After(from) })
	if i == len(cs) {
		return nil, apperrors.NewDataError(r.Name(), symbol, "no candles in window", apperrors.ErrDataNotFound)
	}
	return append([]models.Candle(nil), cs[i:]...), nil
}

// sessions lists the distinct IST trading days, oldest first, that fall
// within days calendar days of the latest candle.
func (r *replaySource) sessions(days int) []time.Time {
	var latest time.Time
	for _, cs := range r.candles {
		if last := cs[len(cs)-1].Timestamp; last.After(latest) {
			latest = last
		}
	}
	if latest.IsZero() {
		return nil
	}
	from := utils.TradingDay(latest).AddDate(0, 0, -days)

	seen := make(map[time.Time]bool)
	var out []time.Time
	for _, cs := range r.candles {
		for _, c := range cs {
			d := utils.TradingDay(c.Timestamp)
			if !d.After(from) || seen[d] {
				continue
			}
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
