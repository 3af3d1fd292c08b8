// Package signals produces candidate trade intents for the execution engine.
package signals

import (
	"context"
	"sort"
	"time"

	"paper-trader/internal/models"
)

// SignalSource generates signals for a watchlist.
type SignalSource interface {
	Name() string
	Generate(ctx context.Context, watchlist []string) ([]models.Signal, error)
}

// HistoryProvider supplies daily candles. broker.PriceSource satisfies it.
type HistoryProvider interface {
	History(ctx context.Context, symbol string, days int) ([]models.Candle, error)
}

// StaticSource returns a fixed list of signals. Used for manual trades,
// the sample trade and tests.
type StaticSource struct {
	signals []models.Signal
	now     func() time.Time
}

// NewStaticSource creates a source that always yields signals.
func NewStaticSource(signals ...models.Signal) *StaticSource {
	return &StaticSource{signals: signals, now: time.Now}
}

func (s *StaticSource) Name() string { return "static" }

// Generate returns copies of the configured signals for symbols on the
// watchlist. An empty watchlist passes everything through.
func (s *StaticSource) Generate(ctx context.Context, watchlist []string) ([]models.Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	allowed := make(map[string]bool, len(watchlist))
	for _, sym := range watchlist {
		allowed[sym] = true
	}

	out := make([]models.Signal, 0, len(s.signals))
	for _, sig := range s.signals {
		if len(allowed) > 0 && !allowed[sig.Symbol] {
			continue
		}
		sig.Reasons = append([]string(nil), sig.Reasons...)
		if sig.Timestamp.IsZero() {
			sig.Timestamp = s.now()
		}
		if sig.Source == "" {
			sig.Source = s.Name()
		}
		out = append(out, sig)
	}
	sortByConfidence(out)
	return out, nil
}

func sortByConfidence(signals []models.Signal) {
	sort.SliceStable(signals, func(i, j int) bool {
		return signals[i].Confidence > signals[j].Confidence
	})
}
