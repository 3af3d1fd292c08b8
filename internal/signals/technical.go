package signals

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"paper-trader/internal/analysis/indicators"
	"paper-trader/internal/models"
)

// Scoring thresholds.
const (
	minBuyScore       = 60
	minBuyConditions  = 3
	exitConfidence    = 70
	bounceConfidence  = 65
	rangeConfidence   = 70
	overboughtRSI     = 75
	oversoldRSI       = 30
	rangeBuyRSI       = 35
	rangeSellRSI      = 70
	volumeSpikeFactor = 1.5
	stopATRMultiple   = 2
	targetATRMultiple = 3

	minCandles = 51
)

// TechnicalOptions configures a TechnicalSource.
type TechnicalOptions struct {
	HistoryDays int
	Concurrency int
	Logger      zerolog.Logger
	// Now stamps generated signals; defaults to the wall clock.
	Now func() time.Time
}

// TechnicalSource scores EMA trend, RSI and volume per symbol and adapts
// its rules to the market regime.
type TechnicalSource struct {
	history HistoryProvider
	opts    TechnicalOptions
	now     func() time.Time

	mu         sync.Mutex
	lastRegime models.Regime
}

// NewTechnicalSource creates a technical signal source.
func NewTechnicalSource(history HistoryProvider, opts TechnicalOptions) *TechnicalSource {
	if opts.HistoryDays < minCandles {
		opts.HistoryDays = 90
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &TechnicalSource{history: history, opts: opts, now: opts.Now}
}

func (t *TechnicalSource) Name() string { return "technical" }

// LastRegime returns the regime detected by the most recent Generate call.
func (t *TechnicalSource) LastRegime() models.Regime {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastRegime
}

// snapshot holds the latest indicator readings for one symbol.
type snapshot struct {
	symbol    string
	close     float64
	ema9      float64
	ema21     float64
	ema50     float64
	prevEMA9  float64
	prevEMA21 float64
	rsi       float64
	atr       float64
	volume    float64
	volumeAvg float64
}

// Generate fetches history for every symbol, detects the regime and returns
// signals sorted by confidence. Symbols without usable history are skipped.
func (t *TechnicalSource) Generate(ctx context.Context, watchlist []string) ([]models.Signal, error) {
	type fetched struct {
		symbol  string
		candles []models.Candle
		err     error
	}

	p := pool.NewWithResults[fetched]().WithMaxGoroutines(t.opts.Concurrency)
	for _, sym := range watchlist {
		sym := sym
		p.Go(func() fetched {
			candles, err := t.history.History(ctx, sym, t.opts.HistoryDays)
			return fetched{symbol: sym, candles: candles, err: err}
		})
	}

	series := make(map[string][]models.Candle, len(watchlist))
	for _, f := range p.Wait() {
		if f.err != nil {
			t.opts.Logger.Warn().Err(f.err).Str("symbol", f.symbol).Msg("Skipping symbol without history")
			continue
		}
		series[f.symbol] = f.candles
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	regime := DetectRegime(series)
	t.mu.Lock()
	t.lastRegime = regime
	t.mu.Unlock()
	t.opts.Logger.Info().
		Str("regime", string(regime.Label)).
		Float64("breadth", regime.Breadth).
		Int("sampled", regime.Sampled).
		Msg("Market regime detected")

	now := t.now()
	var out []models.Signal
	for _, sym := range watchlist {
		candles, ok := series[sym]
		if !ok {
			continue
		}
		snap, err := takeSnapshot(sym, candles)
		if err != nil {
			t.opts.Logger.Debug().Err(err).Str("symbol", sym).Int("candles", len(candles)).Msg("Not enough history to score")
			continue
		}
		sig, ok := evaluate(regime.Label, snap)
		if !ok {
			continue
		}
		sig.Timestamp = now
		sig.Source = t.Name()
		out = append(out, sig)
	}

	sortByConfidence(out)
	return out, nil
}

func takeSnapshot(symbol string, candles []models.Candle) (snapshot, error) {
	if len(candles) < minCandles {
		return snapshot{}, indicators.ErrInsufficientData
	}

	ema9, err := indicators.NewEMA(9).Calculate(candles)
	if err != nil {
		return snapshot{}, err
	}
	ema21, err := indicators.NewEMA(21).Calculate(candles)
	if err != nil {
		return snapshot{}, err
	}
	ema50, err := indicators.NewEMA(50).Calculate(candles)
	if err != nil {
		return snapshot{}, err
	}
	rsi, err := indicators.NewRSI(14).Calculate(candles)
	if err != nil {
		return snapshot{}, err
	}
	atr, err := indicators.NewATR(14).Calculate(candles)
	if err != nil {
		return snapshot{}, err
	}
	vol, err := indicators.NewVolumeSMA(20).Calculate(candles)
	if err != nil {
		return snapshot{}, err
	}

	last := candles[len(candles)-1]
	return snapshot{
		symbol:    symbol,
		close:     last.Close,
		ema9:      indicators.Last(ema9),
		ema21:     indicators.Last(ema21),
		ema50:     indicators.Last(ema50),
		prevEMA9:  indicators.Prev(ema9),
		prevEMA21: indicators.Prev(ema21),
		rsi:       indicators.Last(rsi),
		atr:       indicators.Last(atr),
		volume:    float64(last.Volume),
		volumeAvg: indicators.Last(vol),
	}, nil
}

func (s snapshot) bullishCross() bool {
	return s.prevEMA9 <= s.prevEMA21 && s.ema9 > s.ema21
}

func (s snapshot) bearishCross() bool {
	return s.prevEMA9 >= s.prevEMA21 && s.ema9 < s.ema21
}

// evaluate applies the regime's rules and returns at most one signal.
// Exit conditions are checked before entries.
func evaluate(regime models.RegimeLabel, s snapshot) (models.Signal, bool) {
	switch regime {
	case models.RegimeBull:
		if sig, ok := exitSignal(s); ok {
			return sig, true
		}
		return trendEntry(s)

	case models.RegimeBear:
		if sig, ok := exitSignal(s); ok {
			return sig, true
		}
		if s.rsi <= oversoldRSI {
			return entry(s, bounceConfidence, fmt.Sprintf("Oversold bounce: RSI %.1f in bear market", s.rsi)), true
		}

	case models.RegimeSideways:
		if s.rsi >= rangeSellRSI {
			return exit(s, rangeConfidence, fmt.Sprintf("Range top: RSI %.1f", s.rsi)), true
		}
		if s.rsi <= rangeBuyRSI {
			return entry(s, rangeConfidence, fmt.Sprintf("Range bottom: RSI %.1f", s.rsi)), true
		}
	}
	return models.Signal{}, false
}

func exitSignal(s snapshot) (models.Signal, bool) {
	switch {
	case s.rsi > overboughtRSI:
		return exit(s, exitConfidence, fmt.Sprintf("Overbought: RSI %.1f", s.rsi)), true
	case s.bearishCross():
		return exit(s, exitConfidence, "Bearish EMA 9/21 crossover"), true
	}
	return models.Signal{}, false
}

func trendEntry(s snapshot) (models.Signal, bool) {
	var (
		score   int
		reasons []string
	)
	if s.ema9 > s.ema21 && s.ema21 > s.ema50 {
		score += 30
		reasons = append(reasons, "EMA 9 > 21 > 50 uptrend")
	}
	if s.bullishCross() {
		score += 25
		reasons = append(reasons, "Bullish EMA 9/21 crossover")
	}
	if s.rsi >= 40 && s.rsi <= 65 {
		score += 20
		reasons = append(reasons, fmt.Sprintf("RSI %.1f in 40-65 zone", s.rsi))
	}
	if s.volumeAvg > 0 && s.volume >= s.volumeAvg*volumeSpikeFactor {
		score += 10
		reasons = append(reasons, fmt.Sprintf("Volume %.1fx 20-day average", s.volume/s.volumeAvg))
	}
	if s.close > s.ema21 && s.close > s.ema50 {
		score += 10
		reasons = append(reasons, "Price above EMA21 and EMA50")
	}

	if score < minBuyScore || len(reasons) < minBuyConditions {
		return models.Signal{}, false
	}
	sig := entry(s, float64(score), reasons[0])
	sig.Reasons = reasons
	return sig, true
}

func entry(s snapshot, confidence float64, reason string) models.Signal {
	price := decimal.NewFromFloat(s.close).Round(2)
	sig := models.Signal{
		Symbol:     s.symbol,
		Action:     models.ActionBuy,
		Price:      price,
		Confidence: confidence,
		Reasons:    []string{reason},
	}
	// Without a usable ATR the engine's percentage defaults apply.
	if s.atr > 0 {
		atr := decimal.NewFromFloat(s.atr)
		stop := price.Sub(atr.Mul(decimal.NewFromInt(stopATRMultiple))).Round(2)
		if stop.IsPositive() {
			sig.StopLoss = stop
		}
		sig.TargetPrice = price.Add(atr.Mul(decimal.NewFromInt(targetATRMultiple))).Round(2)
	}
	return sig
}

func exit(s snapshot, confidence float64, reason string) models.Signal {
	return models.Signal{
		Symbol:     s.symbol,
		Action:     models.ActionSell,
		Price:      decimal.NewFromFloat(s.close).Round(2),
		Confidence: confidence,
		Reasons:    []string{reason},
	}
}
