// Package backtest replays daily history through the paper trading engine.
//
// A replay drives the real engine one session at a time: the clock is set
// to the session close, quotes are that day's closes and the technical
// source only sees candles up to that day. Sizing, risk rules, exits and
// the ledger are the same code paths a live cycle uses.
package backtest

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"

	"paper-trader/internal/config"
	apperrors "paper-trader/internal/errors"
	"paper-trader/internal/logging"
	"paper-trader/internal/models"
	"paper-trader/internal/signals"
	"paper-trader/internal/store"
	"paper-trader/internal/trading"
	"paper-trader/pkg/utils"
)

const tradingDaysPerYear = 252

// Options configures a replay.
type Options struct {
	// Days is the calendar window replayed, ending at the latest candle.
	Days int
	// HistoryDays is the lookback the technical source scores on; at least 90.
	HistoryDays int
	// Symbols defaults to the engine watchlist.
	Symbols     []string
	Concurrency int
	// Dir holds the scratch ledger database; defaults to os.TempDir.
	Dir    string
	Logger zerolog.Logger
}

// DailyValue is the account at one session close.
type DailyValue struct {
	Date      time.Time       `json:"date"`
	Value     decimal.Decimal `json:"value"`
	Cash      decimal.Decimal `json:"cash"`
	Positions int             `json:"positions"`
	Trades    int             `json:"trades"`
	Exits     int             `json:"exits"`
}

// SymbolPerformance aggregates closed trades for one symbol.
type SymbolPerformance struct {
	Symbol  string          `json:"symbol"`
	Trades  int             `json:"trades"`
	Wins    int             `json:"wins"`
	PnL     decimal.Decimal `json:"pnl"`
	WinRate decimal.Decimal `json:"win_rate"`
}

// Result is the outcome of a replay.
type Result struct {
	Start          time.Time            `json:"start"`
	End            time.Time            `json:"end"`
	DaysReplayed   int                  `json:"days_replayed"`
	InitialCapital decimal.Decimal      `json:"initial_capital"`
	FinalValue     decimal.Decimal      `json:"final_value"`
	TotalPnL       decimal.Decimal      `json:"total_pnl"`
	TotalReturnPct decimal.Decimal      `json:"total_return_pct"`
	MaxDrawdownPct decimal.Decimal      `json:"max_drawdown_pct"`
	SharpeRatio    float64              `json:"sharpe_ratio"`
	OpenPositions  int                  `json:"open_positions"`
	Stats          trading.TradeStats   `json:"stats"`
	BySymbol       []SymbolPerformance  `json:"performance_by_symbol"`
	DailyValues    []DailyValue         `json:"daily_values"`
	Trades         []models.TradeRecord `json:"trades"`
}

// Run replays the last opts.Days of history through a fresh engine built
// from cfg, scoring with the technical source. Market hours are not
// enforced; every replayed date is a session.
func Run(ctx context.Context, history signals.HistoryProvider, cfg config.EngineConfig, opts Options) (*Result, error) {
	return run(ctx, history, cfg, opts, technical)
}

func technical(replay *replaySource, opts Options) signals.SignalSource {
	return signals.NewTechnicalSource(replay, signals.TechnicalOptions{
		HistoryDays: opts.HistoryDays,
		Concurrency: opts.Concurrency,
		Logger:      opts.Logger,
		Now:         replay.Now,
	})
}

func run(ctx context.Context, history signals.HistoryProvider, cfg config.EngineConfig, opts Options, newSource func(*replaySource, Options) signals.SignalSource) (res *Result, err error) {
	if opts.Days < 1 {
		return nil, apperrors.NewValidationError("days", opts.Days, "must be at least 1")
	}
	// The technical source needs about 51 sessions of lookback.
	if opts.HistoryDays < 90 {
		opts.HistoryDays = 90
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}
	if len(opts.Symbols) == 0 {
		opts.Symbols = cfg.Watchlist
	}
	if len(opts.Symbols) == 0 {
		return nil, apperrors.NewValidationError("symbols", opts.Symbols, "nothing to replay")
	}
	log := logging.WithComponent(opts.Logger, "backtest")

	replay, err := loadReplay(ctx, log, history, opts.Symbols, opts.Days+opts.HistoryDays, opts.Concurrency)
	if err != nil {
		return nil, err
	}
	dates := replay.sessions(opts.Days)
	if len(dates) == 0 {
		return nil, apperrors.NewDataError("replay", "", "no candles in the replay window", apperrors.ErrDataNotFound)
	}

	dir, err := os.MkdirTemp(opts.Dir, "paper-backtest-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() { err = multierr.Append(err, os.RemoveAll(dir)) }()

	db, err := store.NewSQLiteStore(filepath.Join(dir, "backtest.db"))
	if err != nil {
		return nil, err
	}
	defer func() { err = multierr.Append(err, db.Close()) }()

	cfg.Watchlist = opts.Symbols
	cfg.RequireMarketOpen = false
	engine, err := trading.NewEngine(ctx, cfg, trading.Deps{
		Store:       db,
		Prices:      replay,
		Signals:     newSource(replay, opts),
		Logger:      opts.Logger,
		Concurrency: opts.Concurrency,
		Now:         replay.Now,
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Int("sessions", len(dates)).
		Strs("symbols", opts.Symbols).
		Time("from", dates[0]).
		Time("to", dates[len(dates)-1]).
		Msg("Backtest started")

	curve := make([]DailyValue, 0, len(dates))
	for _, d := range dates {
		replay.advance(sessionClose(d))
		cycle, err := engine.ForceRunCycle(ctx)
		if err != nil {
			return nil, fmt.Errorf("replay %s: %w", d.Format("2006-01-02"), err)
		}
		curve = append(curve, DailyValue{
			Date:      d,
			Value:     cycle.PortfolioValue,
			Cash:      cycle.Cash,
			Positions: cycle.Positions,
			Trades:    cycle.TradesExecuted,
			Exits:     cycle.ExitsExecuted,
		})
	}

	trades, err := db.AllTrades(ctx)
	if err != nil {
		return nil, apperrors.NewPersistenceError("load replay trades", "", err)
	}
	res = summarize(engine.Ledger().InitialCapital(), curve, trades)
	res.OpenPositions = engine.Ledger().Len()

	log.Info().
		Int("sessions", res.DaysReplayed).
		Int("trades", len(res.Trades)).
		Str("final_value", res.FinalValue.StringFixed(2)).
		Str("return_pct", res.TotalReturnPct.StringFixed(2)).
		Msg("Backtest finished")
	return res, nil
}

// sessionClose is 15:30 IST on day d.
func sessionClose(d time.Time) time.Time {
	return utils.TradingDay(d).Add(15*time.Hour + 30*time.Minute)
}

func summarize(initial decimal.Decimal, curve []DailyValue, trades []models.TradeRecord) *Result {
	res := &Result{
		DaysReplayed:   len(curve),
		InitialCapital: initial,
		FinalValue:     initial,
		Stats:          trading.SummarizeTrades(trades),
		BySymbol:       bySymbol(trades),
		DailyValues:    curve,
		Trades:         trades,
	}
	if len(curve) > 0 {
		res.Start = curve[0].Date
		res.End = curve[len(curve)-1].Date
		res.FinalValue = curve[len(curve)-1].Value
	}
	res.TotalPnL = res.FinalValue.Sub(initial)
	if initial.IsPositive() {
		res.TotalReturnPct = res.TotalPnL.Div(initial).Mul(decimal.NewFromInt(100)).Round(2)
	}
	res.MaxDrawdownPct = curveDrawdown(initial, curve)
	res.SharpeRatio = sharpe(initial, curve)
	return res
}

// curveDrawdown is the largest peak-to-trough fall in daily value, as a
// percentage of the peak. The starting capital counts as the first peak.
func curveDrawdown(initial decimal.Decimal, curve []DailyValue) decimal.Decimal {
	peak := initial
	worst := decimal.Zero
	for _, p := range curve {
		if p.Value.GreaterThan(peak) {
			peak = p.Value
		}
		if !peak.IsPositive() {
			continue
		}
		dd := peak.Sub(p.Value).Div(peak).Mul(decimal.NewFromInt(100))
		if dd.GreaterThan(worst) {
			worst = dd
		}
	}
	return worst.Round(2)
}

// sharpe annualises the mean over the standard deviation of daily returns,
// with a zero risk-free rate. Fewer than two returns or a flat curve give 0.
func sharpe(initial decimal.Decimal, curve []DailyValue) float64 {
	prev, _ := initial.Float64()
	returns := make([]float64, 0, len(curve))
	for _, p := range curve {
		v, _ := p.Value.Float64()
		if prev > 0 {
			returns = append(returns, (v-prev)/prev)
		}
		prev = v
	}
	if len(returns) < 2 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	stdDev := math.Sqrt(variance / float64(len(returns)-1))
	if stdDev == 0 {
		return 0
	}
	return math.Round(mean/stdDev*math.Sqrt(tradingDaysPerYear)*100) / 100
}

func bySymbol(trades []models.TradeRecord) []SymbolPerformance {
	perf := make(map[string]*SymbolPerformance)
	for _, t := range trades {
		if t.Action != models.ActionSell {
			continue
		}
		p, ok := perf[t.Symbol]
		if !ok {
			p = &SymbolPerformance{Symbol: t.Symbol, PnL: decimal.Zero, WinRate: decimal.Zero}
			perf[t.Symbol] = p
		}
		p.Trades++
		p.PnL = p.PnL.Add(t.PnL)
		if t.PnL.IsPositive() {
			p.Wins++
		}
	}

	out := make([]SymbolPerformance, 0, len(perf))
	for _, p := range perf {
		p.WinRate = decimal.NewFromInt(int64(p.Wins)).Div(decimal.NewFromInt(int64(p.Trades))).Mul(decimal.NewFromInt(100)).Round(1)
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PnL.Equal(out[j].PnL) {
			return out[i].PnL.GreaterThan(out[j].PnL)
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// loadReplay fetches history for every symbol up front. A symbol whose
// history fails is dropped with a warning; all failing is an error.
func loadReplay(ctx context.Context, log zerolog.Logger, history signals.HistoryProvider, symbols []string, days, concurrency int) (*replaySource, error) {
	type fetched struct {
		symbol  string
		candles []models.Candle
		err     error
	}

	p := pool.NewWithResults[fetched]().WithMaxGoroutines(concurrency)
	for _, sym := range symbols {
		sym := sym
		p.Go(func() fetched {
			candles, err := history.History(ctx, sym, days)
			return fetched{symbol: sym, candles: candles, err: err}
		})
	}

	series := make(map[string][]models.Candle, len(symbols))
	var errs error
	for _, f := range p.Wait() {
		if f.err != nil {
			log.Warn().Err(f.err).Str("symbol", f.symbol).Msg("No history, symbol left out of replay")
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", f.symbol, f.err))
			continue
		}
		if len(f.candles) > 0 {
			series[f.symbol] = f.candles
		}
	}
	if len(series) == 0 {
		if errs == nil {
			errs = apperrors.ErrDataNotFound
		}
		return nil, apperrors.NewDataError("replay", "", "no history for any symbol", errs)
	}
	return newReplaySource(series), nil
}
