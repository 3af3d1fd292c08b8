package backtest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"paper-trader/internal/broker"
	"paper-trader/internal/config"
	apperrors "paper-trader/internal/errors"
	"paper-trader/internal/models"
	"paper-trader/internal/signals"
	"paper-trader/internal/trading"
	"paper-trader/pkg/utils"
)

// scriptedHistory serves fixed daily candles regardless of the window asked for.
type scriptedHistory map[string][]models.Candle

func (s scriptedHistory) History(ctx context.Context, symbol string, days int) ([]models.Candle, error) {
	cs, ok := s[symbol]
	if !ok {
		return nil, fmt.Errorf("no series for %s", symbol)
	}
	return append([]models.Candle(nil), cs...), nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// weekdayCloses builds one candle per close starting Monday 4 March 2024.
func weekdayCloses(closes ...float64) []models.Candle {
	d := time.Date(2024, 3, 4, 0, 0, 0, 0, utils.IndiaLocation)
	out := make([]models.Candle, 0, len(closes))
	for _, c := range closes {
		for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			d = d.AddDate(0, 0, 1)
		}
		out = append(out, models.Candle{Timestamp: d, Open: c, High: c, Low: c, Close: c, Volume: 1000})
		d = d.AddDate(0, 0, 1)
	}
	return out
}

func engineConfig() config.EngineConfig {
	cfg := config.Default().Engine
	cfg.Watchlist = []string{"RELIANCE"}
	return cfg
}

func staticBuy(replay *replaySource, opts Options) signals.SignalSource {
	return signals.NewStaticSource(models.Signal{
		Symbol:      "RELIANCE",
		Action:      models.ActionBuy,
		Price:       decimal.NewFromInt(100),
		StopLoss:    decimal.NewFromInt(95),
		TargetPrice: decimal.NewFromInt(120),
		Confidence:  80,
		Quantity:    10,
		Reasons:     []string{"scripted"},
	})
}

func TestReplayExitsAtSessionClose(t *testing.T) {
	history := scriptedHistory{"RELIANCE": weekdayCloses(100, 100, 90, 90, 90)}

	res, err := run(context.Background(), history, engineConfig(), Options{
		Days:   30,
		Dir:    t.TempDir(),
		Logger: zerolog.Nop(),
	}, staticBuy)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.DaysReplayed != 5 {
		t.Fatalf("days replayed = %d, want 5", res.DaysReplayed)
	}
	if len(res.Trades) != 3 {
		t.Fatalf("trades = %d, want buy, stop-loss sell, buy", len(res.Trades))
	}

	buy, sell, rebuy := res.Trades[0], res.Trades[1], res.Trades[2]
	if buy.Action != models.ActionBuy || !buy.Price.Equal(dec("100")) || buy.Quantity != 10 {
		t.Errorf("first trade = %s %d @ %s", buy.Action, buy.Quantity, buy.Price)
	}
	if !buy.Timestamp.Equal(sessionClose(history["RELIANCE"][0].Timestamp)) {
		t.Errorf("buy stamped %s, want the first session close", buy.Timestamp)
	}
	if sell.Action != models.ActionSell || !sell.Price.Equal(dec("90")) || sell.Reason != string(trading.ExitStopLoss) {
		t.Errorf("second trade = %s @ %s (%s)", sell.Action, sell.Price, sell.Reason)
	}
	if !sell.PnL.Equal(dec("-101.90")) {
		t.Errorf("stop-loss pnl = %s, want -101.90", sell.PnL)
	}
	if !utils.TradingDay(sell.Timestamp).Equal(history["RELIANCE"][2].Timestamp) {
		t.Errorf("stop-loss on %s, want the third session", sell.Timestamp)
	}
	// Re-entry at 90 scales the scripted 95/120 levels with the fill.
	if rebuy.Action != models.ActionBuy || !rebuy.Price.Equal(dec("90")) ||
		!rebuy.StopLoss.Equal(dec("85.5")) || !rebuy.TargetPrice.Equal(dec("108")) {
		t.Errorf("third trade = %s @ %s stop %s target %s", rebuy.Action, rebuy.Price, rebuy.StopLoss, rebuy.TargetPrice)
	}

	wantCurve := []string{"99999", "99999", "99898.1", "99897.2", "99897.2"}
	for i, want := range wantCurve {
		if got := res.DailyValues[i].Value; !got.Equal(dec(want)) {
			t.Errorf("day %d value = %s, want %s", i+1, got, want)
		}
	}
	if !res.FinalValue.Equal(dec("99897.2")) || !res.TotalPnL.Equal(dec("-102.8")) {
		t.Errorf("final = %s pnl = %s", res.FinalValue, res.TotalPnL)
	}
	if !res.TotalReturnPct.Equal(dec("-0.1")) || !res.MaxDrawdownPct.Equal(dec("0.1")) {
		t.Errorf("return = %s%% drawdown = %s%%", res.TotalReturnPct, res.MaxDrawdownPct)
	}
	if res.OpenPositions != 1 {
		t.Errorf("open positions = %d, want 1", res.OpenPositions)
	}
	if res.Stats.Sells != 1 || res.Stats.LosingTrades != 1 {
		t.Errorf("stats = %+v", res.Stats)
	}
	if len(res.BySymbol) != 1 || res.BySymbol[0].Trades != 1 || !res.BySymbol[0].PnL.Equal(dec("-101.90")) {
		t.Errorf("by symbol = %+v", res.BySymbol)
	}
}

func TestReplayWindowLimitsSessions(t *testing.T) {
	history := scriptedHistory{"RELIANCE": weekdayCloses(100, 100, 100, 100, 100)}

	res, err := run(context.Background(), history, engineConfig(), Options{
		Days:   2,
		Dir:    t.TempDir(),
		Logger: zerolog.Nop(),
	}, staticBuy)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.DaysReplayed != 2 {
		t.Fatalf("days replayed = %d, want the last 2 sessions", res.DaysReplayed)
	}
	if !res.Start.Equal(history["RELIANCE"][3].Timestamp) || !res.End.Equal(history["RELIANCE"][4].Timestamp) {
		t.Errorf("window = %s .. %s", res.Start, res.End)
	}
	// The buy on the first replayed session fills at that day's close.
	if len(res.Trades) != 1 || !res.Trades[0].Price.Equal(dec("100")) {
		t.Errorf("trades = %+v", res.Trades)
	}
}

func TestRunValidatesOptions(t *testing.T) {
	history := scriptedHistory{"RELIANCE": weekdayCloses(100)}
	ctx := context.Background()

	if _, err := Run(ctx, history, engineConfig(), Options{Days: 0, Dir: t.TempDir(), Logger: zerolog.Nop()}); err == nil {
		t.Error("zero days accepted")
	}
	cfg := engineConfig()
	cfg.Watchlist = nil
	if _, err := Run(ctx, history, cfg, Options{Days: 5, Dir: t.TempDir(), Logger: zerolog.Nop()}); err == nil {
		t.Error("empty watchlist accepted")
	}
	_, err := Run(ctx, history, engineConfig(), Options{Days: 5, Symbols: []string{"NOSUCH"}, Dir: t.TempDir(), Logger: zerolog.Nop()})
	if !errors.Is(err, apperrors.ErrDataUnavailable) {
		t.Errorf("missing history error = %v, want a data error", err)
	}
}

func TestReplaySourceHidesLaterCandles(t *testing.T) {
	candles := weekdayCloses(100, 101, 102)
	r := newReplaySource(map[string][]models.Candle{"TCS": candles})
	ctx := context.Background()

	r.advance(sessionClose(candles[0].Timestamp).Add(-time.Hour * 24))
	if _, err := r.CurrentPrice(ctx, "TCS"); !errors.Is(err, apperrors.ErrDataNotFound) {
		t.Fatalf("quote before the first candle: err = %v", err)
	}

	r.advance(sessionClose(candles[1].Timestamp))
	px, err := r.CurrentPrice(ctx, "TCS")
	if err != nil || !px.Equal(dec("101")) {
		t.Fatalf("quote on day 2 = %s, %v; want 101", px, err)
	}
	hist, err := r.History(ctx, "TCS", 30)
	if err != nil || len(hist) != 2 || hist[1].Close != 101 {
		t.Fatalf("history on day 2 = %+v, %v", hist, err)
	}
	hist, err = r.History(ctx, "TCS", 1)
	if err != nil || len(hist) != 1 || hist[0].Close != 101 {
		t.Fatalf("one-day history = %+v, %v", hist, err)
	}
	if !r.Now().Equal(sessionClose(candles[1].Timestamp)) {
		t.Errorf("clock = %s", r.Now())
	}
}

func TestCurveDrawdownAndSharpe(t *testing.T) {
	initial := dec("100")
	curve := []DailyValue{{Value: dec("100")}, {Value: dec("110")}, {Value: dec("99")}, {Value: dec("120")}}
	if got := curveDrawdown(initial, curve); !got.Equal(dec("10")) {
		t.Errorf("drawdown = %s, want 10", got)
	}
	if got := curveDrawdown(initial, []DailyValue{{Value: dec("100")}, {Value: dec("101")}}); !got.IsZero() {
		t.Errorf("rising curve drawdown = %s, want 0", got)
	}

	flat := []DailyValue{{Value: dec("100")}, {Value: dec("100")}, {Value: dec("100")}}
	if got := sharpe(initial, flat); got != 0 {
		t.Errorf("flat sharpe = %v, want 0", got)
	}
	if got := sharpe(initial, curve); got <= 0 {
		t.Errorf("net rising sharpe = %v, want positive", got)
	}
}

func TestSimulatedReplayFillsAtDailyClose(t *testing.T) {
	ctx := context.Background()
	sim := broker.NewSimulatedSource(42)
	symbols := []string{"RELIANCE", "TCS", "INFY"}

	res, err := Run(ctx, sim, config.Default().Engine, Options{
		Days:    45,
		Symbols: symbols,
		Dir:     t.TempDir(),
		Logger:  zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.DaysReplayed < 25 || res.DaysReplayed > 40 {
		t.Fatalf("days replayed = %d for a 45 day window", res.DaysReplayed)
	}
	for i := 1; i < len(res.DailyValues); i++ {
		if !res.DailyValues[i].Date.After(res.DailyValues[i-1].Date) {
			t.Fatalf("sessions out of order at %d", i)
		}
	}
	last := res.DailyValues[len(res.DailyValues)-1]
	if !res.FinalValue.Equal(last.Value) {
		t.Errorf("final value %s != last session %s", res.FinalValue, last.Value)
	}
	for _, dv := range res.DailyValues {
		if dv.Cash.IsNegative() {
			t.Fatalf("negative cash on %s: %s", dv.Date, dv.Cash)
		}
	}
	if res.Stats.Trades != len(res.Trades) {
		t.Errorf("stats count %d trades, result has %d", res.Stats.Trades, len(res.Trades))
	}

	closes := make(map[string]map[time.Time]decimal.Decimal)
	for _, sym := range symbols {
		candles, err := sim.History(ctx, sym, 200)
		if err != nil {
			t.Fatalf("History(%s): %v", sym, err)
		}
		closes[sym] = make(map[time.Time]decimal.Decimal)
		for _, c := range candles {
			closes[sym][utils.TradingDay(c.Timestamp)] = decimal.NewFromFloat(c.Close).Round(2)
		}
	}
	for _, tr := range res.Trades {
		want, ok := closes[tr.Symbol][utils.TradingDay(tr.Timestamp)]
		if !ok {
			t.Fatalf("%s trade on %s has no candle", tr.Symbol, tr.Timestamp)
		}
		if !tr.Price.Equal(want) {
			t.Errorf("%s %s on %s filled at %s, close was %s", tr.Action, tr.Symbol, tr.Timestamp.Format("2006-01-02"), tr.Price, want)
		}
	}
}
