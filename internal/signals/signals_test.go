package signals

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"paper-trader/internal/models"
)

type fakeHistory map[string][]models.Candle

func (f fakeHistory) History(ctx context.Context, symbol string, days int) ([]models.Candle, error) {
	c, ok := f[symbol]
	if !ok {
		return nil, errors.New("no data")
	}
	return c, nil
}

// zigzag rises by up then falls by down on alternate days.
func zigzag(n int, start, up, down float64) []models.Candle {
	candles := make([]models.Candle, n)
	price := start
	day := time.Date(2024, 1, 1, 15, 30, 0, 0, time.UTC)
	for i := range candles {
		if i > 0 {
			if i%2 == 1 {
				price += up
			} else {
				price -= down
			}
		}
		candles[i] = models.Candle{
			Timestamp: day.AddDate(0, 0, i),
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price,
			Volume:    100000,
		}
	}
	return candles
}

func TestClassifyRegimeThresholds(t *testing.T) {
	tests := []struct {
		breadth float64
		sampled int
		want    models.RegimeLabel
	}{
		{0.6, 10, models.RegimeBull},
		{0.9, 10, models.RegimeBull},
		{0.59, 10, models.RegimeSideways},
		{0.5, 10, models.RegimeSideways},
		{0.41, 10, models.RegimeSideways},
		{0.4, 10, models.RegimeBear},
		{0, 10, models.RegimeBear},
		{1, 0, models.RegimeSideways},
	}
	for _, tt := range tests {
		got := ClassifyRegime(tt.breadth, tt.sampled)
		if got.Label != tt.want {
			t.Errorf("ClassifyRegime(%v, %d) = %s, want %s", tt.breadth, tt.sampled, got.Label, tt.want)
		}
	}
}

func TestRegimeConfidenceBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("confidence stays within [50, 100]", prop.ForAll(
		func(breadth float64) bool {
			r := ClassifyRegime(breadth, 5)
			return r.Confidence >= 50 && r.Confidence <= 100
		},
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}

func TestDetectRegime(t *testing.T) {
	up := zigzag(60, 100, 3, 2)
	down := zigzag(60, 500, 2, 3)

	r := DetectRegime(map[string][]models.Candle{"A": up, "B": up, "C": up, "D": down})
	if r.Label != models.RegimeBull || r.Sampled != 4 {
		t.Errorf("3 of 4 above EMA21: got %+v", r)
	}

	r = DetectRegime(map[string][]models.Candle{"A": up, "B": down, "C": down})
	if r.Label != models.RegimeBear {
		t.Errorf("1 of 3 above EMA21: got %+v", r)
	}

	r = DetectRegime(map[string][]models.Candle{"A": up[:10]})
	if r.Sampled != 0 || r.Label != models.RegimeSideways {
		t.Errorf("short series should not be sampled: %+v", r)
	}
}

func TestTechnicalSourceBullTrendEntry(t *testing.T) {
	hist := fakeHistory{
		"TCS":  zigzag(80, 3000, 3, 2),
		"INFY": zigzag(80, 1500, 3, 2),
	}
	src := NewTechnicalSource(hist, TechnicalOptions{HistoryDays: 90, Logger: zerolog.Nop()})

	signals, err := src.Generate(context.Background(), []string{"TCS", "INFY", "MISSING"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if src.LastRegime().Label != models.RegimeBull {
		t.Fatalf("regime = %s, want bull", src.LastRegime().Label)
	}
	if len(signals) != 2 {
		t.Fatalf("got %d signals, want 2: %+v", len(signals), signals)
	}
	for _, sig := range signals {
		if sig.Action != models.ActionBuy {
			t.Errorf("%s: action %s, want BUY", sig.Symbol, sig.Action)
		}
		if sig.Confidence < minBuyScore {
			t.Errorf("%s: confidence %.0f below threshold", sig.Symbol, sig.Confidence)
		}
		if len(sig.Reasons) < minBuyConditions {
			t.Errorf("%s: reasons %v", sig.Symbol, sig.Reasons)
		}
		if !sig.StopLoss.LessThan(sig.Price) || !sig.TargetPrice.GreaterThan(sig.Price) {
			t.Errorf("%s: stop %s / target %s around price %s", sig.Symbol, sig.StopLoss, sig.TargetPrice, sig.Price)
		}
		if sig.Source != "technical" {
			t.Errorf("source = %q", sig.Source)
		}
	}
}

func TestTechnicalSourceBearOversoldBounce(t *testing.T) {
	falling := make([]models.Candle, 70)
	for i := range falling {
		p := 1000 - float64(i)*5
		falling[i] = models.Candle{Open: p, High: p + 2, Low: p - 2, Close: p, Volume: 1000}
	}
	src := NewTechnicalSource(fakeHistory{"SBIN": falling}, TechnicalOptions{Logger: zerolog.Nop()})

	signals, err := src.Generate(context.Background(), []string{"SBIN"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("got %d signals", len(signals))
	}
	sig := signals[0]
	if sig.Action != models.ActionBuy || sig.Confidence != bounceConfidence {
		t.Errorf("got %s @ %.0f, want BUY @ %d", sig.Action, sig.Confidence, bounceConfidence)
	}
}

func TestEvaluateRules(t *testing.T) {
	base := snapshot{symbol: "X", close: 100, ema9: 101, ema21: 100, ema50: 99, prevEMA9: 101, prevEMA21: 100, atr: 2, volume: 1, volumeAvg: 1}

	tests := []struct {
		name       string
		regime     models.RegimeLabel
		mutate     func(*snapshot)
		wantOK     bool
		wantAction models.Action
		wantConf   float64
	}{
		{"bull overbought exits", models.RegimeBull, func(s *snapshot) { s.rsi = 80 }, true, models.ActionSell, exitConfidence},
		{"bull bearish cross exits", models.RegimeBull, func(s *snapshot) { s.rsi = 50; s.ema9 = 99.5 }, true, models.ActionSell, exitConfidence},
		{"bull trend with cross and volume", models.RegimeBull, func(s *snapshot) {
			s.rsi = 55
			s.close = 103
			s.prevEMA9 = 99
			s.volume = 2
		}, true, models.ActionBuy, 95},
		{"bull weak setup ignored", models.RegimeBull, func(s *snapshot) { s.rsi = 70; s.ema50 = 102 }, false, "", 0},
		{"bear without oversold ignored", models.RegimeBear, func(s *snapshot) { s.rsi = 45 }, false, "", 0},
		{"sideways range bottom", models.RegimeSideways, func(s *snapshot) { s.rsi = 35 }, true, models.ActionBuy, rangeConfidence},
		{"sideways range top", models.RegimeSideways, func(s *snapshot) { s.rsi = 70 }, true, models.ActionSell, rangeConfidence},
		{"sideways middle ignored", models.RegimeSideways, func(s *snapshot) { s.rsi = 50 }, false, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			tt.mutate(&s)
			sig, ok := evaluate(tt.regime, s)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v (%+v)", ok, tt.wantOK, sig)
			}
			if !ok {
				return
			}
			if sig.Action != tt.wantAction || sig.Confidence != tt.wantConf {
				t.Errorf("got %s @ %.0f, want %s @ %.0f", sig.Action, sig.Confidence, tt.wantAction, tt.wantConf)
			}
		})
	}
}

func TestEntryUsesATRBands(t *testing.T) {
	sig := entry(snapshot{symbol: "X", close: 100, atr: 2.5}, 70, "test")
	if !sig.StopLoss.Equal(decimal.NewFromInt(95)) {
		t.Errorf("stop = %s, want 95", sig.StopLoss)
	}
	if !sig.TargetPrice.Equal(decimal.RequireFromString("107.5")) {
		t.Errorf("target = %s, want 107.5", sig.TargetPrice)
	}

	sig = entry(snapshot{symbol: "X", close: 100}, 70, "test")
	if !sig.StopLoss.IsZero() || !sig.TargetPrice.IsZero() {
		t.Errorf("zero ATR should leave bands for the engine defaults")
	}
}

func TestStaticSourceFiltersAndSorts(t *testing.T) {
	src := NewStaticSource(
		models.Signal{Symbol: "TCS", Action: models.ActionBuy, Price: decimal.NewFromInt(3500), Confidence: 62},
		models.Signal{Symbol: "RELIANCE", Action: models.ActionBuy, Price: decimal.NewFromInt(2450), Confidence: 75},
		models.Signal{Symbol: "ZOMATO", Action: models.ActionBuy, Price: decimal.NewFromInt(150), Confidence: 90},
	)

	signals, err := src.Generate(context.Background(), []string{"TCS", "RELIANCE"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(signals) != 2 {
		t.Fatalf("got %d signals", len(signals))
	}
	if signals[0].Symbol != "RELIANCE" || signals[1].Symbol != "TCS" {
		t.Errorf("not sorted by confidence: %s, %s", signals[0].Symbol, signals[1].Symbol)
	}
	if signals[0].Timestamp.IsZero() || signals[0].Source != "static" {
		t.Errorf("timestamp/source not filled: %+v", signals[0])
	}

	all, _ := src.Generate(context.Background(), nil)
	if len(all) != 3 {
		t.Errorf("empty watchlist should pass all signals, got %d", len(all))
	}
}
