package broker

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"paper-trader/internal/models"
	"paper-trader/pkg/utils"
)

// basePrices anchor the simulated feed for the usual watchlist.
var basePrices = map[string]float64{
	"RELIANCE":   2450,
	"TCS":        3500,
	"INFY":       1500,
	"HDFCBANK":   1600,
	"ICICIBANK":  950,
	"SBIN":       600,
	"ITC":        450,
	"LT":         3400,
	"BHARTIARTL": 1100,
	"KOTAKBANK":  1750,
}

// SimulatedSource is a seeded mean-reverting walk around a base price.
// Every symbol's series starts at a fixed epoch, so a day's candle depends
// only on (seed, symbol, day) and never on how much history is requested.
// CurrentPrice starts from the latest close and steps on every call.
type SimulatedSource struct {
	seed int64

	mu   sync.Mutex
	rng  *rand.Rand
	last map[string]float64
	now  func() time.Time
}

// simEpoch is the first day of every simulated series.
var simEpoch = time.Date(2015, 1, 1, 0, 0, 0, 0, utils.IndiaLocation)

const (
	simReversion  = 0.97
	simVolatility = 0.015
)

// NewSimulatedSource creates a simulated feed. A zero seed is taken from the clock.
func NewSimulatedSource(seed int64) *SimulatedSource {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SimulatedSource{
		seed: seed,
		rng:  rand.New(rand.NewSource(seed)),
		last: make(map[string]float64),
		now:  time.Now,
	}
}

func (s *SimulatedSource) Name() string { return "simulated" }

// CurrentPrice returns the previous quote moved by up to ±1%.
func (s *SimulatedSource) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.last[symbol]
	if !ok {
		candles := s.walk(symbol, 7)
		price = candles[len(candles)-1].Close
	}
	price *= 1 + (s.rng.Float64()*2-1)*0.01
	price = math.Max(price, 1)
	s.last[symbol] = price
	return decimal.NewFromFloat(price).Round(2), nil
}

// SetPrice pins the next quote base for symbol.
func (s *SimulatedSource) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	s.last[symbol] = price
	s.mu.Unlock()
}

// History returns weekday daily candles ending today.
func (s *SimulatedSource) History(ctx context.Context, symbol string, days int) ([]models.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.walk(symbol, days), nil
}

func (s *SimulatedSource) walk(symbol string, days int) []models.Candle {
	if days < 1 {
		days = 1
	}
	h := fnv.New64a()
	h.Write([]byte(symbol))
	rng := rand.New(rand.NewSource(s.seed ^ int64(h.Sum64())))

	base, ok := basePrices[symbol]
	if !ok {
		base = 100 + float64(h.Sum64()%4900)
	}

	end := utils.TradingDay(s.now())
	start := end.AddDate(0, 0, -days)
	epoch := simEpoch
	if start.Before(epoch) {
		epoch = start
	}

	// x is the log deviation from base; it decays toward zero each day.
	var x float64
	price := base
	var candles []models.Candle
	var latest *models.Candle
	for d := epoch.AddDate(0, 0, 1); !d.After(end); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		open := price
		x = x*simReversion + rng.NormFloat64()*simVolatility
		closePx := math.Max(base*math.Exp(x), 1)
		high := math.Max(open, closePx) * (1 + rng.Float64()*0.008)
		low := math.Min(open, closePx) * (1 - rng.Float64()*0.008)
		c := models.Candle{
			Timestamp: d.Add(15*time.Hour + 30*time.Minute),
			Open:      round2(open),
			High:      round2(high),
			Low:       round2(low),
			Close:     round2(closePx),
			Volume:    int64(500000 + rng.Intn(2000000)),
		}
		price = closePx
		latest = &c
		if d.After(start) {
			candles = append(candles, c)
		}
	}
	if len(candles) == 0 {
		if latest != nil {
			return []models.Candle{*latest}
		}
		return []models.Candle{{Timestamp: end, Open: base, High: base, Low: base, Close: base}}
	}
	return candles
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
