package trading

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"paper-trader/internal/models"
)

func zeroCommissionRules() Rules {
	return Rules{
		RiskPerTradePct:    decimal.NewFromInt(2),
		CommissionPct:      decimal.Zero,
		MinStopPct:         decimal.NewFromInt(2),
		MaxCashUtilization: decimal.NewFromFloat(0.9),
	}
}

func TestPositionSizeClampsToUsableCash(t *testing.T) {
	r := zeroCommissionRules()
	tests := []struct {
		name      string
		cash      string
		price     string
		stop      string
		requested int64
		want      int64
	}{
		{"risk size above usable cash clamps", "10000", "100", "98", 0, 90},
		{"requested quantity caps", "10000", "100", "98", 25, 25},
		{"tight stop uses minimum distance", "10000", "100", "99.9", 0, 90},
		{"wide stop sizes from risk", "100000", "100", "80", 0, 100},
		{"clamp to zero discards", "100", "200", "190", 0, 0},
		{"stop above price uses minimum distance", "10000", "100", "105", 0, 90},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PositionSize(r, dec(tt.cash), dec(tt.price), dec(tt.stop), tt.requested)
			if got != tt.want {
				t.Errorf("PositionSize = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPositionSizeCountsRoundedCommission(t *testing.T) {
	r := Rules{
		RiskPerTradePct:    decimal.NewFromInt(100),
		CommissionPct:      decimal.NewFromFloat(0.1),
		MinStopPct:         decimal.NewFromInt(2),
		MaxCashUtilization: decimal.NewFromInt(1),
	}
	// 100 x 10.05 costs exactly 1006.005 with commission, but the
	// commission rounds up to 1.01.
	cash, price := dec("1006.005"), dec("10.05")
	qty := PositionSize(r, cash, price, dec("9"), 0)
	if qty != 99 {
		t.Fatalf("PositionSize = %d, want 99", qty)
	}
	cost := price.Mul(decimal.NewFromInt(qty)).Add(Commission(price, qty, r.CommissionPct))
	if cost.GreaterThan(cash) {
		t.Errorf("cost %s above cash %s", cost, cash)
	}

	l := NewLedger(cash)
	if !l.OpenPosition("TEST", price, qty, dec("9"), dec("11"), Commission(price, qty, r.CommissionPct)) {
		t.Error("ledger rejected the sized order")
	}
}

func TestExceedsPositionCap(t *testing.T) {
	r := Rules{}
	if r.ExceedsPositionCap(dec("2450"), 1000) {
		t.Error("zero cap should never bind")
	}
	r.MaxPositionValue = dec("10000")
	if r.ExceedsPositionCap(dec("2500"), 4) {
		t.Error("exactly at the cap is allowed")
	}
	if !r.ExceedsPositionCap(dec("2500.01"), 4) {
		t.Error("over the cap not detected")
	}
}

func TestCommissionRoundsToPaise(t *testing.T) {
	pct := decimal.NewFromFloat(0.1)
	if got := Commission(dec("2450"), 10, pct); !got.Equal(dec("24.50")) {
		t.Errorf("Commission(2450, 10) = %s", got)
	}
	if got := Commission(dec("2320"), 10, pct); !got.Equal(dec("23.20")) {
		t.Errorf("Commission(2320, 10) = %s", got)
	}
	if got := Commission(dec("123.45"), 3, pct); !got.Equal(dec("0.37")) {
		t.Errorf("Commission(123.45, 3) = %s", got)
	}
}

func TestRealizedPnLIncludesBothCommissions(t *testing.T) {
	pos := models.Position{Quantity: 10, EntryPrice: dec("2450"), EntryCommission: dec("24.50")}
	if got := RealizedPnL(pos, dec("2320"), dec("23.20")); !got.Equal(dec("-1347.70")) {
		t.Errorf("RealizedPnL = %s", got)
	}
}

// Sized orders always fit the usable cash, commission included.
func TestProperty_SizedOrderFitsCash(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	r := zeroCommissionRules()
	r.CommissionPct = decimal.NewFromFloat(0.1)

	properties.Property("qty*price*(1+c) <= cash*utilization", prop.ForAll(
		func(cash, price, stopPct int) bool {
			c := decimal.NewFromInt(int64(cash))
			p := decimal.NewFromInt(int64(price))
			stop := p.Mul(decimal.NewFromInt(int64(100 - stopPct))).Div(hundred)
			qty := PositionSize(r, c, p, stop, 0)
			if qty < 0 {
				return false
			}
			usable := c.Mul(r.MaxCashUtilization)
			exact := p.Mul(decimal.NewFromInt(qty)).Mul(hundred.Add(r.CommissionPct)).Div(hundred)
			charged := p.Mul(decimal.NewFromInt(qty)).Add(Commission(p, qty, r.CommissionPct))
			return exact.LessThanOrEqual(usable) && charged.LessThanOrEqual(usable)
		},
		gen.IntRange(1, 5_000_000),
		gen.IntRange(1, 50_000),
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}

func TestEvaluateExitPrecedence(t *testing.T) {
	entry := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	pos := models.Position{
		Symbol:      "TEST",
		Quantity:    1,
		EntryPrice:  dec("100"),
		StopLoss:    dec("95"),
		TargetPrice: dec("90"),
		EntryDate:   entry,
	}
	late := entry.Add(30 * 24 * time.Hour)

	if got := EvaluateExit(pos, dec("94"), late, 10); got != ExitStopLoss {
		t.Errorf("stop and target both hit: got %q", got)
	}

	pos.TargetPrice = dec("110")
	tests := []struct {
		name  string
		price string
		now   time.Time
		want  ExitReason
	}{
		{"stop at exactly the level", "95", entry, ExitStopLoss},
		{"target at exactly the level", "110", entry, ExitTarget},
		{"target beats holding period", "111", late, ExitTarget},
		{"holding period", "100", entry.Add(10 * 24 * time.Hour), ExitTimeLimit},
		{"inside the band", "100", entry.Add(9 * 24 * time.Hour), ExitNone},
		{"no price", "0", late, ExitNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EvaluateExit(pos, dec(tt.price), tt.now, 10); got != tt.want {
				t.Errorf("EvaluateExit = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSummarizeTrades(t *testing.T) {
	base := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	trades := []models.TradeRecord{
		{ID: 1, Timestamp: base, Action: models.ActionBuy, Commission: dec("10"), PortfolioValue: dec("100000")},
		{ID: 2, Timestamp: base.Add(time.Hour), Action: models.ActionSell, Commission: dec("10"), PnL: dec("500"), PortfolioValue: dec("100500")},
		{ID: 3, Timestamp: base.Add(2 * time.Hour), Action: models.ActionBuy, Commission: dec("10"), PortfolioValue: dec("100490")},
		{ID: 4, Timestamp: base.Add(3 * time.Hour), Action: models.ActionSell, Commission: dec("10"), PnL: dec("-250"), PortfolioValue: dec("98490")},
	}
	st := SummarizeTrades(trades)

	if st.Trades != 4 || st.Buys != 2 || st.Sells != 2 || st.WinningTrades != 1 || st.LosingTrades != 1 {
		t.Errorf("counts = %+v", st)
	}
	if !st.WinRate.Equal(dec("50")) || !st.RealizedPnL.Equal(dec("250")) || !st.TotalCommission.Equal(dec("40")) {
		t.Errorf("totals = %+v", st)
	}
	if !st.ProfitFactor.Equal(dec("2")) || !st.AvgLoss.Equal(dec("-250")) {
		t.Errorf("ratios = %+v", st)
	}
	if !st.MaxDrawdown.Equal(dec("2")) {
		t.Errorf("max drawdown = %s", st.MaxDrawdown)
	}
}
