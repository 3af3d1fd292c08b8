package trading

import (
	"github.com/shopspring/decimal"

	"paper-trader/internal/config"
	"paper-trader/internal/models"
)

var hundred = decimal.NewFromInt(100)

// Rules are the engine's risk and cost parameters in decimal form.
type Rules struct {
	InitialCapital     decimal.Decimal
	RiskPerTradePct    decimal.Decimal
	CommissionPct      decimal.Decimal
	MaxPositions       int
	MinConfidence      float64
	MinStopPct         decimal.Decimal
	MaxCashUtilization decimal.Decimal
	MaxPositionValue   decimal.Decimal
	MaxHoldingDays     int
	DailyProfitTarget  decimal.Decimal
	DefaultStopLossPct decimal.Decimal
	DefaultTargetPct   decimal.Decimal
}

// RulesFromConfig converts the engine configuration.
func RulesFromConfig(cfg config.EngineConfig) Rules {
	return Rules{
		InitialCapital:     decimal.NewFromFloat(cfg.InitialCapital),
		RiskPerTradePct:    decimal.NewFromFloat(cfg.RiskPerTradePct),
		CommissionPct:      decimal.NewFromFloat(cfg.CommissionPct),
		MaxPositions:       cfg.MaxPositions,
		MinConfidence:      cfg.MinConfidence,
		MinStopPct:         decimal.NewFromFloat(cfg.MinStopPct),
		MaxCashUtilization: decimal.NewFromFloat(cfg.MaxCashUtilization),
		MaxPositionValue:   decimal.NewFromFloat(cfg.MaxPositionValue),
		MaxHoldingDays:     cfg.MaxHoldingDays,
		DailyProfitTarget:  decimal.NewFromFloat(cfg.DailyProfitTarget),
		DefaultStopLossPct: decimal.NewFromFloat(cfg.DefaultStopLossPct),
		DefaultTargetPct:   decimal.NewFromFloat(cfg.DefaultTargetPct),
	}
}

// Commission returns price*quantity*pct/100 rounded to paise.
func Commission(price decimal.Decimal, quantity int64, pct decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(quantity)).Mul(pct).Div(hundred).Round(2)
}

// ExceedsPositionCap reports whether an entry of quantity at price is over
// the per-trade notional cap. A zero cap never binds.
func (r Rules) ExceedsPositionCap(price decimal.Decimal, quantity int64) bool {
	if !r.MaxPositionValue.IsPositive() {
		return false
	}
	return price.Mul(decimal.NewFromInt(quantity)).GreaterThan(r.MaxPositionValue)
}

// RealizedPnL is exit proceeds net of exit commission minus the entry cost
// including entry commission.
func RealizedPnL(pos models.Position, exitPrice, exitCommission decimal.Decimal) decimal.Decimal {
	proceeds := exitPrice.Mul(decimal.NewFromInt(pos.Quantity)).Sub(exitCommission)
	return proceeds.Sub(pos.CostBasis())
}

// PositionSize computes the risk-based quantity for a BUY at price with
// the given stop. requested, when positive, caps the result. The result is
// clamped so that quantity*price plus the paise-rounded commission stays
// within the usable share of cash; zero means the trade cannot be afforded.
func PositionSize(r Rules, cash, price, stopLoss decimal.Decimal, requested int64) int64 {
	if !price.IsPositive() || !cash.IsPositive() {
		return 0
	}

	riskAmount := cash.Mul(r.RiskPerTradePct).Div(hundred)
	stopDistance := price.Sub(stopLoss)
	if floor := price.Mul(r.MinStopPct).Div(hundred); stopDistance.LessThan(floor) {
		stopDistance = floor
	}
	if !stopDistance.IsPositive() {
		return 0
	}

	qty := riskAmount.Div(stopDistance).Floor().IntPart()
	if requested > 0 && requested < qty {
		qty = requested
	}

	usable := cash.Mul(r.MaxCashUtilization)
	unitCost := price.Mul(hundred.Add(r.CommissionPct)).Div(hundred)
	if maxAffordable := usable.Div(unitCost).Floor().IntPart(); qty > maxAffordable {
		qty = maxAffordable
	}
	// Commission rounding can add up to half a paisa over the exact cost.
	for qty > 0 && price.Mul(decimal.NewFromInt(qty)).Add(Commission(price, qty, r.CommissionPct)).GreaterThan(usable) {
		qty--
	}
	if qty < 1 {
		return 0
	}
	return qty
}
