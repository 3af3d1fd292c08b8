package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultSignalReason is used when a signal carries no reasons.
const DefaultSignalReason = "Signal generated"

// Signal is a candidate trade intent produced by a signal source.
type Signal struct {
	Symbol      string          `json:"symbol"`
	Action      Action          `json:"action"`
	Price       decimal.Decimal `json:"price"`
	Confidence  float64         `json:"confidence"`
	StopLoss    decimal.Decimal `json:"stop_loss"`
	TargetPrice decimal.Decimal `json:"target_price"`
	Reasons     []string        `json:"reasons"`
	Timestamp   time.Time       `json:"timestamp"`

	// Quantity, when positive, caps the risk-sized quantity.
	Quantity int64  `json:"quantity,omitempty"`
	Source   string `json:"source,omitempty"`
}

// WithDefaults fills missing stop loss, target and reasons.
// stopPct and targetPct are percentages of price.
func (s Signal) WithDefaults(stopPct, targetPct decimal.Decimal) Signal {
	hundred := decimal.NewFromInt(100)
	if s.StopLoss.LessThanOrEqual(decimal.Zero) && s.Price.GreaterThan(decimal.Zero) {
		s.StopLoss = s.Price.Mul(hundred.Sub(stopPct)).Div(hundred)
	}
	if s.TargetPrice.LessThanOrEqual(decimal.Zero) && s.Price.GreaterThan(decimal.Zero) {
		s.TargetPrice = s.Price.Mul(hundred.Add(targetPct)).Div(hundred)
	}
	if len(s.Reasons) == 0 {
		s.Reasons = []string{DefaultSignalReason}
	}
	return s
}
