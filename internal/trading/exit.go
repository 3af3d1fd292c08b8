package trading

import (
	"time"

	"github.com/shopspring/decimal"

	"paper-trader/internal/models"
)

// ExitReason labels why a position was closed automatically.
type ExitReason string

const (
	ExitNone      ExitReason = ""
	ExitStopLoss  ExitReason = "Stop loss triggered"
	ExitTarget    ExitReason = "Target price reached"
	ExitTimeLimit ExitReason = "Maximum holding period reached"
	ExitManual    ExitReason = "Manual square-off"
)

const day = 24 * time.Hour

// EvaluateExit decides whether pos should be closed at price. Stop loss
// wins over target, and target wins over the holding period limit.
func EvaluateExit(pos models.Position, price decimal.Decimal, now time.Time, maxHoldingDays int) ExitReason {
	if !price.IsPositive() {
		return ExitNone
	}
	if pos.StopLoss.IsPositive() && price.LessThanOrEqual(pos.StopLoss) {
		return ExitStopLoss
	}
	if pos.TargetPrice.IsPositive() && price.GreaterThanOrEqual(pos.TargetPrice) {
		return ExitTarget
	}
	if maxHoldingDays > 0 && pos.HoldingPeriod(now) >= time.Duration(maxHoldingDays)*day {
		return ExitTimeLimit
	}
	return ExitNone
}
