package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"paper-trader/internal/models"
)

// GetPortfolioStatus returns a copy of the account state. It never fails:
// when the figures cannot be produced it returns the last good status
// marked stale, or a status built from the initial capital.
func (e *Engine) GetPortfolioStatus(ctx context.Context) (status models.PortfolioStatus) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("Portfolio status failed, returning last known values")
			status = e.fallbackStatus()
		}
	}()

	st, err := e.buildStatus(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Portfolio status degraded, returning last known values")
		return e.fallbackStatus()
	}

	e.statusMu.Lock()
	saved := st
	saved.Positions = append([]models.Position(nil), st.Positions...)
	e.lastStatus = &saved
	e.statusMu.Unlock()
	return st
}

func (e *Engine) buildStatus(ctx context.Context) (models.PortfolioStatus, error) {
	now := e.now()
	daily, err := e.store.DailyPnL(ctx, now)
	if err != nil {
		return models.PortfolioStatus{}, fmt.Errorf("daily P&L: %w", err)
	}

	total := e.ledger.TotalValue()
	totalPnL := total.Sub(e.rules.InitialCapital)
	st := models.PortfolioStatus{
		TotalValue:     total,
		Cash:           e.ledger.Cash(),
		Invested:       e.ledger.PositionValue(),
		TotalPnL:       totalPnL,
		DailyPnL:       daily,
		PositionsCount: e.ledger.Len(),
		ReturnPct:      percentOf(totalPnL, e.rules.InitialCapital, 2),
		TargetProgress: percentOf(daily, e.rules.DailyProfitTarget, 1),
		Positions:      e.ledger.Positions(),
		AsOf:           now,
	}
	st.Paused = e.IsPaused(ctx)
	return st, nil
}

func (e *Engine) fallbackStatus() models.PortfolioStatus {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	if e.lastStatus != nil {
		st := *e.lastStatus
		st.Positions = append([]models.Position(nil), e.lastStatus.Positions...)
		st.Stale = true
		return st
	}
	return models.PortfolioStatus{
		TotalValue: e.rules.InitialCapital,
		Cash:       e.rules.InitialCapital,
		Invested:   decimal.Zero,
		TotalPnL:   decimal.Zero,
		DailyPnL:   decimal.Zero,
		ReturnPct:  decimal.Zero,
		AsOf:       e.now(),
		Stale:      true,
	}
}

// GetTradeHistory returns trades from the last days days, newest first.
// Errors are logged and yield an empty slice.
func (e *Engine) GetTradeHistory(ctx context.Context, days int) []models.TradeRecord {
	if days < 1 {
		days = 1
	}
	since := e.now().AddDate(0, 0, -days)
	trades, err := e.store.QueryTrades(ctx, since, time.Time{})
	if err != nil {
		e.logger.Warn().Err(err).Int("days", days).Msg("Failed to read trade history")
		return []models.TradeRecord{}
	}
	return trades
}

// percentOf returns part/whole*100 rounded to places, or zero when whole
// is not positive.
func percentOf(part, whole decimal.Decimal, places int32) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred).Round(places)
}
