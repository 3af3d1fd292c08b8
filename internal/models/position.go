package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is an open stake in one symbol.
type Position struct {
	Symbol          string          `json:"symbol"`
	Quantity        int64           `json:"quantity"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	CurrentPrice    decimal.Decimal `json:"current_price"`
	StopLoss        decimal.Decimal `json:"stop_loss"`
	TargetPrice     decimal.Decimal `json:"target_price"`
	EntryDate       time.Time       `json:"entry_date"`
	EntryCommission decimal.Decimal `json:"entry_commission"`
}

// MarketValue returns quantity * current price.
func (p Position) MarketValue() decimal.Decimal {
	return p.CurrentPrice.Mul(decimal.NewFromInt(p.Quantity))
}

// CostBasis returns the cash paid to open the position, commission included.
func (p Position) CostBasis() decimal.Decimal {
	return p.EntryPrice.Mul(decimal.NewFromInt(p.Quantity)).Add(p.EntryCommission)
}

// UnrealizedPnL is the mark-to-market gain before exit commission.
func (p Position) UnrealizedPnL() decimal.Decimal {
	return p.MarketValue().Sub(p.CostBasis())
}

// HoldingPeriod returns how long the position has been open at now.
func (p Position) HoldingPeriod(now time.Time) time.Duration {
	return now.Sub(p.EntryDate)
}

// PortfolioStatus is a read-only copy of the account state.
type PortfolioStatus struct {
	TotalValue     decimal.Decimal `json:"total_value"`
	Cash           decimal.Decimal `json:"cash"`
	Invested       decimal.Decimal `json:"invested"`
	TotalPnL       decimal.Decimal `json:"total_pnl"`
	DailyPnL       decimal.Decimal `json:"daily_pnl"`
	PositionsCount int             `json:"positions_count"`
	ReturnPct      decimal.Decimal `json:"return_pct"`
	TargetProgress decimal.Decimal `json:"target_progress"`
	Paused         bool            `json:"paused"`
	Positions      []Position      `json:"positions"`
	AsOf           time.Time       `json:"as_of"`
	Stale          bool            `json:"stale"`
}

// CycleStatus is the outcome label of one trading cycle.
type CycleStatus string

const (
	CycleCompleted    CycleStatus = "completed"
	CyclePaused       CycleStatus = "paused"
	CycleRejected     CycleStatus = "rejected"
	CycleMarketClosed CycleStatus = "market_closed"
	CycleFailed       CycleStatus = "failed"
)

// CycleResult summarises one run of the trading cycle.
type CycleResult struct {
	CycleID          string          `json:"cycle_id"`
	Status           CycleStatus     `json:"status"`
	SignalsGenerated int             `json:"signals_generated"`
	TradesExecuted   int             `json:"trades_executed"`
	ExitsExecuted    int             `json:"exits_executed"`
	PortfolioValue   decimal.Decimal `json:"portfolio_value"`
	Cash             decimal.Decimal `json:"cash"`
	Positions        int             `json:"positions"`
	StartedAt        time.Time       `json:"started_at"`
	Duration         time.Duration   `json:"duration"`
}
