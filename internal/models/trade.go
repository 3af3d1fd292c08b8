package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeRecord is an immutable entry in the trade log.
type TradeRecord struct {
	ID             int64           `json:"id"`
	Timestamp      time.Time       `json:"timestamp"`
	Symbol         string          `json:"symbol"`
	Action         Action          `json:"action"`
	Price          decimal.Decimal `json:"price"`
	Quantity       int64           `json:"quantity"`
	Amount         decimal.Decimal `json:"amount"`
	Commission     decimal.Decimal `json:"commission"`
	PnL            decimal.Decimal `json:"pnl"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	Reason         string          `json:"reason"`
	StopLoss       decimal.Decimal `json:"stop_loss"`
	TargetPrice    decimal.Decimal `json:"target_price"`
}

// Snapshot is a point-in-time view of the ledger.
type Snapshot struct {
	ID             int64           `json:"id"`
	Timestamp      time.Time       `json:"timestamp"`
	Cash           decimal.Decimal `json:"cash"`
	PositionValue  decimal.Decimal `json:"position_value"`
	TotalValue     decimal.Decimal `json:"total_value"`
	DailyPnL       decimal.Decimal `json:"daily_pnl"`
	TotalPnL       decimal.Decimal `json:"total_pnl"`
	PositionsCount int             `json:"positions_count"`
}

// SignalRecord is a journaled signal as it was received by the engine.
type SignalRecord struct {
	ID         int64           `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	Symbol     string          `json:"symbol"`
	Action     Action          `json:"action"`
	Confidence float64         `json:"confidence"`
	Price      decimal.Decimal `json:"price"`
	Reasons    []string        `json:"reasons"`
	Executed   bool            `json:"executed"`
}
