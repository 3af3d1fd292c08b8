// Package models provides domain models for the paper trading engine.
package models

import (
	"time"
)

// Exchange represents a stock exchange.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
)

// Action is the side of a trade or signal.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Valid reports whether the action is BUY or SELL.
func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell
}

// MarketStatus represents the current market status.
type MarketStatus string

const (
	MarketOpen    MarketStatus = "OPEN"
	MarketPreOpen MarketStatus = "PRE_OPEN"
	MarketClosed  MarketStatus = "CLOSED"
)

// Candle represents OHLCV data for a time period.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// RegimeLabel classifies the broad market direction.
type RegimeLabel string

const (
	RegimeBull     RegimeLabel = "bull"
	RegimeBear     RegimeLabel = "bear"
	RegimeSideways RegimeLabel = "sideways"
)

// Regime is the output of the market regime classifier.
type Regime struct {
	Label      RegimeLabel `json:"regime"`
	Confidence float64     `json:"confidence"`
	Breadth    float64     `json:"breadth"` // fraction of symbols above EMA21
	Sampled    int         `json:"sampled"`
}
