// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"paper-trader/internal/models"
	"paper-trader/pkg/utils"
)

// TradeStore defines the durable record of the paper account.
// Trades are append-only: there is no update or delete.
type TradeStore interface {
	// Trades
	AppendTrade(ctx context.Context, rec *models.TradeRecord) (int64, error)
	QueryTrades(ctx context.Context, since, until time.Time) ([]models.TradeRecord, error)
	AllTrades(ctx context.Context) ([]models.TradeRecord, error)
	GetTrade(ctx context.Context, id int64) (*models.TradeRecord, error)
	DailyPnL(ctx context.Context, date time.Time) (decimal.Decimal, error)

	// Snapshots
	AppendSnapshot(ctx context.Context, snap *models.Snapshot) error
	LatestSnapshot(ctx context.Context) (*models.Snapshot, error)
	LastSnapshotBefore(ctx context.Context, t time.Time) (*models.Snapshot, error)

	// Signal journal
	RecordSignal(ctx context.Context, sig models.Signal) (int64, error)
	MarkSignalExecuted(ctx context.Context, id int64) error
	QuerySignals(ctx context.Context, since time.Time) ([]models.SignalRecord, error)

	// Engine state
	StateStore

	// Lifecycle
	Close() error
}

// StateStore is a small key/value area for engine flags.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool, error)
	SetState(ctx context.Context, key, value string) error
}

// CandleCache stores daily bars fetched from the price feed.
type CandleCache interface {
	SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error
	GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error)
	CandlesFreshness(ctx context.Context, symbol, timeframe string) (time.Time, error)
}

// timestampLayout is IST wall-clock time. Lexical order matches time order
// and SQLite's DATE() yields the IST calendar day.
const timestampLayout = "2006-01-02 15:04:05.000000"

const dateLayout = "2006-01-02"

func formatTimestamp(t time.Time) string {
	return t.In(utils.IndiaLocation).Format(timestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	return time.ParseInLocation(timestampLayout, s, utils.IndiaLocation)
}

func formatDate(t time.Time) string {
	return t.In(utils.IndiaLocation).Format(dateLayout)
}
