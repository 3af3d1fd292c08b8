// Package trading runs the paper account: the ledger, position sizing,
// automatic exits and the trading cycle.
package trading

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"paper-trader/internal/broker"
	"paper-trader/internal/config"
	apperrors "paper-trader/internal/errors"
	"paper-trader/internal/logging"
	"paper-trader/internal/models"
	"paper-trader/internal/notify"
	"paper-trader/internal/security"
	"paper-trader/internal/signals"
	"paper-trader/internal/store"
	"paper-trader/pkg/utils"
)

// Deps are the collaborators the engine is built from. Store, Prices and
// Signals are required.
type Deps struct {
	Store    store.TradeStore
	Prices   broker.PriceSource
	Signals  signals.SignalSource
	Notifier notify.Notifier
	Gate     *security.TradingGate
	Audit    security.Auditor
	Logger   zerolog.Logger

	// QuoteTimeout bounds each price lookup; Concurrency bounds the fan-out.
	QuoteTimeout time.Duration
	Concurrency  int

	// Now overrides the wall clock used for trade timestamps; replays
	// set it to the simulated session close.
	Now func() time.Time
}

// Engine is the paper trading execution engine.
type Engine struct {
	rules             Rules
	watchlist         []string
	requireMarketOpen bool
	quoteTimeout      time.Duration
	concurrency       int

	ledger   *Ledger
	store    store.TradeStore
	prices   broker.PriceSource
	signals  signals.SignalSource
	notifier notify.Notifier
	gate     *security.TradingGate
	audit    security.Auditor
	logger   zerolog.Logger

	// cycle is a one-slot semaphore held for the whole of a cycle or a
	// manual execution.
	cycle chan struct{}

	statusMu   sync.Mutex
	lastStatus *models.PortfolioStatus

	now        func() time.Time
	marketOpen func(time.Time) bool
}

// NewEngine builds an engine and restores its ledger from the trade log.
func NewEngine(ctx context.Context, cfg config.EngineConfig, deps Deps) (*Engine, error) {
	if deps.Store == nil || deps.Prices == nil || deps.Signals == nil {
		return nil, fmt.Errorf("trading engine requires a store, a price source and a signal source")
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NoOpNotifier{}
	}
	if deps.Audit == nil {
		deps.Audit = security.NopAuditor{}
	}
	if deps.Gate == nil {
		deps.Gate = security.NewTradingGate(deps.Store, deps.Audit)
	}
	if deps.QuoteTimeout <= 0 {
		deps.QuoteTimeout = 5 * time.Second
	}
	if deps.Concurrency < 1 {
		deps.Concurrency = 4
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	rules := RulesFromConfig(cfg)
	trades, err := deps.Store.AllTrades(ctx)
	if err != nil {
		return nil, apperrors.NewPersistenceError("restore ledger", "", err)
	}
	ledger := RestoreLedger(rules.InitialCapital, trades)

	e := &Engine{
		rules:             rules,
		watchlist:         append([]string(nil), cfg.Watchlist...),
		requireMarketOpen: cfg.RequireMarketOpen,
		quoteTimeout:      deps.QuoteTimeout,
		concurrency:       deps.Concurrency,
		ledger:            ledger,
		store:             deps.Store,
		prices:            deps.Prices,
		signals:           deps.Signals,
		notifier:          deps.Notifier,
		gate:              deps.Gate,
		audit:             deps.Audit,
		logger:            logging.WithComponent(deps.Logger, "engine"),
		cycle:             make(chan struct{}, 1),
		now:               deps.Now,
		marketOpen:        func(t time.Time) bool { return utils.MarketStatusAt(t) == models.MarketOpen },
	}

	e.logger.Info().
		Int("trades_replayed", len(trades)).
		Str("cash", ledger.Cash().StringFixed(2)).
		Int("positions", ledger.Len()).
		Msg("Ledger restored from trade log")
	return e, nil
}

// Ledger exposes the in-memory account for read access.
func (e *Engine) Ledger() *Ledger { return e.ledger }

// Rules returns the engine's risk parameters.
func (e *Engine) Rules() Rules { return e.rules }

// lock waits for the cycle slot.
func (e *Engine) lock(ctx context.Context) error {
	select {
	case e.cycle <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tryLock takes the cycle slot without waiting.
func (e *Engine) tryLock() bool {
	select {
	case e.cycle <- struct{}{}:
		return true
	default:
		return false
	}
}

func (e *Engine) unlock() { <-e.cycle }

// Pause persists the emergency stop.
func (e *Engine) Pause(ctx context.Context, reason string) error {
	if err := e.gate.Pause(ctx, reason); err != nil {
		return apperrors.NewPersistenceError("pause", "", err)
	}
	e.logger.Warn().Str("reason", reason).Msg("Trading paused")
	e.notify(ctx, notify.EngineState(true, reason))
	return nil
}

// Resume clears the emergency stop.
func (e *Engine) Resume(ctx context.Context) error {
	if err := e.gate.Resume(ctx); err != nil {
		return apperrors.NewPersistenceError("resume", "", err)
	}
	e.logger.Info().Msg("Trading resumed")
	e.notify(ctx, notify.EngineState(false, ""))
	return nil
}

// IsPaused reports the persisted pause flag. An unreadable flag counts
// as paused.
func (e *Engine) IsPaused(ctx context.Context) bool {
	paused, err := e.gate.IsPaused(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("Pause state unreadable, treating engine as paused")
	}
	return paused
}

// PauseReason returns the reason recorded with the current pause.
func (e *Engine) PauseReason(ctx context.Context) string {
	return e.gate.Reason(ctx)
}

// notify hands n to the notifier. Failures are logged and never affect
// the caller.
func (e *Engine) notify(ctx context.Context, n notify.Notification) {
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.logger.Warn().Err(err).Str("notification", string(n.Type)).Msg("Notification failed")
	}
}

func (e *Engine) commission(price decimal.Decimal, qty int64) decimal.Decimal {
	return Commission(price, qty, e.rules.CommissionPct)
}
