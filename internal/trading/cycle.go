package trading

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"paper-trader/internal/broker"
	apperrors "paper-trader/internal/errors"
	"paper-trader/internal/logging"
	"paper-trader/internal/models"
	"paper-trader/internal/notify"
	"paper-trader/internal/security"
	"paper-trader/pkg/utils"
)

// Sample trade used to check an installation end to end.
const (
	SampleSymbol     = "RELIANCE"
	SampleConfidence = 75
)

var (
	samplePrice    = decimal.NewFromInt(2450)
	sampleStopLoss = decimal.NewFromInt(2350)
	sampleTarget   = decimal.NewFromInt(2600)
)

// RunCycle runs one trading cycle, waiting for a running cycle to finish
// first.
func (e *Engine) RunCycle(ctx context.Context) (models.CycleResult, error) {
	return e.runLocked(ctx, false)
}

// ForceRunCycle runs one cycle regardless of market hours.
func (e *Engine) ForceRunCycle(ctx context.Context) (models.CycleResult, error) {
	return e.runLocked(ctx, true)
}

func (e *Engine) runLocked(ctx context.Context, force bool) (models.CycleResult, error) {
	if err := e.lock(ctx); err != nil {
		return models.CycleResult{Status: models.CycleRejected}, err
	}
	defer e.unlock()
	return e.runCycle(ctx, force)
}

// TryRunCycle runs one cycle unless another is already running, in which
// case it returns ErrCycleInProgress.
func (e *Engine) TryRunCycle(ctx context.Context) (models.CycleResult, error) {
	if !e.tryLock() {
		res := models.CycleResult{Status: models.CycleRejected, StartedAt: e.now()}
		e.logger.Warn().Msg("Trading cycle already running, tick skipped")
		_ = e.audit.Log(ctx, security.AuditEvent{
			EventType: security.AuditCycleRejected,
			ErrorMsg:  apperrors.ErrCycleInProgress.Error(),
		})
		return res, apperrors.ErrCycleInProgress
	}
	defer e.unlock()
	return e.runCycle(ctx, false)
}

func (e *Engine) runCycle(ctx context.Context, force bool) (models.CycleResult, error) {
	res := models.CycleResult{CycleID: uuid.NewString(), StartedAt: e.now()}
	log := logging.WithCycle(e.logger, res.CycleID)
	ctx = logging.WithLogger(ctx, log)

	if e.IsPaused(ctx) {
		log.Warn().Str("reason", e.gate.Reason(ctx)).Msg("Trading paused, cycle skipped")
		res.Status = models.CyclePaused
		return e.finish(ctx, log, res), nil
	}
	if !force && e.requireMarketOpen && !e.marketOpen(res.StartedAt) {
		log.Info().Str("market", string(utils.MarketStatusAt(res.StartedAt))).Msg("Market closed, cycle skipped")
		res.Status = models.CycleMarketClosed
		return e.finish(ctx, log, res), nil
	}

	sigs, err := e.signals.Generate(ctx, e.watchlist)
	if err != nil {
		log.Error().Err(err).Str("source", e.signals.Name()).Msg("Signal generation failed, checking exits only")
		sigs = nil
	}
	res.SignalsGenerated = len(sigs)
	journal := e.journalSignals(ctx, log, sigs)

	closed, exits, err := e.checkExits(ctx, log, res.CycleID)
	res.ExitsExecuted = exits
	if err != nil {
		return e.fail(ctx, log, res, err)
	}

	for i, sig := range sigs {
		if sig.Action == models.ActionBuy && closed[sig.Symbol] {
			logging.LogDiscard(log, sig.Symbol, string(sig.Action), "position closed earlier in this cycle")
			continue
		}
		executed, err := e.execute(ctx, log, res.CycleID, sig)
		if err != nil {
			return e.fail(ctx, log, res, err)
		}
		if !executed {
			continue
		}
		res.TradesExecuted++
		if sig.Action == models.ActionSell {
			closed[sig.Symbol] = true
		}
		e.markExecuted(ctx, log, journal[i])
	}

	e.snapshot(ctx, log)
	res.Status = models.CycleCompleted
	return e.finish(ctx, log, res), nil
}

// finish fills the account figures into res, logs and audits it.
func (e *Engine) finish(ctx context.Context, log zerolog.Logger, res models.CycleResult) models.CycleResult {
	res.PortfolioValue = e.ledger.TotalValue()
	res.Cash = e.ledger.Cash()
	res.Positions = e.ledger.Len()
	res.Duration = e.now().Sub(res.StartedAt)

	logging.LogCycle(log, string(res.Status), res.SignalsGenerated, res.TradesExecuted, res.ExitsExecuted, res.PortfolioValue, res.Duration)

	if res.Status == models.CycleCompleted {
		_ = e.audit.Log(ctx, security.AuditEvent{
			EventType: security.AuditCycleCompleted,
			CycleID:   res.CycleID,
			Success:   true,
			Details: map[string]interface{}{
				"signals":         res.SignalsGenerated,
				"trades":          res.TradesExecuted,
				"exits":           res.ExitsExecuted,
				"portfolio_value": res.PortfolioValue.StringFixed(2),
			},
		})
		e.notify(ctx, notify.CycleSummary(res))
	}
	return res
}

func (e *Engine) fail(ctx context.Context, log zerolog.Logger, res models.CycleResult, err error) (models.CycleResult, error) {
	res.Status = models.CycleFailed
	log.Error().Err(err).Msg("Trading cycle aborted")
	return e.finish(ctx, log, res), err
}

// journalSignals records every generated signal. The returned ids are
// aligned with sigs; zero marks a signal that could not be journaled.
func (e *Engine) journalSignals(ctx context.Context, log zerolog.Logger, sigs []models.Signal) []int64 {
	ids := make([]int64, len(sigs))
	for i, sig := range sigs {
		id, err := e.store.RecordSignal(ctx, sig)
		if err != nil {
			log.Warn().Err(err).Str("symbol", sig.Symbol).Msg("Failed to journal signal")
			continue
		}
		ids[i] = id
	}
	return ids
}

func (e *Engine) markExecuted(ctx context.Context, log zerolog.Logger, id int64) {
	if id == 0 {
		return
	}
	if err := e.store.MarkSignalExecuted(ctx, id); err != nil {
		log.Warn().Err(err).Int64("signal_id", id).Msg("Failed to mark signal executed")
	}
}

// checkExits marks every open position to market and closes those that
// hit a stop, a target or the holding limit. It returns the symbols
// closed and how many.
func (e *Engine) checkExits(ctx context.Context, log zerolog.Logger, cycleID string) (map[string]bool, int, error) {
	closed := make(map[string]bool)
	symbols := e.ledger.Symbols()
	if len(symbols) == 0 {
		return closed, 0, nil
	}

	prices, failures := broker.FetchPrices(ctx, e.prices, symbols, e.quoteTimeout, e.concurrency)
	for sym, err := range failures {
		log.Warn().Err(err).Str("symbol", sym).Msg("No price data, exit check skipped")
	}

	now := e.now()
	exits := 0
	for _, sym := range symbols {
		price, ok := prices[sym]
		if !ok {
			continue
		}
		e.ledger.MarkPrice(sym, price)
		pos, held := e.ledger.Position(sym)
		if !held {
			continue
		}
		reason := EvaluateExit(pos, price, now, e.rules.MaxHoldingDays)
		if reason == ExitNone {
			continue
		}
		done, err := e.closeAt(ctx, log, cycleID, sym, price, string(reason), true)
		if err != nil {
			return closed, exits, err
		}
		if done {
			closed[sym] = true
			exits++
		}
	}
	return closed, exits, nil
}

// execute runs one signal through validation, sizing and the ledger.
// Every fill is at a fresh PriceSource quote; a symbol without one is
// skipped. Rejections are logged and reported as false; the only error
// returned is a failed trade append.
func (e *Engine) execute(ctx context.Context, log zerolog.Logger, cycleID string, sig models.Signal) (bool, error) {
	sig.Symbol = security.NormalizeSymbol(sig.Symbol)
	if err := security.ValidateSymbol(sig.Symbol); err != nil {
		return e.discard(log, sig, err.Error())
	}
	if !sig.Action.Valid() {
		return e.discard(log, sig, "unknown action")
	}
	if sig.Confidence < e.rules.MinConfidence {
		return e.discard(log, sig, apperrors.NewRiskError("min_confidence", sig.Symbol, "confidence below threshold", nil).Error())
	}

	if sig.Action == models.ActionSell {
		return e.executeSell(ctx, log, cycleID, sig)
	}
	return e.executeBuy(ctx, log, cycleID, sig)
}

func (e *Engine) executeBuy(ctx context.Context, log zerolog.Logger, cycleID string, sig models.Signal) (bool, error) {
	if e.ledger.Holds(sig.Symbol) {
		return e.discard(log, sig, apperrors.NewRiskError("no_pyramiding", sig.Symbol, "already holding", apperrors.ErrPositionExists).Error())
	}
	if e.ledger.Len() >= e.rules.MaxPositions {
		return e.discard(log, sig, apperrors.NewRiskError("max_positions", sig.Symbol, "maximum open positions reached", nil).Error())
	}

	price, err := e.quote(ctx, sig.Symbol)
	if err != nil {
		return e.discard(log, sig, err.Error())
	}
	sig = repriceSignal(sig, price).WithDefaults(e.rules.DefaultStopLossPct, e.rules.DefaultTargetPct)

	qty := PositionSize(e.rules, e.ledger.Cash(), sig.Price, sig.StopLoss, sig.Quantity)
	if qty < 1 {
		return e.discard(log, sig, apperrors.NewRiskError("position_size", sig.Symbol, "cash cannot cover one share", apperrors.ErrInsufficientFunds).Error())
	}
	if e.rules.ExceedsPositionCap(sig.Price, qty) {
		return e.discard(log, sig, apperrors.NewRiskError("max_position_value", sig.Symbol, "position value above per-trade cap", nil).Error())
	}
	commission := e.commission(sig.Price, qty)

	ts := e.now()
	if !e.ledger.openAt(sig.Symbol, sig.Price, qty, sig.StopLoss, sig.TargetPrice, commission, ts) {
		log.Warn().Str("symbol", sig.Symbol).Int64("quantity", qty).Msg("Ledger rejected position")
		return false, nil
	}

	rec := models.TradeRecord{
		Timestamp:      ts,
		Symbol:         sig.Symbol,
		Action:         models.ActionBuy,
		Price:          sig.Price,
		Quantity:       qty,
		Amount:         sig.Price.Mul(decimal.NewFromInt(qty)),
		Commission:     commission,
		PnL:            decimal.Zero,
		PortfolioValue: e.ledger.TotalValue(),
		Reason:         strings.Join(sig.Reasons, "; "),
		StopLoss:       sig.StopLoss,
		TargetPrice:    sig.TargetPrice,
	}
	if err := e.record(ctx, log, cycleID, &rec); err != nil {
		e.ledger.revertOpen(sig.Symbol)
		return false, err
	}

	logging.LogTrade(logging.WithSymbol(log, sig.Symbol), sig.Symbol, string(rec.Action), qty, rec.Price, commission)
	e.notify(ctx, notify.TradeExecuted(rec))
	return true, nil
}

func (e *Engine) executeSell(ctx context.Context, log zerolog.Logger, cycleID string, sig models.Signal) (bool, error) {
	if !e.ledger.Holds(sig.Symbol) {
		return e.discard(log, sig, apperrors.NewRiskError("open_position", sig.Symbol, "nothing to sell", apperrors.ErrNoOpenPosition).Error())
	}
	price, err := e.quote(ctx, sig.Symbol)
	if err != nil {
		return e.discard(log, sig, err.Error())
	}
	e.ledger.MarkPrice(sig.Symbol, price)
	reason := strings.Join(sig.Reasons, "; ")
	if reason == "" {
		reason = models.DefaultSignalReason
	}
	return e.closeAt(ctx, log, cycleID, sig.Symbol, price, reason, false)
}

// closeAt sells the whole position in symbol at price and records it.
func (e *Engine) closeAt(ctx context.Context, log zerolog.Logger, cycleID, symbol string, price decimal.Decimal, reason string, auto bool) (bool, error) {
	pos, held := e.ledger.Position(symbol)
	if !held {
		return false, nil
	}
	commission := e.commission(price, pos.Quantity)
	closedPos, ok := e.ledger.closePosition(symbol, price, commission)
	if !ok {
		return false, nil
	}

	amount := price.Mul(decimal.NewFromInt(closedPos.Quantity))
	rec := models.TradeRecord{
		Timestamp:      e.now(),
		Symbol:         symbol,
		Action:         models.ActionSell,
		Price:          price,
		Quantity:       closedPos.Quantity,
		Amount:         amount,
		Commission:     commission,
		PnL:            RealizedPnL(closedPos, price, commission),
		PortfolioValue: e.ledger.TotalValue(),
		Reason:         reason,
		StopLoss:       decimal.Zero,
		TargetPrice:    decimal.Zero,
	}
	if err := e.record(ctx, log, cycleID, &rec); err != nil {
		e.ledger.revertClose(closedPos, amount.Sub(commission))
		return false, err
	}

	logging.LogExit(logging.WithSymbol(log, symbol), symbol, reason, rec.Quantity, price, rec.PnL)
	if auto {
		e.notify(ctx, notify.ExitExecuted(rec))
	} else {
		e.notify(ctx, notify.TradeExecuted(rec))
	}
	return true, nil
}

// record appends rec to the trade log. A failure is audited, notified and
// returned as a PersistenceError.
func (e *Engine) record(ctx context.Context, log zerolog.Logger, cycleID string, rec *models.TradeRecord) error {
	id, err := e.store.AppendTrade(ctx, rec)
	if err != nil {
		perr := apperrors.NewPersistenceError("append trade", rec.Symbol, err)
		log.Error().Err(perr).Str("symbol", rec.Symbol).Str("action", string(rec.Action)).Msg("Trade record not saved")
		_ = e.audit.Log(ctx, security.AuditEvent{
			EventType: security.AuditPersistenceFailure,
			CycleID:   cycleID,
			Symbol:    rec.Symbol,
			Action:    string(rec.Action),
			ErrorMsg:  perr.Error(),
		})
		e.notify(ctx, notify.Failure("append trade", perr))
		return perr
	}
	rec.ID = id

	_ = e.audit.Log(ctx, security.AuditEvent{
		EventType: security.AuditTradeExecuted,
		CycleID:   cycleID,
		Symbol:    rec.Symbol,
		Action:    string(rec.Action),
		Success:   true,
		Details: map[string]interface{}{
			"trade_id":   id,
			"quantity":   rec.Quantity,
			"price":      rec.Price.StringFixed(2),
			"commission": rec.Commission.StringFixed(2),
			"pnl":        rec.PnL.StringFixed(2),
		},
	})
	return nil
}

// repriceSignal moves sig to the fill price. Stop and target keep their
// distance from the entry in percent so that levels computed against an
// older close still bracket the fill.
func repriceSignal(sig models.Signal, fill decimal.Decimal) models.Signal {
	if sig.Price.IsPositive() && !sig.Price.Equal(fill) {
		ratio := fill.Div(sig.Price)
		if sig.StopLoss.IsPositive() {
			sig.StopLoss = sig.StopLoss.Mul(ratio).Round(2)
		}
		if sig.TargetPrice.IsPositive() {
			sig.TargetPrice = sig.TargetPrice.Mul(ratio).Round(2)
		}
	}
	sig.Price = fill
	return sig
}

func (e *Engine) discard(log zerolog.Logger, sig models.Signal, reason string) (bool, error) {
	logging.LogDiscard(log, sig.Symbol, string(sig.Action), reason)
	return false, nil
}

// quote fetches one current price under the per-symbol timeout.
func (e *Engine) quote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	qctx, cancel := context.WithTimeout(ctx, e.quoteTimeout)
	defer cancel()
	price, err := e.prices.CurrentPrice(qctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, apperrors.NewDataError(e.prices.Name(), symbol, "non-positive price", nil)
	}
	return price, nil
}

// snapshot stores the account state. Daily P&L is measured against the
// last snapshot taken before today, or the initial capital.
func (e *Engine) snapshot(ctx context.Context, log zerolog.Logger) {
	now := e.now()
	dayStart, _ := utils.DayBounds(now)

	total := e.ledger.TotalValue()
	base := e.rules.InitialCapital
	prev, err := e.store.LastSnapshotBefore(ctx, dayStart)
	if err != nil {
		log.Warn().Err(err).Msg("Previous snapshot unavailable, daily P&L measured from initial capital")
	} else if prev != nil {
		base = prev.TotalValue
	}

	snap := &models.Snapshot{
		Timestamp:      now,
		Cash:           e.ledger.Cash(),
		PositionValue:  e.ledger.PositionValue(),
		TotalValue:     total,
		DailyPnL:       total.Sub(base),
		TotalPnL:       total.Sub(e.rules.InitialCapital),
		PositionsCount: e.ledger.Len(),
	}
	if err := e.store.AppendSnapshot(ctx, snap); err != nil {
		log.Warn().Err(err).Msg("Failed to save portfolio snapshot")
	}
}

// ExecuteSignal runs a single signal outside the cycle, under the same
// lock and rules. It fails only when trading is paused or the trade could
// not be saved.
func (e *Engine) ExecuteSignal(ctx context.Context, sig models.Signal) (bool, error) {
	if err := e.lock(ctx); err != nil {
		return false, err
	}
	defer e.unlock()

	if e.IsPaused(ctx) {
		return false, apperrors.ErrEnginePaused
	}

	cycleID := uuid.NewString()
	log := logging.WithCycle(e.logger, cycleID)
	if sig.Timestamp.IsZero() {
		sig.Timestamp = e.now()
	}
	if sig.Source == "" {
		sig.Source = "manual"
	}
	journal := e.journalSignals(ctx, log, []models.Signal{sig})

	executed, err := e.execute(ctx, log, cycleID, sig)
	if err != nil || !executed {
		return false, err
	}
	e.markExecuted(ctx, log, journal[0])
	e.snapshot(ctx, log)
	return true, nil
}

// ExecuteSampleTrade buys RELIANCE at the current quote. The 2350 stop and
// 2600 target are quoted against 2450 and move with the fill.
func (e *Engine) ExecuteSampleTrade(ctx context.Context) (bool, error) {
	return e.ExecuteSignal(ctx, models.Signal{
		Symbol:      SampleSymbol,
		Action:      models.ActionBuy,
		Price:       samplePrice,
		Confidence:  SampleConfidence,
		StopLoss:    sampleStopLoss,
		TargetPrice: sampleTarget,
		Reasons:     []string{"Sample trade"},
		Source:      "sample",
	})
}

// SquareOff closes the position in symbol at the current market price.
func (e *Engine) SquareOff(ctx context.Context, symbol, reason string) (bool, error) {
	if err := e.lock(ctx); err != nil {
		return false, err
	}
	defer e.unlock()

	if e.IsPaused(ctx) {
		return false, apperrors.ErrEnginePaused
	}
	symbol = security.NormalizeSymbol(symbol)
	if !e.ledger.Holds(symbol) {
		return false, apperrors.NewRiskError("open_position", symbol, "nothing to square off", apperrors.ErrNoOpenPosition)
	}
	if reason == "" {
		reason = string(ExitManual)
	}

	price, err := e.quote(ctx, symbol)
	if err != nil {
		return false, err
	}
	e.ledger.MarkPrice(symbol, price)

	cycleID := uuid.NewString()
	log := logging.WithCycle(e.logger, cycleID)
	done, err := e.closeAt(ctx, log, cycleID, symbol, price, reason, false)
	if err != nil || !done {
		return false, err
	}
	e.snapshot(ctx, log)
	return true, nil
}
