package trading

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"paper-trader/internal/models"
)

// Ledger is the authoritative in-memory paper account: cash plus at most
// one open position per symbol.
type Ledger struct {
	mu             sync.RWMutex
	initialCapital decimal.Decimal
	cash           decimal.Decimal
	positions      map[string]*models.Position
	now            func() time.Time
}

// NewLedger creates a ledger holding initialCapital in cash.
func NewLedger(initialCapital decimal.Decimal) *Ledger {
	return &Ledger{
		initialCapital: initialCapital,
		cash:           initialCapital,
		positions:      make(map[string]*models.Position),
		now:            time.Now,
	}
}

// RestoreLedger rebuilds a ledger by replaying trades in log order.
// BUY records open positions and SELL records close them; a record that
// does not apply cleanly is skipped.
func RestoreLedger(initialCapital decimal.Decimal, trades []models.TradeRecord) *Ledger {
	l := NewLedger(initialCapital)
	ordered := make([]models.TradeRecord, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	for _, t := range ordered {
		switch t.Action {
		case models.ActionBuy:
			l.openAt(t.Symbol, t.Price, t.Quantity, t.StopLoss, t.TargetPrice, t.Commission, t.Timestamp)
		case models.ActionSell:
			l.ClosePosition(t.Symbol, t.Price, t.Commission)
		}
	}
	return l
}

// InitialCapital returns the starting cash.
func (l *Ledger) InitialCapital() decimal.Decimal {
	return l.initialCapital
}

// OpenPosition debits quantity*price + commission and records a new
// position. It returns false when the symbol is already held, the inputs
// are not positive, or cash cannot cover the cost.
func (l *Ledger) OpenPosition(symbol string, price decimal.Decimal, quantity int64, stopLoss, target, commission decimal.Decimal) bool {
	return l.openAt(symbol, price, quantity, stopLoss, target, commission, l.now())
}

func (l *Ledger) openAt(symbol string, price decimal.Decimal, quantity int64, stopLoss, target, commission decimal.Decimal, at time.Time) bool {
	if !price.IsPositive() || quantity <= 0 || commission.IsNegative() {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.positions[symbol]; held {
		return false
	}
	cost := price.Mul(decimal.NewFromInt(quantity)).Add(commission)
	if cost.GreaterThan(l.cash) {
		return false
	}

	l.cash = l.cash.Sub(cost)
	l.positions[symbol] = &models.Position{
		Symbol:          symbol,
		Quantity:        quantity,
		EntryPrice:      price,
		CurrentPrice:    price,
		StopLoss:        stopLoss,
		TargetPrice:     target,
		EntryDate:       at,
		EntryCommission: commission,
	}
	return true
}

// ClosePosition sells the whole position at exitPrice and credits the
// proceeds net of commission. It returns false when nothing is held.
func (l *Ledger) ClosePosition(symbol string, exitPrice, commission decimal.Decimal) bool {
	_, ok := l.closePosition(symbol, exitPrice, commission)
	return ok
}

func (l *Ledger) closePosition(symbol string, exitPrice, commission decimal.Decimal) (models.Position, bool) {
	if !exitPrice.IsPositive() || commission.IsNegative() {
		return models.Position{}, false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pos, held := l.positions[symbol]
	if !held {
		return models.Position{}, false
	}
	proceeds := exitPrice.Mul(decimal.NewFromInt(pos.Quantity)).Sub(commission)
	l.cash = l.cash.Add(proceeds)
	delete(l.positions, symbol)
	return *pos, true
}

// revertOpen undoes an OpenPosition whose trade record could not be saved.
func (l *Ledger) revertOpen(symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos, held := l.positions[symbol]; held {
		l.cash = l.cash.Add(pos.CostBasis())
		delete(l.positions, symbol)
	}
}

// revertClose undoes a close whose trade record could not be saved.
func (l *Ledger) revertClose(pos models.Position, proceeds decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.positions[pos.Symbol]; held {
		return
	}
	l.cash = l.cash.Sub(proceeds)
	l.positions[pos.Symbol] = &pos
}

// MarkPrice updates the current price of a held symbol.
func (l *Ledger) MarkPrice(symbol string, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos, held := l.positions[symbol]; held {
		pos.CurrentPrice = price
	}
}

// Cash returns available cash.
func (l *Ledger) Cash() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash
}

// PositionValue returns the sum of quantity*current_price over open positions.
func (l *Ledger) PositionValue() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.positionValue()
}

func (l *Ledger) positionValue() decimal.Decimal {
	total := decimal.Zero
	for _, p := range l.positions {
		total = total.Add(p.MarketValue())
	}
	return total
}

// TotalValue returns cash plus position value.
func (l *Ledger) TotalValue() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash.Add(l.positionValue())
}

// Position returns a copy of the position in symbol.
func (l *Ledger) Position(symbol string) (models.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, held := l.positions[symbol]
	if !held {
		return models.Position{}, false
	}
	return *pos, true
}

// Holds reports whether symbol has an open position.
func (l *Ledger) Holds(symbol string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, held := l.positions[symbol]
	return held
}

// Positions returns copies of all open positions sorted by symbol.
func (l *Ledger) Positions() []models.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Symbols returns the held symbols sorted.
func (l *Ledger) Symbols() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.positions))
	for s := range l.positions {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of open positions.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}
