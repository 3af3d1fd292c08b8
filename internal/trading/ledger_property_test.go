package trading

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"paper-trader/internal/models"
)

var testSymbols = []string{"RELIANCE", "TCS", "INFY"}

// ledgerOp decodes one generated integer into a trade instruction.
type ledgerOp struct {
	symbol string
	buy    bool
	price  decimal.Decimal
	qty    int64
}

func decodeOp(v int) ledgerOp {
	return ledgerOp{
		symbol: testSymbols[v%3],
		buy:    (v/3)%2 == 0,
		price:  decimal.NewFromInt(int64(1 + (v/6)%5000)),
		qty:    int64(1 + (v/30000)%50),
	}
}

var opsGen = gen.SliceOf(gen.IntRange(0, 1_499_999))

// Value only leaves the account through commission.
func TestProperty_LedgerConservesValue(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	pct := decimal.NewFromFloat(0.1)

	properties.Property("total value drops by exactly the commission paid", prop.ForAll(
		func(raw []int) bool {
			l := NewLedger(decimal.NewFromInt(100000))
			for _, v := range raw {
				op := decodeOp(v)
				if op.buy {
					commission := Commission(op.price, op.qty, pct)
					before := l.TotalValue()
					if l.OpenPosition(op.symbol, op.price, op.qty, decimal.Zero, decimal.Zero, commission) {
						if !l.TotalValue().Equal(before.Sub(commission)) {
							return false
						}
					} else if !l.TotalValue().Equal(before) {
						return false
					}
					continue
				}

				l.MarkPrice(op.symbol, op.price)
				before := l.TotalValue()
				pos, held := l.Position(op.symbol)
				commission := Commission(op.price, pos.Quantity, pct)
				closed := l.ClosePosition(op.symbol, op.price, commission)
				if closed != held {
					return false
				}
				want := before
				if closed {
					want = before.Sub(commission)
				}
				if !l.TotalValue().Equal(want) {
					return false
				}
			}
			return !l.Cash().IsNegative()
		},
		opsGen,
	))

	properties.TestingRun(t)
}

// A symbol is never held twice and a second BUY is always refused.
func TestProperty_AtMostOnePositionPerSymbol(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("positions are unique per symbol", prop.ForAll(
		func(raw []int) bool {
			l := NewLedger(decimal.NewFromInt(1_000_000))
			for _, v := range raw {
				op := decodeOp(v)
				if op.buy {
					wasHeld := l.Holds(op.symbol)
					opened := l.OpenPosition(op.symbol, op.price, op.qty, decimal.Zero, decimal.Zero, decimal.Zero)
					if wasHeld && opened {
						return false
					}
				} else {
					l.ClosePosition(op.symbol, op.price, decimal.Zero)
				}

				seen := make(map[string]bool)
				for _, p := range l.Positions() {
					if seen[p.Symbol] {
						return false
					}
					seen[p.Symbol] = true
				}
				if len(seen) != l.Len() {
					return false
				}
			}
			return true
		},
		opsGen,
	))

	properties.TestingRun(t)
}

// Replaying the trade log reproduces the ledger.
func TestProperty_ReplayMatchesLedger(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	pct := decimal.NewFromFloat(0.1)
	initial := decimal.NewFromInt(250000)

	properties.Property("RestoreLedger(trades) equals the live ledger", prop.ForAll(
		func(raw []int) bool {
			live := NewLedger(initial)
			log := buildLog(live, raw, pct)

			restored := RestoreLedger(initial, log)
			if !restored.Cash().Equal(live.Cash()) || restored.Len() != live.Len() {
				return false
			}
			for _, p := range live.Positions() {
				r, ok := restored.Position(p.Symbol)
				if !ok || r.Quantity != p.Quantity || !r.EntryPrice.Equal(p.EntryPrice) || !r.EntryCommission.Equal(p.EntryCommission) {
					return false
				}
			}
			return true
		},
		opsGen,
	))

	properties.TestingRun(t)
}

func TestLedgerPreconditions(t *testing.T) {
	l := NewLedger(decimal.NewFromInt(1000))

	if l.OpenPosition("TCS", decimal.Zero, 1, decimal.Zero, decimal.Zero, decimal.Zero) {
		t.Error("zero price accepted")
	}
	if l.OpenPosition("TCS", decimal.NewFromInt(10), 0, decimal.Zero, decimal.Zero, decimal.Zero) {
		t.Error("zero quantity accepted")
	}
	if l.OpenPosition("TCS", decimal.NewFromInt(500), 2, decimal.Zero, decimal.Zero, decimal.NewFromInt(1)) {
		t.Error("cost above cash accepted")
	}
	if !l.OpenPosition("TCS", decimal.NewFromInt(499), 2, decimal.Zero, decimal.Zero, decimal.NewFromInt(2)) {
		t.Fatal("exactly affordable position refused")
	}
	if !l.Cash().IsZero() {
		t.Errorf("cash = %s, want 0", l.Cash())
	}
	if l.ClosePosition("INFY", decimal.NewFromInt(10), decimal.Zero) {
		t.Error("closed a symbol that is not held")
	}

	l.MarkPrice("TCS", decimal.NewFromInt(-5))
	if p, _ := l.Position("TCS"); !p.CurrentPrice.Equal(decimal.NewFromInt(499)) {
		t.Errorf("negative mark applied: %s", p.CurrentPrice)
	}
	l.MarkPrice("INFY", decimal.NewFromInt(5))
	if l.Len() != 1 {
		t.Error("marking an unheld symbol opened a position")
	}
}

func TestLedgerReturnsCopies(t *testing.T) {
	l := NewLedger(decimal.NewFromInt(10000))
	l.OpenPosition("INFY", decimal.NewFromInt(100), 5, decimal.Zero, decimal.Zero, decimal.Zero)

	ps := l.Positions()
	ps[0].Quantity = 999
	p, _ := l.Position("INFY")
	p.Quantity = 1

	if got, _ := l.Position("INFY"); got.Quantity != 5 {
		t.Errorf("ledger mutated through a copy: qty %d", got.Quantity)
	}
}

// buildLog applies raw ops to l and returns the trade records they produce.
func buildLog(l *Ledger, raw []int, pct decimal.Decimal) []models.TradeRecord {
	var log []models.TradeRecord
	for _, v := range raw {
		op := decodeOp(v)
		if op.buy {
			commission := Commission(op.price, op.qty, pct)
			if l.OpenPosition(op.symbol, op.price, op.qty, decimal.Zero, decimal.Zero, commission) {
				log = append(log, models.TradeRecord{
					ID: int64(len(log) + 1), Symbol: op.symbol, Action: models.ActionBuy,
					Price: op.price, Quantity: op.qty, Commission: commission,
				})
			}
			continue
		}
		pos, held := l.Position(op.symbol)
		if !held {
			continue
		}
		commission := Commission(op.price, pos.Quantity, pct)
		if l.ClosePosition(op.symbol, op.price, commission) {
			log = append(log, models.TradeRecord{
				ID: int64(len(log) + 1), Symbol: op.symbol, Action: models.ActionSell,
				Price: op.price, Quantity: pos.Quantity, Commission: commission,
			})
		}
	}
	return log
}
