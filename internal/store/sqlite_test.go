package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	apperrors "paper-trader/internal/errors"
	"paper-trader/internal/models"
	"paper-trader/pkg/utils"
)

func buyRecord(ts time.Time, symbol string, price string, qty int64) *models.TradeRecord {
	p := decimal.RequireFromString(price)
	amount := p.Mul(decimal.NewFromInt(qty))
	return &models.TradeRecord{
		Timestamp:      ts,
		Symbol:         symbol,
		Action:         models.ActionBuy,
		Price:          p,
		Quantity:       qty,
		Amount:         amount,
		Commission:     amount.Mul(decimal.RequireFromString("0.001")).Round(2),
		PnL:            decimal.Zero,
		PortfolioValue: decimal.NewFromInt(100000),
		Reason:         "test entry",
		StopLoss:       p.Mul(decimal.RequireFromString("0.95")),
		TargetPrice:    p.Mul(decimal.RequireFromString("1.10")),
	}
}

func TestAppendTradeRoundTrip(t *testing.T) {
	store := newTestStore(t, "test_trade_roundtrip")
	ctx := context.Background()

	rec := buyRecord(time.Now(), "RELIANCE", "2450", 10)
	id, err := store.AppendTrade(ctx, rec)
	if err != nil {
		t.Fatalf("AppendTrade: %v", err)
	}
	if id == 0 || rec.ID != id {
		t.Fatalf("id not assigned: %d / %d", id, rec.ID)
	}

	got, err := store.GetTrade(ctx, id)
	if err != nil {
		t.Fatalf("GetTrade: %v", err)
	}
	if !got.Timestamp.Equal(rec.Timestamp) || got.Symbol != "RELIANCE" || got.Action != models.ActionBuy {
		t.Fatalf("mismatch: %+v vs %+v", got, rec)
	}
	if !got.Commission.Equal(decimal.RequireFromString("24.50")) || !got.StopLoss.Equal(decimal.RequireFromString("2327.5")) {
		t.Fatalf("money columns lost precision: %+v", got)
	}

	if _, err := store.GetTrade(ctx, id+100); !apperrors.Is(err, apperrors.ErrDataNotFound) {
		t.Fatalf("expected ErrDataNotFound, got %v", err)
	}
}

func TestTradesAreAppendOnly(t *testing.T) {
	store := newTestStore(t, "test_trade_immutable")
	ctx := context.Background()

	id, err := store.AppendTrade(ctx, buyRecord(time.Now(), "TCS", "3500", 2))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := store.db.ExecContext(ctx, `UPDATE paper_trades SET price = '1' WHERE id = ?`, id); err == nil {
		t.Fatal("update of a trade record must fail")
	}
	if _, err := store.db.ExecContext(ctx, `DELETE FROM paper_trades WHERE id = ?`, id); err == nil {
		t.Fatal("delete of a trade record must fail")
	}

	got, err := store.GetTrade(ctx, id)
	if err != nil || !got.Price.Equal(decimal.NewFromInt(3500)) {
		t.Fatalf("record changed: %+v err=%v", got, err)
	}
}

func TestQueryTradesOrdering(t *testing.T) {
	store := newTestStore(t, "test_trade_ordering")
	ctx := context.Background()

	now := time.Now()
	same := now.Add(-time.Hour)
	inputs := []*models.TradeRecord{
		buyRecord(now.Add(-3*time.Hour), "INFY", "1500", 5),
		buyRecord(same, "TCS", "3500", 1),
		buyRecord(same, "SBIN", "600", 10),
		buyRecord(now.AddDate(0, 0, -40), "ITC", "450", 20),
	}
	for _, r := range inputs {
		if _, err := store.AppendTrade(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	trades, err := store.QueryTrades(ctx, now.AddDate(0, 0, -30), time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 3 {
		t.Fatalf("expected 3 trades in window, got %d", len(trades))
	}
	// Equal timestamps fall back to id descending.
	if trades[0].Symbol != "SBIN" || trades[1].Symbol != "TCS" || trades[2].Symbol != "INFY" {
		t.Fatalf("unexpected order: %s %s %s", trades[0].Symbol, trades[1].Symbol, trades[2].Symbol)
	}

	all, err := store.AllTrades(ctx)
	if err != nil || len(all) != 4 || all[0].Symbol != "INFY" || all[3].Symbol != "ITC" {
		t.Fatalf("AllTrades must be in append order: %v %v", all, err)
	}
}

func TestDailyPnLMidnightBoundary(t *testing.T) {
	store := newTestStore(t, "test_daily_boundary")
	ctx := context.Background()

	day := time.Date(2024, 5, 6, 0, 0, 0, 0, utils.IndiaLocation)
	sell := func(ts time.Time, pnl string) {
		rec := buyRecord(ts, "TCS", "3500", 1)
		rec.Action = models.ActionSell
		rec.PnL = decimal.RequireFromString(pnl)
		rec.StopLoss, rec.TargetPrice = decimal.Zero, decimal.Zero
		if _, err := store.AppendTrade(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	// One trade just before the day, two inside it, one at the next midnight.
	sell(day.Add(-time.Microsecond), "1000")
	sell(day, "100.10")
	sell(day.Add(23*time.Hour+59*time.Minute), "-50.05")
	sell(day.AddDate(0, 0, 1), "7")

	got, err := store.DailyPnL(ctx, day.Add(12*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(decimal.RequireFromString("50.05")) {
		t.Fatalf("DailyPnL = %s, want 50.05", got)
	}

	// UTC input resolving to the same IST day.
	got, err = store.DailyPnL(ctx, day.Add(10*time.Hour).UTC())
	if err != nil || !got.Equal(decimal.RequireFromString("50.05")) {
		t.Fatalf("DailyPnL(UTC) = %s err=%v", got, err)
	}
}

func TestSnapshots(t *testing.T) {
	store := newTestStore(t, "test_snapshots")
	ctx := context.Background()

	if snap, err := store.LatestSnapshot(ctx); err != nil || snap != nil {
		t.Fatalf("empty store should return nil snapshot: %v %v", snap, err)
	}

	today := utils.TradingDay(time.Now())
	yesterday := &models.Snapshot{Timestamp: today.Add(-time.Hour), TotalValue: decimal.NewFromInt(101000)}
	now := &models.Snapshot{Timestamp: today.Add(time.Hour), TotalValue: decimal.NewFromInt(102500), PositionsCount: 2}
	for _, s := range []*models.Snapshot{yesterday, now} {
		if err := store.AppendSnapshot(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	latest, err := store.LatestSnapshot(ctx)
	if err != nil || latest == nil || !latest.TotalValue.Equal(decimal.NewFromInt(102500)) || latest.PositionsCount != 2 {
		t.Fatalf("latest = %+v err=%v", latest, err)
	}
	before, err := store.LastSnapshotBefore(ctx, today)
	if err != nil || before == nil || !before.TotalValue.Equal(decimal.NewFromInt(101000)) {
		t.Fatalf("before = %+v err=%v", before, err)
	}
}

func TestSignalJournal(t *testing.T) {
	store := newTestStore(t, "test_signals")
	ctx := context.Background()

	id, err := store.RecordSignal(ctx, models.Signal{
		Symbol:     "HDFCBANK",
		Action:     models.ActionBuy,
		Price:      decimal.NewFromInt(1600),
		Confidence: 72,
		Reasons:    []string{"EMA bullish cross", "RSI 55"},
		Timestamp:  time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.MarkSignalExecuted(ctx, id); err != nil {
		t.Fatal(err)
	}

	recs, err := store.QuerySignals(ctx, time.Now().Add(-time.Hour))
	if err != nil || len(recs) != 1 {
		t.Fatalf("signals = %v err=%v", recs, err)
	}
	r := recs[0]
	if !r.Executed || r.Symbol != "HDFCBANK" || len(r.Reasons) != 2 || r.Confidence != 72 {
		t.Fatalf("unexpected record %+v", r)
	}
}

func TestEngineState(t *testing.T) {
	store := newTestStore(t, "test_state")
	ctx := context.Background()

	if _, ok, err := store.GetState(ctx, "paused"); err != nil || ok {
		t.Fatalf("missing key should report !ok: %v %v", ok, err)
	}
	if err := store.SetState(ctx, "paused", "true"); err != nil {
		t.Fatal(err)
	}
	if err := store.SetState(ctx, "paused", "false"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := store.GetState(ctx, "paused")
	if err != nil || !ok || v != "false" {
		t.Fatalf("state = %q %v %v", v, ok, err)
	}
}
