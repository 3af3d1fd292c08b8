package trading

import (
	"sort"

	"github.com/shopspring/decimal"

	"paper-trader/internal/models"
)

// TradeStats summarises a set of trade records.
type TradeStats struct {
	Trades          int             `json:"trades"`
	Buys            int             `json:"buys"`
	Sells           int             `json:"sells"`
	WinningTrades   int             `json:"winning_trades"`
	LosingTrades    int             `json:"losing_trades"`
	WinRate         decimal.Decimal `json:"win_rate"`
	RealizedPnL     decimal.Decimal `json:"realized_pnl"`
	TotalCommission decimal.Decimal `json:"total_commission"`
	AvgWin          decimal.Decimal `json:"avg_win"`
	AvgLoss         decimal.Decimal `json:"avg_loss"`
	ProfitFactor    decimal.Decimal `json:"profit_factor"`
	MaxDrawdown     decimal.Decimal `json:"max_drawdown_pct"`
}

// SummarizeTrades computes win/loss figures over the closing trades in
// trades. Drawdown is measured on the portfolio value recorded with each
// trade, in time order.
func SummarizeTrades(trades []models.TradeRecord) TradeStats {
	st := TradeStats{
		WinRate:         decimal.Zero,
		RealizedPnL:     decimal.Zero,
		TotalCommission: decimal.Zero,
		AvgWin:          decimal.Zero,
		AvgLoss:         decimal.Zero,
		ProfitFactor:    decimal.Zero,
		MaxDrawdown:     decimal.Zero,
	}
	grossWin, grossLoss := decimal.Zero, decimal.Zero

	for _, t := range trades {
		st.Trades++
		st.TotalCommission = st.TotalCommission.Add(t.Commission)
		if t.Action == models.ActionBuy {
			st.Buys++
			continue
		}
		st.Sells++
		st.RealizedPnL = st.RealizedPnL.Add(t.PnL)
		if t.PnL.IsPositive() {
			st.WinningTrades++
			grossWin = grossWin.Add(t.PnL)
		} else {
			st.LosingTrades++
			grossLoss = grossLoss.Add(t.PnL.Abs())
		}
	}

	if st.Sells > 0 {
		st.WinRate = decimal.NewFromInt(int64(st.WinningTrades)).Div(decimal.NewFromInt(int64(st.Sells))).Mul(hundred).Round(2)
	}
	if st.WinningTrades > 0 {
		st.AvgWin = grossWin.Div(decimal.NewFromInt(int64(st.WinningTrades))).Round(2)
	}
	if st.LosingTrades > 0 {
		st.AvgLoss = grossLoss.Neg().Div(decimal.NewFromInt(int64(st.LosingTrades))).Round(2)
	}
	if grossLoss.IsPositive() {
		st.ProfitFactor = grossWin.Div(grossLoss).Round(2)
	}
	st.MaxDrawdown = maxDrawdown(trades)
	return st
}

func maxDrawdown(trades []models.TradeRecord) decimal.Decimal {
	ordered := make([]models.TradeRecord, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	peak, worst := decimal.Zero, decimal.Zero
	for _, t := range ordered {
		v := t.PortfolioValue
		if v.GreaterThan(peak) {
			peak = v
			continue
		}
		if peak.IsPositive() {
			if dd := peak.Sub(v).Div(peak).Mul(hundred); dd.GreaterThan(worst) {
				worst = dd
			}
		}
	}
	return worst.Round(2)
}
