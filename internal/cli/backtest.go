package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"paper-trader/internal/backtest"
	"paper-trader/internal/security"
	"paper-trader/pkg/utils"
)

func newBacktestCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay recent history through the engine",
		Long: `Replay the last --days of daily candles through a fresh engine. Each
session is one cycle at the close: technical signals on the history up to
that day, exits and fills at that day's close, and the usual sizing and
risk rules. The paper ledger is not touched.`,
		Example: `  paper-trader backtest
  paper-trader backtest --days 120 --symbols RELIANCE,TCS --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")
			if days < 1 {
				return fmt.Errorf("--days must be at least 1")
			}
			raw, _ := cmd.Flags().GetStringSlice("symbols")
			symbols := make([]string, 0, len(raw))
			for _, s := range raw {
				s = security.NormalizeSymbol(s)
				if err := security.ValidateSymbol(s); err != nil {
					return err
				}
				symbols = append(symbols, s)
			}

			return app.withEngine(cmd, openOptions{}, func(ctx context.Context, out *Output) error {
				res, err := backtest.Run(ctx, app.Prices, app.Config.Engine, backtest.Options{
					Days:        days,
					HistoryDays: app.Config.PriceSource.HistoryDays,
					Symbols:     symbols,
					Concurrency: app.Config.PriceSource.Concurrency,
					Logger:      app.Logger,
				})
				if err != nil {
					return err
				}
				if out.IsJSON() {
					return out.JSON(res)
				}
				printBacktest(out, app.Prices.Name(), res)
				return nil
			})
		},
	}
	cmd.Flags().Int("days", 60, "calendar days to replay")
	cmd.Flags().StringSlice("symbols", nil, "symbols to replay (default: watchlist)")
	return cmd
}

func printBacktest(out *Output, source string, res *backtest.Result) {
	out.Bold("Backtest %s to %s (%d sessions, %s prices)",
		res.Start.Format("2006-01-02"), res.End.Format("2006-01-02"), res.DaysReplayed, source)
	out.Printf("  Initial Capital: %s\n", utils.FormatINR(res.InitialCapital))
	out.Printf("  Final Value:     %s\n", utils.FormatINR(res.FinalValue))
	out.Printf("  Total P&L:       %s (%s)\n", out.PnL(res.TotalPnL), out.Percent(res.TotalReturnPct))
	out.Printf("  Max Drawdown:    %s%%\n", res.MaxDrawdownPct.StringFixed(2))
	out.Printf("  Sharpe Ratio:    %.2f\n", res.SharpeRatio)

	st := res.Stats
	out.Printf("  Trades:          %d (%d buys, %d sells)\n", st.Trades, st.Buys, st.Sells)
	out.Printf("  Win Rate:        %s%% (%d won, %d lost)\n", st.WinRate.StringFixed(1), st.WinningTrades, st.LosingTrades)
	out.Printf("  Profit Factor:   %s\n", st.ProfitFactor.StringFixed(2))
	out.Printf("  Open Positions:  %d\n", res.OpenPositions)

	if len(res.BySymbol) == 0 {
		out.Println()
		out.Info("No closed trades in the replay")
		return
	}

	out.Println()
	table := NewTable(out, "SYMBOL", "TRADES", "WIN RATE", "P&L")
	for _, p := range res.BySymbol {
		table.AddRow(p.Symbol, fmt.Sprint(p.Trades), p.WinRate.StringFixed(1)+"%", out.PnL(p.PnL))
	}
	table.Render()

	if len(res.Trades) > 0 {
		out.Println()
		out.Dim("Last trades: %s", strings.Join(lastTrades(res, 5), ", "))
	}
}

func lastTrades(res *backtest.Result, n int) []string {
	trades := res.Trades
	if len(trades) > n {
		trades = trades[len(trades)-n:]
	}
	out := make([]string, 0, len(trades))
	for _, t := range trades {
		out = append(out, fmt.Sprintf("%s %s %s@%s", t.Timestamp.Format("01-02"), t.Action, t.Symbol, formatPrice(t.Price)))
	}
	return out
}
