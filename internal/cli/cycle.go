package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"paper-trader/internal/models"
	"paper-trader/internal/trading"
	"paper-trader/pkg/utils"
)

// addCycleCommands adds the cycle and reporting commands.
func addCycleCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newRunCycleCmd(app))
	rootCmd.AddCommand(newStatusCmd(app))
	rootCmd.AddCommand(newHistoryCmd(app))
	rootCmd.AddCommand(newSignalsCmd(app))
}

func newRunCycleCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run-cycle",
		Short: "Run one trading cycle now",
		Long: `Run one trading cycle: generate signals for the watchlist, check exits
on open positions, execute qualifying signals and save a snapshot.

Outside market hours the cycle does nothing unless --force is given.`,
		Example: `  paper-trader run-cycle
  paper-trader run-cycle --force --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			return app.withEngine(cmd, openOptions{}, func(ctx context.Context, out *Output) error {
				run := app.Engine.RunCycle
				if force {
					run = app.Engine.ForceRunCycle
				}
				res, err := run(ctx)
				if out.IsJSON() {
					if jerr := out.JSON(res); jerr != nil {
						return jerr
					}
					return err
				}
				printCycle(out, res)
				return err
			})
		},
	}
	cmd.Flags().Bool("force", false, "run even when the market is closed")
	return cmd
}

func printCycle(out *Output, res models.CycleResult) {
	switch res.Status {
	case models.CycleCompleted:
		out.Success("✓ Cycle %s completed in %s", shortID(res.CycleID), formatDuration(res.Duration))
	case models.CyclePaused:
		out.Warning("Trading is paused; cycle %s skipped", shortID(res.CycleID))
		return
	case models.CycleMarketClosed:
		out.Warning("Market is closed; use --force to run anyway")
		return
	default:
		out.Error("Cycle %s %s", shortID(res.CycleID), res.Status)
	}
	out.Printf("  Signals:    %d\n", res.SignalsGenerated)
	out.Printf("  Trades:     %d\n", res.TradesExecuted)
	out.Printf("  Exits:      %d\n", res.ExitsExecuted)
	out.Printf("  Portfolio:  %s\n", utils.FormatINR(res.PortfolioValue))
	out.Printf("  Cash:       %s\n", utils.FormatINR(res.Cash))
	out.Printf("  Positions:  %d\n", res.Positions)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show portfolio status and open positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withEngine(cmd, openOptions{}, func(ctx context.Context, out *Output) error {
				st := app.Engine.GetPortfolioStatus(ctx)
				if out.IsJSON() {
					return out.JSON(st)
				}
				printStatus(out, st)
				return nil
			})
		},
	}
}

func printStatus(out *Output, st models.PortfolioStatus) {
	lines := []string{
		fmt.Sprintf("Total Value:     %s", utils.FormatINR(st.TotalValue)),
		fmt.Sprintf("Cash:            %s", utils.FormatINR(st.Cash)),
		fmt.Sprintf("Invested:        %s", utils.FormatINR(st.Invested)),
		fmt.Sprintf("Total P&L:       %s (%s)", out.PnL(st.TotalPnL), out.Percent(st.ReturnPct)),
		fmt.Sprintf("Today's P&L:     %s", out.PnL(st.DailyPnL)),
		fmt.Sprintf("Daily Target:    %s%%", st.TargetProgress.StringFixed(1)),
		fmt.Sprintf("Open Positions:  %d", st.PositionsCount),
	}
	if st.Paused {
		lines = append(lines, out.Yellow("Trading is PAUSED"))
	}
	if st.Stale {
		lines = append(lines, out.Yellow("Figures are stale: the store could not be read"))
	}
	out.Box("Paper Portfolio @ "+formatDateTime(st.AsOf), lines)

	if len(st.Positions) == 0 {
		return
	}
	out.Println()
	table := NewTable(out, "SYMBOL", "QTY", "ENTRY", "LTP", "STOP", "TARGET", "P&L", "HELD")
	for _, p := range st.Positions {
		table.AddRow(
			p.Symbol,
			utils.FormatQuantity(p.Quantity),
			formatPrice(p.EntryPrice),
			formatPrice(p.CurrentPrice),
			formatPrice(p.StopLoss),
			formatPrice(p.TargetPrice),
			out.PnL(p.UnrealizedPnL()),
			formatDuration(p.HoldingPeriod(st.AsOf)),
		)
	}
	table.Render()
}

func newHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent trades",
		Example: `  paper-trader history
  paper-trader history --days 7 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")
			if days < 1 {
				return fmt.Errorf("--days must be at least 1")
			}
			return app.withEngine(cmd, openOptions{}, func(ctx context.Context, out *Output) error {
				trades := app.Engine.GetTradeHistory(ctx, days)
				stats := trading.SummarizeTrades(trades)
				if out.IsJSON() {
					return out.JSON(map[string]interface{}{
						"days":    days,
						"trades":  trades,
						"summary": stats,
					})
				}
				printHistory(out, days, trades, stats)
				return nil
			})
		},
	}
	cmd.Flags().Int("days", 30, "number of days to look back")
	return cmd
}

func printHistory(out *Output, days int, trades []models.TradeRecord, st trading.TradeStats) {
	if len(trades) == 0 {
		out.Info("No trades in the last %d days", days)
		return
	}

	table := NewTable(out, "TIME", "SYMBOL", "SIDE", "QTY", "PRICE", "COMMISSION", "P&L", "REASON")
	for _, t := range trades {
		side := out.Green(string(t.Action))
		pnl := "-"
		if t.Action == models.ActionSell {
			side = out.Red(string(t.Action))
			pnl = out.PnL(t.PnL)
		}
		table.AddRow(
			formatDateTime(t.Timestamp),
			t.Symbol,
			side,
			utils.FormatQuantity(t.Quantity),
			formatPrice(t.Price),
			t.Commission.StringFixed(2),
			pnl,
			truncate(t.Reason, 40),
		)
	}
	table.Render()

	out.Println()
	out.Bold("Last %d days", days)
	out.Printf("  Trades:        %d (%d buys, %d sells)\n", st.Trades, st.Buys, st.Sells)
	out.Printf("  Win Rate:      %s%% (%d won, %d lost)\n", st.WinRate.StringFixed(1), st.WinningTrades, st.LosingTrades)
	out.Printf("  Realized P&L:  %s\n", out.PnL(st.RealizedPnL))
	out.Printf("  Commission:    %s\n", utils.FormatINR(st.TotalCommission))
	if st.ProfitFactor.GreaterThan(decimal.Zero) {
		out.Printf("  Profit Factor: %s\n", st.ProfitFactor.StringFixed(2))
	}
	out.Printf("  Max Drawdown:  %s%%\n", st.MaxDrawdown.StringFixed(2))
}

func newSignalsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signals",
		Short: "Show the signal journal",
		Long:  "Show every signal the engine considered, and whether it was executed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")
			if days < 1 {
				return fmt.Errorf("--days must be at least 1")
			}
			return app.withEngine(cmd, openOptions{}, func(ctx context.Context, out *Output) error {
				since := time.Now().AddDate(0, 0, -days)
				sigs, err := app.Store.QuerySignals(ctx, since)
				if err != nil {
					return err
				}
				if out.IsJSON() {
					return out.JSON(sigs)
				}
				printSignals(out, days, sigs)
				return nil
			})
		},
	}
	cmd.Flags().Int("days", 7, "number of days to look back")
	return cmd
}

func printSignals(out *Output, days int, sigs []models.SignalRecord) {
	if len(sigs) == 0 {
		out.Info("No signals in the last %d days", days)
		return
	}
	table := NewTable(out, "TIME", "SYMBOL", "ACTION", "CONF", "PRICE", "EXECUTED", "REASONS")
	for _, s := range sigs {
		executed := out.DimText("no")
		if s.Executed {
			executed = out.Green("yes")
		}
		table.AddRow(
			formatDateTime(s.Timestamp),
			s.Symbol,
			string(s.Action),
			fmt.Sprintf("%.0f%%", s.Confidence),
			formatPrice(s.Price),
			executed,
			truncate(joinReasons(s.Reasons), 50),
		)
	}
	table.Render()
}
