package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	apperrors "paper-trader/internal/errors"
	"paper-trader/internal/models"
	"paper-trader/internal/security"
	"paper-trader/internal/trading"
	"paper-trader/pkg/utils"
)

// addTradeCommands adds manual trading and engine control commands.
func addTradeCommands(rootCmd *cobra.Command, app *App) {
	tradeCmd := &cobra.Command{
		Use:   "trade",
		Short: "Submit a manual signal",
		Long: `Submit a manual BUY or SELL signal. It goes through the same checks as
signals from a cycle: confidence, position limits, sizing and cash.`,
	}
	tradeCmd.AddCommand(newManualTradeCmd(app, models.ActionBuy))
	tradeCmd.AddCommand(newManualTradeCmd(app, models.ActionSell))

	rootCmd.AddCommand(tradeCmd)
	rootCmd.AddCommand(newSampleTradeCmd(app))
	rootCmd.AddCommand(newSquareOffCmd(app))
	rootCmd.AddCommand(newPauseCmd(app))
	rootCmd.AddCommand(newResumeCmd(app))
}

func newManualTradeCmd(app *App, action models.Action) *cobra.Command {
	verb := "buy"
	if action == models.ActionSell {
		verb = "sell"
	}

	cmd := &cobra.Command{
		Use:   verb + " SYMBOL",
		Short: fmt.Sprintf("Submit a manual %s signal", action),
		Args:  cobra.ExactArgs(1),
		Example: fmt.Sprintf(`  paper-trader trade %s RELIANCE
  paper-trader trade %s TCS --price 3800 --qty 5`, verb, verb),
		RunE: func(cmd *cobra.Command, args []string) error {
			sig, err := manualSignal(cmd, action, args[0])
			if err != nil {
				return err
			}
			return app.withEngine(cmd, openOptions{}, func(ctx context.Context, out *Output) error {
				executed, err := app.Engine.ExecuteSignal(ctx, sig)
				return reportExecution(out, sig, executed, err)
			})
		},
	}

	cmd.Flags().StringP("price", "p", "", "price (default: current market price)")
	cmd.Flags().Int64P("qty", "q", 0, "quantity (default: sized from risk)")
	cmd.Flags().String("stop", "", "stop-loss price")
	cmd.Flags().String("target", "", "target price")
	cmd.Flags().Float64("confidence", 100, "signal confidence (0-100)")
	cmd.Flags().String("reason", "Manual trade", "reason recorded with the trade")
	return cmd
}

// manualSignal builds a signal from the trade command's flags.
func manualSignal(cmd *cobra.Command, action models.Action, symbol string) (models.Signal, error) {
	symbol = security.NormalizeSymbol(symbol)
	qty, _ := cmd.Flags().GetInt64("qty")
	confidence, _ := cmd.Flags().GetFloat64("confidence")
	reason, _ := cmd.Flags().GetString("reason")

	price, perr := decimalFlag(cmd, "price")
	stop, serr := decimalFlag(cmd, "stop")
	target, terr := decimalFlag(cmd, "target")
	err := multierr.Combine(
		security.ValidateSymbol(symbol),
		perr, serr, terr,
		security.ValidatePrice("price", price),
		security.ValidatePrice("stop", stop),
		security.ValidatePrice("target", target),
		security.ValidateQuantity(qty),
		security.ValidateConfidence(confidence),
	)
	if err != nil {
		return models.Signal{}, err
	}

	return models.Signal{
		Symbol:      symbol,
		Action:      action,
		Price:       price,
		Quantity:    qty,
		Confidence:  confidence,
		StopLoss:    stop,
		TargetPrice: target,
		Reasons:     []string{reason},
		Source:      "manual",
	}, nil
}

func decimalFlag(cmd *cobra.Command, name string) (decimal.Decimal, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, apperrors.NewValidationError(name, raw, "not a number")
	}
	return d, nil
}

// reportExecution prints the outcome of a manual or sample signal.
func reportExecution(out *Output, sig models.Signal, executed bool, err error) error {
	if out.IsJSON() {
		res := map[string]interface{}{
			"symbol":   sig.Symbol,
			"action":   sig.Action,
			"executed": executed,
		}
		if err != nil {
			res["error"] = err.Error()
		}
		if jerr := out.JSON(res); jerr != nil {
			return jerr
		}
		return err
	}

	switch {
	case errors.Is(err, apperrors.ErrEnginePaused):
		out.Warning("Trading is paused; run 'paper-trader resume' first")
		return err
	case err != nil:
		out.Error("%s %s failed: %v", sig.Action, sig.Symbol, err)
		return err
	case !executed:
		out.Warning("%s %s was not executed; run with --debug to see why", sig.Action, sig.Symbol)
		return nil
	}
	out.Success("✓ %s %s executed", sig.Action, sig.Symbol)
	return nil
}

func newSampleTradeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "sample-trade",
		Short: "Buy RELIANCE at 2450 to check the engine end to end",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withEngine(cmd, openOptions{}, func(ctx context.Context, out *Output) error {
				executed, err := app.Engine.ExecuteSampleTrade(ctx)
				sig := models.Signal{Symbol: trading.SampleSymbol, Action: models.ActionBuy}
				if rerr := reportExecution(out, sig, executed, err); rerr != nil || out.IsJSON() || !executed {
					return rerr
				}
				if pos, ok := app.Engine.Ledger().Position(sig.Symbol); ok {
					out.Printf("  %s shares @ %s, stop %s, target %s\n",
						utils.FormatQuantity(pos.Quantity), formatPrice(pos.EntryPrice),
						formatPrice(pos.StopLoss), formatPrice(pos.TargetPrice))
				}
				return nil
			})
		},
	}
}

func newSquareOffCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "square-off SYMBOL",
		Short: "Close an open position at the market price",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")
			symbol := security.NormalizeSymbol(args[0])
			return app.withEngine(cmd, openOptions{}, func(ctx context.Context, out *Output) error {
				closed, err := app.Engine.SquareOff(ctx, symbol, reason)
				if errors.Is(err, apperrors.ErrNoOpenPosition) && !out.IsJSON() {
					out.Warning("No open position in %s", symbol)
					return err
				}
				return reportExecution(out, models.Signal{Symbol: symbol, Action: models.ActionSell}, closed, err)
			})
		},
	}
	cmd.Flags().String("reason", "", "reason recorded with the exit")
	return cmd
}

func newPauseCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pause",
		Short: "Stop the engine from opening or closing positions",
		Long: `Pause trading. Cycles, manual trades and square-offs are refused until
'paper-trader resume'. The flag is kept in the database and survives restarts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")
			return app.withEngine(cmd, openOptions{}, func(ctx context.Context, out *Output) error {
				if err := app.Engine.Pause(ctx, reason); err != nil {
					return err
				}
				if out.IsJSON() {
					return out.JSON(map[string]interface{}{"paused": true, "reason": reason})
				}
				out.Warning("Trading paused")
				if reason != "" {
					out.Dim("Reason: %s", reason)
				}
				return nil
			})
		},
	}
	cmd.Flags().String("reason", "", "why trading is paused")
	return cmd
}

func newResumeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume trading after a pause",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withEngine(cmd, openOptions{}, func(ctx context.Context, out *Output) error {
				if err := app.Engine.Resume(ctx); err != nil {
					return err
				}
				if out.IsJSON() {
					return out.JSON(map[string]bool{"paused": false})
				}
				out.Success("✓ Trading resumed")
				return nil
			})
		},
	}
}
