package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"paper-trader/internal/config"
	"paper-trader/internal/models"
	"paper-trader/internal/scheduler"
	"paper-trader/pkg/utils"
)

// stopGrace bounds how long shutdown waits for a running cycle.
const stopGrace = 2 * time.Minute

func addScheduleCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run cycles on the configured schedule until interrupted",
		Long: `Run trading cycles on the cron schedule from config.toml (seconds field
first, IST). The default runs at :15 and :45 through the NSE session on
weekdays. Trades and exits are printed as they happen.

Stop with Ctrl+C; a cycle in progress is allowed to finish.`,
		Example: `  paper-trader schedule
  paper-trader schedule --cron "0 */5 9-15 * * MON-FRI"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, _ := cmd.Flags().GetString("cron")
			if spec == "" {
				spec = app.Config.Schedule.Cron
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return app.withEngine(cmd, openOptions{terminal: true}, func(ctx context.Context, out *Output) error {
				// Cycles outlive the interrupt; Stop waits for them.
				sched, err := scheduler.New(context.WithoutCancel(ctx), spec, app.Engine, app.Logger)
				if err != nil {
					return err
				}

				status := utils.MarketStatusAt(time.Now())
				if !out.IsJSON() {
					out.Info("Scheduler running with %q", spec)
					out.Printf("  Market:    %s\n", status)
					out.Printf("  Next run:  %s\n", formatDateTime(sched.Next()))
					out.Dim("Press Ctrl+C to stop")
				}
				sched.Start()

				<-ctx.Done()
				if !out.IsJSON() {
					out.Info("Stopping scheduler...")
				}
				stopCtx, cancel := context.WithTimeout(context.Background(), stopGrace)
				defer cancel()
				return sched.Stop(stopCtx)
			})
		},
	}
	cmd.Flags().String("cron", "", "override the cron spec from config.toml")
	rootCmd.AddCommand(cmd)
	rootCmd.AddCommand(newMarketCmd(app))
}

func newMarketCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "market",
		Short: "Show NSE session status and the next scheduled cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			now := time.Now().In(utils.IndiaLocation)
			status := utils.GetMarketStatus()
			nextOpen := utils.NextMarketOpen(now)

			var nextCycle time.Time
			if sched, err := config.CronParser.Parse(app.Config.Schedule.Cron); err == nil {
				nextCycle = sched.Next(now)
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"status":     status,
					"now":        now,
					"next_open":  nextOpen,
					"next_cycle": nextCycle,
				})
			}

			label := output.Red(string(status))
			if utils.IsMarketOpen() {
				label = output.Green(string(status))
			}
			output.Printf("  Market:      %s\n", label)
			output.Printf("  Time (IST):  %s\n", now.Format("Mon 02-Jan-2006 15:04:05"))
			if status != models.MarketOpen {
				output.Printf("  Opens:       %s (in %s)\n", formatDateTime(nextOpen), formatDuration(nextOpen.Sub(now)))
			}
			if !nextCycle.IsZero() {
				output.Printf("  Next cycle:  %s\n", formatDateTime(nextCycle))
			}
			return nil
		},
	}
}
