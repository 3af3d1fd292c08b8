package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	apperrors "paper-trader/internal/errors"
	"paper-trader/internal/broker"
	"paper-trader/internal/resilience"
)

const slowQuote = 3 * time.Second

func newHealthCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the database, price feed and session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withEngine(cmd, openOptions{}, func(ctx context.Context, output *Output) error {
				report := app.healthMonitor().Check(ctx)

				if output.IsJSON() {
					if err := output.JSON(report); err != nil {
						return err
					}
				} else {
					printHealth(output, report)
				}
				if report.Status == resilience.HealthStatusUnhealthy {
					return errors.New("system unhealthy")
				}
				return nil
			})
		},
	}
}

func (a *App) healthMonitor() *resilience.HealthMonitor {
	m := resilience.NewHealthMonitor(resilience.DefaultHealthMonitorConfig())
	m.RegisterComponent("database", resilience.DatabaseHealthCheck(a.Store.Ping))

	prices := a.Prices
	sym := a.Config.Engine.Watchlist[0]
	quote := resilience.APIHealthCheck(slowQuote, func(ctx context.Context) (string, error) {
		px, err := prices.CurrentPrice(ctx, sym)
		if err != nil {
			return "", fmt.Errorf("%s quote failed: %w", sym, err)
		}
		return fmt.Sprintf("%s %s @ %s", prices.Name(), sym, formatPrice(px)), nil
	})
	m.RegisterComponent("price_feed", func(ctx context.Context) resilience.ComponentHealth {
		h := quote(ctx)
		if h.Status == resilience.HealthStatusHealthy && prices.Name() == "simulated" {
			h.Status = resilience.HealthStatusDegraded
		}
		return h
	})
	if cb := broker.BreakerOf(prices); cb != nil {
		m.RegisterComponent("price_breaker", resilience.BreakerHealthCheck(cb))
	}

	m.RegisterComponent("kite_session", func(ctx context.Context) resilience.ComponentHealth {
		tok, err := a.vault().Load()
		switch {
		case err == nil:
			return resilience.ComponentHealth{
				Status:  resilience.HealthStatusHealthy,
				Message: "valid until " + formatDateTime(tok.ExpiresAt),
			}
		case errors.Is(err, apperrors.ErrDataNotFound):
			return resilience.ComponentHealth{Status: resilience.HealthStatusDegraded, Message: "no stored session"}
		}
		return resilience.ComponentHealth{Status: resilience.HealthStatusDegraded, Message: err.Error()}
	})

	eng := a.Engine
	m.RegisterComponent("trading", func(ctx context.Context) resilience.ComponentHealth {
		if eng.IsPaused(ctx) {
			return resilience.ComponentHealth{Status: resilience.HealthStatusDegraded, Message: "paused"}
		}
		return resilience.ComponentHealth{Status: resilience.HealthStatusHealthy, Message: "active"}
	})
	return m
}

func printHealth(output *Output, report resilience.SystemHealth) {
	table := NewTable(output, "COMPONENT", "STATUS", "LATENCY", "MESSAGE")
	for _, c := range report.Components {
		table.AddRow(c.Name, healthText(output, c.Status), c.Latency.Round(time.Millisecond).String(), truncate(c.Message, 60))
	}
	table.Render()
	output.Println()
	output.Printf("Overall: %s\n", healthText(output, report.Status))
}

func healthText(output *Output, s resilience.HealthStatus) string {
	switch s {
	case resilience.HealthStatusHealthy:
		return output.Green(string(s))
	case resilience.HealthStatusDegraded:
		return output.Yellow(string(s))
	}
	return output.Red(string(s))
}
