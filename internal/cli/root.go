// Package cli provides the command-line interface for the paper trading engine.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"paper-trader/internal/broker"
	"paper-trader/internal/config"
	apperrors "paper-trader/internal/errors"
	"paper-trader/internal/logging"
	"paper-trader/internal/notify"
	"paper-trader/internal/security"
	"paper-trader/internal/signals"
	"paper-trader/internal/store"
	"paper-trader/internal/trading"
)

// Version information
const (
	Version   = "0.3.0"
	BuildDate = "2024-06-01"
)

// skipConfig marks commands that run without loading config.toml.
const skipConfig = "skip-config"

// App holds the application dependencies. Config and Logger are set for
// every command; the rest is built by open for commands that trade.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Store    *store.SQLiteStore
	Audit    security.Auditor
	Notifier notify.Notifier
	Prices   broker.PriceSource
	Engine   *trading.Engine

	closers []func(context.Context) error
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "paper-trader",
		Short: "Paper trading engine for NSE equities",
		Long: `paper-trader simulates a cash equity account on the NSE.

It turns trading signals into simulated orders, keeps an append-only trade
log in SQLite, exits positions on stop loss, target or holding period, and
can run cycles on a schedule through the trading session.

No real orders are ever placed. Kite Connect is used for prices only.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipConfig] == "true" {
				return nil
			}
			return app.loadConfig(cmd)
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/paper-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	addCycleCommands(rootCmd, app)
	addTradeCommands(rootCmd, app)
	addScheduleCommands(rootCmd, app)
	addAuthCommands(rootCmd, app)
	rootCmd.AddCommand(newHealthCmd(app))
	rootCmd.AddCommand(newBacktestCmd(app))

	return rootCmd
}

func (a *App) loadConfig(cmd *cobra.Command) error {
	dir, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Log.Level = "debug"
	}
	a.Config = cfg
	a.Logger = logging.NewLoggerWithConfig(cfg.LoggingConfig())
	a.Logger.Debug().Str("config_dir", cfg.Dir).Msg("Configuration loaded")
	return nil
}

// openOptions tunes what open wires up.
type openOptions struct {
	// terminal adds a terminal notification channel.
	terminal bool
}

// open builds the engine and everything it depends on. It is the only
// place components are constructed.
func (a *App) open(ctx context.Context, opts openOptions) error {
	cfg := a.Config
	logger := a.Logger

	st, err := store.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return apperrors.NewPersistenceError("open", "", err)
	}
	a.Store = st
	a.closers = append(a.closers, func(context.Context) error { return st.Close() })

	a.Audit = security.NopAuditor{}
	if cfg.Security.AuditEnabled {
		al, err := security.NewAuditLogger(security.DefaultAuditConfig(cfg.Security.AuditPath))
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		a.Audit = al
		a.closers = append(a.closers, func(context.Context) error { return al.Close() })
	}

	prices, err := broker.NewPriceSource(broker.Options{
		Mode:              cfg.PriceSource.Mode,
		Exchange:          cfg.PriceSource.Exchange,
		APIKey:            cfg.Credentials.Zerodha.APIKey,
		AccessToken:       a.accessToken(),
		RequestsPerSecond: cfg.PriceSource.RequestsPerSecond,
		Burst:             cfg.PriceSource.Burst,
		Timeout:           cfg.PriceSource.Timeout,
		CacheTTL:          cfg.PriceSource.CacheTTL,
		Seed:              cfg.PriceSource.Seed,
		BreakerFailures:   cfg.PriceSource.BreakerFailures,
		BreakerCooldown:   cfg.PriceSource.BreakerCooldown,
	}, st, logging.WithComponent(logger, "prices"))
	if err != nil {
		return err
	}
	a.Prices = prices

	source := signals.NewTechnicalSource(prices, signals.TechnicalOptions{
		HistoryDays: cfg.PriceSource.HistoryDays,
		Concurrency: cfg.PriceSource.Concurrency,
		Logger:      logging.WithComponent(logger, "signals"),
	})

	a.Notifier = a.buildNotifier(opts)

	eng, err := trading.NewEngine(ctx, cfg.Engine, trading.Deps{
		Store:        st,
		Prices:       prices,
		Signals:      source,
		Notifier:     a.Notifier,
		Gate:         security.NewTradingGate(st, a.Audit),
		Audit:        a.Audit,
		Logger:       logger,
		QuoteTimeout: cfg.PriceSource.Timeout,
		Concurrency:  cfg.PriceSource.Concurrency,
	})
	if err != nil {
		return err
	}
	a.Engine = eng
	return nil
}

// accessToken reads the Kite token from the vault. A missing or expired
// token is not an error here; the price source falls back to simulation.
func (a *App) accessToken() string {
	if !a.Config.HasKiteCredentials() {
		return ""
	}
	vault := security.NewTokenVault(a.Config.VaultPath(), a.Config.Credentials.Vault.Passphrase)
	tok, err := vault.Load()
	switch {
	case errors.Is(err, apperrors.ErrDataNotFound):
		a.Logger.Info().Msg("No stored Kite session; run 'paper-trader auth login-url' to create one")
		return ""
	case err != nil:
		a.Logger.Warn().Err(err).Msg("Stored Kite session unusable")
		return ""
	}
	return tok.AccessToken
}

func (a *App) buildNotifier(opts openOptions) notify.Notifier {
	cfg := a.Config.Notifications
	mn := notify.NewMultiNotifier(config.NotificationConfig{Level: cfg.Level})
	if cfg.Enabled {
		mn = notify.NewMultiNotifier(cfg)
	}
	if opts.terminal {
		mn.AddChannel(notify.NewTerminalChannel(os.Stdout, false))
	}
	if mn.Len() == 0 {
		return notify.NoOpNotifier{}
	}

	async := notify.NewAsyncNotifier(mn, cfg.QueueSize, logging.WithComponent(a.Logger, "notify"))
	a.closers = append(a.closers, async.Close)
	return async
}

// close releases everything open built, newest first.
func (a *App) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i](ctx))
	}
	a.closers = nil
	return err
}

// withEngine opens the engine, runs fn and closes everything afterwards.
func (a *App) withEngine(cmd *cobra.Command, opts openOptions, fn func(ctx context.Context, out *Output) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logging.WithLogger(ctx, a.Logger)

	defer func() {
		if cerr := a.close(); cerr != nil {
			a.Logger.Warn().Err(cerr).Msg("Shutdown incomplete")
		}
	}()
	if err := a.open(ctx, opts); err != nil {
		return err
	}
	return fn(ctx, NewOutput(cmd))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipConfig: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
				return
			}
			output.Printf("paper-trader v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(redacted(app.Config))
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]interface{}{
					"path":  app.Config.Dir,
					"files": config.TemplatePaths(app.Config.Dir),
				})
				return
			}
			output.Println(app.Config.Dir)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			// Load already validated; this repeats it so the result is explicit.
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

// redacted returns a copy of cfg with secrets masked.
func redacted(cfg *config.Config) config.Config {
	c := *cfg
	c.Credentials.Zerodha.APIKey = security.MaskCredential(c.Credentials.Zerodha.APIKey)
	c.Credentials.Zerodha.APISecret = security.MaskCredential(c.Credentials.Zerodha.APISecret)
	c.Credentials.Vault.Passphrase = security.MaskCredential(c.Credentials.Vault.Passphrase)
	c.Notifications.Telegram.BotToken = security.MaskCredential(c.Notifications.Telegram.BotToken)
	c.Notifications.Email.Password = security.MaskCredential(c.Notifications.Email.Password)
	return c
}

func showConfig(output *Output, cfg *config.Config) {
	e := cfg.Engine
	output.Bold("Engine")
	output.Printf("  Initial Capital:   %s\n", formatMoney(e.InitialCapital))
	output.Printf("  Risk Per Trade:    %.2f%%\n", e.RiskPerTradePct)
	output.Printf("  Commission:        %.2f%%\n", e.CommissionPct)
	output.Printf("  Max Positions:     %d\n", e.MaxPositions)
	output.Printf("  Min Confidence:    %.0f%%\n", e.MinConfidence)
	output.Printf("  Min Stop Distance: %.2f%%\n", e.MinStopPct)
	output.Printf("  Cash Utilization:  %.0f%%\n", e.MaxCashUtilization*100)
	output.Printf("  Max Holding Days:  %d\n", e.MaxHoldingDays)
	output.Printf("  Daily Target:      %s\n", formatMoney(e.DailyProfitTarget))
	output.Printf("  Watchlist:         %v\n", e.Watchlist)
	output.Printf("  Market Hours Only: %v\n", e.RequireMarketOpen)
	output.Println()

	p := cfg.PriceSource
	output.Bold("Price Source")
	output.Printf("  Mode:              %s\n", p.Mode)
	output.Printf("  Exchange:          %s\n", p.Exchange)
	output.Printf("  Rate Limit:        %.1f/s (burst %d)\n", p.RequestsPerSecond, p.Burst)
	output.Printf("  Timeout:           %s\n", p.Timeout)
	output.Printf("  Kite API Key:      %s\n", security.MaskCredential(cfg.Credentials.Zerodha.APIKey))
	output.Println()

	output.Bold("Storage")
	output.Printf("  Database:          %s\n", cfg.Storage.DBPath)
	output.Printf("  Log File:          %s\n", cfg.Log.FilePath)
	output.Printf("  Audit Log:         %s (enabled: %v)\n", cfg.Security.AuditPath, cfg.Security.AuditEnabled)
	output.Printf("  Schedule:          %s\n", cfg.Schedule.Cron)
	output.Println()

	n := cfg.Notifications
	output.Bold("Notifications")
	output.Printf("  Enabled:           %v\n", n.Enabled)
	output.Printf("  Level:             %s\n", n.Level)
	output.Printf("  Webhook:           %v\n", n.Webhook.Enabled)
	output.Printf("  Telegram:          %v\n", n.Telegram.Enabled)
	output.Printf("  Email:             %v\n", n.Email.Enabled)
}
