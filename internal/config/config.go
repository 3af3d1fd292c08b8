// Package config provides configuration management for the paper trading engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	apperrors "paper-trader/internal/errors"
	"paper-trader/internal/logging"
)

// Config holds all application configuration.
type Config struct {
	Engine        EngineConfig       `mapstructure:"engine"`
	PriceSource   PriceSourceConfig  `mapstructure:"price_source"`
	Schedule      ScheduleConfig     `mapstructure:"schedule"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Log           LogConfig          `mapstructure:"log"`
	Security      SecurityConfig     `mapstructure:"security"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Credentials   Credentials        `mapstructure:"-"` // Loaded separately

	// Dir is the directory the configuration was loaded from.
	Dir string `mapstructure:"-"`
}

// EngineConfig holds ledger and execution rules.
type EngineConfig struct {
	InitialCapital     float64  `mapstructure:"initial_capital"`
	RiskPerTradePct    float64  `mapstructure:"risk_per_trade_pct"`
	CommissionPct      float64  `mapstructure:"commission_pct"`
	MaxPositions       int      `mapstructure:"max_positions"`
	MinConfidence      float64  `mapstructure:"min_confidence"`
	MinStopPct         float64  `mapstructure:"min_stop_pct"`
	MaxCashUtilization float64  `mapstructure:"max_cash_utilization"`
	MaxPositionValue   float64  `mapstructure:"max_position_value"` // 0 disables
	MaxHoldingDays     int      `mapstructure:"max_holding_days"`
	DailyProfitTarget  float64  `mapstructure:"daily_profit_target"`
	DefaultStopLossPct float64  `mapstructure:"default_stop_loss_pct"`
	DefaultTargetPct   float64  `mapstructure:"default_target_pct"`
	Watchlist          []string `mapstructure:"watchlist"`
	RequireMarketOpen  bool     `mapstructure:"require_market_open"`
}

// PriceSourceConfig selects and guards the market data feed.
type PriceSourceConfig struct {
	Mode              string        `mapstructure:"mode"` // kite, simulated, auto
	Exchange          string        `mapstructure:"exchange"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	Timeout           time.Duration `mapstructure:"timeout"`
	Concurrency       int           `mapstructure:"concurrency"`
	HistoryDays       int           `mapstructure:"history_days"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	Seed              int64         `mapstructure:"seed"`
	BreakerFailures   int           `mapstructure:"breaker_failures"`
	BreakerCooldown   time.Duration `mapstructure:"breaker_cooldown"`
}

// ScheduleConfig holds the cron schedule for autonomous cycles.
type ScheduleConfig struct {
	Cron string `mapstructure:"cron"`
}

// StorageConfig holds database settings.
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// LogConfig mirrors logging.LogConfig in TOML form.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	AuditEnabled bool   `mapstructure:"audit_enabled"`
	AuditPath    string `mapstructure:"audit_path"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled   bool           `mapstructure:"enabled"`
	Level     string         `mapstructure:"level"` // all, trades_only, errors_only
	QueueSize int            `mapstructure:"queue_size"`
	Webhook   WebhookConfig  `mapstructure:"webhook"`
	Telegram  TelegramConfig `mapstructure:"telegram"`
	Email     EmailConfig    `mapstructure:"email"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// EmailConfig holds email notification configuration.
type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	To       string `mapstructure:"to"`
}

// Credentials holds API credentials.
type Credentials struct {
	Zerodha ZerodhaCredentials `mapstructure:"zerodha"`
	Vault   VaultCredentials   `mapstructure:"vault"`
}

// ZerodhaCredentials holds Kite Connect API credentials.
type ZerodhaCredentials struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	UserID    string `mapstructure:"user_id"`
}

// VaultCredentials holds the passphrase protecting the stored access token.
type VaultCredentials struct {
	Passphrase string `mapstructure:"passphrase"`
}

// Price source modes.
const (
	ModeKite      = "kite"
	ModeSimulated = "simulated"
	ModeAuto      = "auto"
)

// DefaultCron runs at :15 and :45 through the NSE session on weekdays.
const DefaultCron = "0 15,45 9-15 * * MON-FRI"

// CronParser accepts specs with a leading seconds field.
var CronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/paper-trader"
	}
	return filepath.Join(home, ".config", "paper-trader")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. Missing files
// are written as templates and defaults are used.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := Default()
	cfg.Dir = configDir

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	// Defaults are static and always decode.
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.initial_capital", 100000.0)
	v.SetDefault("engine.risk_per_trade_pct", 2.0)
	v.SetDefault("engine.commission_pct", 0.1)
	v.SetDefault("engine.max_positions", 5)
	v.SetDefault("engine.min_confidence", 60.0)
	v.SetDefault("engine.min_stop_pct", 2.0)
	v.SetDefault("engine.max_cash_utilization", 0.9)
	v.SetDefault("engine.max_position_value", 0.0)
	v.SetDefault("engine.max_holding_days", 10)
	v.SetDefault("engine.daily_profit_target", 3000.0)
	v.SetDefault("engine.default_stop_loss_pct", 5.0)
	v.SetDefault("engine.default_target_pct", 10.0)
	v.SetDefault("engine.watchlist", []string{"RELIANCE", "TCS", "INFY", "HDFCBANK", "ICICIBANK"})
	v.SetDefault("engine.require_market_open", true)

	v.SetDefault("price_source.mode", ModeAuto)
	v.SetDefault("price_source.exchange", "NSE")
	v.SetDefault("price_source.requests_per_second", 3.0)
	v.SetDefault("price_source.burst", 3)
	v.SetDefault("price_source.timeout", "5s")
	v.SetDefault("price_source.concurrency", 4)
	v.SetDefault("price_source.history_days", 90)
	v.SetDefault("price_source.cache_ttl", "6h")
	v.SetDefault("price_source.seed", 0)
	v.SetDefault("price_source.breaker_failures", 5)
	v.SetDefault("price_source.breaker_cooldown", "30s")

	v.SetDefault("schedule.cron", DefaultCron)
	v.SetDefault("storage.db_path", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("log.file", true)
	v.SetDefault("log.file_path", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age", 30)

	v.SetDefault("security.audit_enabled", true)
	v.SetDefault("security.audit_path", "")

	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.level", "all")
	v.SetDefault("notifications.queue_size", 64)
	v.SetDefault("notifications.webhook.enabled", false)
	v.SetDefault("notifications.webhook.url", "")
	v.SetDefault("notifications.telegram.enabled", false)
	v.SetDefault("notifications.telegram.bot_token", "")
	v.SetDefault("notifications.telegram.chat_id", "")
	v.SetDefault("notifications.email.enabled", false)
	v.SetDefault("notifications.email.smtp_host", "")
	v.SetDefault("notifications.email.smtp_port", 587)
	v.SetDefault("notifications.email.username", "")
	v.SetDefault("notifications.email.password", "")
	v.SetDefault("notifications.email.from", "")
	v.SetDefault("notifications.email.to", "")
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	// PAPER_TRADER_ENGINE_MIN_CONFIDENCE overrides engine.min_confidence, and so on.
	v.SetEnvPrefix("PAPER_TRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		if err := createTemplate(configDir, "config.toml", configTemplate, 0644); err != nil {
			return err
		}
	}

	return v.Unmarshal(cfg)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		return createTemplate(configDir, "credentials.toml", credentialsTemplate, 0600)
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ZERODHA_API_KEY"); v != "" {
		cfg.Credentials.Zerodha.APIKey = v
	}
	if v := os.Getenv("ZERODHA_API_SECRET"); v != "" {
		cfg.Credentials.Zerodha.APISecret = v
	}
	if v := os.Getenv("ZERODHA_USER_ID"); v != "" {
		cfg.Credentials.Zerodha.UserID = v
	}
	if v := os.Getenv("PAPER_TRADER_VAULT_KEY"); v != "" {
		cfg.Credentials.Vault.Passphrase = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Notifications.Telegram.ChatID = v
	}
}

func (c *Config) resolvePaths() {
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = filepath.Join(c.Dir, "paper_trading.db")
	}
	if c.Log.FilePath == "" {
		c.Log.FilePath = filepath.Join(c.Dir, "logs", "engine.log")
	}
	if c.Security.AuditPath == "" {
		c.Security.AuditPath = filepath.Join(c.Dir, "logs", "audit.log")
	}
}

// VaultPath is where the encrypted access token is kept.
func (c *Config) VaultPath() string {
	return filepath.Join(c.Dir, "kite_token.enc")
}

// LoggingConfig converts the [log] section for the logging package.
func (c *Config) LoggingConfig() logging.LogConfig {
	return logging.LogConfig{
		Level:      c.Log.Level,
		Console:    c.Log.Console,
		File:       c.Log.File,
		FilePath:   c.Log.FilePath,
		MaxSize:    c.Log.MaxSize,
		MaxBackups: c.Log.MaxBackups,
		MaxAge:     c.Log.MaxAge,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	e := c.Engine
	switch {
	case e.InitialCapital <= 0:
		return apperrors.NewValidationError("engine.initial_capital", e.InitialCapital, "must be positive")
	case e.RiskPerTradePct <= 0 || e.RiskPerTradePct > 100:
		return apperrors.NewValidationError("engine.risk_per_trade_pct", e.RiskPerTradePct, "must be in (0, 100]")
	case e.CommissionPct < 0 || e.CommissionPct >= 100:
		return apperrors.NewValidationError("engine.commission_pct", e.CommissionPct, "must be in [0, 100)")
	case e.MaxPositions < 1:
		return apperrors.NewValidationError("engine.max_positions", e.MaxPositions, "must be at least 1")
	case e.MinConfidence < 0 || e.MinConfidence > 100:
		return apperrors.NewValidationError("engine.min_confidence", e.MinConfidence, "must be in [0, 100]")
	case e.MinStopPct <= 0 || e.MinStopPct >= 100:
		return apperrors.NewValidationError("engine.min_stop_pct", e.MinStopPct, "must be in (0, 100)")
	case e.MaxCashUtilization <= 0 || e.MaxCashUtilization > 1:
		return apperrors.NewValidationError("engine.max_cash_utilization", e.MaxCashUtilization, "must be in (0, 1]")
	case e.MaxPositionValue < 0:
		return apperrors.NewValidationError("engine.max_position_value", e.MaxPositionValue, "must not be negative")
	case e.MaxHoldingDays < 1:
		return apperrors.NewValidationError("engine.max_holding_days", e.MaxHoldingDays, "must be at least 1")
	case len(e.Watchlist) == 0:
		return apperrors.NewValidationError("engine.watchlist", e.Watchlist, "must not be empty")
	}

	switch c.PriceSource.Mode {
	case ModeKite, ModeSimulated, ModeAuto:
	default:
		return apperrors.NewValidationError("price_source.mode", c.PriceSource.Mode, "must be kite, simulated or auto")
	}
	if c.PriceSource.RequestsPerSecond <= 0 {
		return apperrors.NewValidationError("price_source.requests_per_second", c.PriceSource.RequestsPerSecond, "must be positive")
	}
	if c.PriceSource.Concurrency < 1 {
		return apperrors.NewValidationError("price_source.concurrency", c.PriceSource.Concurrency, "must be at least 1")
	}

	if _, err := CronParser.Parse(c.Schedule.Cron); err != nil {
		return apperrors.NewValidationError("schedule.cron", c.Schedule.Cron, err.Error())
	}

	switch c.Notifications.Level {
	case "", "all", "trades_only", "errors_only":
	default:
		return apperrors.NewValidationError("notifications.level", c.Notifications.Level, "must be all, trades_only or errors_only")
	}

	return nil
}

// HasKiteCredentials reports whether a Kite API key and secret are configured.
func (c *Config) HasKiteCredentials() bool {
	return c.Credentials.Zerodha.APIKey != "" && c.Credentials.Zerodha.APISecret != ""
}
