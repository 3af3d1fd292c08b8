package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Paper Trader Configuration

[engine]
# Starting virtual cash in INR
initial_capital = 100000.0
# Cash put at risk per trade, percent of available cash
risk_per_trade_pct = 2.0
# Commission per side, percent of trade value
commission_pct = 0.1
# Maximum concurrent open positions
max_positions = 5
# Signals below this confidence are ignored (0-100)
min_confidence = 60.0
# Floor on stop distance, percent of price
min_stop_pct = 2.0
# Fraction of cash a single entry may consume
max_cash_utilization = 0.9
# Largest notional for a single entry in INR; 0 means no cap
max_position_value = 0.0
# Positions older than this are closed
max_holding_days = 10
# Daily profit goal in INR, used for progress reporting
daily_profit_target = 3000.0
# Defaults for signals without stop loss or target
default_stop_loss_pct = 5.0
default_target_pct = 10.0
# Symbols scanned each cycle
watchlist = ["RELIANCE", "TCS", "INFY", "HDFCBANK", "ICICIBANK"]
# Skip cycles outside NSE hours (run-cycle --force overrides)
require_market_open = true

[price_source]
# kite, simulated or auto (kite when credentials and a token exist)
mode = "auto"
exchange = "NSE"
requests_per_second = 3.0
burst = 3
timeout = "5s"
concurrency = 4
history_days = 90
cache_ttl = "6h"
# Seed for the simulated feed, 0 picks one from the clock
seed = 0
breaker_failures = 5
breaker_cooldown = "30s"

[schedule]
# Cron spec with a seconds field, evaluated in Asia/Kolkata
cron = "0 15,45 9-15 * * MON-FRI"

[storage]
# Empty means <config dir>/paper_trading.db
db_path = ""

[log]
level = "info"
console = true
file = true
file_path = ""
max_size = 100
max_backups = 7
max_age = 30

[security]
audit_enabled = true
audit_path = ""

[notifications]
enabled = false
# all, trades_only, errors_only
level = "all"
queue_size = 64

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
enabled = false
bot_token = ""
chat_id = ""

[notifications.email]
enabled = false
smtp_host = ""
smtp_port = 587
username = ""
password = ""
from = ""
to = ""
`

const credentialsTemplate = `# Paper Trader Credentials
# WARNING: Keep this file secure! Do not commit to version control.

[zerodha]
api_key = ""
api_secret = ""
user_id = ""

[vault]
# Protects the stored Kite access token. PAPER_TRADER_VAULT_KEY overrides.
passphrase = ""
`

func createTemplate(configDir, name, body string, perm os.FileMode) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name)
	if err := os.WriteFile(path, []byte(body), perm); err != nil {
		return fmt.Errorf("writing %s template: %w", name, err)
	}
	return nil
}

// TemplatePaths lists the files Load manages inside a config directory.
func TemplatePaths(configDir string) []string {
	return []string{
		filepath.Join(configDir, "config.toml"),
		filepath.Join(configDir, "credentials.toml"),
	}
}
