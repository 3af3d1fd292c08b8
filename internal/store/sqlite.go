package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	apperrors "paper-trader/internal/errors"
	"paper-trader/internal/models"
	"paper-trader/pkg/utils"
)

// SQLiteStore implements TradeStore and CandleCache using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ TradeStore  = (*SQLiteStore)(nil)
	_ CandleCache = (*SQLiteStore)(nil)
)

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
// Timestamps and money are TEXT; see timestampLayout.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS paper_trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		symbol TEXT NOT NULL,
		action TEXT NOT NULL CHECK (action IN ('BUY', 'SELL')),
		price TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		amount TEXT NOT NULL,
		commission TEXT NOT NULL,
		pnl TEXT NOT NULL,
		portfolio_value TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		stop_loss TEXT NOT NULL,
		target_price TEXT NOT NULL
	);

	CREATE TRIGGER IF NOT EXISTS paper_trades_no_update
	BEFORE UPDATE ON paper_trades
	BEGIN
		SELECT RAISE(ABORT, 'paper_trades is append-only');
	END;

	CREATE TRIGGER IF NOT EXISTS paper_trades_no_delete
	BEFORE DELETE ON paper_trades
	BEGIN
		SELECT RAISE(ABORT, 'paper_trades is append-only');
	END;

	CREATE TABLE IF NOT EXISTS portfolio_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		cash TEXT NOT NULL,
		position_value TEXT NOT NULL,
		total_value TEXT NOT NULL,
		daily_pnl TEXT NOT NULL,
		total_pnl TEXT NOT NULL,
		positions_count INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trading_signals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		symbol TEXT NOT NULL,
		action TEXT NOT NULL,
		confidence REAL NOT NULL,
		price TEXT NOT NULL,
		reasons TEXT NOT NULL DEFAULT '[]',
		executed INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS engine_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS candles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		fetched_at TEXT NOT NULL,
		UNIQUE(symbol, timeframe, timestamp)
	);

	CREATE INDEX IF NOT EXISTS idx_paper_trades_timestamp ON paper_trades(timestamp);
	CREATE INDEX IF NOT EXISTS idx_paper_trades_symbol ON paper_trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON portfolio_snapshots(timestamp);
	CREATE INDEX IF NOT EXISTS idx_signals_timestamp ON trading_signals(timestamp);
	CREATE INDEX IF NOT EXISTS idx_candles_symbol_tf ON candles(symbol, timeframe, timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ============================================================================
// Trades
// ============================================================================

const tradeColumns = `id, timestamp, symbol, action, price, quantity, amount, commission,
	pnl, portfolio_value, reason, stop_loss, target_price`

// AppendTrade inserts rec in a single transaction and sets rec.ID.
func (s *SQLiteStore) AppendTrade(ctx context.Context, rec *models.TradeRecord) (int64, error) {
	if rec == nil {
		return 0, apperrors.NewPersistenceError("append_trade", "", fmt.Errorf("nil trade record"))
	}
	rec.Timestamp = rec.Timestamp.Truncate(time.Microsecond)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperrors.NewPersistenceError("append_trade", rec.Symbol, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO paper_trades (timestamp, symbol, action, price, quantity, amount, commission,
			pnl, portfolio_value, reason, stop_loss, target_price)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, formatTimestamp(rec.Timestamp), rec.Symbol, string(rec.Action), rec.Price, rec.Quantity,
		rec.Amount, rec.Commission, rec.PnL, rec.PortfolioValue, rec.Reason, rec.StopLoss, rec.TargetPrice)
	if err != nil {
		return 0, apperrors.NewPersistenceError("append_trade", rec.Symbol, fmt.Errorf("failed to insert trade: %w", err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperrors.NewPersistenceError("append_trade", rec.Symbol, fmt.Errorf("failed to read trade id: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return 0, apperrors.NewPersistenceError("append_trade", rec.Symbol, fmt.Errorf("failed to commit transaction: %w", err))
	}

	rec.ID = id
	return id, nil
}

// QueryTrades returns trades with since <= timestamp < until, newest first.
// A zero until means no upper bound.
func (s *SQLiteStore) QueryTrades(ctx context.Context, since, until time.Time) ([]models.TradeRecord, error) {
	query := `SELECT ` + tradeColumns + ` FROM paper_trades WHERE timestamp >= ?`
	args := []interface{}{formatTimestamp(since)}
	if !until.IsZero() {
		query += ` AND timestamp < ?`
		args = append(args, formatTimestamp(until))
	}
	query += ` ORDER BY timestamp DESC, id DESC`

	return s.queryTrades(ctx, query, args...)
}

// AllTrades returns every trade in append order.
func (s *SQLiteStore) AllTrades(ctx context.Context) ([]models.TradeRecord, error) {
	return s.queryTrades(ctx, `SELECT `+tradeColumns+` FROM paper_trades ORDER BY id ASC`)
}

// GetTrade returns a single trade by id.
func (s *SQLiteStore) GetTrade(ctx context.Context, id int64) (*models.TradeRecord, error) {
	trades, err := s.queryTrades(ctx, `SELECT `+tradeColumns+` FROM paper_trades WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(trades) == 0 {
		return nil, fmt.Errorf("trade %d: %w", id, apperrors.ErrDataNotFound)
	}
	return &trades[0], nil
}

func (s *SQLiteStore) queryTrades(ctx context.Context, query string, args ...interface{}) ([]models.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.TradeRecord
	for rows.Next() {
		var (
			t      models.TradeRecord
			ts     string
			action string
		)
		if err := rows.Scan(&t.ID, &ts, &t.Symbol, &action, &t.Price, &t.Quantity, &t.Amount,
			&t.Commission, &t.PnL, &t.PortfolioValue, &t.Reason, &t.StopLoss, &t.TargetPrice); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		if t.Timestamp, err = parseTimestamp(ts); err != nil {
			return nil, fmt.Errorf("failed to parse trade timestamp %q: %w", ts, err)
		}
		t.Action = models.Action(action)
		trades = append(trades, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return trades, nil
}

// DailyPnL sums realized P&L for trades within the IST calendar day of date.
func (s *SQLiteStore) DailyPnL(ctx context.Context, date time.Time) (decimal.Decimal, error) {
	start, end := utils.DayBounds(date)
	return s.sumPnL(ctx, `SELECT pnl FROM paper_trades WHERE timestamp >= ? AND timestamp < ?`,
		formatTimestamp(start), formatTimestamp(end))
}

// dailyPnLByDate is DailyPnL expressed as a DATE() equality. The two must agree.
func (s *SQLiteStore) dailyPnLByDate(ctx context.Context, date time.Time) (decimal.Decimal, error) {
	return s.sumPnL(ctx, `SELECT pnl FROM paper_trades WHERE DATE(timestamp) = ?`, formatDate(date))
}

func (s *SQLiteStore) sumPnL(ctx context.Context, query string, args ...interface{}) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query daily pnl: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var pnl decimal.Decimal
		if err := rows.Scan(&pnl); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan pnl: %w", err)
		}
		total = total.Add(pnl)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("error iterating pnl: %w", err)
	}
	return total, nil
}

// ============================================================================
// Snapshots
// ============================================================================

// AppendSnapshot records a point-in-time view of the ledger.
func (s *SQLiteStore) AppendSnapshot(ctx context.Context, snap *models.Snapshot) error {
	snap.Timestamp = snap.Timestamp.Truncate(time.Microsecond)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO portfolio_snapshots (timestamp, cash, position_value, total_value, daily_pnl, total_pnl, positions_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, formatTimestamp(snap.Timestamp), snap.Cash, snap.PositionValue, snap.TotalValue,
		snap.DailyPnL, snap.TotalPnL, snap.PositionsCount)
	if err != nil {
		return apperrors.NewPersistenceError("append_snapshot", "", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		snap.ID = id
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot, or nil when none exist.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context) (*models.Snapshot, error) {
	return s.querySnapshot(ctx, `
		SELECT id, timestamp, cash, position_value, total_value, daily_pnl, total_pnl, positions_count
		FROM portfolio_snapshots ORDER BY timestamp DESC, id DESC LIMIT 1
	`)
}

// LastSnapshotBefore returns the newest snapshot strictly before t, or nil.
func (s *SQLiteStore) LastSnapshotBefore(ctx context.Context, t time.Time) (*models.Snapshot, error) {
	return s.querySnapshot(ctx, `
		SELECT id, timestamp, cash, position_value, total_value, daily_pnl, total_pnl, positions_count
		FROM portfolio_snapshots WHERE timestamp < ? ORDER BY timestamp DESC, id DESC LIMIT 1
	`, formatTimestamp(t))
}

func (s *SQLiteStore) querySnapshot(ctx context.Context, query string, args ...interface{}) (*models.Snapshot, error) {
	var (
		snap models.Snapshot
		ts   string
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&snap.ID, &ts, &snap.Cash, &snap.PositionValue,
		&snap.TotalValue, &snap.DailyPnL, &snap.TotalPnL, &snap.PositionsCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	if snap.Timestamp, err = parseTimestamp(ts); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot timestamp %q: %w", ts, err)
	}
	return &snap, nil
}
