package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"paper-trader/internal/models"
)

// ============================================================================
// Signal journal
// ============================================================================

// RecordSignal journals a signal as received and returns its id.
func (s *SQLiteStore) RecordSignal(ctx context.Context, sig models.Signal) (int64, error) {
	reasons, err := json.Marshal(sig.Reasons)
	if err != nil {
		return 0, fmt.Errorf("failed to encode reasons: %w", err)
	}
	ts := sig.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trading_signals (timestamp, symbol, action, confidence, price, reasons, executed)
		VALUES (?, ?, ?, ?, ?, ?, 0)
	`, formatTimestamp(ts), sig.Symbol, string(sig.Action), sig.Confidence, sig.Price, string(reasons))
	if err != nil {
		return 0, fmt.Errorf("failed to insert signal: %w", err)
	}
	return res.LastInsertId()
}

// MarkSignalExecuted flags a journaled signal as acted upon.
func (s *SQLiteStore) MarkSignalExecuted(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE trading_signals SET executed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark signal executed: %w", err)
	}
	return nil
}

// QuerySignals returns journaled signals since the given time, newest first.
func (s *SQLiteStore) QuerySignals(ctx context.Context, since time.Time) ([]models.SignalRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, symbol, action, confidence, price, reasons, executed
		FROM trading_signals WHERE timestamp >= ?
		ORDER BY timestamp DESC, id DESC
	`, formatTimestamp(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var out []models.SignalRecord
	for rows.Next() {
		var (
			r       models.SignalRecord
			ts      string
			action  string
			reasons string
		)
		if err := rows.Scan(&r.ID, &ts, &r.Symbol, &action, &r.Confidence, &r.Price, &reasons, &r.Executed); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		if r.Timestamp, err = parseTimestamp(ts); err != nil {
			return nil, fmt.Errorf("failed to parse signal timestamp %q: %w", ts, err)
		}
		if err := json.Unmarshal([]byte(reasons), &r.Reasons); err != nil {
			return nil, fmt.Errorf("failed to decode reasons: %w", err)
		}
		r.Action = models.Action(action)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating signals: %w", err)
	}
	return out, nil
}

// ============================================================================
// Engine state
// ============================================================================

// GetState returns the value for key and whether it exists.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM engine_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get state %s: %w", key, err)
	}
	return value, true, nil
}

// SetState upserts a key.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engine_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, formatTimestamp(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to set state %s: %w", key, err)
	}
	return nil
}

// ============================================================================
// Candle cache
// ============================================================================

// SaveCandles upserts candles for symbol and timeframe in one transaction.
func (s *SQLiteStore) SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, timeframe, timestamp, open, high, low, close, volume, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	fetched := formatTimestamp(time.Now())
	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, symbol, timeframe, formatTimestamp(c.Timestamp),
			c.Open, c.High, c.Low, c.Close, c.Volume, fetched)
		if err != nil {
			return fmt.Errorf("failed to insert candle: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetCandles retrieves candles in [from, to], oldest first.
func (s *SQLiteStore) GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, symbol, timeframe, formatTimestamp(from), formatTimestamp(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var (
			c  models.Candle
			ts string
		)
		if err := rows.Scan(&ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		if c.Timestamp, err = parseTimestamp(ts); err != nil {
			return nil, fmt.Errorf("failed to parse candle timestamp %q: %w", ts, err)
		}
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candles: %w", err)
	}
	return candles, nil
}

// CandlesFreshness returns when candles for symbol were last fetched.
// The zero time means nothing is cached.
func (s *SQLiteStore) CandlesFreshness(ctx context.Context, symbol, timeframe string) (time.Time, error) {
	var fetched sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(fetched_at) FROM candles WHERE symbol = ? AND timeframe = ?
	`, symbol, timeframe).Scan(&fetched)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("failed to get candles freshness: %w", err)
	}
	if !fetched.Valid {
		return time.Time{}, nil
	}
	return parseTimestamp(fetched.String)
}
