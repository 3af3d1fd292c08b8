// Package security holds the trading gate, the audit trail and the
// encrypted Kite token vault.
package security

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// AuditEventType represents the type of audit event.
type AuditEventType string

const (
	AuditEnginePaused       AuditEventType = "ENGINE_PAUSED"
	AuditEngineResumed      AuditEventType = "ENGINE_RESUMED"
	AuditCycleCompleted     AuditEventType = "CYCLE_COMPLETED"
	AuditCycleRejected      AuditEventType = "CYCLE_REJECTED"
	AuditTradeExecuted      AuditEventType = "TRADE_EXECUTED"
	AuditPersistenceFailure AuditEventType = "PERSISTENCE_FAILURE"
	AuditTokenStored        AuditEventType = "TOKEN_STORED"
)

// AuditEvent is one JSON line in the audit log.
type AuditEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType AuditEventType         `json:"event_type"`
	SessionID string                 `json:"session_id"`
	CycleID   string                 `json:"cycle_id,omitempty"`
	Symbol    string                 `json:"symbol,omitempty"`
	Action    string                 `json:"action,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Success   bool                   `json:"success"`
	ErrorMsg  string                 `json:"error,omitempty"`
}

// Auditor records audit events.
type Auditor interface {
	Log(ctx context.Context, event AuditEvent) error
}

// AuditConfig holds audit logger configuration.
type AuditConfig struct {
	Path       string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// DefaultAuditConfig keeps a year of audit history next to path.
func DefaultAuditConfig(path string) AuditConfig {
	return AuditConfig{
		Path:       path,
		MaxSize:    50,
		MaxBackups: 30,
		MaxAge:     365,
		Compress:   true,
	}
}

// AuditLogger writes JSON-lines audit events to a rotating file.
type AuditLogger struct {
	mu        sync.Mutex
	writer    *lumberjack.Logger
	sessionID string
}

// NewAuditLogger creates the audit directory and opens the log.
func NewAuditLogger(cfg AuditConfig) (*AuditLogger, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}
	return &AuditLogger{
		writer: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		},
		sessionID: uuid.NewString(),
	}, nil
}

// SessionID identifies this process in the audit trail.
func (al *AuditLogger) SessionID() string { return al.sessionID }

// Log appends event to the audit log.
func (al *AuditLogger) Log(ctx context.Context, event AuditEvent) error {
	al.mu.Lock()
	defer al.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.SessionID = al.sessionID

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("serializing audit event: %w", err)
	}
	if _, err := al.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	return nil
}

// Close closes the audit logger.
func (al *AuditLogger) Close() error {
	return al.writer.Close()
}

// NopAuditor drops every event. Used when auditing is disabled.
type NopAuditor struct{}

func (NopAuditor) Log(ctx context.Context, event AuditEvent) error { return nil }
