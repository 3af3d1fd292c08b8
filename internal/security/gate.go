package security

import (
	"context"
	"fmt"
	"time"

	"paper-trader/internal/store"
)

// Engine state keys.
const (
	StatePaused      = "trading_paused"
	StatePauseReason = "pause_reason"
	StatePausedAt    = "paused_at"
)

// TradingGate is the persisted emergency stop.
type TradingGate struct {
	state store.StateStore
	audit Auditor
	now   func() time.Time
}

// NewTradingGate creates a gate backed by state. audit may be nil.
func NewTradingGate(state store.StateStore, audit Auditor) *TradingGate {
	if audit == nil {
		audit = NopAuditor{}
	}
	return &TradingGate{state: state, audit: audit, now: time.Now}
}

// IsPaused reports whether trading is stopped. An unreadable state counts
// as paused, and the read error is returned alongside.
func (g *TradingGate) IsPaused(ctx context.Context) (bool, error) {
	v, ok, err := g.state.GetState(ctx, StatePaused)
	if err != nil {
		return true, fmt.Errorf("reading pause state: %w", err)
	}
	return ok && v == "true", nil
}

// Reason returns the reason recorded with the last pause.
func (g *TradingGate) Reason(ctx context.Context) string {
	v, _, err := g.state.GetState(ctx, StatePauseReason)
	if err != nil {
		return ""
	}
	return v
}

// Pause stops new cycles and manual executions.
func (g *TradingGate) Pause(ctx context.Context, reason string) error {
	if reason == "" {
		reason = "manual pause"
	}
	if err := g.state.SetState(ctx, StatePauseReason, reason); err != nil {
		return err
	}
	if err := g.state.SetState(ctx, StatePausedAt, g.now().Format(time.RFC3339)); err != nil {
		return err
	}
	if err := g.state.SetState(ctx, StatePaused, "true"); err != nil {
		return err
	}
	_ = g.audit.Log(ctx, AuditEvent{
		EventType: AuditEnginePaused,
		Success:   true,
		Details:   map[string]interface{}{"reason": reason},
	})
	return nil
}

// Resume re-enables trading.
func (g *TradingGate) Resume(ctx context.Context) error {
	if err := g.state.SetState(ctx, StatePaused, "false"); err != nil {
		return err
	}
	if err := g.state.SetState(ctx, StatePauseReason, ""); err != nil {
		return err
	}
	_ = g.audit.Log(ctx, AuditEvent{EventType: AuditEngineResumed, Success: true})
	return nil
}
