// Package notify delivers engine events to external channels.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"

	"paper-trader/internal/config"
	"paper-trader/internal/models"
	"paper-trader/pkg/utils"
)

// Notifier accepts engine notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Channel is a single delivery channel.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification is a message plus structured data.
type Notification struct {
	Type      NotificationType       `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationTrade   NotificationType = "trade"
	NotificationExit    NotificationType = "exit"
	NotificationSummary NotificationType = "summary"
	NotificationError   NotificationType = "error"
	NotificationState   NotificationType = "state"
)

// NotificationLevel filters what reaches the channels.
type NotificationLevel string

const (
	LevelAll        NotificationLevel = "all"
	LevelTradesOnly NotificationLevel = "trades_only"
	LevelErrorsOnly NotificationLevel = "errors_only"
)

// Allows reports whether a notification of type t passes the level.
func (l NotificationLevel) Allows(t NotificationType) bool {
	switch l {
	case LevelTradesOnly:
		return t == NotificationTrade || t == NotificationExit
	case LevelErrorsOnly:
		return t == NotificationError
	default:
		return true
	}
}

// MultiNotifier fans a notification out to every enabled channel.
type MultiNotifier struct {
	mu       sync.RWMutex
	channels []Channel
	level    NotificationLevel
}

// NewMultiNotifier builds the channels enabled in cfg.
func NewMultiNotifier(cfg config.NotificationConfig) *MultiNotifier {
	mn := &MultiNotifier{level: NotificationLevel(cfg.Level)}
	if mn.level == "" {
		mn.level = LevelAll
	}
	if cfg.Webhook.Enabled {
		mn.channels = append(mn.channels, NewWebhookChannel(cfg.Webhook))
	}
	if cfg.Telegram.Enabled {
		mn.channels = append(mn.channels, NewTelegramChannel(cfg.Telegram))
	}
	if cfg.Email.Enabled {
		mn.channels = append(mn.channels, NewEmailChannel(cfg.Email))
	}
	return mn
}

// AddChannel adds a delivery channel.
func (mn *MultiNotifier) AddChannel(ch Channel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// Len returns the number of configured channels.
func (mn *MultiNotifier) Len() int {
	mn.mu.RLock()
	defer mn.mu.RUnlock()
	return len(mn.channels)
}

// Notify sends n to all enabled channels. Channel failures are combined;
// one failing channel never stops the others.
func (mn *MultiNotifier) Notify(ctx context.Context, n Notification) error {
	if !mn.level.Allows(n.Type) {
		return nil
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	mn.mu.RLock()
	channels := append([]Channel(nil), mn.channels...)
	mn.mu.RUnlock()

	var err error
	for _, ch := range channels {
		if !ch.IsEnabled() {
			continue
		}
		if sendErr := ch.Send(ctx, n); sendErr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", ch.Name(), sendErr))
		}
	}
	return err
}

// NoOpNotifier discards everything.
type NoOpNotifier struct{}

func (NoOpNotifier) Notify(ctx context.Context, n Notification) error { return nil }

// TradeExecuted describes a BUY or manual SELL.
func TradeExecuted(rec models.TradeRecord) Notification {
	data := map[string]interface{}{
		"symbol":          rec.Symbol,
		"action":          rec.Action,
		"quantity":        rec.Quantity,
		"price":           rec.Price.StringFixed(2),
		"commission":      rec.Commission.StringFixed(2),
		"portfolio_value": rec.PortfolioValue.StringFixed(2),
	}
	msg := fmt.Sprintf("%s %s %s @ %s\nCommission: %s\nPortfolio: %s",
		rec.Action, utils.FormatQuantity(rec.Quantity), rec.Symbol, utils.FormatINR(rec.Price),
		utils.FormatINR(rec.Commission), utils.FormatINR(rec.PortfolioValue))
	if rec.Action == models.ActionBuy {
		msg += fmt.Sprintf("\nStop: %s  Target: %s", utils.FormatINR(rec.StopLoss), utils.FormatINR(rec.TargetPrice))
		data["stop_loss"] = rec.StopLoss.StringFixed(2)
		data["target_price"] = rec.TargetPrice.StringFixed(2)
	} else {
		msg += "\nP&L: " + utils.FormatPnL(rec.PnL)
		data["pnl"] = rec.PnL.StringFixed(2)
	}
	if rec.Reason != "" {
		msg += "\nReason: " + rec.Reason
	}
	return Notification{
		Type:      NotificationTrade,
		Title:     fmt.Sprintf("Paper %s: %s", rec.Action, rec.Symbol),
		Message:   msg,
		Data:      data,
		Timestamp: rec.Timestamp,
	}
}

// ExitExecuted describes an automatic exit.
func ExitExecuted(rec models.TradeRecord) Notification {
	n := TradeExecuted(rec)
	n.Type = NotificationExit
	n.Title = fmt.Sprintf("Exit %s: %s", rec.Symbol, rec.Reason)
	return n
}

// CycleSummary describes a finished trading cycle.
func CycleSummary(res models.CycleResult) Notification {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Status: %s\n", res.Status)
	fmt.Fprintf(&sb, "Signals: %d  Trades: %d  Exits: %d\n", res.SignalsGenerated, res.TradesExecuted, res.ExitsExecuted)
	fmt.Fprintf(&sb, "Portfolio: %s  Cash: %s  Positions: %d", utils.FormatINR(res.PortfolioValue), utils.FormatINR(res.Cash), res.Positions)
	return Notification{
		Type:    NotificationSummary,
		Title:   "Trading cycle " + string(res.Status),
		Message: sb.String(),
		Data: map[string]interface{}{
			"cycle_id":        res.CycleID,
			"status":          res.Status,
			"signals":         res.SignalsGenerated,
			"trades":          res.TradesExecuted,
			"exits":           res.ExitsExecuted,
			"portfolio_value": res.PortfolioValue.StringFixed(2),
			"cash":            res.Cash.StringFixed(2),
			"positions":       res.Positions,
		},
		Timestamp: res.StartedAt.Add(res.Duration),
	}
}

// Failure describes an error the operator must see.
func Failure(operation string, err error) Notification {
	return Notification{
		Type:    NotificationError,
		Title:   "Paper trading error",
		Message: fmt.Sprintf("Operation: %s\nError: %v", operation, err),
		Data: map[string]interface{}{
			"operation": operation,
			"error":     err.Error(),
		},
	}
}

// EngineState describes a pause or resume.
func EngineState(paused bool, reason string) Notification {
	title := "Trading resumed"
	if paused {
		title = "Trading paused"
	}
	msg := title
	if reason != "" {
		msg += ": " + reason
	}
	return Notification{
		Type:    NotificationState,
		Title:   title,
		Message: msg,
		Data:    map[string]interface{}{"paused": paused, "reason": reason},
	}
}
