package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// TerminalChannel prints notifications to a terminal. The scheduler uses it
// so a foreground session shows trades as they happen.
type TerminalChannel struct {
	mu      sync.Mutex
	out     io.Writer
	bell    bool
	enabled bool
}

// NewTerminalChannel writes to out.
func NewTerminalChannel(out io.Writer, bell bool) *TerminalChannel {
	return &TerminalChannel{out: out, bell: bell, enabled: true}
}

func (t *TerminalChannel) Name() string    { return "terminal" }
func (t *TerminalChannel) IsEnabled() bool { return t.enabled }

func (t *TerminalChannel) Send(ctx context.Context, n Notification) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bell && (n.Type == NotificationTrade || n.Type == NotificationExit || n.Type == NotificationError) {
		fmt.Fprint(t.out, "\a")
	}
	_, err := fmt.Fprintln(t.out, FormatTerminal(n))
	return err
}

// FormatTerminal renders n as a coloured block.
func FormatTerminal(n Notification) string {
	var c *color.Color
	var icon string
	switch n.Type {
	case NotificationTrade:
		c, icon = color.New(color.FgGreen, color.Bold), "●"
	case NotificationExit:
		c, icon = color.New(color.FgYellow, color.Bold), "◆"
	case NotificationError:
		c, icon = color.New(color.FgRed, color.Bold), "✖"
	case NotificationState:
		c, icon = color.New(color.FgMagenta, color.Bold), "■"
	default:
		c, icon = color.New(color.FgCyan), "○"
	}

	var sb strings.Builder
	ts := ""
	if !n.Timestamp.IsZero() {
		ts = color.New(color.Faint).Sprint(n.Timestamp.Format("15:04:05")) + " "
	}
	sb.WriteString(ts + c.Sprintf("%s %s", icon, n.Title))
	for _, line := range strings.Split(n.Message, "\n") {
		if line == "" {
			continue
		}
		sb.WriteString("\n    " + line)
	}
	return sb.String()
}
