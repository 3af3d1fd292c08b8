package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"paper-trader/pkg/utils"
)

// formatMoney formats a configured float amount as rupees.
func formatMoney(amount float64) string {
	return utils.FormatINR(decimal.NewFromFloat(amount))
}

func formatPrice(price decimal.Decimal) string {
	if price.IsZero() {
		return "-"
	}
	return price.StringFixed(2)
}

func formatDateTime(t time.Time) string {
	return t.In(utils.IndiaLocation).Format("02-Jan-2006 15:04")
}

// formatDuration formats a duration in human-readable form.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

// truncate shortens s to max runes with an ellipsis.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

func joinReasons(reasons []string) string {
	return strings.Join(reasons, "; ")
}
