package telegram

import (
	"fmt"
	"strings"
	"time"

	"github.com/rewired-gh/momentumscan/internal/models"
)

// WelcomeInfo summarizes the running configuration for the startup message.
type WelcomeInfo struct {
	Target          models.InstrumentType
	Mode            string
	Interval        models.Interval
	Period          int
	ThresholdPct    float64
	TopN            int
	RefreshInterval time.Duration
	DataInterval    time.Duration
}

// FormatAlert renders an alert as a MarkdownV2 message.
func FormatAlert(event models.AlertEvent) string {
	emoji := "📈"
	if event.Direction == models.Bearish {
		emoji = "📉"
	}
	c := event.Contract

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s* %s\n", emoji, escapeMarkdownV2(string(event.Direction)), escapeMarkdownV2(c.InstrumentType.Short()))
	fmt.Fprintf(&b, "*%s* \\(%s\\) · %s\n",
		escapeMarkdownV2(c.TradingSymbol), escapeMarkdownV2(string(c.Exchange)), escapeMarkdownV2(string(c.Category)))
	fmt.Fprintf(&b, "LTP: %s · Open: %s · Move: *%s*\n",
		escapeMarkdownV2(fmt.Sprintf("%.2f", event.LastPrice)),
		escapeMarkdownV2(fmt.Sprintf("%.2f", event.Open)),
		escapeMarkdownV2(fmt.Sprintf("%+.2f%%", event.PercentMove)))
	if event.EMA > 0 || event.VWAP > 0 {
		fmt.Fprintf(&b, "EMA: %s · VWAP: %s\n",
			escapeMarkdownV2(fmt.Sprintf("%.2f", event.EMA)),
			escapeMarkdownV2(fmt.Sprintf("%.2f", event.VWAP)))
	}
	for _, r := range event.Reasons {
		fmt.Fprintf(&b, "✅ %s\n", escapeMarkdownV2(r.Text))
	}
	if !event.EmittedAt.IsZero() {
		fmt.Fprintf(&b, "🕒 %s", escapeMarkdownV2(event.EmittedAt.Format("2006-01-02 15:04:05")))
	}
	return b.String()
}

// FormatWelcome renders the startup message.
func FormatWelcome(info WelcomeInfo) string {
	var b strings.Builder
	b.WriteString("🚀 *Momentum scanner started*\n\n")
	fmt.Fprintf(&b, "Target: %s\n", escapeMarkdownV2(string(info.Target)))
	fmt.Fprintf(&b, "Mode: %s\n", escapeMarkdownV2(info.Mode))
	fmt.Fprintf(&b, "Interval: %s\n", escapeMarkdownV2(info.Interval.Label()))
	fmt.Fprintf(&b, "EMA/VWAP period: %d\n", info.Period)
	fmt.Fprintf(&b, "Threshold: %s\n", escapeMarkdownV2(fmt.Sprintf("%.2f%%", info.ThresholdPct)))
	fmt.Fprintf(&b, "Top movers: %d per side\n", info.TopN)
	fmt.Fprintf(&b, "Refresh every %s, data every %s",
		escapeMarkdownV2(info.RefreshInterval.String()), escapeMarkdownV2(info.DataInterval.String()))
	return b.String()
}

// FormatCustom renders an operator message.
func FormatCustom(text string) string {
	return "📣 " + escapeMarkdownV2(text)
}

// FormatError renders a cycle failure notice.
// Send it only on the first failure of a consecutive sequence.
func FormatError(cycle string, cycleErr error) string {
	return fmt.Sprintf("⚠️ *%s cycle error*\n`%s`", escapeMarkdownV2(cycle), escapeMarkdownV2(cycleErr.Error()))
}

// FormatRecovery renders a recovery notice after consecutive failures.
func FormatRecovery(cycle string, failureCount int) string {
	return fmt.Sprintf("✅ *%s cycle recovered* after %d consecutive failure\\(s\\)", escapeMarkdownV2(cycle), failureCount)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
