package output

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Bar renders a horizontal bar for a 0-100 percentage.
// Example: "████░░░░░░ 40.0%"
func Bar(pct float64, width int) string {
	if width <= 0 {
		width = 20
	}
	filled := int(pct / 100.0 * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return fmt.Sprintf("%s %s", StyleHeader.Render(bar), StyleMuted.Render(fmt.Sprintf("%5.1f%%", pct)))
}

// TrendArrow returns a styled trend indicator for a delta value.
// Positive delta shows an up arrow, negative shows down, zero shows a dash.
func TrendArrow(delta float64, higherIsBetter bool) string {
	if delta == 0 {
		return StyleMuted.Render("─")
	}

	var arrow string
	if delta > 0 {
		arrow = fmt.Sprintf("▲ +%.1f", delta)
	} else {
		arrow = fmt.Sprintf("▼ %.1f", delta)
	}
	return styleTrend(delta, higherIsBetter).Render(arrow)
}

// TrendArrowPercent returns a styled trend indicator for a delta between
// two percentages.
func TrendArrowPercent(delta float64, higherIsBetter bool) string {
	if delta == 0 {
		return StyleMuted.Render("─")
	}

	var arrow string
	if delta > 0 {
		arrow = fmt.Sprintf("▲ +%.1f pp", delta)
	} else {
		arrow = fmt.Sprintf("▼ %.1f pp", delta)
	}
	return styleTrend(delta, higherIsBetter).Render(arrow)
}

func styleTrend(delta float64, higherIsBetter bool) lipgloss.Style {
	if (delta > 0) == higherIsBetter {
		return StyleSuccess
	}
	return StyleError
}

// Section returns a styled section header with a horizontal rule.
func Section(title string) string {
	header := StyleHeader.Render(title)
	rule := StyleMuted.Render(strings.Repeat("─", 66))
	return fmt.Sprintf("\n %s\n %s", header, rule)
}

// KeyValue returns one aligned " label  value" line.
func KeyValue(label, value string) string {
	return " " + StyleLabel.Render(label) + StyleValue.Render(value)
}
