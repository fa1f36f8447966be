// Package output provides styled terminal rendering helpers for chatlens.
package output

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Color constants for consistent styling across the CLI.
var (
	// ColorPrimary is used for headers and emphasis.
	ColorPrimary = lipgloss.Color("#64b5f6")

	// ColorSuccess is used for positive indicators and improvements.
	ColorSuccess = lipgloss.Color("#66bb6a")

	// ColorError is used for negative indicators and regressions.
	ColorError = lipgloss.Color("#ef5350")

	// ColorWarning is used for caution indicators.
	ColorWarning = lipgloss.Color("#fff59d")

	// ColorMuted is used for secondary text and borders.
	ColorMuted = lipgloss.Color("#888888")
)

// Styles provides reusable lipgloss styles.
var (
	// StyleHeader is used for section headers.
	StyleHeader lipgloss.Style

	// StyleSuccess is used for positive values.
	StyleSuccess lipgloss.Style

	// StyleError is used for negative values.
	StyleError lipgloss.Style

	// StyleWarning is used for cautionary values.
	StyleWarning lipgloss.Style

	// StyleMuted is used for de-emphasized text.
	StyleMuted lipgloss.Style

	// StyleBold is used for emphasized text.
	StyleBold lipgloss.Style

	// StyleLabel is used for metric labels.
	StyleLabel lipgloss.Style

	// StyleValue is used for metric values.
	StyleValue lipgloss.Style
)

func init() {
	setStyles(false)
}

// noColor tracks whether color output is disabled.
var noColor bool

// SetNoColor disables or enables color output globally by reassigning the
// package-level styles.
func SetNoColor(disabled bool) {
	noColor = disabled
	setStyles(disabled)
}

// IsNoColor returns whether color output is currently disabled.
func IsNoColor() bool {
	return noColor
}

// AutoColor disables color when the configuration turns it off, NO_COLOR
// is set, or f is not a terminal.
func AutoColor(enabled bool, f *os.File) {
	_, noColorEnv := os.LookupEnv("NO_COLOR")
	tty := f != nil && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
	SetNoColor(!enabled || noColorEnv || !tty)
}

func setStyles(plain bool) {
	if plain {
		p := lipgloss.NewStyle()
		StyleHeader = p
		StyleSuccess = p
		StyleError = p
		StyleWarning = p
		StyleMuted = p
		StyleBold = p
		StyleLabel = p.Width(28)
		StyleValue = p.Width(12)
		return
	}
	StyleHeader = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)
	StyleSuccess = lipgloss.NewStyle().Foreground(ColorSuccess)
	StyleError = lipgloss.NewStyle().Foreground(ColorError)
	StyleWarning = lipgloss.NewStyle().Foreground(ColorWarning)
	StyleMuted = lipgloss.NewStyle().Foreground(ColorMuted)
	StyleBold = lipgloss.NewStyle().Bold(true)
	StyleLabel = lipgloss.NewStyle().Width(28)
	StyleValue = lipgloss.NewStyle().Bold(true).Width(12)
}
