package output

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
)

// Table is a simple styled table renderer.
type Table struct {
	headers    []string
	rows       [][]string
	widths     []int
	alignRight map[int]bool
}

// NewTable creates a new table with the given column headers.
func NewTable(headers ...string) *Table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = visualLen(h)
	}
	return &Table{
		headers:    headers,
		widths:     widths,
		alignRight: make(map[int]bool),
	}
}

// AlignRight right-aligns the given column indexes, for numeric columns.
func (t *Table) AlignRight(cols ...int) *Table {
	for _, c := range cols {
		t.alignRight[c] = true
	}
	return t
}

// AddRow adds a row of values to the table. The number of values should
// match the number of headers.
func (t *Table) AddRow(values ...string) {
	row := make([]string, len(t.headers))
	for i := range t.headers {
		if i < len(values) {
			row[i] = values[i]
		}
		if l := visualLen(row[i]); l > t.widths[i] {
			t.widths[i] = l
		}
	}
	t.rows = append(t.rows, row)
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.rows) }

// Render returns the formatted table as a string.
func (t *Table) Render() string {
	if len(t.headers) == 0 {
		return ""
	}

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorPrimary)
	if noColor {
		headerStyle = lipgloss.NewStyle()
	}

	var sb strings.Builder

	// Header row.
	for i, h := range t.headers {
		if i > 0 {
			sb.WriteString("  ")
		}
		sb.WriteString(headerStyle.Render(t.cell(i, h)))
	}
	sb.WriteString("\n")

	// Separator.
	for i, w := range t.widths {
		if i > 0 {
			sb.WriteString("  ")
		}
		sb.WriteString(StyleMuted.Render(strings.Repeat("─", w)))
	}
	sb.WriteString("\n")

	// Data rows.
	for _, row := range t.rows {
		for i, cell := range row {
			if i > 0 {
				sb.WriteString("  ")
			}
			sb.WriteString(t.cell(i, cell))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func (t *Table) cell(i int, s string) string {
	if t.alignRight[i] {
		return padLeft(s, t.widths[i])
	}
	return pad(s, t.widths[i])
}

// String implements fmt.Stringer.
func (t *Table) String() string {
	return t.Render()
}

// Fprint writes the table to w.
func (t *Table) Fprint(w io.Writer) {
	_, _ = fmt.Fprint(w, t.Render())
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

// visualLen returns the number of runes s occupies once ANSI escape
// sequences are removed.
func visualLen(s string) int {
	return utf8.RuneCountInString(ansiPattern.ReplaceAllString(s, ""))
}

// pad right-pads a string to the given visual width.
func pad(s string, width int) string {
	l := visualLen(s)
	if l >= width {
		return s
	}
	return s + strings.Repeat(" ", width-l)
}

func padLeft(s string, width int) string {
	l := visualLen(s)
	if l >= width {
		return s
	}
	return strings.Repeat(" ", width-l) + s
}
