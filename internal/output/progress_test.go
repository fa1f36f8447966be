package output

import (
	"strings"
	"testing"
)

func TestBar(t *testing.T) {
	SetNoColor(true)
	defer SetNoColor(false)

	tests := []struct {
		pct    float64
		filled int
	}{
		{0, 0},
		{50, 5},
		{100, 10},
		{150, 10},
		{-5, 0},
	}
	for _, tc := range tests {
		got := Bar(tc.pct, 10)
		if n := strings.Count(got, "█"); n != tc.filled {
			t.Errorf("Bar(%v) filled = %d, want %d", tc.pct, n, tc.filled)
		}
		if n := strings.Count(got, "█") + strings.Count(got, "░"); n != 10 {
			t.Errorf("Bar(%v) width = %d, want 10", tc.pct, n)
		}
	}
}

func TestTrendArrow(t *testing.T) {
	SetNoColor(true)
	defer SetNoColor(false)

	if got := TrendArrow(0, true); got != "─" {
		t.Errorf("TrendArrow(0) = %q", got)
	}
	if got := TrendArrow(1.25, true); got != "▲ +1.2" && got != "▲ +1.3" {
		t.Errorf("TrendArrow(1.25) = %q", got)
	}
	if got := TrendArrow(-2, false); got != "▼ -2.0" {
		t.Errorf("TrendArrow(-2) = %q", got)
	}
	if got := TrendArrowPercent(3.5, false); got != "▲ +3.5 pp" {
		t.Errorf("TrendArrowPercent(3.5) = %q", got)
	}
}

func TestSection(t *testing.T) {
	SetNoColor(true)
	defer SetNoColor(false)

	got := Section("Core stats")
	if !strings.Contains(got, "Core stats") || !strings.Contains(got, "─") {
		t.Errorf("unexpected section %q", got)
	}
}

func TestKeyValue(t *testing.T) {
	SetNoColor(true)
	defer SetNoColor(false)

	got := KeyValue("Total chats", "42")
	if !strings.HasPrefix(got, " Total chats") || !strings.Contains(got, "42") {
		t.Errorf("unexpected line %q", got)
	}
}
