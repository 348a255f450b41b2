package widgets

import (
	"testing"

	"go-maestro/theme"
)

func TestMeterCells(t *testing.T) {
	sym := theme.New(nil).Symbols
	tests := []struct {
		value, max float64
		want       string
	}{
		{0, 3, "░░░░"},
		{3, 3, "████"},
		{1.5, 3, "██░░"},
		{0.375, 1, "█▌░░"},
		{9, 3, "████"},
		{1, 0, "░░░░"},
	}
	for _, tt := range tests {
		if got := MeterCells(sym, tt.value, tt.max, 4); got != tt.want {
			t.Fatalf("MeterCells(%v, %v) = %q, want %q", tt.value, tt.max, got, tt.want)
		}
	}
}

func TestScoreStripCells(t *testing.T) {
	sym := theme.New(nil).Symbols
	s := ScoreStrip{Onsets: []float64{0, 0.5, 1}, Width: 5}
	head, strip := s.Cells(sym, 0.75)
	if head != "   ▼ " {
		t.Fatalf("head = %q", head)
	}
	if strip != "┃─┃┈┃" {
		t.Fatalf("strip = %q", strip)
	}
}

func TestScoreStripZeroWidth(t *testing.T) {
	s := ScoreStrip{Onsets: []float64{0.5}}
	if out := s.Render(theme.New(nil), 0.5); out != "" {
		t.Fatalf("zero width render = %q", out)
	}
}
