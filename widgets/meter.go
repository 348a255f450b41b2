package widgets

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"go-maestro/theme"
)

// MeterCells draws value/max as width cells with half-cell resolution.
func MeterCells(sym theme.Symbols, value, max float64, width int) string {
	if width <= 0 {
		return ""
	}
	ratio := 0.0
	if max > 0 {
		ratio = value / max
	}
	ratio = clamp01(ratio)

	halves := int(ratio*float64(width*2) + 0.5)
	var b strings.Builder
	for i := 0; i < width; i++ {
		switch {
		case halves >= 2:
			b.WriteRune(sym.Fill)
			halves -= 2
		case halves == 1:
			b.WriteRune(sym.Partial)
			halves = 0
		default:
			b.WriteRune(sym.Empty)
		}
	}
	return b.String()
}

// RenderMeter colors the meter by how full it is.
func RenderMeter(th *theme.Theme, value, max float64, width int) string {
	ratio := 0.0
	if max > 0 {
		ratio = value / max
	}
	style := lipgloss.NewStyle().Foreground(th.Heat(ratio))
	return style.Render(MeterCells(th.Symbols, value, max, width))
}

// RenderBeat shows a lit dot while conducting, a rest dot otherwise.
func RenderBeat(th *theme.Theme, conducting, flash bool) string {
	switch {
	case flash:
		return lipgloss.NewStyle().Foreground(th.Success()).Render(string(th.Symbols.Beat))
	case conducting:
		return lipgloss.NewStyle().Foreground(th.Accent()).Render(string(th.Symbols.Beat))
	default:
		return lipgloss.NewStyle().Foreground(th.Muted()).Render(string(th.Symbols.Rest))
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
