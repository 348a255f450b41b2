package widgets

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"go-maestro/theme"
)

// ScoreStrip is a one-line overview of a piece: note onsets as fractions of
// the score width, with a playhead above.
type ScoreStrip struct {
	Onsets []float64 // 0-1
	Width  int
}

func (s ScoreStrip) cell(f float64) int {
	return int(clamp01(f)*float64(s.Width-1) + 0.5)
}

// Cells returns the unstyled playhead and strip rows for position pos (0-1).
func (s ScoreStrip) Cells(sym theme.Symbols, pos float64) (head, strip string) {
	if s.Width <= 0 {
		return "", ""
	}
	marks := make([]bool, s.Width)
	for _, f := range s.Onsets {
		marks[s.cell(f)] = true
	}
	at := s.cell(pos)

	var hb, sb strings.Builder
	for i := 0; i < s.Width; i++ {
		if i == at {
			hb.WriteRune(sym.Cursor)
		} else {
			hb.WriteByte(' ')
		}
		switch {
		case marks[i]:
			sb.WriteRune(sym.Note)
		case i < at:
			sb.WriteRune(sym.Played)
		default:
			sb.WriteRune(sym.Ahead)
		}
	}
	return hb.String(), sb.String()
}

// Render draws the strip in theme colors: played notes dim, the rest bright.
func (s ScoreStrip) Render(th *theme.Theme, pos float64) string {
	head, strip := s.Cells(th.Symbols, pos)
	if s.Width <= 0 {
		return ""
	}
	at := s.cell(pos)
	runes := []rune(strip)

	cursor := lipgloss.NewStyle().Foreground(th.Cursor())
	played := lipgloss.NewStyle().Foreground(th.Muted())
	ahead := lipgloss.NewStyle().Foreground(th.FG())

	var b strings.Builder
	b.WriteString(cursor.Render(head))
	b.WriteByte('\n')
	b.WriteString(played.Render(string(runes[:at])))
	b.WriteString(ahead.Render(string(runes[at:])))
	return b.String()
}
