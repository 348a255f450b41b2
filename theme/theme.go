package theme

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

type Theme struct {
	Palette *Palette
	Symbols Symbols
}

type Symbols struct {
	Beat    rune // ● conducted beat
	Rest    rune // · no recent beat
	Cursor  rune // ▼ playhead on the score strip
	Note    rune // ┃ note onset on the score strip
	Played  rune // ─ score already passed
	Ahead   rune // ┈ score still to come
	Fill    rune // █ meter fill
	Partial rune // ▌ meter half cell
	Empty   rune // ░ meter background
}

func New(palette *Palette) *Theme {
	if palette == nil || len(palette.Colors) == 0 {
		palette = Default()
	}
	return &Theme{
		Palette: palette,
		Symbols: Symbols{
			Beat:    '●',
			Rest:    '·',
			Cursor:  '▼',
			Note:    '┃',
			Played:  '─',
			Ahead:   '┈',
			Fill:    '█',
			Partial: '▌',
			Empty:   '░',
		},
	}
}

// Color roles mapped to palette positions (0-1)
const (
	RoleBG      = 0.0
	RoleSurface = 0.1
	RoleMuted   = 0.3
	RoleFG      = 0.5
	RoleAccent  = 0.6
	RoleCursor  = 0.75
	RoleWarning = 0.85
	RoleSuccess = 1.0
)

func (t *Theme) BG() lipgloss.Color      { return t.Color(RoleBG) }
func (t *Theme) Surface() lipgloss.Color { return t.Color(RoleSurface) }
func (t *Theme) FG() lipgloss.Color      { return t.Color(RoleFG) }
func (t *Theme) Accent() lipgloss.Color  { return t.Color(RoleAccent) }
func (t *Theme) Muted() lipgloss.Color   { return t.Color(RoleMuted) }
func (t *Theme) Cursor() lipgloss.Color  { return t.Color(RoleCursor) }
func (t *Theme) Warning() lipgloss.Color { return t.Color(RoleWarning) }
func (t *Theme) Success() lipgloss.Color { return t.Color(RoleSuccess) }

// Color returns lipgloss color for any normalized value 0-1
func (t *Theme) Color(norm float64) lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(norm))
}

// Heat maps a ratio such as velocity/max onto the muted..warning range.
func (t *Theme) Heat(ratio float64) lipgloss.Color {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	return t.Color(RoleMuted + ratio*(RoleWarning-RoleMuted))
}

func rgbToLipgloss(c RGB) lipgloss.Color {
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2]))
}
