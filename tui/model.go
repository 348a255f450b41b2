package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"go-maestro/clock"
	"go-maestro/gesture"
	"go-maestro/sequencer"
	"go-maestro/theme"
	"go-maestro/timing"
	"go-maestro/widgets"
)

const (
	tempoStep = 5.0
	seekStep  = 5.0
	beatFlash = 120 * time.Millisecond
)

type Model struct {
	Engine   *clock.Engine
	Player   *sequencer.Player
	Detector *gesture.Detector // nil without a conducting input
	Timing   *timing.Table     // nil scrolls by song time
	Theme    *theme.Theme

	states    <-chan clock.State
	help      help.Model
	strip     widgets.ScoreStrip
	songNotes []sequencer.Note
	length    float64

	state      clock.State
	status     sequencer.Status
	conducting bool
	lastBeat   gesture.Beat
	beatAt     time.Time
	err        error
	quitting   bool
	width      int
	now        func() time.Time
}

// StateMsg carries a throttled clock snapshot.
type StateMsg clock.State

// UpdateMsg signals that player status changed.
type UpdateMsg struct{}

// BeatMsg reports a detected beat.
type BeatMsg gesture.Beat

// ConductingMsg reports a conducting state change.
type ConductingMsg bool

// OutputMsg reports an output sink change.
type OutputMsg struct {
	Name  string
	Ready bool
}

// ErrorMsg shows an error on the status line.
type ErrorMsg struct{ Err error }

type clockClosedMsg struct{}

func NewModel(engine *clock.Engine, player *sequencer.Player, song *sequencer.Song, th *theme.Theme, width int) Model {
	if width <= 0 {
		width = 60
	}
	m := Model{
		Engine: engine,
		Player: player,
		Theme:  th,
		states: engine.Subscribe(),
		state:  engine.Snapshot(),
		status: player.Status(),
		width:  width,
		help:   help.New(),
		now:    time.Now,
	}
	m.help.Styles.ShortKey = m.help.Styles.ShortKey.Foreground(th.FG())
	m.help.Styles.FullKey = m.help.Styles.FullKey.Foreground(th.FG())
	m.strip.Width = width
	m.SetSong(song)
	return m
}

// WithTiming scrolls the score through a timing table.
func (m Model) WithTiming(t *timing.Table) Model {
	m.Timing = t
	m.strip.Onsets = m.onsets(m.songNotes)
	return m
}

// SetSong recomputes the score strip for song.
func (m *Model) SetSong(song *sequencer.Song) {
	m.songNotes = nil
	m.length = 0
	if song != nil {
		m.songNotes = song.Notes
		m.length = song.Duration()
	}
	m.strip.Onsets = m.onsets(m.songNotes)
}

func (m *Model) onsets(notes []sequencer.Note) []float64 {
	out := make([]float64, 0, len(notes))
	for _, n := range notes {
		out = append(out, m.fraction(n.On))
	}
	return out
}

// fraction maps clock time to a 0-1 score position.
func (m *Model) fraction(t float64) float64 {
	if m.Timing.Len() >= 2 {
		return m.Timing.Fraction(m.Timing.PositionAt(t))
	}
	if m.length <= 0 {
		return 0
	}
	f := t / m.length
	if f > 1 {
		f = 1
	}
	if f < 0 {
		f = 0
	}
	return f
}

func ListenForState(ch <-chan clock.State) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return clockClosedMsg{}
		}
		return StateMsg(s)
	}
}

func ListenForUpdates(player *sequencer.Player) tea.Cmd {
	return func() tea.Msg {
		<-player.UpdateChan
		return UpdateMsg{}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		ListenForState(m.states),
		ListenForUpdates(m.Player),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		if w := msg.Width - 4; w > 10 {
			m.strip.Width = min(w, m.width)
		}
		m.help.Width = msg.Width

	case StateMsg:
		m.state = clock.State(msg)
		return m, ListenForState(m.states)

	case clockClosedMsg:
		return m, nil

	case UpdateMsg:
		m.status = m.Player.Status()
		return m, ListenForUpdates(m.Player)

	case BeatMsg:
		m.lastBeat = gesture.Beat(msg)
		m.beatAt = m.now()

	case ConductingMsg:
		m.conducting = bool(msg)

	case OutputMsg:
		m.status.Output, m.status.Ready = msg.Name, msg.Ready

	case ErrorMsg:
		m.err = msg.Err
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		m.quitting = true
		m.Engine.Stop()
		return m, tea.Quit

	case key.Matches(msg, keys.Beat):
		if m.Detector == nil {
			m.Engine.Impulse()
			break
		}
		// the beat handler drives the engine and may Send to the program,
		// so it must not run on the update loop
		d, at := m.Detector, m.now()
		return m, func() tea.Msg {
			d.Tap(at)
			return nil
		}

	case key.Matches(msg, keys.Play):
		m.Engine.TogglePlay()

	case key.Matches(msg, keys.Stop):
		m.Engine.Stop()

	case key.Matches(msg, keys.TempoUp):
		m.Engine.SetTargetTempo(m.Engine.Snapshot().TargetTempo + tempoStep)

	case key.Matches(msg, keys.TempoDown):
		m.Engine.SetTargetTempo(m.Engine.Snapshot().TargetTempo - tempoStep)

	case key.Matches(msg, keys.Back):
		m.Engine.Seek(m.Engine.Snapshot().Time - seekStep)

	case key.Matches(msg, keys.Forward):
		m.Engine.Seek(m.Engine.Snapshot().Time + seekStep)

	case key.Matches(msg, keys.Reset):
		m.Engine.Seek(0)
		if m.Detector != nil {
			m.Detector.Reset()
		}
		m.err = nil

	case key.Matches(msg, keys.Panic):
		m.Player.Panic()

	case key.Matches(msg, keys.Mute):
		m.Player.ToggleMute(int(msg.String()[0] - '1'))
		m.status = m.Player.Status()

	case key.Matches(msg, keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}
	m.state = m.Engine.Snapshot()
	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	th := m.Theme
	headerStyle := lipgloss.NewStyle().Foreground(th.Accent()).Bold(true)
	dimStyle := lipgloss.NewStyle().Foreground(th.Muted())
	fgStyle := lipgloss.NewStyle().Foreground(th.FG())
	warnStyle := lipgloss.NewStyle().Foreground(th.Warning())

	st := m.state
	playState := "STOP"
	if st.Playing {
		playState = "PLAY"
	}
	header := headerStyle.Render(fmt.Sprintf("go-maestro  %s", playState)) +
		fgStyle.Render(fmt.Sprintf("  %5.1f → %5.1f bpm  %7.2fs  bar %d",
			st.Tempo, st.TargetTempo, st.Time, int(st.Measure)+1))

	cfg := m.Engine.Config()
	flash := !m.beatAt.IsZero() && m.now().Sub(m.beatAt) < beatFlash
	beat := "no gesture"
	if m.lastBeat.HasBPM {
		beat = fmt.Sprintf("%.0f bpm", m.lastBeat.BPM)
	}
	motion := fmt.Sprintf("%-9s %s  %s %s",
		"velocity",
		widgets.RenderMeter(th, st.Velocity, cfg.MaxVelocity, 16),
		widgets.RenderBeat(th, m.conducting, flash),
		dimStyle.Render(beat))

	strip := m.strip.Render(th, m.fraction(st.Time))

	song := m.status.Song
	if song == "" {
		song = "(no song)"
	}
	output := warnStyle.Render(m.status.Output + " not ready")
	if m.status.Ready {
		output = fgStyle.Render(m.status.Output)
	}
	info := fmt.Sprintf("%s  %d/%d notes  %d sounding  %d late   out: %s",
		fgStyle.Render(song), m.status.Cursor, m.status.Notes, m.status.Active, m.status.Skipped, output)

	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(header)
	out.WriteString("\n")
	out.WriteString(motion)
	out.WriteString("\n\n")
	out.WriteString(strip)
	out.WriteString("\n\n")
	out.WriteString(info)
	if tracks := m.trackLine(dimStyle, warnStyle); tracks != "" {
		out.WriteString("\n")
		out.WriteString(tracks)
	}
	if m.err != nil {
		out.WriteString("\n\n")
		out.WriteString(warnStyle.Render(errorText(m.err)))
	}
	out.WriteString("\n\n")
	out.WriteString(m.help.View(keys))
	return out.String()
}

func (m Model) trackLine(dim, muted lipgloss.Style) string {
	var parts []string
	for i, t := range m.status.Tracks {
		if i >= 9 {
			break
		}
		label := fmt.Sprintf("%d %s ch%d", i+1, t.Name, t.Channel+1)
		if t.Muted {
			parts = append(parts, muted.Render(label+" (muted)"))
		} else {
			parts = append(parts, dim.Render(label))
		}
	}
	return strings.Join(parts, "  ")
}

// errorText prefers the user-facing message attached with fmsg.
func errorText(err error) string {
	text := fmsg.GetIssue(err)
	if text == "" {
		text = err.Error()
	}
	if ftag.Get(err) == ftag.NotFound {
		return "missing: " + text
	}
	return "error: " + text
}
