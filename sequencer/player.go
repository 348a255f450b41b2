package sequencer

import (
	"sync"

	"go-maestro/clock"
	"go-maestro/debug"
	"go-maestro/midi"
)

// Player connects the clock to the scheduler and the output. It runs as a
// clock listener on the engine goroutine; the other methods are safe from
// any goroutine.
type Player struct {
	mu    sync.Mutex
	sched *Scheduler
	out   *midi.Output
	song  *Song

	lastTime float64
	hasLast  bool

	// Notify TUI of updates
	UpdateChan chan struct{}
}

// Status is a snapshot for display.
type Status struct {
	Song    string
	Tracks  []Track
	Ready   bool
	Output  string
	Notes   int
	Cursor  int
	Active  int
	Skipped int
	Done    bool
}

// NewPlayer creates a player that sends to out.
func NewPlayer(out *midi.Output, opts Options) *Player {
	return &Player{
		sched:      NewScheduler(opts),
		out:        out,
		UpdateChan: make(chan struct{}, 1),
	}
}

// Load replaces the song and silences anything still sounding.
func (p *Player) Load(song *Song) {
	p.mu.Lock()
	p.song = song
	var notes []Note
	if song != nil {
		notes = song.Notes
	}
	p.sched.Load(notes)
	for i, t := range p.tracks() {
		p.sched.SetMuted(i, t.Muted)
	}
	p.hasLast = false
	n := p.sched.Len()
	p.mu.Unlock()

	p.flush()
	debug.Log("player", "loaded %d notes", n)
	p.notifyUpdate()
}

func (p *Player) tracks() []Track {
	if p.song == nil {
		return nil
	}
	return p.song.Tracks
}

// Advance handles one clock tick. Ticks while stopped or with an unchanged
// time are ignored.
func (p *Player) Advance(s clock.State) {
	if !s.Playing {
		return
	}
	p.mu.Lock()
	if p.hasLast && s.Time == p.lastTime {
		p.mu.Unlock()
		return
	}
	p.lastTime, p.hasLast = s.Time, true
	events := p.sched.Tick(s.Time)
	p.mu.Unlock()

	for _, e := range events {
		p.out.Send(e)
	}
	if len(events) > 0 {
		debug.LogEvery(200, "player", "t=%.3f sent %d events", s.Time, len(events))
		p.notifyUpdate()
	}
}

// Relocate follows a stop or seek: the cursor jumps and every channel is
// silenced since the sounding notes lost their scheduled offs.
func (p *Player) Relocate(s clock.State) {
	p.mu.Lock()
	p.sched.Seek(s.Time)
	p.hasLast = false
	p.mu.Unlock()

	p.flush()
	debug.Log("player", "relocate t=%.3f", s.Time)
	p.notifyUpdate()
}

// Panic silences all channels without moving the cursor.
func (p *Player) Panic() {
	p.mu.Lock()
	p.sched.Release()
	p.mu.Unlock()
	p.flush()
}

func (p *Player) flush() {
	for _, e := range AllNotesOff() {
		p.out.Send(e)
	}
}

// ToggleMute flips the mute flag of a track.
func (p *Player) ToggleMute(track int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.song == nil || track < 0 || track >= len(p.song.Tracks) {
		return false
	}
	muted := !p.song.Tracks[track].Muted
	p.song.Tracks[track].Muted = muted
	p.sched.SetMuted(track, muted)
	return muted
}

// Status returns a snapshot of playback state.
func (p *Player) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Status{
		Ready:   p.out.Ready(),
		Output:  p.out.Name(),
		Notes:   p.sched.Len(),
		Cursor:  p.sched.Cursor(),
		Active:  p.sched.Active(),
		Skipped: p.sched.Skipped(),
		Done:    p.sched.Done(),
	}
	if p.song != nil {
		st.Song = p.song.Name
		st.Tracks = append([]Track(nil), p.song.Tracks...)
	}
	return st
}

// notifyUpdate signals the TUI without blocking
func (p *Player) notifyUpdate() {
	select {
	case p.UpdateChan <- struct{}{}:
	default:
	}
}
