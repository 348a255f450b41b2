// Package sequencer turns the performance clock into note events.
package sequencer

import (
	"math"
	"sort"

	"go-maestro/midi"
)

// Scheduling windows in musical seconds.
const (
	DefaultLookahead     = 0.05
	DefaultLateTolerance = 0.1
)

// Note is one scheduled note. Times are in musical seconds.
type Note struct {
	On       float64 `json:"on"`
	Duration float64 `json:"duration"`
	Pitch    int     `json:"pitch"`
	Velocity int     `json:"velocity"`
	Channel  int     `json:"channel"`
	Track    int     `json:"track"`
}

// Off returns the time the note ends.
func (n Note) Off() float64 { return n.On + n.Duration }

// Options tunes the scheduling windows. Zero fields take defaults.
type Options struct {
	Lookahead     float64
	LateTolerance float64
}

func (o Options) withDefaults() Options {
	if o.Lookahead <= 0 {
		o.Lookahead = DefaultLookahead
	}
	if o.LateTolerance <= 0 {
		o.LateTolerance = DefaultLateTolerance
	}
	return o
}

type activeNote struct {
	pitch   uint8
	channel uint8
	off     float64
}

// Scheduler owns a sorted note list, a cursor and the set of sounding notes.
// It is not safe for concurrent use.
type Scheduler struct {
	opts   Options
	notes  []Note
	cursor int
	active []activeNote
	muted  map[int]bool

	skipped int
}

// NewScheduler returns an empty scheduler.
func NewScheduler(opts Options) *Scheduler {
	return &Scheduler{opts: opts.withDefaults(), muted: make(map[int]bool)}
}

// Load replaces the note list. Values are clamped to wire range and the
// list is sorted by onset; the cursor, active set and mutes are cleared.
func (s *Scheduler) Load(notes []Note) {
	s.notes = make([]Note, 0, len(notes))
	for _, n := range notes {
		if math.IsNaN(n.On) || math.IsInf(n.On, 0) {
			continue
		}
		n.Pitch = clampInt(n.Pitch, 0, 127)
		n.Velocity = clampInt(n.Velocity, 0, 127)
		n.Channel = clampInt(n.Channel, 0, 15)
		if !(n.Duration > 0) || math.IsInf(n.Duration, 0) {
			n.Duration = 0
		}
		s.notes = append(s.notes, n)
	}
	sort.SliceStable(s.notes, func(i, j int) bool { return s.notes[i].On < s.notes[j].On })
	s.cursor = 0
	s.active = s.active[:0]
	s.skipped = 0
	s.muted = make(map[int]bool)
}

// Tick returns the events due at now: note-offs first, then note-ons.
func (s *Scheduler) Tick(now float64) []midi.Event {
	var events []midi.Event

	// off-pass
	kept := s.active[:0]
	for _, a := range s.active {
		if a.off <= now {
			events = append(events, midi.Off(a.channel, a.pitch))
			continue
		}
		kept = append(kept, a)
	}
	s.active = kept

	// on-pass
	for s.cursor < len(s.notes) {
		n := s.notes[s.cursor]
		if n.On > now+s.opts.Lookahead {
			break
		}
		s.cursor++
		if n.On < now-s.opts.LateTolerance {
			s.skipped++
			continue
		}
		if s.muted[n.Track] {
			continue
		}
		ch, pitch := uint8(n.Channel), uint8(n.Pitch)
		events = append(events, midi.On(ch, pitch, uint8(n.Velocity)))
		s.active = append(s.active, activeNote{pitch: pitch, channel: ch, off: n.Off()})
	}
	return events
}

// Seek moves the cursor to the first note at or after t and forgets the
// sounding notes. Callers must silence the device themselves.
func (s *Scheduler) Seek(t float64) {
	s.cursor = sort.Search(len(s.notes), func(i int) bool { return s.notes[i].On >= t })
	s.active = s.active[:0]
}

// Release forgets the sounding notes without moving the cursor.
func (s *Scheduler) Release() { s.active = s.active[:0] }

// Reset is Seek(0).
func (s *Scheduler) Reset() { s.Seek(0) }

// SetMuted stops new note-ons for a track. Sounding notes still get their off.
func (s *Scheduler) SetMuted(track int, muted bool) {
	if muted {
		s.muted[track] = true
		return
	}
	delete(s.muted, track)
}

// Muted reports whether track is muted.
func (s *Scheduler) Muted(track int) bool { return s.muted[track] }

func (s *Scheduler) Cursor() int  { return s.cursor }
func (s *Scheduler) Len() int     { return len(s.notes) }
func (s *Scheduler) Active() int  { return len(s.active) }
func (s *Scheduler) Skipped() int { return s.skipped }

// Done reports whether every note has been passed and released.
func (s *Scheduler) Done() bool {
	return s.cursor >= len(s.notes) && len(s.active) == 0
}

// Notes returns the loaded, sorted notes. Do not modify.
func (s *Scheduler) Notes() []Note { return s.notes }

// AllNotesOff returns a CC 123 for each of the 16 channels.
func AllNotesOff() []midi.Event {
	events := make([]midi.Event, 16)
	for ch := range events {
		events[ch] = midi.Control(uint8(ch), midi.AllNotesOff, 0)
	}
	return events
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
