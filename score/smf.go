// Package score loads Standard MIDI Files into the scheduler's note list.
package score

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"gitlab.com/gomidi/midi/v2/smf"

	"go-maestro/debug"
	"go-maestro/sequencer"
)

// MinVelocity drops ghost notes quieter than this.
const MinVelocity = 10

const defaultBPM = 120.0

// Load reads a .mid file.
func Load(path string) (*sequencer.Song, error) {
	sm, err := smf.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(err,
			ftag.With(ftag.NotFound),
			fmsg.WithDesc("read "+path, "Could not load MIDI file "+filepath.Base(path)))
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return FromSMF(sm, name)
}

// Read parses an SMF stream.
func Read(r io.Reader, name string) (*sequencer.Song, error) {
	sm, err := smf.ReadFrom(r)
	if err != nil {
		return nil, fault.Wrap(err, ftag.With(ftag.InvalidArgument), fmsg.With("parse midi file"))
	}
	return FromSMF(sm, name)
}

type tempoChange struct {
	tick uint64
	bpm  float64
}

// tempoMap converts absolute ticks to seconds.
type tempoMap struct {
	ticks   smf.MetricTicks
	changes []tempoChange
}

func (tm tempoMap) seconds(tick uint64) float64 {
	var secs float64
	prev := tempoChange{tick: 0, bpm: defaultBPM}
	for _, c := range tm.changes {
		if c.tick >= tick {
			break
		}
		secs += tm.span(prev.bpm, c.tick-prev.tick)
		prev = c
	}
	return secs + tm.span(prev.bpm, tick-prev.tick)
}

func (tm tempoMap) span(bpm float64, ticks uint64) float64 {
	return tm.ticks.Duration(bpm, uint32(ticks)).Seconds()
}

// FromSMF flattens all tracks into one sorted note list. Each track plays on
// the first channel it uses; tracks without channel messages fall back to
// their index mod 16.
func FromSMF(sm *smf.SMF, name string) (*sequencer.Song, error) {
	ticks, ok := sm.TimeFormat.(smf.MetricTicks)
	if !ok {
		return nil, fault.New("unsupported time format "+fmt.Sprint(sm.TimeFormat),
			ftag.With(ftag.InvalidArgument),
			fmsg.WithDesc("smpte time format", "SMPTE timed MIDI files are not supported"))
	}

	tm := tempoMap{ticks: ticks}
	for _, tr := range sm.Tracks {
		var abs uint64
		for _, ev := range tr {
			abs += uint64(ev.Delta)
			var bpm float64
			if ev.Message.GetMetaTempo(&bpm) && bpm > 0 {
				tm.changes = append(tm.changes, tempoChange{tick: abs, bpm: bpm})
			}
		}
	}
	sort.SliceStable(tm.changes, func(i, j int) bool { return tm.changes[i].tick < tm.changes[j].tick })

	song := &sequencer.Song{Name: name}
	dropped := 0
	for i, tr := range sm.Tracks {
		notes, channel, quiet := trackNotes(tr, tm)
		dropped += quiet
		if len(notes) == 0 {
			continue
		}
		if channel < 0 {
			channel = i % 16
		}
		idx := len(song.Tracks)
		t := sequencer.NewTrack(fmt.Sprintf("Track %d", i+1), uint8(channel))
		t.Notes = len(notes)
		song.Tracks = append(song.Tracks, t)
		for _, n := range notes {
			n.Channel = channel
			n.Track = idx
			song.Notes = append(song.Notes, n)
		}
	}
	sort.SliceStable(song.Notes, func(i, j int) bool { return song.Notes[i].On < song.Notes[j].On })

	debug.Log("score", "%s: %d tracks, %d notes, %d quiet dropped, %d tempo changes",
		name, len(song.Tracks), len(song.Notes), dropped, len(tm.changes))
	return song, nil
}

type pendingNote struct {
	tick uint64
	vel  uint8
}

// trackNotes pairs note-ons with their offs. Overlapping notes of the same
// key close first-in first-out. Returns the first channel seen (-1 if none).
func trackNotes(tr smf.Track, tm tempoMap) (notes []sequencer.Note, channel int, dropped int) {
	channel = -1
	pending := make(map[[2]uint8][]pendingNote)
	var abs uint64

	end := func(key [2]uint8, p pendingNote, at uint64) {
		if int(p.vel) < MinVelocity {
			dropped++
			return
		}
		on := tm.seconds(p.tick)
		notes = append(notes, sequencer.Note{
			On:       on,
			Duration: tm.seconds(at) - on,
			Pitch:    int(key[1]),
			Velocity: int(p.vel),
		})
	}

	for _, ev := range tr {
		abs += uint64(ev.Delta)
		var ch, key, vel uint8
		switch {
		case ev.Message.GetNoteOn(&ch, &key, &vel) && vel > 0:
			if channel < 0 {
				channel = int(ch)
			}
			k := [2]uint8{ch, key}
			pending[k] = append(pending[k], pendingNote{tick: abs, vel: vel})
		case ev.Message.GetNoteOn(&ch, &key, &vel), ev.Message.GetNoteOff(&ch, &key, &vel):
			k := [2]uint8{ch, key}
			queue := pending[k]
			if len(queue) == 0 {
				continue
			}
			end(k, queue[0], abs)
			pending[k] = queue[1:]
		}
	}

	// notes still held at the end of the track stop there
	for k, queue := range pending {
		for _, p := range queue {
			end(k, p, abs)
		}
	}
	return notes, channel, dropped
}
