package sequencer

import (
	"testing"

	"go-maestro/midi"
)

func note(on, dur float64, pitch int) Note {
	return Note{On: on, Duration: dur, Pitch: pitch, Velocity: 100}
}

func count(events []midi.Event, typ uint8) int {
	n := 0
	for _, e := range events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestSchedulerLookaheadWindow(t *testing.T) {
	s := NewScheduler(Options{})
	s.Load([]Note{note(1.0, 0.5, 60), note(1.02, 0.5, 64)})

	// 0.96 would already fire the 1.0 note: onTime <= now+lookahead (1.0 <= 1.01).
	if got := s.Tick(0.94); len(got) != 0 {
		t.Fatalf("tick 0.94 fired %d events, want 0", len(got))
	}
	got := s.Tick(0.98)
	if count(got, midi.NoteOn) != 2 {
		t.Fatalf("tick 0.98 fired %v, want both notes", got)
	}
	if got := s.Tick(0.99); len(got) != 0 {
		t.Fatalf("notes fired twice: %v", got)
	}
}

func TestSchedulerEveryOnGetsOneOff(t *testing.T) {
	s := NewScheduler(Options{})
	notes := []Note{
		note(0.0, 0.25, 60),
		note(0.1, 0.0, 62), // zero duration
		note(0.1, 1.0, 62), // duplicate pitch
		note(0.5, 0.3, 67),
		note(1.2, 0.1, 72),
	}
	s.Load(notes)

	ons, offs := map[uint8]int{}, map[uint8]int{}
	onAt := map[uint8][]float64{}
	for tick := 0; tick <= 200; tick++ {
		now := float64(tick) / 60
		for _, e := range s.Tick(now) {
			switch e.Type {
			case midi.NoteOn:
				ons[e.Note]++
				onAt[e.Note] = append(onAt[e.Note], now)
			case midi.NoteOff:
				offs[e.Note]++
			}
		}
	}
	for pitch, n := range ons {
		if offs[pitch] != n {
			t.Fatalf("pitch %d: %d ons, %d offs", pitch, n, offs[pitch])
		}
	}
	if len(ons) != 4 || ons[62] != 2 {
		t.Fatalf("ons = %v", ons)
	}
	if !s.Done() {
		t.Fatal("scheduler should be done")
	}
}

func TestSchedulerOffNotBeforeEnd(t *testing.T) {
	s := NewScheduler(Options{})
	s.Load([]Note{note(0, 0.5, 60)})
	s.Tick(0)
	if got := s.Tick(0.49); count(got, midi.NoteOff) != 0 {
		t.Fatal("off fired before the note ended")
	}
	if got := s.Tick(0.5); count(got, midi.NoteOff) != 1 {
		t.Fatalf("off at 0.5 = %v", got)
	}
}

func TestSchedulerOffsBeforeOns(t *testing.T) {
	s := NewScheduler(Options{})
	s.Load([]Note{note(0, 0.5, 60), note(0.5, 0.5, 60)})
	s.Tick(0)

	got := s.Tick(0.5)
	if len(got) != 2 {
		t.Fatalf("events = %v", got)
	}
	if got[0].Type != midi.NoteOff || got[1].Type != midi.NoteOn {
		t.Fatalf("want off then on, got %v", got)
	}
}

func TestSchedulerZeroDurationOffNextTick(t *testing.T) {
	s := NewScheduler(Options{})
	s.Load([]Note{note(0.2, 0, 60)})
	if got := s.Tick(0.2); count(got, midi.NoteOn) != 1 || count(got, midi.NoteOff) != 0 {
		t.Fatalf("first tick = %v", got)
	}
	if got := s.Tick(0.21); count(got, midi.NoteOff) != 1 {
		t.Fatalf("second tick = %v", got)
	}
}

func TestSchedulerDropsLateNotes(t *testing.T) {
	s := NewScheduler(Options{})
	s.Load([]Note{note(0.0, 0.1, 60), note(0.45, 0.1, 62), note(0.5, 0.1, 64)})

	got := s.Tick(0.5) // stall: 0.0 is 0.5 late, 0.45 within tolerance
	if count(got, midi.NoteOn) != 2 {
		t.Fatalf("events = %v", got)
	}
	for _, e := range got {
		if e.Note == 60 {
			t.Fatal("stale note was emitted")
		}
	}
	if s.Skipped() != 1 {
		t.Fatalf("skipped = %d, want 1", s.Skipped())
	}
	if s.Cursor() != 3 {
		t.Fatalf("cursor = %d, want 3", s.Cursor())
	}
}

func TestSchedulerSeek(t *testing.T) {
	s := NewScheduler(Options{})
	s.Load([]Note{note(0, 5, 60), note(1, 1, 62), note(2, 1, 64), note(3, 1, 65)})
	s.Tick(0)
	if s.Active() != 1 {
		t.Fatal("expected one sounding note")
	}

	s.Seek(2)
	if s.Cursor() != 2 || s.Active() != 0 {
		t.Fatalf("after seek cursor=%d active=%d", s.Cursor(), s.Active())
	}
	for _, now := range []float64{2, 2.5, 3, 4.5} {
		for _, e := range s.Tick(now) {
			if e.Note == 60 || e.Note == 62 {
				t.Fatalf("spurious event for a note before the seek point: %v", e)
			}
		}
	}

	s.Seek(99)
	if s.Cursor() != s.Len() {
		t.Fatalf("seek past end cursor = %d", s.Cursor())
	}
	s.Reset()
	if s.Cursor() != 0 {
		t.Fatalf("reset cursor = %d", s.Cursor())
	}
}

func TestSchedulerLoadClampsAndSorts(t *testing.T) {
	s := NewScheduler(Options{})
	s.Load([]Note{
		{On: 2, Duration: -1, Pitch: 200, Velocity: 300, Channel: 20},
		{On: 1, Duration: 1, Pitch: -4, Velocity: -1, Channel: -3},
	})
	notes := s.Notes()
	if notes[0].On != 1 || notes[1].On != 2 {
		t.Fatalf("not sorted: %+v", notes)
	}
	if n := notes[1]; n.Pitch != 127 || n.Velocity != 127 || n.Channel != 15 || n.Duration != 0 {
		t.Fatalf("high values not clamped: %+v", n)
	}
	if n := notes[0]; n.Pitch != 0 || n.Velocity != 0 || n.Channel != 0 {
		t.Fatalf("low values not clamped: %+v", n)
	}
}

func TestSchedulerMutedTrack(t *testing.T) {
	s := NewScheduler(Options{})
	s.Load([]Note{{On: 0, Duration: 1, Pitch: 60, Track: 0}, {On: 0, Duration: 1, Pitch: 48, Track: 1}})
	s.SetMuted(1, true)
	got := s.Tick(0)
	if len(got) != 1 || got[0].Note != 60 {
		t.Fatalf("muted track fired: %v", got)
	}
}

func TestAllNotesOff(t *testing.T) {
	events := AllNotesOff()
	if len(events) != 16 {
		t.Fatalf("len = %d", len(events))
	}
	for ch, e := range events {
		if e.Type != midi.CC || e.Channel != uint8(ch) || e.Note != 123 {
			t.Fatalf("event %d = %+v", ch, e)
		}
	}
}
