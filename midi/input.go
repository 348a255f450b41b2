package midi

import (
	"sync"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// NoteEvent is sent when a note is played on an input device
type NoteEvent struct {
	At       time.Time
	Note     uint8
	Velocity uint8
	Channel  uint8
}

// TapInput turns note-ons from a MIDI input (pad, foot switch, keyboard) into
// tap events for conducting without a motion sensor.
type TapInput struct {
	id       string
	stopFunc func()

	mu       sync.Mutex
	closed   bool
	noteChan chan NoteEvent
}

// OpenTapInput listens on the first input port containing match.
func OpenTapInput(match string) (*TapInput, error) {
	for _, p := range gomidi.GetInPorts() {
		if match == "" || containsCI(p.String(), match) {
			return NewTapInput(p.String(), p)
		}
	}
	return nil, fault.New("midi input port not found",
		ftag.With(ftag.NotFound),
		fmsg.WithDesc("input "+match+" not found", "No MIDI input matches "+match))
}

// NewTapInput creates a tap input on inPort
func NewTapInput(id string, inPort drivers.In) (*TapInput, error) {
	ti := &TapInput{
		id:       id,
		noteChan: make(chan NoteEvent, 32),
	}

	stop, err := gomidi.ListenTo(inPort, func(msg gomidi.Message, timestampms int32) {
		var channel, note, velocity uint8
		if !msg.GetNoteOn(&channel, &note, &velocity) || velocity == 0 {
			return
		}
		ti.mu.Lock()
		defer ti.mu.Unlock()
		if ti.closed {
			return
		}
		select {
		case ti.noteChan <- NoteEvent{At: time.Now(), Note: note, Velocity: velocity, Channel: channel}:
		default:
		}
	})
	if err != nil {
		return nil, fault.Wrap(err, fmsg.With("open input "+id))
	}
	ti.stopFunc = stop
	return ti, nil
}

func (ti *TapInput) ID() string {
	return ti.id
}

// Taps returns note-on events. Closed by Close.
func (ti *TapInput) Taps() <-chan NoteEvent {
	return ti.noteChan
}

func (ti *TapInput) Close() error {
	if ti.stopFunc != nil {
		ti.stopFunc()
	}
	ti.mu.Lock()
	defer ti.mu.Unlock()
	if !ti.closed {
		ti.closed = true
		close(ti.noteChan)
	}
	return nil
}
