package midi

import (
	"fmt"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	gomidi "gitlab.com/gomidi/midi/v2"
)

// MIDI message types (status high nibble)
const (
	NoteOn        uint8 = 0x90
	NoteOff       uint8 = 0x80
	CC            uint8 = 0xB0
	ProgramChange uint8 = 0xC0
)

// AllNotesOff is the channel-mode controller that silences a channel.
const AllNotesOff uint8 = 123

// ErrUnsupported marks a message class the adapter does not handle.
var ErrUnsupported = fault.New("unsupported midi message")

// Event represents a channel voice message. For CC, Note is the controller
// and Velocity the value; for ProgramChange, Note is the program.
type Event struct {
	Type     uint8 // NoteOn, NoteOff, CC, ProgramChange
	Channel  uint8 // 0-15
	Note     uint8
	Velocity uint8
}

// On builds a note-on event.
func On(ch, note, vel uint8) Event {
	return Event{Type: NoteOn, Channel: ch & 0x0F, Note: note & 0x7F, Velocity: vel & 0x7F}
}

// Off builds a note-off event.
func Off(ch, note uint8) Event {
	return Event{Type: NoteOff, Channel: ch & 0x0F, Note: note & 0x7F}
}

// Control builds a control change event.
func Control(ch, controller, value uint8) Event {
	return Event{Type: CC, Channel: ch & 0x0F, Note: controller & 0x7F, Velocity: value & 0x7F}
}

// Message encodes e as a gomidi message.
func (e Event) Message() gomidi.Message {
	ch := e.Channel & 0x0F
	switch e.Type {
	case NoteOn:
		return gomidi.NoteOn(ch, e.Note&0x7F, e.Velocity&0x7F)
	case NoteOff:
		if e.Velocity > 0 {
			return gomidi.Message{NoteOff | ch, e.Note & 0x7F, e.Velocity & 0x7F}
		}
		return gomidi.NoteOff(ch, e.Note&0x7F)
	case CC:
		return gomidi.ControlChange(ch, e.Note&0x7F, e.Velocity&0x7F)
	case ProgramChange:
		return gomidi.ProgramChange(ch, e.Note&0x7F)
	}
	return nil
}

// Bytes returns the raw wire bytes (3 for notes and CC, 2 for program change).
func (e Event) Bytes() []byte {
	return []byte(e.Message())
}

func (e Event) String() string {
	switch e.Type {
	case NoteOn:
		return fmt.Sprintf("on ch=%d note=%d vel=%d", e.Channel, e.Note, e.Velocity)
	case NoteOff:
		return fmt.Sprintf("off ch=%d note=%d", e.Channel, e.Note)
	case CC:
		return fmt.Sprintf("cc ch=%d ctl=%d val=%d", e.Channel, e.Note, e.Velocity)
	case ProgramChange:
		return fmt.Sprintf("program ch=%d num=%d", e.Channel, e.Note)
	}
	return fmt.Sprintf("unknown type=%#x", e.Type)
}

// Decode parses raw bytes. The status high nibble selects the class and the
// low nibble the channel. Anything else wraps ErrUnsupported.
func Decode(data []byte) (Event, error) {
	if len(data) == 0 {
		return Event{}, fault.Wrap(ErrUnsupported, fmsg.With("empty message"))
	}
	status := data[0]
	ev := Event{Type: status & 0xF0, Channel: status & 0x0F}

	switch ev.Type {
	case NoteOn, NoteOff, CC:
		if len(data) < 3 {
			return Event{}, fault.Wrap(ErrUnsupported, fmsg.With(fmt.Sprintf("short message % x", data)))
		}
		ev.Note, ev.Velocity = data[1]&0x7F, data[2]&0x7F
	case ProgramChange:
		if len(data) < 2 {
			return Event{}, fault.Wrap(ErrUnsupported, fmsg.With(fmt.Sprintf("short message % x", data)))
		}
		ev.Note = data[1] & 0x7F
	default:
		return Event{}, fault.Wrap(ErrUnsupported, fmsg.With(fmt.Sprintf("status %#02x", status)))
	}
	return ev, nil
}
