package midi

import (
	"strings"
	"sync"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver
	"go.bug.st/serial"
)

// Sink is a destination for encoded MIDI events.
type Sink interface {
	Name() string
	Send(Event) error
	Close() error
}

// NullSink accepts and discards everything. Used while no device is attached.
type NullSink struct{}

func (NullSink) Name() string     { return "none" }
func (NullSink) Send(Event) error { return nil }
func (NullSink) Close() error     { return nil }

// OutPortNames lists the names of available MIDI output ports.
func OutPortNames() []string {
	var names []string
	for _, p := range gomidi.GetOutPorts() {
		names = append(names, p.String())
	}
	return names
}

// MatchPort returns the first name containing pattern (case-insensitive).
func MatchPort(names []string, pattern string) (string, bool) {
	for _, n := range names {
		if containsCI(n, pattern) {
			return n, true
		}
	}
	return "", false
}

func containsCI(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// PortSink writes to a system MIDI output port.
type PortSink struct {
	mu   sync.Mutex
	port drivers.Out
	send func(gomidi.Message) error
}

// OpenPortSink opens the first output port whose name contains match. An
// empty match takes the first port.
func OpenPortSink(match string) (*PortSink, error) {
	ports := gomidi.GetOutPorts()
	if len(ports) == 0 {
		return nil, fault.New("no midi output ports",
			ftag.With(ftag.NotFound),
			fmsg.WithDesc("no midi output ports", "Connect a MIDI device or start a virtual port"))
	}
	for _, p := range ports {
		if match == "" || containsCI(p.String(), match) {
			return openPort(p)
		}
	}
	return nil, fault.New("midi output port not found",
		ftag.With(ftag.NotFound),
		fmsg.WithDesc("port "+match+" not found", "No MIDI output matches "+match))
}

func openPort(p drivers.Out) (*PortSink, error) {
	sender, err := gomidi.SendTo(p)
	if err != nil {
		return nil, fault.Wrap(err, fmsg.With("cannot open midi output "+p.String()))
	}
	return &PortSink{port: p, send: sender}, nil
}

func (s *PortSink) Name() string { return s.port.String() }

func (s *PortSink) Send(e Event) error {
	msg := e.Message()
	if msg == nil {
		return fault.Wrap(ErrUnsupported, fmsg.With(e.String()))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send(msg)
}

func (s *PortSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Close()
}

// DefaultSerialBaud is the DIN MIDI baud rate.
const DefaultSerialBaud = 31250

// SerialSink writes raw MIDI bytes to a serial device (DIN adapters, USB
// serial bridges on microcontrollers).
type SerialSink struct {
	mu   sync.Mutex
	name string
	port serial.Port
}

// OpenSerialSink opens device at baud (DefaultSerialBaud when <= 0).
func OpenSerialSink(device string, baud int) (*SerialSink, error) {
	if baud <= 0 {
		baud = DefaultSerialBaud
	}
	p, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fault.Wrap(err,
			ftag.With(ftag.NotFound),
			fmsg.WithDesc("cannot open serial port", "Could not open serial device "+device))
	}
	return &SerialSink{name: device, port: p}, nil
}

// SerialPortNames lists serial devices.
func SerialPortNames() ([]string, error) {
	return serial.GetPortsList()
}

func (s *SerialSink) Name() string { return "serial:" + s.name }

func (s *SerialSink) Send(e Event) error {
	data := e.Bytes()
	if len(data) == 0 {
		return fault.Wrap(ErrUnsupported, fmsg.With(e.String()))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.port.Write(data)
	return err
}

func (s *SerialSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Close()
}
