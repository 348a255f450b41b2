// Package bridge carries MIDI over a WebSocket connection as JSON messages,
// for devices that cannot reach a MIDI port directly.
package bridge

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"

	"go-maestro/midi"
)

// Message types
const (
	TypeMIDI    = "midi"
	TypePing    = "ping"
	TypePong    = "pong"
	TypeWelcome = "welcome"
)

// DefaultPort is used when an address names no port.
const DefaultPort = 3030

// WelcomeText is sent to every client on connect.
const WelcomeText = "Connected to MIDI Bridge Server"

// Message is the single JSON envelope used in both directions. Data holds
// raw MIDI bytes as numbers.
type Message struct {
	Type      string `json:"type"`
	Data      []int  `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Message   string `json:"message,omitempty"`
}

// MIDIMessage wraps e for the wire.
func MIDIMessage(e midi.Event, at time.Time) Message {
	raw := e.Bytes()
	data := make([]int, len(raw))
	for i, b := range raw {
		data[i] = int(b)
	}
	return Message{Type: TypeMIDI, Data: data, Timestamp: at.UnixMilli()}
}

// Pong answers a ping.
func Pong(at time.Time) Message {
	return Message{Type: TypePong, Timestamp: at.UnixMilli()}
}

// Welcome greets a new client.
func Welcome() Message {
	return Message{Type: TypeWelcome, Message: WelcomeText}
}

// Event decodes the data bytes of a midi message.
func (m Message) Event() (midi.Event, error) {
	raw := make([]byte, len(m.Data))
	for i, v := range m.Data {
		if v < 0 || v > 0xFF {
			return midi.Event{}, fault.New(fmt.Sprintf("data byte %d out of range: %d", i, v), ftag.With(ftag.InvalidArgument))
		}
		raw[i] = byte(v)
	}
	return midi.Decode(raw)
}

// NormalizeAddr turns a user-entered address into a WebSocket URL: ws:// is
// assumed without a scheme and DefaultPort without a port.
func NormalizeAddr(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fault.New("empty bridge address",
			ftag.With(ftag.InvalidArgument),
			fmsg.WithDesc("empty bridge address", "Please enter server address"))
	}
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", fault.Wrap(err, ftag.With(ftag.InvalidArgument), fmsg.With("parse bridge address"))
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fault.New("unsupported scheme "+u.Scheme, ftag.With(ftag.InvalidArgument))
	}
	if u.Hostname() == "" {
		return "", fault.New("bridge address has no host", ftag.With(ftag.InvalidArgument))
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(DefaultPort))
	}
	return u.String(), nil
}
