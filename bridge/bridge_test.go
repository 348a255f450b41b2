package bridge

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"go-maestro/debug"
	"go-maestro/midi"
)

type chanSink struct {
	events chan midi.Event
}

func (c *chanSink) Name() string { return "chan" }
func (c *chanSink) Close() error { return nil }
func (c *chanSink) Send(e midi.Event) error {
	c.events <- e
	return nil
}

func startServer(t *testing.T) (*Server, *chanSink, string) {
	t.Helper()
	sink := &chanSink{events: make(chan midi.Event, 16)}
	srv := NewServer(sink, nil)
	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)
	return srv, sink, strings.TrimPrefix(hs.URL, "http://")
}

func dialRaw(t *testing.T, hostport string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+hostport, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func expectEvent(t *testing.T, sink *chanSink) midi.Event {
	t.Helper()
	select {
	case e := <-sink.events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no event forwarded")
		return midi.Event{}
	}
}

func TestServerWelcomeAndPing(t *testing.T) {
	_, _, addr := startServer(t)
	conn := dialRaw(t, addr)

	if msg := readMsg(t, conn); msg.Type != TypeWelcome || msg.Message != WelcomeText {
		t.Fatalf("welcome = %+v", msg)
	}

	before := time.Now().UnixMilli()
	if err := conn.WriteJSON(Message{Type: TypePing}); err != nil {
		t.Fatal(err)
	}
	msg := readMsg(t, conn)
	if msg.Type != TypePong || msg.Timestamp < before {
		t.Fatalf("pong = %+v", msg)
	}
}

func TestServerForwardsMIDI(t *testing.T) {
	_, sink, addr := startServer(t)
	conn := dialRaw(t, addr)
	readMsg(t, conn)

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"midi","data":[145,60,100],"timestamp":1}`))
	if e := expectEvent(t, sink); e != (midi.Event{Type: midi.NoteOn, Channel: 1, Note: 60, Velocity: 100}) {
		t.Fatalf("event = %+v", e)
	}

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"midi","data":[194,12]}`))
	if e := expectEvent(t, sink); e.Type != midi.ProgramChange || e.Channel != 2 || e.Note != 12 {
		t.Fatalf("program change = %+v", e)
	}
}

func TestServerSurvivesMalformedMessages(t *testing.T) {
	_, sink, addr := startServer(t)
	conn := dialRaw(t, addr)
	readMsg(t, conn)

	for _, raw := range []string{
		`not json`,
		`{"type":"midi","data":[240]}`,
		`{"type":"midi","data":[144,999,1]}`,
		`{"type":"midi"}`,
		`{"type":"hello"}`,
	} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatal(err)
		}
	}

	// connection still serves requests
	conn.WriteJSON(Message{Type: TypePing})
	if msg := readMsg(t, conn); msg.Type != TypePong {
		t.Fatalf("expected pong after bad input, got %+v", msg)
	}
	select {
	case e := <-sink.events:
		t.Fatalf("malformed input forwarded %+v", e)
	default:
	}
}

func TestClientSink(t *testing.T) {
	srv, sink, addr := startServer(t)

	c, err := Dial(context.Background(), addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if err := c.Send(midi.On(3, 64, 80)); err != nil {
		t.Fatal(err)
	}
	if e := expectEvent(t, sink); e != midi.On(3, 64, 80) {
		t.Fatalf("forwarded %+v", e)
	}
	if err := c.Send(midi.Control(0, midi.AllNotesOff, 0)); err != nil {
		t.Fatal(err)
	}
	if e := expectEvent(t, sink); e.Type != midi.CC || e.Note != 123 {
		t.Fatalf("forwarded %+v", e)
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.Welcome() != WelcomeText {
		if time.Now().After(deadline) {
			t.Fatal("welcome not received")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if srv.Clients() != 1 {
		t.Fatalf("clients = %d", srv.Clients())
	}
	if !strings.HasPrefix(c.Name(), "bridge:ws://") {
		t.Fatalf("name = %q", c.Name())
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestClientLogsMalformedMessages(t *testing.T) {
	var logs lockedBuffer
	if err := debug.EnableWriter(&logs, "debug"); err != nil {
		t.Fatal(err)
	}
	defer debug.Disable()

	var upgrader websocket.Upgrader
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
		conn.WriteJSON(Message{Type: TypeWelcome, Message: "hello"})
		conn.ReadMessage() // hold until the client closes
	}))
	defer hs.Close()

	c, err := Dial(context.Background(), strings.TrimPrefix(hs.URL, "http://"))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	deadline := time.Now().Add(2 * time.Second)
	for c.Welcome() != "hello" {
		if time.Now().After(deadline) {
			t.Fatal("welcome after a malformed message not received")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !strings.Contains(logs.String(), "malformed message") {
		t.Fatalf("malformed message not logged: %q", logs.String())
	}
}

func TestClientDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := Dial(ctx, "127.0.0.1:1"); err == nil {
		t.Fatal("dial to a closed port should fail")
	}
}

func TestNormalizeAddr(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"192.168.1.20", "ws://192.168.1.20:3030"},
		{"192.168.1.20:4000", "ws://192.168.1.20:4000"},
		{"ws://studio.local", "ws://studio.local:3030"},
		{"wss://studio.local:443", "wss://studio.local:443"},
		{" localhost ", "ws://localhost:3030"},
	}
	for _, tt := range tests {
		got, err := NormalizeAddr(tt.in)
		if err != nil {
			t.Fatalf("NormalizeAddr(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("NormalizeAddr(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "http://example.com", "ws://"} {
		if _, err := NormalizeAddr(bad); err == nil {
			t.Fatalf("NormalizeAddr(%q) should fail", bad)
		}
	}
}

func TestMIDIMessageEncoding(t *testing.T) {
	at := time.UnixMilli(1234)
	msg := MIDIMessage(midi.Off(2, 61), at)
	if msg.Type != TypeMIDI || msg.Timestamp != 1234 {
		t.Fatalf("msg = %+v", msg)
	}
	if len(msg.Data) != 3 || msg.Data[0] != 0x82 || msg.Data[1] != 61 || msg.Data[2] != 0 {
		t.Fatalf("data = %v", msg.Data)
	}
}
