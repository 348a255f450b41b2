package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/gorilla/websocket"

	"go-maestro/debug"
	"go-maestro/midi"
)

// ConnectTimeout bounds the dial and handshake.
const ConnectTimeout = 5 * time.Second

const writeTimeout = time.Second

// Client is a midi.Sink that sends events to a bridge server.
type Client struct {
	url  string
	conn *websocket.Conn

	wmu sync.Mutex // one writer at a time

	mu      sync.Mutex
	welcome string
	rtt     time.Duration
	pingAt  time.Time

	done chan struct{}
}

// Dial connects to addr (normalized with NormalizeAddr).
func Dial(ctx context.Context, addr string) (*Client, error) {
	u, err := NormalizeAddr(addr)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: ConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fault.Wrap(err, fmsg.WithDesc("bridge dial "+u, "Connection failed"))
	}

	c := &Client{url: u, conn: conn, done: make(chan struct{})}
	go c.readLoop()
	debug.Log("bridge", "connected to %s", u)
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			debug.Log("bridge", "disconnected from %s: %v", c.url, err)
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			debug.LogEvery(20, "bridge", "malformed message from %s: %v", c.url, err)
			continue
		}
		switch msg.Type {
		case TypeWelcome:
			c.mu.Lock()
			c.welcome = msg.Message
			c.mu.Unlock()
			debug.Log("bridge", "server: %s", msg.Message)
		case TypePong:
			c.mu.Lock()
			if !c.pingAt.IsZero() {
				c.rtt = time.Since(c.pingAt)
			}
			c.mu.Unlock()
		}
	}
}

func (c *Client) Name() string { return "bridge:" + c.url }

// Send writes e as a midi message.
func (c *Client) Send(e midi.Event) error {
	if e.Message() == nil {
		return fault.Wrap(midi.ErrUnsupported, fmsg.With(e.String()))
	}
	return c.write(MIDIMessage(e, time.Now()))
}

// Ping asks the server for a pong; RTT is updated when it arrives.
func (c *Client) Ping() error {
	c.mu.Lock()
	c.pingAt = time.Now()
	c.mu.Unlock()
	return c.write(Message{Type: TypePing})
}

func (c *Client) write(msg Message) error {
	select {
	case <-c.done:
		return fault.New("bridge connection closed")
	default:
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		debug.Log("bridge", "set write deadline: %v", err)
	}
	return c.conn.WriteJSON(msg)
}

// Welcome returns the server greeting ("" until received).
func (c *Client) Welcome() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.welcome
}

// RTT returns the last measured ping round trip.
func (c *Client) RTT() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rtt
}

// Done is closed when the connection drops.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() error {
	c.wmu.Lock()
	err := c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	c.wmu.Unlock()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		debug.Log("bridge", "close handshake with %s: %v", c.url, err)
	}
	return c.conn.Close()
}
