package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"go-maestro/debug"
	"go-maestro/midi"
)

// Server accepts bridge clients and forwards their MIDI to a sink.
type Server struct {
	sink     midi.Sink
	upgrader websocket.Upgrader
	clients  atomic.Int32
	now      func() time.Time
	log      *charmlog.Logger
}

// NewServer forwards decoded messages to sink.
func NewServer(sink midi.Sink, log *charmlog.Logger) *Server {
	if log == nil {
		log = debug.Logger("bridge")
	}
	return &Server{
		sink: sink,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		now: time.Now,
		log: log,
	}
}

// Clients returns the number of open connections.
func (s *Server) Clients() int {
	return int(s.clients.Load())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.Close()

	n := s.clients.Add(1)
	s.log.Info("client connected", "remote", r.RemoteAddr, "total", n)
	defer func() {
		s.log.Info("client disconnected", "remote", r.RemoteAddr, "remaining", s.clients.Add(-1))
	}()

	if err := conn.WriteJSON(Welcome()); err != nil {
		s.log.Warn("welcome failed", "err", err)
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("read ended", "remote", r.RemoteAddr, "err", err)
			}
			return
		}
		if err := s.handle(conn, data); err != nil {
			return
		}
	}
}

// handle processes one frame. Only write failures end the connection.
func (s *Server) handle(conn *websocket.Conn, data []byte) error {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Warn("malformed message", "err", err)
		return nil
	}

	switch msg.Type {
	case TypeMIDI:
		ev, err := msg.Event()
		if err != nil {
			s.log.Warn("dropped midi", "data", msg.Data, "err", err)
			return nil
		}
		if err := s.sink.Send(ev); err != nil {
			s.log.Warn("output failed", "event", ev.String(), "err", err)
			return nil
		}
		s.log.Debug("forwarded", "event", ev.String())
	case TypePing:
		return conn.WriteJSON(Pong(s.now()))
	default:
		s.log.Debug("ignored message", "type", msg.Type)
	}
	return nil
}

// ListenAndServe runs handler on addr until ctx is done.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
