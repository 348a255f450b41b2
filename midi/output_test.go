package midi

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go-maestro/debug"
)

type memSink struct {
	mu     sync.Mutex
	name   string
	events []Event
	err    error
	gate     chan struct{} // when set, Send waits on it
	closed   bool
	closeErr error
}

func (s *memSink) Name() string { return s.name }

func (s *memSink) Send(e Event) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *memSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.closeErr
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestOutputDelivers(t *testing.T) {
	sink := &memSink{name: "mem"}
	out := NewOutput(sink, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { out.Run(ctx); close(done) }()

	out.Send(On(0, 60, 100))
	out.Send(Off(0, 60))
	waitFor(t, func() bool { return sink.count() == 2 })

	cancel()
	<-done
	if !sink.closed {
		t.Fatal("sink not closed on shutdown")
	}
	if sent, _, _ := out.Stats(); sent != 2 {
		t.Fatalf("sent = %d, want 2", sent)
	}
}

func TestOutputSendNeverBlocks(t *testing.T) {
	sink := &memSink{name: "slow", gate: make(chan struct{})}
	out := NewOutput(sink, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go out.Run(ctx)

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			out.Send(On(0, uint8(i), 100))
		}
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Send blocked on a stalled sink")
	}
	if _, dropped, _ := out.Stats(); dropped == 0 {
		t.Fatal("expected drops with a full queue")
	}
	close(sink.gate)
}

func TestOutputFailuresDoNotStopDelivery(t *testing.T) {
	sink := &memSink{name: "bad", err: errors.New("unplugged")}
	out := NewOutput(sink, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go out.Run(ctx)

	out.Send(On(0, 60, 100))
	waitFor(t, func() bool { _, _, failed := out.Stats(); return failed == 1 })

	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()
	out.Send(On(0, 62, 100))
	waitFor(t, func() bool { return sink.count() == 1 })
}

func TestOutputSetSink(t *testing.T) {
	first := &memSink{name: "first"}
	out := NewOutput(nil, 4)
	if out.Ready() {
		t.Fatal("null sink should not be ready")
	}

	var gotName string
	var gotReady bool
	out.OnChange = func(name string, ready bool) { gotName, gotReady = name, ready }

	out.SetSink(first)
	if !out.Ready() || out.Name() != "first" {
		t.Fatalf("after SetSink: ready=%v name=%q", out.Ready(), out.Name())
	}
	if gotName != "first" || !gotReady {
		t.Fatalf("OnChange got (%q, %v)", gotName, gotReady)
	}

	out.SetSink(nil)
	if !first.closed {
		t.Fatal("replaced sink should be closed")
	}
	if out.Ready() {
		t.Fatal("nil sink should leave output not ready")
	}
}

func TestOutputFlushesQueueOnShutdown(t *testing.T) {
	sink := &memSink{name: "mem"}
	out := NewOutput(sink, 32)
	for ch := uint8(0); ch < 16; ch++ {
		out.Send(Control(ch, AllNotesOff, 0))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out.Run(ctx)

	if n := sink.count(); n != 16 {
		t.Fatalf("delivered %d events before close, want 16", n)
	}
	if !sink.closed {
		t.Fatal("sink should be closed after Run returns")
	}
}

func TestOutputLogsCloseFailure(t *testing.T) {
	var logs bytes.Buffer
	if err := debug.EnableWriter(&logs, "debug"); err != nil {
		t.Fatal(err)
	}
	defer debug.Disable()

	sink := &memSink{name: "flaky", closeErr: errors.New("port vanished")}
	out := NewOutput(sink, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out.Run(ctx)

	if !sink.closed {
		t.Fatal("sink should be closed")
	}
	if !strings.Contains(logs.String(), "port vanished") {
		t.Fatalf("close failure not logged: %q", logs.String())
	}
}
