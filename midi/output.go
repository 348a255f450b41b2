package midi

import (
	"context"
	"sync"
	"sync/atomic"

	"go-maestro/debug"
)

// DefaultQueueSize bounds the events waiting for the sender goroutine.
const DefaultQueueSize = 256

// Output decouples scheduling from device I/O. Send never blocks: when the
// queue is full the event is dropped and counted. Failed writes are logged
// and not retried.
type Output struct {
	mu   sync.RWMutex
	sink Sink

	queue chan Event

	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64

	// OnChange is called after SetSink (TUI status refresh).
	OnChange func(name string, ready bool)
}

// NewOutput wraps sink (NullSink when nil) with a queue of size events.
func NewOutput(sink Sink, size int) *Output {
	if sink == nil {
		sink = NullSink{}
	}
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Output{sink: sink, queue: make(chan Event, size)}
}

// Send queues e for delivery. Returns false if it was dropped.
func (o *Output) Send(e Event) bool {
	select {
	case o.queue <- e:
		return true
	default:
		n := o.dropped.Add(1)
		debug.LogEvery(100, "output", "queue full, dropped %s (total %d)", e, n)
		return false
	}
}

// Run delivers queued events until ctx is done, flushes what is still
// queued, then closes the sink.
func (o *Output) Run(ctx context.Context) error {
	defer func() {
		o.mu.Lock()
		if err := o.sink.Close(); err != nil {
			debug.Log("output", "close %s: %v", o.sink.Name(), err)
		}
		o.sink = NullSink{}
		o.mu.Unlock()
	}()
	for {
		select {
		case <-ctx.Done():
			o.drain()
			return nil
		case e := <-o.queue:
			o.deliver(e)
		}
	}
}

func (o *Output) drain() {
	for {
		select {
		case e := <-o.queue:
			o.deliver(e)
		default:
			return
		}
	}
}

func (o *Output) deliver(e Event) {
	o.mu.RLock()
	sink := o.sink
	o.mu.RUnlock()

	if err := sink.Send(e); err != nil {
		n := o.failed.Add(1)
		debug.LogEvery(50, "output", "send to %s failed: %v (failures %d)", sink.Name(), err, n)
		return
	}
	o.sent.Add(1)
}

// SetSink swaps the destination and closes the previous one.
func (o *Output) SetSink(s Sink) {
	if s == nil {
		s = NullSink{}
	}
	o.mu.Lock()
	old := o.sink
	o.sink = s
	cb := o.OnChange
	o.mu.Unlock()

	if old != s {
		if err := old.Close(); err != nil {
			debug.Log("output", "close %s: %v", old.Name(), err)
		}
	}
	debug.Log("output", "sink -> %s", s.Name())
	if cb != nil {
		cb(s.Name(), isReady(s))
	}
}

// Name returns the current sink name.
func (o *Output) Name() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.sink.Name()
}

// Ready reports whether a real device is attached.
func (o *Output) Ready() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return isReady(o.sink)
}

func isReady(s Sink) bool {
	_, null := s.(NullSink)
	return !null
}

// Stats returns delivery counters.
func (o *Output) Stats() (sent, dropped, failed uint64) {
	return o.sent.Load(), o.dropped.Load(), o.failed.Load()
}
