package clock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go-maestro/debug"
)

// Listener observes the clock from the engine goroutine. Implementations must
// return quickly; they run inside the frame loop.
type Listener interface {
	// Advance is called after every tick.
	Advance(s State)
	// Relocate is called after Stop or Seek moved the clock discontinuously.
	Relocate(s State)
}

// Ticker is the frame source the engine drives the integrator from.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type stdTicker struct{ t *time.Ticker }

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

// DefaultFrameRate is the target tick rate in Hz.
const DefaultFrameRate = 60

type command struct {
	apply func(*Integrator) bool // true when the clock relocated
	done  chan struct{}
	name  string
}

// Engine runs an Integrator on a single goroutine. Frames and control
// commands are handled one at a time, so ticks never overlap and control
// actions land between ticks.
type Engine struct {
	in        *Integrator
	cmds      chan command
	frame     time.Duration
	newTicker func(time.Duration) Ticker
	now       func() time.Time
	publisher *Publisher
	snapshot  atomic.Pointer[State]
	stopped   chan struct{}

	listenersMu sync.RWMutex
	listeners   []Listener
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithFrameRate sets the tick rate in Hz.
func WithFrameRate(hz int) EngineOption {
	return func(e *Engine) {
		if hz > 0 {
			e.frame = time.Second / time.Duration(hz)
		}
	}
}

// WithTicker replaces the frame source (tests drive frames by hand).
func WithTicker(fn func(time.Duration) Ticker) EngineOption {
	return func(e *Engine) { e.newTicker = fn }
}

// WithClock replaces the wall clock used to seed the first frame delta.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithPublisher replaces the snapshot publisher.
func WithPublisher(p *Publisher) EngineOption {
	return func(e *Engine) { e.publisher = p }
}

// NewEngine builds an engine around a fresh integrator.
func NewEngine(cfg Config, opts ...EngineOption) *Engine {
	e := &Engine{
		in:    NewIntegrator(cfg),
		cmds:  make(chan command, 32),
		frame: time.Second / DefaultFrameRate,
		newTicker: func(d time.Duration) Ticker {
			return stdTicker{time.NewTicker(d)}
		},
		now:     time.Now,
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.publisher == nil {
		e.publisher = NewPublisher(DefaultPublishInterval)
	}
	st := e.in.State()
	e.snapshot.Store(&st)
	return e
}

// AddListener registers l for ticks and relocations.
func (e *Engine) AddListener(l Listener) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()
	e.listeners = append(e.listeners, l)
}

// Snapshot returns a copy of the most recent state.
func (e *Engine) Snapshot() State {
	return *e.snapshot.Load()
}

// Subscribe returns a channel of throttled snapshots.
func (e *Engine) Subscribe() <-chan State {
	return e.publisher.Subscribe()
}

// Config returns the integrator configuration.
func (e *Engine) Config() Config {
	return e.in.Config()
}

// Run owns the integrator until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.stopped)
	defer e.publisher.Close()

	var (
		ticker Ticker
		frames <-chan time.Time
		last   time.Time
	)
	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, frames = nil, nil
		}
	}
	defer stopTicker()

	for {
		select {
		case <-ctx.Done():
			return nil

		case cmd := <-e.cmds:
			relocated := cmd.apply(e.in)
			st := e.publish()
			if relocated {
				for _, l := range e.listenerSnapshot() {
					l.Relocate(st)
				}
			}
			e.publisher.Force(st, e.now())
			if ticker == nil && e.in.Active() {
				debug.Log("clock", "loop start after %s", cmd.name)
				ticker = e.newTicker(e.frame)
				frames = ticker.C()
				last = e.now()
			}
			if cmd.done != nil {
				close(cmd.done)
			}

		case at := <-frames:
			dt := at.Sub(last).Seconds()
			last = at
			active := e.in.Tick(dt)
			st := e.publish()
			for _, l := range e.listenerSnapshot() {
				l.Advance(st)
			}
			e.publisher.Offer(st, at)
			if !active {
				debug.Log("clock", "loop at rest t=%.3f", st.Time)
				stopTicker()
				e.publisher.Force(st, at)
			}
		}
	}
}

func (e *Engine) publish() State {
	st := e.in.State()
	e.snapshot.Store(&st)
	return st
}

func (e *Engine) listenerSnapshot() []Listener {
	e.listenersMu.RLock()
	defer e.listenersMu.RUnlock()
	return e.listeners
}

// do queues fn and waits until the engine goroutine has applied it. Returns
// early if the engine has exited.
func (e *Engine) do(name string, fn func(*Integrator) bool) {
	cmd := command{apply: fn, done: make(chan struct{}), name: name}
	select {
	case e.cmds <- cmd:
	case <-e.stopped:
		return
	}
	select {
	case <-cmd.done:
	case <-e.stopped:
	}
}

// Impulse nudges the visual velocity and wakes the loop.
func (e *Engine) Impulse() {
	e.do("impulse", func(in *Integrator) bool { in.Impulse(); return false })
}

// TogglePlay flips between playing and paused.
func (e *Engine) TogglePlay() {
	e.do("toggle", func(in *Integrator) bool { in.TogglePlay(); return false })
}

// Play resumes playback.
func (e *Engine) Play() {
	e.do("play", func(in *Integrator) bool { in.Play(); return false })
}

// Pause halts playback in place.
func (e *Engine) Pause() {
	e.do("pause", func(in *Integrator) bool { in.Pause(); return false })
}

// Stop halts playback and rewinds to zero.
func (e *Engine) Stop() {
	e.do("stop", func(in *Integrator) bool { in.Stop(); return true })
}

// SetTargetTempo sets the tempo the clock glides toward.
func (e *Engine) SetTargetTempo(bpm float64) {
	e.do("tempo", func(in *Integrator) bool { in.SetTargetTempo(bpm); return false })
}

// Seek moves the clock to t musical seconds.
func (e *Engine) Seek(t float64) {
	e.do("seek", func(in *Integrator) bool { in.Seek(t); return true })
}
