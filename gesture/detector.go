// Package gesture turns a stream of accelerometer samples into conducting
// beats and a tempo estimate.
package gesture

import (
	"math"
	"sync"
	"time"

	"go-maestro/debug"
)

// Tempo bounds shared with the clock.
const (
	MinBPM = 30.0
	MaxBPM = 300.0
)

// Sample is one 3-axis acceleration reading.
type Sample struct {
	At      time.Time // zero means "now"
	X, Y, Z float64
}

// Magnitude returns the Euclidean norm of the acceleration vector.
func (s Sample) Magnitude() float64 {
	return math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
}

// Beat is an accepted gesture beat. The first beat after start has no tempo
// estimate because there is no interval to measure.
type Beat struct {
	At     time.Time
	BPM    float64
	HasBPM bool
}

// Config tunes detection.
type Config struct {
	Threshold   float64       // magnitude that counts as a stroke
	Margin      float64       // added to Threshold to reject borderline noise
	Debounce    time.Duration // minimum time between accepted beats
	IdleTimeout time.Duration // no beats for this long = not conducting
	Window      int           // number of intervals averaged
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:   15.0,
		Debounce:    300 * time.Millisecond,
		IdleTimeout: 1500 * time.Millisecond,
		Window:      3,
	}
}

// Detector consumes samples and reports beats. OnSample may be called from a
// sensor goroutine; beat handling and idle-timer expiry serialize on mu.
type Detector struct {
	mu  sync.Mutex
	cfg Config

	lastBeat   time.Time
	hasLast    bool
	history    []float64 // instantaneous BPM ring, newest last
	conducting bool
	idle       *time.Timer
	generation uint64 // bumps on every beat; stale timers compare against it
	closed     bool

	now func() time.Time

	onBeat       func(Beat)
	onConducting func(bool)
}

// Option configures a Detector.
type Option func(*Detector)

// WithBeatHandler installs a callback run after each accepted beat.
func WithBeatHandler(fn func(Beat)) Option {
	return func(d *Detector) { d.onBeat = fn }
}

// WithConductingHandler installs a callback run when conducting state flips.
func WithConductingHandler(fn func(bool)) Option {
	return func(d *Detector) { d.onConducting = fn }
}

// WithClock overrides the wall clock used for samples without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// NewDetector builds a detector; zero config fields fall back to defaults.
func NewDetector(cfg Config, opts ...Option) *Detector {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Margin < 0 {
		cfg.Margin = 0
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	d := &Detector{
		cfg: cfg,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OnSample evaluates one reading and returns the beat when one is accepted.
func (d *Detector) OnSample(s Sample) (Beat, bool) {
	at := s.At
	if at.IsZero() {
		at = d.now()
	}
	if s.Magnitude() <= d.cfg.Threshold+d.cfg.Margin {
		return Beat{}, false
	}
	return d.beatAt(at)
}

// Tap registers a beat from a discrete source (MIDI pad, key press) with no
// magnitude. Debounce still applies.
func (d *Detector) Tap(at time.Time) (Beat, bool) {
	if at.IsZero() {
		at = d.now()
	}
	return d.beatAt(at)
}

func (d *Detector) beatAt(at time.Time) (Beat, bool) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return Beat{}, false
	}
	if d.hasLast && at.Before(d.lastBeat) {
		// Inputs on different time bases; start the estimate over.
		debug.Log("gesture", "beat %v before previous, resetting history", d.lastBeat.Sub(at))
		d.hasLast = false
		d.history = d.history[:0]
	}
	if d.hasLast && at.Sub(d.lastBeat) <= d.cfg.Debounce {
		d.mu.Unlock()
		return Beat{}, false
	}

	beat := Beat{At: at}
	if d.hasLast {
		interval := at.Sub(d.lastBeat)
		instant := 60000 / (float64(interval) / float64(time.Millisecond))
		d.history = append(d.history, instant)
		if len(d.history) > d.cfg.Window {
			d.history = d.history[len(d.history)-d.cfg.Window:]
		}
		var sum float64
		for _, v := range d.history {
			sum += v
		}
		beat.BPM = math.Round(clamp(sum/float64(len(d.history)), MinBPM, MaxBPM))
		beat.HasBPM = true
	}
	d.lastBeat = at
	d.hasLast = true

	flipped := !d.conducting
	d.conducting = true
	d.armIdleLocked()
	onBeat, onConducting := d.onBeat, d.onConducting
	d.mu.Unlock()

	debug.Log("gesture", "beat bpm=%.0f has=%v", beat.BPM, beat.HasBPM)
	if flipped && onConducting != nil {
		onConducting(true)
	}
	if onBeat != nil {
		onBeat(beat)
	}
	return beat, true
}

// armIdleLocked restarts the idle timer for the current generation.
func (d *Detector) armIdleLocked() {
	d.generation++
	gen := d.generation
	if d.idle != nil {
		d.idle.Stop()
	}
	d.idle = time.AfterFunc(d.cfg.IdleTimeout, func() { d.expire(gen) })
}

func (d *Detector) expire(gen uint64) {
	d.mu.Lock()
	// A beat re-armed the timer after this one fired; it is stale.
	if gen != d.generation || d.closed || !d.conducting {
		d.mu.Unlock()
		return
	}
	d.conducting = false
	onConducting := d.onConducting
	d.mu.Unlock()

	debug.Log("gesture", "idle timeout, holding tempo")
	if onConducting != nil {
		onConducting(false)
	}
}

// Conducting reports whether a beat arrived within the idle timeout.
func (d *Detector) Conducting() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conducting
}

// Reset forgets beat history; the next beat reports no tempo.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hasLast = false
	d.history = d.history[:0]
}

// Close stops the idle timer. Further samples are ignored.
func (d *Detector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.generation++
	if d.idle != nil {
		d.idle.Stop()
		d.idle = nil
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
