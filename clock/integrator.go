// Package clock owns the performance clock: a damped tempo model that turns
// wall-clock frame deltas into musical time.
package clock

import "math"

// Tempo bounds in BPM. Every tempo that enters the clock is clamped here.
const (
	MinTempo = 30.0
	MaxTempo = 300.0
)

// Config holds the physics constants. Zero fields take defaults.
type Config struct {
	ReferenceTempo        float64 // BPM at which musical time equals wall time
	InitialTempo          float64 // starting current and target tempo
	LerpFactor            float64 // per-tick approach toward target tempo, (0,1]
	Friction              float64 // per-tick velocity decay
	CruiseVelocity        float64 // velocity floor while playing
	MaxVelocity           float64 // impulse cap
	ImpulseStep           float64 // velocity added per impulse
	RestEpsilon           float64 // velocity below this is zero when stopped
	BeatsPerMeasure       float64
	ImpulseStartsPlayback bool
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		ReferenceTempo:        80,
		InitialTempo:          80,
		LerpFactor:            0.1,
		Friction:              0.98,
		CruiseVelocity:        0.05,
		MaxVelocity:           3.0,
		ImpulseStep:           1.0,
		RestEpsilon:           0.001,
		BeatsPerMeasure:       4,
		ImpulseStartsPlayback: true,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ReferenceTempo <= 0 {
		c.ReferenceTempo = def.ReferenceTempo
	}
	if c.InitialTempo <= 0 {
		c.InitialTempo = c.ReferenceTempo
	}
	if c.LerpFactor <= 0 || c.LerpFactor > 1 {
		c.LerpFactor = def.LerpFactor
	}
	if c.Friction <= 0 || c.Friction >= 1 {
		c.Friction = def.Friction
	}
	if c.CruiseVelocity < 0 {
		c.CruiseVelocity = 0
	}
	if c.MaxVelocity <= 0 {
		c.MaxVelocity = def.MaxVelocity
	}
	if c.ImpulseStep <= 0 {
		c.ImpulseStep = def.ImpulseStep
	}
	if c.RestEpsilon <= 0 {
		c.RestEpsilon = def.RestEpsilon
	}
	if c.BeatsPerMeasure <= 0 {
		c.BeatsPerMeasure = def.BeatsPerMeasure
	}
	return c
}

// State is a copy of the clock at one instant.
type State struct {
	Time        float64 `json:"time"` // musical seconds
	Tempo       float64 `json:"tempo"`
	TargetTempo float64 `json:"targetTempo"`
	Velocity    float64 `json:"velocity"`
	Measure     float64 `json:"measure"`
	Playing     bool    `json:"playing"`
}

// Integrator is the tempo/physics model. It is not safe for concurrent use;
// Engine gives it a single owner goroutine.
type Integrator struct {
	cfg   Config
	state State
}

// NewIntegrator returns a stopped integrator at time zero.
func NewIntegrator(cfg Config) *Integrator {
	cfg = cfg.withDefaults()
	tempo := ClampTempo(cfg.InitialTempo)
	return &Integrator{
		cfg: cfg,
		state: State{
			Tempo:       tempo,
			TargetTempo: tempo,
		},
	}
}

// Config returns the effective configuration.
func (in *Integrator) Config() Config { return in.cfg }

// State returns a copy of the current state.
func (in *Integrator) State() State { return in.state }

// Tick advances the model by dt wall seconds and reports whether the frame
// loop should keep running. Invalid dt leaves the clock untouched.
func (in *Integrator) Tick(dt float64) bool {
	if math.IsNaN(dt) || math.IsInf(dt, 0) || dt < 0 {
		return in.Active()
	}
	s := &in.state

	if s.Playing {
		s.Tempo = ClampTempo(s.Tempo + (s.TargetTempo-s.Tempo)*in.cfg.LerpFactor)
	}

	s.Velocity *= in.cfg.Friction
	if s.Playing {
		if s.Velocity < in.cfg.CruiseVelocity {
			s.Velocity = in.cfg.CruiseVelocity
		}
	} else if s.Velocity < in.cfg.RestEpsilon {
		s.Velocity = 0
	}

	if s.Playing {
		s.Time += dt * (s.Tempo / in.cfg.ReferenceTempo)
		beats := s.Tempo / 60 * dt
		s.Measure += beats / in.cfg.BeatsPerMeasure
	}

	return in.Active()
}

// Active reports whether the loop has work: playing or still coasting.
func (in *Integrator) Active() bool {
	return in.state.Playing || in.state.Velocity > in.cfg.RestEpsilon
}

// Impulse bumps the visual velocity. It never changes tempo.
func (in *Integrator) Impulse() {
	in.state.Velocity = math.Min(in.state.Velocity+in.cfg.ImpulseStep, in.cfg.MaxVelocity)
	if in.cfg.ImpulseStartsPlayback {
		in.state.Playing = true
	}
}

// TogglePlay pauses (keeping time) or resumes playback.
func (in *Integrator) TogglePlay() {
	if in.state.Playing {
		in.state.Playing = false
		in.state.Velocity = 0
		return
	}
	in.state.Playing = true
	in.state.Velocity = math.Min(in.cfg.ImpulseStep, in.cfg.MaxVelocity)
}

// Play starts playback if stopped.
func (in *Integrator) Play() {
	if !in.state.Playing {
		in.TogglePlay()
	}
}

// Pause stops playback without moving the clock.
func (in *Integrator) Pause() {
	if in.state.Playing {
		in.TogglePlay()
	}
}

// Stop halts playback and rewinds to the start.
func (in *Integrator) Stop() {
	in.state.Playing = false
	in.state.Velocity = 0
	in.state.Time = 0
	in.state.Measure = 0
}

// SetTargetTempo clamps bpm into range. NaN is ignored.
func (in *Integrator) SetTargetTempo(bpm float64) {
	if math.IsNaN(bpm) {
		return
	}
	in.state.TargetTempo = ClampTempo(bpm)
}

// Seek jumps the clock to t musical seconds.
func (in *Integrator) Seek(t float64) {
	if math.IsNaN(t) || math.IsInf(t, 0) || t < 0 {
		t = 0
	}
	in.state.Time = t
	// musical seconds run at reference tempo, so beats = t * ref / 60
	in.state.Measure = t * in.cfg.ReferenceTempo / 60 / in.cfg.BeatsPerMeasure
}

// ClampTempo bounds bpm to [MinTempo, MaxTempo].
func ClampTempo(bpm float64) float64 {
	if bpm < MinTempo {
		return MinTempo
	}
	if bpm > MaxTempo {
		return MaxTempo
	}
	return bpm
}
