package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"

	"go-maestro/clock"
	"go-maestro/gesture"
	"go-maestro/sequencer"
)

// OutputMode selects where scheduled notes go
type OutputMode string

const (
	OutputPort   OutputMode = "port"
	OutputBridge OutputMode = "bridge"
	OutputSerial OutputMode = "serial"
	OutputNone   OutputMode = "none"
)

// ClockConfig tunes the tempo model and frame loop
type ClockConfig struct {
	ReferenceTempo        float64 `json:"referenceTempo"`
	InitialTempo          float64 `json:"initialTempo"`
	LerpFactor            float64 `json:"lerpFactor"`
	Friction              float64 `json:"friction"`
	BeatsPerMeasure       float64 `json:"beatsPerMeasure"`
	FrameRate             int     `json:"frameRate"`
	PublishIntervalMS     int     `json:"publishIntervalMs"`
	ImpulseStartsPlayback bool    `json:"impulseStartsPlayback"`
}

// SchedulerConfig holds the scheduling windows in seconds
type SchedulerConfig struct {
	Lookahead     float64 `json:"lookahead"`
	LateTolerance float64 `json:"lateTolerance"`
}

// GestureConfig tunes beat detection
type GestureConfig struct {
	Threshold     float64 `json:"threshold"`
	Margin        float64 `json:"margin"`
	DebounceMS    int     `json:"debounceMs"`
	IdleTimeoutMS int     `json:"idleTimeoutMs"`
	Window        int     `json:"window"`
}

// OutputConfig defines the note output
type OutputConfig struct {
	Mode       OutputMode `json:"mode"`
	PortName   string     `json:"portName,omitempty"` // substring match
	Exclude    []string   `json:"exclude,omitempty"`
	BridgeAddr string     `json:"bridgeAddr,omitempty"`
	SerialPort string     `json:"serialPort,omitempty"`
	SerialBaud int        `json:"serialBaud,omitempty"`
	QueueSize  int        `json:"queueSize,omitempty"`
}

// BridgeConfig is used by the bridge server
type BridgeConfig struct {
	Listen   string `json:"listen"`
	PortName string `json:"portName"`
}

// SensorConfig selects the conducting input
type SensorConfig struct {
	Device   string `json:"device,omitempty"` // serial accelerometer
	Baud     int    `json:"baud,omitempty"`
	File     string `json:"file,omitempty"`     // recorded samples
	TapInput string `json:"tapInput,omitempty"` // MIDI input port for tap conducting
}

// UIConfig stores UI preferences
type UIConfig struct {
	LastSong   string `json:"lastSong,omitempty"`
	LastTiming string `json:"lastTiming,omitempty"`
	Palette    string `json:"palette,omitempty"` // GIMP .gpl file
	ScoreWidth int    `json:"scoreWidth,omitempty"`
}

// LogConfig controls the debug log
type LogConfig struct {
	Enabled bool   `json:"enabled"`
	Level   string `json:"level"`
}

// Config is the main configuration structure
type Config struct {
	Clock     ClockConfig     `json:"clock"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Gesture   GestureConfig   `json:"gesture"`
	Output    OutputConfig    `json:"output"`
	Bridge    BridgeConfig    `json:"bridge"`
	Sensor    SensorConfig    `json:"sensor"`
	UI        UIConfig        `json:"ui,omitempty"`
	Log       LogConfig       `json:"log"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	cc := clock.DefaultConfig()
	gc := gesture.DefaultConfig()
	return &Config{
		Clock: ClockConfig{
			ReferenceTempo:        cc.ReferenceTempo,
			InitialTempo:          cc.InitialTempo,
			LerpFactor:            cc.LerpFactor,
			Friction:              cc.Friction,
			BeatsPerMeasure:       cc.BeatsPerMeasure,
			FrameRate:             clock.DefaultFrameRate,
			PublishIntervalMS:     int(clock.DefaultPublishInterval / time.Millisecond),
			ImpulseStartsPlayback: cc.ImpulseStartsPlayback,
		},
		Scheduler: SchedulerConfig{
			Lookahead:     sequencer.DefaultLookahead,
			LateTolerance: sequencer.DefaultLateTolerance,
		},
		Gesture: GestureConfig{
			Threshold:     gc.Threshold,
			Margin:        gc.Margin,
			DebounceMS:    int(gc.Debounce / time.Millisecond),
			IdleTimeoutMS: int(gc.IdleTimeout / time.Millisecond),
			Window:        gc.Window,
		},
		Output: OutputConfig{
			Mode:       OutputPort,
			PortName:   "Maestro",
			SerialBaud: 31250,
		},
		Bridge: BridgeConfig{
			Listen:   ":3030",
			PortName: "Maestro",
		},
		UI: UIConfig{
			ScoreWidth: 60,
		},
		Log: LogConfig{
			Level: "debug",
		},
	}
}

// ClockSettings converts to the clock package's config.
func (c *Config) ClockSettings() clock.Config {
	cc := clock.DefaultConfig()
	cc.ReferenceTempo = c.Clock.ReferenceTempo
	cc.InitialTempo = c.Clock.InitialTempo
	cc.LerpFactor = c.Clock.LerpFactor
	cc.Friction = c.Clock.Friction
	cc.BeatsPerMeasure = c.Clock.BeatsPerMeasure
	cc.ImpulseStartsPlayback = c.Clock.ImpulseStartsPlayback
	return cc
}

// PublishInterval returns the UI snapshot interval.
func (c *Config) PublishInterval() time.Duration {
	if c.Clock.PublishIntervalMS <= 0 {
		return clock.DefaultPublishInterval
	}
	return time.Duration(c.Clock.PublishIntervalMS) * time.Millisecond
}

// SchedulerOptions converts to sequencer options.
func (c *Config) SchedulerOptions() sequencer.Options {
	return sequencer.Options{
		Lookahead:     c.Scheduler.Lookahead,
		LateTolerance: c.Scheduler.LateTolerance,
	}
}

// GestureSettings converts to the detector config. Zero fields keep defaults.
func (c *Config) GestureSettings() gesture.Config {
	gc := gesture.DefaultConfig()
	if c.Gesture.Threshold > 0 {
		gc.Threshold = c.Gesture.Threshold
	}
	if c.Gesture.Margin >= 0 {
		gc.Margin = c.Gesture.Margin
	}
	if c.Gesture.DebounceMS > 0 {
		gc.Debounce = time.Duration(c.Gesture.DebounceMS) * time.Millisecond
	}
	if c.Gesture.IdleTimeoutMS > 0 {
		gc.IdleTimeout = time.Duration(c.Gesture.IdleTimeoutMS) * time.Millisecond
	}
	if c.Gesture.Window > 0 {
		gc.Window = c.Gesture.Window
	}
	return gc
}

// ConfigDir returns the config directory path
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "go-maestro"), nil
}

// ConfigPath returns the full path to config.json
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config from disk, or returns defaults if not found
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), nil
	}
	return LoadFrom(path)
}

// LoadFrom reads path over the defaults. A missing file yields defaults; a
// corrupt one is an error.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fault.Wrap(err, fmsg.With("read config"))
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fault.Wrap(err, fmsg.WithDesc("parse "+path, "Config file is corrupt: "+path))
	}
	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes the config to path, creating its directory.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
