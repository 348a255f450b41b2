package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromMissingGivesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Clock.ReferenceTempo != 80 || cfg.Scheduler.Lookahead != 0.05 || cfg.Output.Mode != OutputPort {
		t.Fatalf("defaults = %+v", cfg)
	}
	if !cfg.Clock.ImpulseStartsPlayback {
		t.Fatal("impulse should start playback by default")
	}
}

func TestLoadFromMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"clock":{"initialTempo":96},"output":{"mode":"bridge","bridgeAddr":"10.0.0.5"}}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Clock.InitialTempo != 96 {
		t.Fatalf("initial tempo = %v", cfg.Clock.InitialTempo)
	}
	if cfg.Clock.Friction != 0.98 {
		t.Fatalf("unset fields should keep defaults, friction = %v", cfg.Clock.Friction)
	}
	if cfg.Output.Mode != OutputBridge || cfg.Output.BridgeAddr != "10.0.0.5" {
		t.Fatalf("output = %+v", cfg.Output)
	}
	if got := cfg.ClockSettings().InitialTempo; got != 96 {
		t.Fatalf("clock settings tempo = %v", got)
	}
}

func TestLoadFromCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte("{nope"), 0644)
	if _, err := LoadFrom(path); err == nil {
		t.Fatal("corrupt config should fail")
	}
}

func TestSaveToRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := DefaultConfig()
	cfg.UI.LastSong = "/music/bolero.mid"
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}
	got, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.UI.LastSong != cfg.UI.LastSong {
		t.Fatalf("last song = %q", got.UI.LastSong)
	}
}

func TestGestureSettings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Gesture.DebounceMS = 250
	cfg.Gesture.Window = 0
	gc := cfg.GestureSettings()
	if gc.Debounce != 250*time.Millisecond {
		t.Fatalf("debounce = %v", gc.Debounce)
	}
	if gc.Window != 3 {
		t.Fatalf("zero window should keep default, got %d", gc.Window)
	}
	if cfg.PublishInterval() != 50*time.Millisecond {
		t.Fatalf("publish interval = %v", cfg.PublishInterval())
	}
}
