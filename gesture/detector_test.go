package gesture

import (
	"sync"
	"testing"
	"time"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func strike(ms int) Sample {
	return Sample{At: epoch.Add(time.Duration(ms) * time.Millisecond), X: 20}
}

func TestDetectorReportsTempoFromIntervals(t *testing.T) {
	d := NewDetector(DefaultConfig())
	defer d.Close()

	b, ok := d.OnSample(strike(0))
	if !ok {
		t.Fatalf("expected first strike to be a beat")
	}
	if b.HasBPM {
		t.Fatalf("first beat must not carry a tempo, got %v", b.BPM)
	}
	b, ok = d.OnSample(strike(500))
	if !ok || !b.HasBPM || b.BPM != 120 {
		t.Fatalf("expected 120 bpm on second beat, got %+v ok=%v", b, ok)
	}
	b, ok = d.OnSample(strike(1000))
	if !ok || !b.HasBPM || b.BPM != 120 {
		t.Fatalf("expected 120 bpm on third beat, got %+v ok=%v", b, ok)
	}
}

func TestDetectorAveragesRollingWindow(t *testing.T) {
	d := NewDetector(DefaultConfig())
	defer d.Close()

	// intervals: 1000 (60), 500 (120), 500 (120), 400 (150)
	times := []int{0, 1000, 1500, 2000, 2400}
	var last Beat
	for _, ms := range times {
		b, ok := d.OnSample(strike(ms))
		if !ok {
			t.Fatalf("strike at %dms rejected", ms)
		}
		last = b
	}
	// window of 3: (120+120+150)/3 = 130
	if last.BPM != 130 {
		t.Fatalf("expected rolling average 130, got %v", last.BPM)
	}
}

func TestDetectorIgnoresWeakAndDebouncedSamples(t *testing.T) {
	d := NewDetector(Config{Threshold: 15, Margin: 2})
	defer d.Close()

	if _, ok := d.OnSample(Sample{At: epoch, X: 16}); ok {
		t.Fatalf("sample inside margin should be rejected")
	}
	if _, ok := d.OnSample(Sample{At: epoch, X: 10, Y: 10, Z: 10}); !ok {
		t.Fatalf("magnitude ~17.3 should be accepted")
	}
	if _, ok := d.OnSample(Sample{At: epoch.Add(200 * time.Millisecond), X: 30}); ok {
		t.Fatalf("strike inside debounce window should be rejected")
	}
	if _, ok := d.OnSample(Sample{At: epoch.Add(300 * time.Millisecond), X: 30}); ok {
		t.Fatalf("strike exactly at debounce should be rejected")
	}
	if _, ok := d.OnSample(Sample{At: epoch.Add(301 * time.Millisecond), X: 30}); !ok {
		t.Fatalf("strike after debounce should be accepted")
	}
}

func TestDetectorClampsTempo(t *testing.T) {
	d := NewDetector(Config{Debounce: time.Millisecond})
	defer d.Close()

	d.OnSample(strike(0))
	b, _ := d.OnSample(strike(100)) // 600 bpm
	if b.BPM != MaxBPM {
		t.Fatalf("expected clamp to %v, got %v", MaxBPM, b.BPM)
	}
}

func TestDetectorIdleTimeoutClearsConducting(t *testing.T) {
	changes := make(chan bool, 4)
	d := NewDetector(Config{IdleTimeout: 30 * time.Millisecond},
		WithConductingHandler(func(on bool) { changes <- on }))
	defer d.Close()

	d.OnSample(Sample{X: 20})
	if !d.Conducting() {
		t.Fatalf("expected conducting after a beat")
	}
	select {
	case on := <-changes:
		if !on {
			t.Fatalf("expected first change to be true")
		}
	case <-time.After(time.Second):
		t.Fatalf("no conducting change reported")
	}
	select {
	case on := <-changes:
		if on {
			t.Fatalf("expected idle change to be false")
		}
	case <-time.After(time.Second):
		t.Fatalf("idle timeout never fired")
	}
	if d.Conducting() {
		t.Fatalf("expected not conducting after idle timeout")
	}
}

func TestDetectorStaleTimerIgnored(t *testing.T) {
	d := NewDetector(Config{IdleTimeout: time.Hour})
	defer d.Close()

	d.OnSample(Sample{X: 20})
	d.mu.Lock()
	stale := d.generation
	d.mu.Unlock()

	d.OnSample(Sample{At: time.Now().Add(time.Second), X: 20})
	d.expire(stale)
	if !d.Conducting() {
		t.Fatalf("stale idle timer must not clear conducting state")
	}
}

func TestDetectorBeatHandler(t *testing.T) {
	var mu sync.Mutex
	var beats []Beat
	d := NewDetector(DefaultConfig(), WithBeatHandler(func(b Beat) {
		mu.Lock()
		beats = append(beats, b)
		mu.Unlock()
	}))
	defer d.Close()

	d.OnSample(strike(0))
	d.OnSample(strike(10)) // debounced
	d.OnSample(strike(600))

	mu.Lock()
	defer mu.Unlock()
	if len(beats) != 2 {
		t.Fatalf("expected 2 beats delivered, got %d", len(beats))
	}
	if beats[1].BPM != 100 {
		t.Fatalf("expected 100 bpm, got %v", beats[1].BPM)
	}
}

func TestDetectorResetDropsHistory(t *testing.T) {
	d := NewDetector(DefaultConfig())
	defer d.Close()

	d.OnSample(strike(0))
	d.OnSample(strike(500))
	d.Reset()
	b, ok := d.OnSample(strike(1000))
	if !ok || b.HasBPM {
		t.Fatalf("expected tempo-less beat after reset, got %+v", b)
	}
}

func TestDetectorTapSkipsMagnitude(t *testing.T) {
	d := NewDetector(DefaultConfig())
	defer d.Close()

	base := strike(0).At
	if _, ok := d.Tap(base); !ok {
		t.Fatal("first tap should be a beat")
	}
	if _, ok := d.Tap(base.Add(100 * time.Millisecond)); ok {
		t.Fatal("tap inside debounce should be ignored")
	}
	b, ok := d.Tap(base.Add(750 * time.Millisecond))
	if !ok || !b.HasBPM || b.BPM != 80 {
		t.Fatalf("tap at 750ms = %+v, %v; want 80 bpm", b, ok)
	}
}

func TestDetectorBeatBeforePreviousRestartsEstimate(t *testing.T) {
	d := NewDetector(DefaultConfig())
	defer d.Close()

	// a sensor running an hour ahead of the wall clock
	d.OnSample(strike(3600000))
	d.OnSample(strike(3600500))

	b, ok := d.Tap(epoch)
	if !ok {
		t.Fatal("tap behind the last beat should be accepted")
	}
	if b.HasBPM {
		t.Fatalf("tap behind the last beat should restart the estimate, got %v bpm", b.BPM)
	}
	b, ok = d.Tap(epoch.Add(500 * time.Millisecond))
	if !ok || !b.HasBPM || b.BPM != 120 {
		t.Fatalf("second tap = %+v, %v; want 120 bpm", b, ok)
	}
}
