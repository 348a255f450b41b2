package midi

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakePorts struct {
	mu     sync.Mutex
	names  []string
	opened []string
}

func (f *fakePorts) set(names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = names
}

func (f *fakePorts) list() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.names...)
}

func (f *fakePorts) open(name string) (Sink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, name)
	return &memSink{name: name}, nil
}

func nextEvent(t *testing.T, dm *DeviceManager) DeviceEvent {
	t.Helper()
	select {
	case ev := <-dm.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("no device event")
		return DeviceEvent{}
	}
}

func TestDeviceManagerHotPlug(t *testing.T) {
	ports := &fakePorts{}
	ports.set("Midi Through Port-0", "USB Synth", "Maestro Out")
	dm := NewDeviceManager(
		WithPreferred("maestro"),
		WithPollRate(5*time.Millisecond),
		WithPortFuncs(ports.list, ports.open),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dm.Run(ctx)

	ev := nextEvent(t, dm)
	if ev.Type != DeviceConnected || ev.Name != "Maestro Out" {
		t.Fatalf("first event = %+v, want Maestro Out connected", ev)
	}
	if ev.Sink == nil || ev.Sink.Name() != "Maestro Out" {
		t.Fatal("connected event should carry the opened sink")
	}

	ports.set("Midi Through Port-0", "USB Synth")
	ev = nextEvent(t, dm)
	if ev.Type != DeviceDisconnected || ev.Name != "Maestro Out" {
		t.Fatalf("event = %+v, want disconnect", ev)
	}

	// no preferred match, falls back to the first non-excluded port
	ev = nextEvent(t, dm)
	if ev.Type != DeviceConnected || ev.Name != "USB Synth" {
		t.Fatalf("event = %+v, want USB Synth connected", ev)
	}
}

func TestDeviceManagerExcludesThroughPorts(t *testing.T) {
	dm := NewDeviceManager()
	got := dm.filter([]string{"Midi Through Port-0", "Dummy", "Piano"})
	if len(got) != 1 || got[0] != "Piano" {
		t.Fatalf("filter = %v", got)
	}

	dm = NewDeviceManager(WithFallbackFirst(false), WithPreferred("maestro"))
	if _, ok := dm.pick([]string{"Piano"}); ok {
		t.Fatal("pick without fallback should not choose an unmatched port")
	}
}

func TestMatchPort(t *testing.T) {
	names := []string{"IAC Bus 1", "loopMIDI MAESTRO 2"}
	if n, ok := MatchPort(names, "maestro"); !ok || n != "loopMIDI MAESTRO 2" {
		t.Fatalf("MatchPort = %q, %v", n, ok)
	}
	if _, ok := MatchPort(names, "launchpad"); ok {
		t.Fatal("unexpected match")
	}
}
