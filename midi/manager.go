package midi

import (
	"context"
	"sync"
	"time"

	"go-maestro/debug"
)

// DeviceEvent is emitted when the output device connects/disconnects
type DeviceEvent struct {
	Type DeviceEventType
	Name string
	Sink Sink // set on DeviceConnected
}

type DeviceEventType int

const (
	DeviceConnected DeviceEventType = iota
	DeviceDisconnected
)

// Ports that are never picked automatically.
var DefaultExcluded = []string{"Midi Through", "Through Port", "Dummy"}

// DeviceManager handles hot-plug detection of the output device
type DeviceManager struct {
	preferred []string
	excluded  []string
	anyPort   bool // fall back to the first remaining port

	mu     sync.RWMutex
	active string

	events   chan DeviceEvent
	pollRate time.Duration

	listPorts func() []string
	open      func(name string) (Sink, error)
}

// ManagerOption configures a DeviceManager.
type ManagerOption func(*DeviceManager)

// WithPreferred sets name patterns tried in order.
func WithPreferred(patterns ...string) ManagerOption {
	return func(dm *DeviceManager) { dm.preferred = patterns }
}

// WithExcluded replaces the exclusion patterns.
func WithExcluded(patterns ...string) ManagerOption {
	return func(dm *DeviceManager) { dm.excluded = patterns }
}

// WithFallbackFirst picks the first non-excluded port when no preferred
// pattern matches.
func WithFallbackFirst(on bool) ManagerOption {
	return func(dm *DeviceManager) { dm.anyPort = on }
}

// WithPollRate sets the scan interval.
func WithPollRate(d time.Duration) ManagerOption {
	return func(dm *DeviceManager) { dm.pollRate = d }
}

// WithPortFuncs replaces port discovery and opening (tests).
func WithPortFuncs(list func() []string, open func(string) (Sink, error)) ManagerOption {
	return func(dm *DeviceManager) {
		dm.listPorts = list
		dm.open = open
	}
}

// NewDeviceManager creates a new device manager
func NewDeviceManager(opts ...ManagerOption) *DeviceManager {
	dm := &DeviceManager{
		excluded:  DefaultExcluded,
		anyPort:   true,
		events:    make(chan DeviceEvent, 16),
		pollRate:  time.Second,
		listPorts: OutPortNames,
		open: func(name string) (Sink, error) {
			return OpenPortSink(name)
		},
	}
	for _, opt := range opts {
		opt(dm)
	}
	return dm
}

// Events returns a channel of device connect/disconnect events
func (dm *DeviceManager) Events() <-chan DeviceEvent {
	return dm.events
}

// Active returns the connected port name ("" when none).
func (dm *DeviceManager) Active() string {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.active
}

// Run starts the polling loop (blocking - run in goroutine)
func (dm *DeviceManager) Run(ctx context.Context) {
	ticker := time.NewTicker(dm.pollRate)
	defer ticker.Stop()
	defer close(dm.events)

	// Initial scan
	dm.scan(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dm.scan(ctx)
		}
	}
}

func (dm *DeviceManager) scan(ctx context.Context) {
	// Port enumeration can hang on some backends; give up after a while
	ch := make(chan []string, 1)
	go func() { ch <- dm.listPorts() }()

	var names []string
	select {
	case names = <-ch:
	case <-time.After(3 * time.Second):
		debug.Log("devices", "port scan timed out")
		return
	case <-ctx.Done():
		return
	}
	names = dm.filter(names)

	dm.mu.RLock()
	active := dm.active
	dm.mu.RUnlock()

	if active != "" {
		for _, n := range names {
			if n == active {
				return
			}
		}
		debug.Log("devices", "output %q disappeared", active)
		dm.mu.Lock()
		dm.active = ""
		dm.mu.Unlock()
		dm.emit(ctx, DeviceEvent{Type: DeviceDisconnected, Name: active})
		return
	}

	name, ok := dm.pick(names)
	if !ok {
		return
	}
	sink, err := dm.open(name)
	if err != nil {
		debug.LogEvery(10, "devices", "open %q: %v", name, err)
		return
	}
	dm.mu.Lock()
	dm.active = name
	dm.mu.Unlock()
	debug.Log("devices", "output %q connected", name)
	if !dm.emit(ctx, DeviceEvent{Type: DeviceConnected, Name: name, Sink: sink}) {
		sink.Close()
	}
}

func (dm *DeviceManager) emit(ctx context.Context, ev DeviceEvent) bool {
	select {
	case dm.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (dm *DeviceManager) filter(names []string) []string {
	var out []string
	for _, n := range names {
		excluded := false
		for _, pat := range dm.excluded {
			if containsCI(n, pat) {
				excluded = true
				break
			}
		}
		if !excluded {
			out = append(out, n)
		}
	}
	return out
}

func (dm *DeviceManager) pick(names []string) (string, bool) {
	for _, pat := range dm.preferred {
		if pat == "" {
			continue
		}
		if n, ok := MatchPort(names, pat); ok {
			return n, true
		}
	}
	if dm.anyPort && len(names) > 0 {
		return names[0], true
	}
	return "", false
}
