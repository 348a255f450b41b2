package main

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"go-maestro/bridge"
	"go-maestro/clock"
	"go-maestro/config"
	"go-maestro/debug"
	"go-maestro/gesture"
	"go-maestro/midi"
	"go-maestro/score"
	"go-maestro/sensor"
	"go-maestro/sequencer"
	"go-maestro/theme"
	"go-maestro/timing"
	"go-maestro/tui"
)

// headlessLogEvery limits state lines in headless mode.
const headlessLogEvery = time.Second

// flagSource is the part of *cli.Context that applyFlags reads.
type flagSource interface {
	IsSet(name string) bool
	String(name string) string
	Bool(name string) bool
	Float64(name string) float64
}

// applyFlags overrides file settings with command line values.
func applyFlags(cfg *config.Config, f flagSource) {
	if f.IsSet("output") {
		cfg.Output.Mode = config.OutputMode(f.String("output"))
	}
	if f.IsSet("port") {
		cfg.Output.PortName = f.String("port")
	}
	if f.IsSet("bridge") {
		cfg.Output.BridgeAddr = f.String("bridge")
		if !f.IsSet("output") {
			cfg.Output.Mode = config.OutputBridge
		}
	}
	if f.IsSet("serial") {
		cfg.Output.SerialPort = f.String("serial")
		if !f.IsSet("output") {
			cfg.Output.Mode = config.OutputSerial
		}
	}
	if f.IsSet("sensor") {
		cfg.Sensor.Device = f.String("sensor")
	}
	if f.IsSet("sensor-file") {
		cfg.Sensor.File = f.String("sensor-file")
	}
	if f.IsSet("tap") {
		cfg.Sensor.TapInput = f.String("tap")
	}
	if f.IsSet("tempo") {
		cfg.Clock.InitialTempo = f.Float64("tempo")
	}
	if f.IsSet("song") {
		cfg.UI.LastSong = f.String("song")
	}
	if f.IsSet("timing") {
		cfg.UI.LastTiming = f.String("timing")
	}
	if f.IsSet("palette") {
		cfg.UI.Palette = f.String("palette")
	}
	if f.Bool("debug") {
		cfg.Log.Enabled = true
	}
}

// app holds the performer's running parts.
type app struct {
	cfg      *config.Config
	engine   *clock.Engine
	output   *midi.Output
	player   *sequencer.Player
	detector *gesture.Detector
	song     *sequencer.Song
	table    *timing.Table

	// send delivers messages to the terminal UI; nil when headless.
	send     func(tea.Msg)
	mu       sync.Mutex
	warnings []error // shown once the UI is up
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	a.engine = clock.NewEngine(cfg.ClockSettings(),
		clock.WithFrameRate(cfg.Clock.FrameRate),
		clock.WithPublisher(clock.NewPublisher(cfg.PublishInterval())))

	a.output = midi.NewOutput(midi.NullSink{}, cfg.Output.QueueSize)
	a.output.OnChange = func(name string, ready bool) {
		a.notify(tui.OutputMsg{Name: name, Ready: ready})
	}

	a.player = sequencer.NewPlayer(a.output, cfg.SchedulerOptions())
	a.engine.AddListener(a.player)

	a.detector = gesture.NewDetector(cfg.GestureSettings(),
		gesture.WithBeatHandler(a.onBeat),
		gesture.WithConductingHandler(func(on bool) {
			debug.Log("gesture", "conducting=%v", on)
			a.notify(tui.ConductingMsg(on))
		}))

	if path := cfg.UI.LastSong; path != "" {
		song, err := score.Load(path)
		if err != nil {
			a.warn(err)
			cfg.UI.LastSong = ""
		} else {
			a.song = song
			a.player.Load(song)
		}
	}
	if path := cfg.UI.LastTiming; path != "" {
		table, err := timing.Load(path)
		if err != nil {
			a.warn(err)
		} else {
			a.table = table
		}
	}
	return a, nil
}

// onBeat steers the clock: the detected tempo becomes the target and the
// gesture itself nudges the visual velocity.
func (a *app) onBeat(b gesture.Beat) {
	if b.HasBPM {
		a.engine.SetTargetTempo(b.BPM)
	}
	a.engine.Impulse()
	a.notify(tui.BeatMsg(b))
}

func (a *app) notify(msg tea.Msg) {
	if a.send != nil {
		a.send(msg)
	}
}

func (a *app) warn(err error) {
	debug.Log("app", "%v", err)
	a.mu.Lock()
	a.warnings = append(a.warnings, err)
	a.mu.Unlock()
	a.notify(tui.ErrorMsg{Err: err})
}

func (a *app) lastWarning() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.warnings) == 0 {
		return nil
	}
	return a.warnings[len(a.warnings)-1]
}

// run starts every goroutine and blocks until ctx is done or the UI quits.
func (a *app) run(parent context.Context, headless bool) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer a.detector.Close()

	var program *tea.Program
	if !headless {
		palette, err := theme.LoadOrDefault(a.cfg.UI.Palette)
		if err != nil {
			a.warn(err)
		}
		model := tui.NewModel(a.engine, a.player, a.song, theme.New(palette), a.cfg.UI.ScoreWidth).
			WithTiming(a.table)
		model.Detector = a.detector
		program = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
		a.send = program.Send
	}

	// The output outlives the group so the final all-notes-off reaches the
	// device.
	outCtx, outCancel := context.WithCancel(context.Background())
	outDone := make(chan struct{})
	go func() {
		defer close(outDone)
		a.output.Run(outCtx)
	}()
	defer func() {
		a.player.Panic()
		outCancel()
		<-outDone
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.engine.Run(ctx) })

	// Send blocks until the program loop runs, so start it before the inputs.
	if program != nil {
		g.Go(func() error {
			defer cancel()
			if err := a.lastWarning(); err != nil {
				go program.Send(tui.ErrorMsg{Err: err})
			}
			_, err := program.Run()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		})
	} else {
		g.Go(func() error {
			a.logStates(ctx)
			return nil
		})
	}

	a.startOutput(ctx, g)
	a.startSensor(ctx, g)
	a.startTapInput(ctx, g)

	return g.Wait()
}

func (a *app) startOutput(ctx context.Context, g *errgroup.Group) {
	out := a.cfg.Output
	switch out.Mode {
	case config.OutputPort:
		dm := midi.NewDeviceManager(
			midi.WithPreferred(out.PortName),
			midi.WithExcluded(append(append([]string{}, midi.DefaultExcluded...), out.Exclude...)...),
			midi.WithFallbackFirst(true))
		g.Go(func() error {
			dm.Run(ctx)
			return nil
		})
		g.Go(func() error {
			for ev := range dm.Events() {
				switch ev.Type {
				case midi.DeviceConnected:
					a.output.SetSink(ev.Sink)
				case midi.DeviceDisconnected:
					a.output.SetSink(midi.NullSink{})
				}
			}
			return nil
		})

	case config.OutputBridge:
		g.Go(func() error {
			client, err := bridge.Dial(ctx, out.BridgeAddr)
			if err != nil {
				a.warn(err)
				return nil
			}
			a.output.SetSink(client)
			select {
			case <-ctx.Done():
			case <-client.Done():
				a.output.SetSink(midi.NullSink{})
				a.warn(fault.New("bridge connection closed",
					fmsg.WithDesc("bridge closed", "Lost connection to the MIDI bridge")))
			}
			return nil
		})

	case config.OutputSerial:
		sink, err := midi.OpenSerialSink(out.SerialPort, out.SerialBaud)
		if err != nil {
			a.warn(err)
			return
		}
		a.output.SetSink(sink)

	case config.OutputNone:
	default:
		a.warn(fault.New("unknown output mode "+string(out.Mode),
			fmsg.WithDesc("bad output mode", "Output mode must be port, bridge, serial or none")))
	}
}

func (a *app) startSensor(ctx context.Context, g *errgroup.Group) {
	var (
		src *sensor.LineSource
		err error
	)
	switch {
	case a.cfg.Sensor.File != "":
		src, err = sensor.OpenFile(a.cfg.Sensor.File)
	case a.cfg.Sensor.Device != "":
		src, err = sensor.OpenSerial(a.cfg.Sensor.Device, a.cfg.Sensor.Baud)
	default:
		return
	}
	if err != nil {
		a.warn(err)
		return
	}
	debug.Log("app", "sensor %s", filepath.Base(src.Name()))
	g.Go(func() error {
		err := src.Run(ctx, func(s gesture.Sample) { a.detector.OnSample(s) })
		if err != nil {
			a.warn(err)
		}
		return nil
	})
}

func (a *app) startTapInput(ctx context.Context, g *errgroup.Group) {
	if a.cfg.Sensor.TapInput == "" {
		return
	}
	in, err := midi.OpenTapInput(a.cfg.Sensor.TapInput)
	if err != nil {
		a.warn(err)
		return
	}
	g.Go(func() error {
		<-ctx.Done()
		return in.Close()
	})
	g.Go(func() error {
		for ev := range in.Taps() {
			a.detector.Tap(ev.At)
		}
		return nil
	})
}

// logStates writes a state line on play/stop changes and at most once per
// headlessLogEvery otherwise.
func (a *app) logStates(ctx context.Context) {
	log := debug.Logger("state")
	states := a.engine.Subscribe()
	var (
		last    time.Time
		playing bool
	)
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-states:
			if !ok {
				return
			}
			now := time.Now()
			if s.Playing == playing && now.Sub(last) < headlessLogEvery {
				continue
			}
			last, playing = now, s.Playing
			st := a.player.Status()
			log.Info("clock",
				"time", s.Time,
				"tempo", s.Tempo,
				"target", s.TargetTempo,
				"playing", s.Playing,
				"cursor", st.Cursor,
				"notes", st.Notes,
				"output", st.Output,
				"ready", st.Ready)
		}
	}
}

// errorText prefers the user-facing message attached with fmsg.
func errorText(err error) string {
	if issue := fmsg.GetIssue(err); issue != "" {
		return issue
	}
	return err.Error()
}
