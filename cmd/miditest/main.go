// Command miditest checks MIDI plumbing: ports, test notes, hot-plug, taps
// and bridge round trips.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/urfave/cli"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"go-maestro/bridge"
	"go-maestro/midi"
)

func main() {
	app := cli.NewApp()
	app.Name = "miditest"
	app.Usage = "MIDI test scripts"
	app.Commands = []cli.Command{
		{
			Name:   "list",
			Usage:  "list MIDI and serial ports",
			Action: listPorts,
		},
		{
			Name:  "note",
			Usage: "play a test note on a port, serial device or bridge",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "port, p", Usage: "output port (substring match)"},
				cli.StringFlag{Name: "serial", Usage: "serial MIDI device"},
				cli.StringFlag{Name: "bridge", Usage: "bridge address host[:port]"},
				cli.IntFlag{Name: "channel, c", Value: 1, Usage: "MIDI channel 1-16"},
				cli.IntFlag{Name: "note, n", Value: 60, Usage: "note number"},
				cli.IntFlag{Name: "velocity, v", Value: 100},
				cli.DurationFlag{Name: "length", Value: 500 * time.Millisecond},
			},
			Action: sendNote,
		},
		{
			Name:  "poll",
			Usage: "watch for output devices connecting and disconnecting",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "port, p", Value: "Maestro", Usage: "preferred port"},
			},
			Action: pollDevices,
		},
		{
			Name:  "taps",
			Usage: "print note-ons from an input port",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "port, p", Usage: "input port (substring match)"},
			},
			Action: printTaps,
		},
		{
			Name:      "ping",
			Usage:     "measure bridge round trip time",
			ArgsUsage: "host[:port]",
			Action:    pingBridge,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func listPorts(*cli.Context) error {
	fmt.Println("=== MIDI Input Ports ===")
	fmt.Println("(waiting up to 3 seconds...)")

	type result struct {
		ins  []drivers.In
		outs []drivers.Out
	}
	ch := make(chan result, 1)
	go func() {
		ch <- result{ins: gomidi.GetInPorts(), outs: gomidi.GetOutPorts()}
	}()

	select {
	case r := <-ch:
		for i, p := range r.ins {
			fmt.Printf("  %d: %s\n", i, p.String())
		}
		fmt.Println("\n=== MIDI Output Ports ===")
		for i, p := range r.outs {
			fmt.Printf("  %d: %s\n", i, p.String())
		}
	case <-time.After(3 * time.Second):
		fmt.Println("\nTIMEOUT! The MIDI backend is hung.")
		fmt.Println("Fix (macOS): sudo killall coreaudiod midiserver")
	}

	fmt.Println("\n=== Serial Ports ===")
	names, err := midi.SerialPortNames()
	if err != nil {
		return err
	}
	for i, n := range names {
		fmt.Printf("  %d: %s\n", i, n)
	}
	return nil
}

func openSink(ctx context.Context, c *cli.Context) (midi.Sink, error) {
	switch {
	case c.String("bridge") != "":
		client, err := bridge.Dial(ctx, c.String("bridge"))
		if err != nil {
			return nil, err
		}
		time.Sleep(100 * time.Millisecond) // let the welcome arrive
		fmt.Printf("Bridge says: %s\n", client.Welcome())
		return client, nil
	case c.String("serial") != "":
		return midi.OpenSerialSink(c.String("serial"), midi.DefaultSerialBaud)
	default:
		return midi.OpenPortSink(c.String("port"))
	}
}

func sendNote(c *cli.Context) error {
	ctx := context.Background()
	sink, err := openSink(ctx, c)
	if err != nil {
		return err
	}
	defer sink.Close()

	ch := uint8((c.Int("channel") - 1) & 0x0F)
	note := uint8(c.Int("note") & 0x7F)
	vel := uint8(c.Int("velocity") & 0x7F)

	fmt.Printf("Using output: %s\n", sink.Name())
	on := midi.On(ch, note, vel)
	fmt.Printf("Sending: %s\n", on)
	if err := sink.Send(on); err != nil {
		return err
	}
	time.Sleep(c.Duration("length"))
	off := midi.Off(ch, note)
	fmt.Printf("Sending: %s\n", off)
	return sink.Send(off)
}

func pollDevices(c *cli.Context) error {
	fmt.Println("Polling for output devices. Ctrl+C to exit.")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dm := midi.NewDeviceManager(
		midi.WithPreferred(c.String("port")),
		midi.WithFallbackFirst(true))
	go dm.Run(ctx)

	for ev := range dm.Events() {
		stamp := time.Now().Format("15:04:05")
		switch ev.Type {
		case midi.DeviceConnected:
			fmt.Printf("[%s] connected: %s\n", stamp, ev.Name)
			ev.Sink.Close()
		case midi.DeviceDisconnected:
			fmt.Printf("[%s] disconnected: %s\n", stamp, ev.Name)
		}
	}
	return nil
}

func printTaps(c *cli.Context) error {
	in, err := midi.OpenTapInput(c.String("port"))
	if err != nil {
		return err
	}
	fmt.Printf("Listening on %s. Ctrl+C to exit.\n", in.ID())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		in.Close()
	}()

	var last time.Time
	for ev := range in.Taps() {
		gap := ""
		if !last.IsZero() {
			d := ev.At.Sub(last)
			gap = fmt.Sprintf("  +%v (%.0f bpm)", d.Round(time.Millisecond), 60/d.Seconds())
		}
		last = ev.At
		fmt.Printf("ch %d note %d vel %d%s\n", ev.Channel+1, ev.Note, ev.Velocity, gap)
	}
	return nil
}

func pingBridge(c *cli.Context) error {
	addr := c.Args().First()
	if addr == "" {
		return cli.NewExitError("usage: miditest ping host[:port]", 2)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := bridge.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer client.Close()
	fmt.Printf("Connected: %s\n", client.Name())
	time.Sleep(100 * time.Millisecond)
	fmt.Printf("Welcome: %s\n", client.Welcome())

	for i := 0; i < 4; i++ {
		if err := client.Ping(); err != nil {
			return err
		}
		time.Sleep(250 * time.Millisecond)
		fmt.Printf("rtt %v\n", client.RTT())
	}
	return nil
}
