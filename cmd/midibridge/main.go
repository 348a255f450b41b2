// Command midibridge accepts MIDI over WebSocket from performers on the
// network and plays it on a local output port.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/urfave/cli"

	"go-maestro/bridge"
	"go-maestro/config"
	"go-maestro/debug"
	"go-maestro/midi"
	"go-maestro/sequencer"
)

func main() {
	def := config.DefaultConfig().Bridge

	app := cli.NewApp()
	app.Name = "midibridge"
	app.Usage = "forward WebSocket MIDI messages to a local MIDI port"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "listen, l",
			Value: def.Listen,
			Usage: "address to listen on",
		},
		cli.StringFlag{
			Name:  "port, p",
			Value: def.PortName,
			Usage: "output port to prefer (substring match); falls back to the first port",
		},
		cli.StringFlag{
			Name:  "serial",
			Usage: "write to a serial MIDI device instead of a port",
		},
		cli.IntFlag{
			Name:  "baud",
			Value: midi.DefaultSerialBaud,
			Usage: "serial baud rate",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "debug, info, warn or error",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		msg := fmsg.GetIssue(err)
		if msg == "" {
			msg = err.Error()
		}
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if err := debug.EnableWriter(os.Stderr, c.String("log-level")); err != nil {
		return err
	}
	log := debug.Logger("bridge")

	sink, err := openSink(c.String("port"), c.String("serial"), c.Int("baud"))
	if err != nil {
		return err
	}
	log.Info("output", "port", sink.Name())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer func() {
		for _, e := range sequencer.AllNotesOff() {
			if err := sink.Send(e); err != nil {
				log.Warn("all notes off", "event", e, "err", err)
				break
			}
		}
		if err := sink.Close(); err != nil {
			log.Warn("close output", "port", sink.Name(), "err", err)
		}
	}()

	addr := c.String("listen")
	printAddresses(addr)

	mux := http.NewServeMux()
	mux.Handle("/", bridge.NewServer(sink, log))
	log.Info("listening", "addr", addr)
	if err := bridge.ListenAndServe(ctx, addr, mux); err != nil {
		return fault.Wrap(err, fmsg.WithDesc("listen", "Could not listen on "+addr))
	}
	log.Info("shut down")
	return nil
}

func openSink(port, serialDev string, baud int) (midi.Sink, error) {
	if serialDev != "" {
		return midi.OpenSerialSink(serialDev, baud)
	}
	if sink, err := midi.OpenPortSink(port); err == nil {
		return sink, nil
	}
	// first available port
	return midi.OpenPortSink("")
}

// printAddresses shows the URLs performers on the LAN can connect to.
func printAddresses(listen string) {
	_, port, err := net.SplitHostPort(listen)
	if err != nil {
		return
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return
	}
	fmt.Println("Connect performers to:")
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() || ipnet.IP.To4() == nil {
			continue
		}
		fmt.Printf("  ws://%s:%s\n", ipnet.IP, port)
	}
}
