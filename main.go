package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"go-maestro/config"
	"go-maestro/debug"
)

var version = "dev"

func main() {
	app := cli.NewApp()
	app.Name = "go-maestro"
	app.Version = version
	app.Usage = "conduct a MIDI performance with gestures"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "config file (default ~/.config/go-maestro/config.json)",
		},
		cli.StringFlag{
			Name:  "song, s",
			Usage: "Standard MIDI File to perform (default: last song)",
		},
		cli.StringFlag{
			Name:  "timing, t",
			Usage: "timing table JSON mapping clock time to score position",
		},
		cli.StringFlag{
			Name:  "output, o",
			Usage: "note output: port, bridge, serial or none",
		},
		cli.StringFlag{
			Name:  "port",
			Usage: "output port name to prefer (substring match)",
		},
		cli.StringFlag{
			Name:  "bridge",
			Usage: "bridge server address, host[:port]; implies --output bridge",
		},
		cli.StringFlag{
			Name:  "serial",
			Usage: "serial MIDI device; implies --output serial",
		},
		cli.StringFlag{
			Name:  "sensor",
			Usage: "serial accelerometer device",
		},
		cli.StringFlag{
			Name:  "sensor-file",
			Usage: "replay recorded accelerometer samples",
		},
		cli.StringFlag{
			Name:  "tap",
			Usage: "MIDI input port whose notes count as beats",
		},
		cli.Float64Flag{
			Name:  "tempo",
			Usage: "initial tempo in BPM",
		},
		cli.StringFlag{
			Name:  "palette",
			Usage: "GIMP .gpl palette for the terminal UI",
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "write debug log to ~/.config/go-maestro/debug.log",
		},
		cli.BoolFlag{
			Name:  "headless",
			Usage: "no terminal UI; log state to stderr",
		},
	}

	app.Action = func(c *cli.Context) error {
		path := c.String("config")
		if path == "" {
			p, err := config.ConfigPath()
			if err != nil {
				return err
			}
			path = p
		}
		cfg, err := config.LoadFrom(path)
		if err != nil {
			return err
		}
		applyFlags(cfg, c)

		headless := c.Bool("headless")
		switch {
		case headless:
			if err := debug.EnableWriter(os.Stderr, cfg.Log.Level); err != nil {
				return err
			}
		case cfg.Log.Enabled:
			if err := debug.Enable(); err != nil {
				return err
			}
			defer debug.Disable()
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		if err := a.run(ctx, headless); err != nil {
			return err
		}
		if a.song != nil {
			if err := cfg.SaveTo(path); err != nil {
				debug.Log("config", "save: %v", err)
			}
		}
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", errorText(err))
		os.Exit(1)
	}
}
