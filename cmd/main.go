package main

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/ivanvanderbyl/marstek/pkg/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args, os.Stdin, os.Stdout, os.Stderr); err != nil {
		// Interrupted, exit quietly.
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Fatal(err)
	}
}

// run loads .env before the app parses its flags, so the file's values
// reach flags through their EnvVars.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if err := config.LoadEnv(".env"); err != nil {
		return err
	}
	return newApp(stdin, stdout, stderr).RunContext(ctx, args)
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *cli.App {
	r := &runner{stdin: stdin}

	return &cli.App{
		Name:                   "marstek",
		Usage:                  "UDP JSON client for Marstek home batteries",
		Writer:                 stdout,
		ErrWriter:              stderr,
		UseShortOptionHandling: true,
		Flags:                  r.globalFlags(),
		Before:                 r.setup,
		Commands: append([]*cli.Command{
			{
				Name:  "send",
				Usage: "Send an arbitrary JSON payload",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "json", Usage: "Inline JSON string to send"},
					&cli.StringFlag{Name: "file", Usage: "Path to file containing JSON to send"},
					&cli.BoolFlag{Name: "stdin", Usage: "Read JSON from stdin"},
					&cli.BoolFlag{Name: "no-reply", Usage: "Do not wait for a reply"},
					&cli.IntFlag{Name: "max-packets", Usage: "Max packets to collect"},
				},
				Action: r.send,
			},
			{
				Name:  "status",
				Usage: "Send a placeholder 'status' request",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "key", Value: "cmd", Usage: "Key name to use"},
					&cli.StringFlag{Name: "value", Value: "read_status", Usage: "Value to use"},
				},
				Action: r.status,
			},
			{
				Name:  "get-device",
				Usage: "Send Marstek.GetDevice request",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "ble-mac", Value: "0", Usage: "BLE MAC address"},
				},
				Action: r.getDevice,
			},
			{
				Name:  "all-status",
				Usage: "Run all status API calls in sequence",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "interval", Usage: "Minimum time between requests"},
					&cli.BoolFlag{Name: "summary", Usage: "Print a summary table after the replies"},
				},
				Action: r.allStatus,
			},
			{
				Name:  "homekit",
				Usage: "Publish the battery temperature as a HomeKit accessory",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "pin", Usage: "HomeKit pairing PIN", EnvVars: []string{"MARSTEK_HOMEKIT_PIN"}},
					&cli.StringFlag{Name: "store", Usage: "Directory for HomeKit pairing data"},
					&cli.DurationFlag{Name: "refresh", Usage: "Battery refresh interval"},
				},
				Action: r.homekit,
			},
		}, r.statusCommands()...),
	}
}
