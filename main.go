package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tcassar-diss/xdpguard/bpf"
	"github.com/tcassar-diss/xdpguard/frontend"
	"github.com/urfave/cli/v2"
)

func main() {
	gCfg := &frontend.GuardCfg{}

	app := &cli.App{
		Name:  "xdpguard",
		Usage: "drop volumetric ipv4 floods at the driver with a blocklist and per-source rate limits",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "iface",
				Aliases:     []string{"i"},
				Usage:       "network interface to attach the classifier to",
				Required:    true,
				Destination: &gCfg.Iface,
			},
			&cli.StringSliceFlag{
				Name:    "block",
				Aliases: []string{"b"},
				Usage:   "ipv4 source to drop outright; may be repeated",
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "TOML config file",
				Destination: &gCfg.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "mode",
				Usage:       "xdp attach mode: auto, driver or generic",
				Destination: &gCfg.Mode,
			},
			&cli.StringFlag{
				Name:        "pin-path",
				Usage:       fmt.Sprintf("bpffs directory for guardctl (default %s)", bpf.DefaultPinPath),
				Destination: &gCfg.PinPath,
			},
			&cli.BoolFlag{
				Name:        "dashboard",
				Usage:       "show a live terminal dashboard instead of log output",
				Destination: &gCfg.Dashboard,
			},
		},
		Action: func(cCtx *cli.Context) error {
			gCfg.Blocks = cCtx.StringSlice("block")

			err := frontend.RunGuard(cCtx.Context, gCfg)

			var ae *frontend.AttachError
			switch {
			case err == nil:
				return nil
			case errors.As(err, &ae):
				return cli.Exit(fmt.Sprintf("xdpguard could not attach: %v", err), 1)
			case errors.Is(err, frontend.ErrInvalidConfig):
				return cli.Exit(fmt.Sprintf("xdpguard: %v", err), 1)
			default:
				return cli.Exit(fmt.Sprintf("xdpguard encountered an error it couldn't recover from: %v", err), 2)
			}
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
