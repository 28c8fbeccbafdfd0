// Command guard-replay runs a packet capture through the xdpguard
// classifier offline and reports the verdicts it would have reached.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"

	"github.com/tcassar-diss/xdpguard/events"
	"github.com/tcassar-diss/xdpguard/frontend"
	"github.com/urfave/cli/v2"
)

func main() {
	var (
		configPath string
		capacity   uint
		refill     uint
		verbose    bool
	)

	app := &cli.App{
		Name:      "guard-replay",
		Usage:     "classify a pcap or pcapng capture as xdpguard would",
		ArgsUsage: "<capture.pcap>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "TOML config file",
				Destination: &configPath,
			},
			&cli.UintFlag{
				Name:        "capacity",
				Usage:       "bucket capacity in tokens (overrides config)",
				Destination: &capacity,
			},
			&cli.UintFlag{
				Name:        "rate",
				Usage:       "refill rate in tokens per second (overrides config)",
				Destination: &refill,
			},
			&cli.StringSliceFlag{
				Name:    "block",
				Aliases: []string{"b"},
				Usage:   "ipv4 source to drop outright; may be repeated",
			},
			&cli.BoolFlag{
				Name:        "verbose",
				Aliases:     []string{"v"},
				Usage:       "print every event as a JSON line",
				Destination: &verbose,
			},
		},
		Action: func(cCtx *cli.Context) error {
			if nArgs := cCtx.Args().Len(); nArgs != 1 {
				_ = cli.ShowAppHelp(cCtx)

				return cli.Exit(fmt.Sprintf("\nERROR: expected one capture file, got %d args", nArgs), 1)
			}

			cfg := frontend.DefaultConfig()
			if configPath != "" {
				var err error
				if cfg, err = frontend.LoadConfig(configPath); err != nil {
					return cli.Exit(err.Error(), 1)
				}
			}

			if cCtx.IsSet("capacity") {
				v, err := toUint32("capacity", capacity)
				if err != nil {
					return cli.Exit(err.Error(), 1)
				}
				cfg.RateLimit.Capacity = v
			}
			if cCtx.IsSet("rate") {
				v, err := toUint32("rate", refill)
				if err != nil {
					return cli.Exit(err.Error(), 1)
				}
				cfg.RateLimit.RefillRate = v
			}
			cfg.Block = append(cfg.Block, cCtx.StringSlice("block")...)

			if err := cfg.Validate(); err != nil {
				return cli.Exit(err.Error(), 1)
			}

			f, err := os.Open(cCtx.Args().First())
			if err != nil {
				return cli.Exit(fmt.Sprintf("failed to open capture: %v", err), 1)
			}
			defer f.Close()

			enc := json.NewEncoder(os.Stdout)

			var onEvent func(events.Event)
			if verbose {
				onEvent = func(ev events.Event) {
					_ = enc.Encode(map[string]any{
						"kind": ev.Kind.String(),
						"src":  ev.Source.String(),
						"ts":   ev.Timestamp,
					})
				}
			}

			res, err := frontend.Replay(f, cfg, onEvent)
			if err != nil {
				return cli.Exit(fmt.Sprintf("replay failed: %v", err), 2)
			}

			return enc.Encode(res)
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func toUint32(flag string, v uint) (uint32, error) {
	if uint64(v) > math.MaxUint32 {
		return 0, fmt.Errorf("--%s %d is out of range", flag, v)
	}

	return uint32(v), nil
}
