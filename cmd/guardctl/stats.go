package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"github.com/tcassar-diss/xdpguard/bpf"
	"github.com/tcassar-diss/xdpguard/packet"
	"github.com/tcassar-diss/xdpguard/ratelimit"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print verdict counters as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPinned(func(p *bpf.Pinned) error {
			stats, err := p.Stats()
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(&stats)
		})
	},
}

type bucketLine struct {
	Source     string  `json:"src"`
	Tokens     float64 `json:"tokens"`
	LastRefill int64   `json:"last_refill_ns"`
	Limited    bool    `json:"limited"`
}

var bucketsCmd = &cobra.Command{
	Use:   "buckets",
	Short: "Print per-source rate limiter state, one JSON object per line",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		enc := json.NewEncoder(cmd.OutOrStdout())

		return withPinned(func(p *bpf.Pinned) error {
			var encErr error

			err := p.Rates.Range(func(a packet.Addr, b ratelimit.Bucket) bool {
				limited, err := p.Rates.Limited(a)
				if err != nil {
					encErr = err
					return false
				}

				encErr = enc.Encode(bucketLine{
					Source:     a.String(),
					Tokens:     float64(b.Tokens) / ratelimit.Scale,
					LastRefill: b.LastRefill,
					Limited:    limited,
				})
				return encErr == nil
			})
			if err != nil {
				return err
			}

			return encErr
		})
	},
}

func init() {
	rootCmd.AddCommand(statsCmd, bucketsCmd)
}
