package main

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/tcassar-diss/xdpguard/bpf"
	"github.com/tcassar-diss/xdpguard/frontend"
)

var yesFlag bool

var blockCmd = &cobra.Command{
	Use:   "block",
	Short: "Edit the blocklist",
}

var blockAddCmd = &cobra.Command{
	Use:   "add <ipv4>...",
	Short: "Drop every frame from the given sources",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addrs, err := frontend.ParseAddrs(args)
		if err != nil {
			return err
		}

		return withPinned(func(p *bpf.Pinned) error {
			for _, a := range addrs {
				if err := p.Blocklist.Insert(a); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "blocked %s\n", a)
			}
			return nil
		})
	},
}

var blockRmCmd = &cobra.Command{
	Use:     "rm <ipv4>...",
	Aliases: []string{"remove"},
	Short:   "Stop dropping the given sources",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addrs, err := frontend.ParseAddrs(args)
		if err != nil {
			return err
		}

		return withPinned(func(p *bpf.Pinned) error {
			for _, a := range addrs {
				if err := p.Blocklist.Remove(a); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "unblocked %s\n", a)
			}
			return nil
		})
	},
}

var blockLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List blocked sources",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPinned(func(p *bpf.Pinned) error {
			addrs, err := p.Blocklist.List()
			if err != nil {
				return err
			}
			for _, a := range addrs {
				fmt.Fprintln(cmd.OutOrStdout(), a)
			}
			return nil
		})
	},
}

var blockClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every blocklist entry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPinned(func(p *bpf.Pinned) error {
			addrs, err := p.Blocklist.List()
			if err != nil {
				return err
			}
			if len(addrs) == 0 {
				return nil
			}

			if !yesFlag {
				confirmed := false
				err := huh.NewConfirm().
					Title(fmt.Sprintf("Unblock all %d sources on %s?", len(addrs), ifaceFlag)).
					Affirmative("Unblock").
					Negative("Cancel").
					Value(&confirmed).
					Run()
				if err != nil {
					return err
				}
				if !confirmed {
					return nil
				}
			}

			for _, a := range addrs {
				if err := p.Blocklist.Remove(a); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unblocked %d sources\n", len(addrs))
			return nil
		})
	},
}

func init() {
	blockClearCmd.Flags().BoolVarP(&yesFlag, "yes", "y", false, "do not ask for confirmation")

	blockCmd.AddCommand(blockAddCmd, blockRmCmd, blockLsCmd, blockClearCmd)
	rootCmd.AddCommand(blockCmd)
}
