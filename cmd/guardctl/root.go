package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tcassar-diss/xdpguard/bpf"
)

var (
	ifaceFlag   string
	pinPathFlag string
)

var rootCmd = &cobra.Command{
	Use:   "guardctl",
	Short: "Administer a running xdpguard",
	Long: `guardctl opens the maps a running xdpguard pinned to bpffs and edits
or inspects them. Changes take effect on the next frame.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&ifaceFlag, "iface", "i", "", "interface the guard is attached to")
	rootCmd.PersistentFlags().StringVar(&pinPathFlag, "pin-path", bpf.DefaultPinPath, "bpffs directory the guard pins under")
	_ = rootCmd.MarkPersistentFlagRequired("iface")
}

// withPinned opens the guard's maps for the duration of fn.
func withPinned(fn func(p *bpf.Pinned) error) error {
	p, err := bpf.OpenPinned(pinPathFlag, ifaceFlag)
	if err != nil {
		return err
	}
	defer p.Close()

	if err := fn(p); err != nil {
		return fmt.Errorf("%s: %w", ifaceFlag, err)
	}

	return nil
}
