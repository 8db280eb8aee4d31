package cmd

import (
	"github.com/spf13/cobra"

	"github.com/G3UKB/SDRLibE/pkg/sockpath"
)

var (
	socketPath string

	// Version is set by the main package via ldflags.
	Version = "dev"
)

// NewRootCmd creates the root sdrctl command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "sdrctl",
		Short:   "SDR CLI: control the radio through sdrd",
		Version: Version,
	}

	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", sockpath.DefaultSocketPath(), "sdrd Unix socket path")

	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newOutputsCmd())
	rootCmd.AddCommand(newSendCmd())
	rootCmd.AddCommand(newScriptsCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newSecretsCmd())

	return rootCmd
}
