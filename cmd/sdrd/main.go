package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/G3UKB/SDRLibE/internal/logging"
	"github.com/G3UKB/SDRLibE/internal/server"
)

var version = "dev"

func main() {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "sdrd",
		Short: "SDR daemon: configures the SDRLibE connector and fans out its display stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := server.LoadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger, closer, err := logging.New(cfg.Log, os.Stderr)
			if err != nil {
				return fmt.Errorf("init logging: %w", err)
			}
			defer closer.Close()

			logger.Info().Str("version", version).Msg("starting sdrd")
			d := server.NewDaemon(cfg, logger)
			return d.Run()
		},
	}

	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
