package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/G3UKB/SDRLibE/internal/logging"
	"github.com/G3UKB/SDRLibE/internal/simulator"
)

var version = "dev"

func main() {
	var (
		cfg      simulator.Config
		level    string
		displays []int
	)

	rootCmd := &cobra.Command{
		Use:   "sdr-sim",
		Short: "SDRLibE connector simulator for testing sdrd without hardware",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, closer, err := logging.New(logging.Config{Level: level}, os.Stderr)
			if err != nil {
				return err
			}
			defer closer.Close()

			if len(displays) > 3 {
				return fmt.Errorf("at most 3 display ports, got %d", len(displays))
			}
			cfg.DisplayPorts = simulator.DefaultDisplayPorts
			copy(cfg.DisplayPorts[:], displays)

			sim, err := simulator.New(cfg, logger)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return sim.Run(ctx)
		},
	}

	f := rootCmd.Flags()
	f.StringVar(&cfg.Host, "host", "127.0.0.1", "control listen host")
	f.IntVar(&cfg.Port, "port", simulator.DefaultPort, "control listen port")
	f.StringVar(&cfg.ClientHost, "client-host", "127.0.0.1", "host that receives display frames")
	f.IntSliceVar(&displays, "display-ports", nil, "client display ports (default 10011,10012,10013)")
	f.DurationVar(&cfg.Period, "period", simulator.DefaultDisplayPeriod, "display frame period")
	f.IntVar(&cfg.Width, "width", simulator.DefaultDisplayWidth, "display width in bins")
	f.StringSliceVar(&cfg.Reject, "reject", nil, "commands to answer with NAK")
	f.StringSliceVar(&cfg.Silent, "silent", nil, "commands to leave unanswered")
	f.StringVar(&level, "log-level", "info", "log level")

	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
