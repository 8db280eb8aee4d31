package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/G3UKB/SDRLibE/internal/script"
)

func newScriptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scripts",
		Short: "Manage Lua packet scripts",
	}

	cmd.AddCommand(newScriptsListCmd())
	cmd.AddCommand(newScriptsReloadCmd())
	cmd.AddCommand(newScriptsSignCmd())

	// Default to list when no subcommand given.
	cmd.RunE = newScriptsListCmd().RunE

	return cmd
}

func newScriptsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loaded scripts",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Scripts []script.Info `json:"scripts"`
			}
			if err := apiGet("/api/v1/scripts", &resp); err != nil {
				return err
			}

			if len(resp.Scripts) == 0 {
				fmt.Println("No scripts loaded.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tHANDLERS\tPORTS\tPACKETS\tERRORS\tLOADED AT")
			for _, s := range resp.Scripts {
				fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%d\t%s\n",
					s.Name, s.Handlers, formatPorts(s.Ports),
					s.Packets, s.Errors,
					s.LoadedAt.Format("15:04:05"),
				)
			}
			w.Flush()
			return nil
		},
	}
}

func formatPorts(ports []int) string {
	if len(ports) == 0 {
		return "all"
	}
	s := make([]string, len(ports))
	for i, p := range ports {
		s[i] = strconv.Itoa(p)
	}
	return strings.Join(s, ", ")
}

func newScriptsReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload all scripts from disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := apiPost("/api/v1/scripts/reload", nil, nil); err != nil {
				return err
			}
			fmt.Println("Scripts reloaded.")
			return nil
		},
	}
}

func newScriptsSignCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Generate SHA256 manifest for script files",
		Long: `Scans the script directory for .lua files, computes SHA256 hashes,
and writes a scripts.sha256 manifest file. This manifest is checked by the
daemon when scripts.verify_integrity is enabled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				homeDir, _ := os.UserHomeDir()
				dir = filepath.Join(homeDir, ".config", "sdr", "scripts")
			}

			m, err := script.GenerateManifest(dir)
			if err != nil {
				return fmt.Errorf("generate manifest: %w", err)
			}

			if err := m.WriteFile(dir); err != nil {
				return fmt.Errorf("write manifest: %w", err)
			}

			fmt.Printf("Signed %d script(s) in %s\n", m.Count(), dir)
			m.WriteTo(os.Stdout)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "script directory (default: ~/.config/sdr/scripts)")
	return cmd
}
