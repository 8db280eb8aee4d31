package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/G3UKB/SDRLibE/pkg/protocol"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sdrd status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp protocol.StatusResponse
			if err := apiGet("/api/v1/status", &resp); err != nil {
				return err
			}

			fmt.Printf("Status:       %s\n", resp.Status)
			fmt.Printf("Uptime:       %s\n", resp.Uptime)
			fmt.Printf("NATS Running: %v\n", resp.NATSRunning)
			fmt.Printf("Started At:   %s\n", resp.StartedAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("Device:       %s\n", resp.Device)

			wf := resp.Workflow
			fmt.Printf("Workflow:     %s", wf.State)
			if wf.Error != "" {
				fmt.Printf(" at %s: %s", wf.Step, wf.Error)
			}
			fmt.Println()
			if len(wf.Completed) > 0 {
				fmt.Printf("  Completed:  %s\n", strings.Join(wf.Completed, ", "))
			}
			if wf.Output != nil {
				fmt.Printf("  Output:     %s (%s)\n", wf.Output.Name, wf.Output.API)
			}

			st := resp.Stream
			fmt.Printf("Stream:       port %d, running %v\n", st.Port, st.Running)
			fmt.Printf("  Packets:    %d (%d bytes), empty polls %d\n", st.Packets, st.Bytes, st.EmptyPolls)
			fmt.Printf("  Dropped:    %d, truncated %d, sink errors %d\n", st.Dropped, st.Truncated, st.SinkErrors)

			ex := resp.Exchanges
			fmt.Printf("Exchanges:    %d (timeouts %d, failures %d)\n", ex.Total, ex.Timeouts, ex.Failures)
			fmt.Printf("Scripts:      %d\n", resp.Scripts)
			return nil
		},
	}
}
