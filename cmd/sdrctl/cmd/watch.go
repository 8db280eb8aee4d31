package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/G3UKB/SDRLibE/pkg/protocol"
)

func newWatchCmd() *cobra.Command {
	var (
		raw   bool
		count int
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the live display stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			dialer := websocket.Dialer{NetDialContext: dialSocket}
			conn, _, err := dialer.Dial("ws://sdrd/api/v1/stream/ws", nil)
			if err != nil {
				return fmt.Errorf("cannot connect to sdrd at %s: %w", socketPath, err)
			}
			defer conn.Close()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				conn.Close()
			}()

			for n := 0; count <= 0 || n < count; n++ {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return nil
				}
				if raw {
					fmt.Println(string(data))
					continue
				}
				var ev protocol.Event
				if err := json.Unmarshal(data, &ev); err != nil {
					continue
				}
				fmt.Println(formatPacket(ev))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "print raw JSON events")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "exit after n packets (0 = forever)")
	return cmd
}

// formatPacket renders one packet event as a single line.
func formatPacket(ev protocol.Event) string {
	p := ev.Payload
	line := fmt.Sprintf("#%v port %v %v bytes", p["seq"], p["port"], p["size"])
	if meter, ok := p["meter"].(float64); ok {
		line += fmt.Sprintf("  meter %.1f dBm", meter)
		if bins, ok := p["bins"].([]any); ok && len(bins) > 0 {
			peak, at := bins[0].(float64), 0
			for i, b := range bins {
				if f, _ := b.(float64); f > peak {
					peak, at = f, i
				}
			}
			line += fmt.Sprintf("  peak %.1f at bin %d/%d", peak, at, len(bins))
		}
	}
	return line
}
