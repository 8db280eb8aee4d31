package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/G3UKB/SDRLibE/pkg/protocol"
)

func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <cmd> [params...]",
		Short: "Send one command to the connector and print its reply",
		Long: `Sends {"cmd": <cmd>, "params": [...]} through sdrd's control channel.
Each parameter is read as JSON when it parses (7.1, true, [1,2], "text")
and as a plain string otherwise.

Examples:
  sdrctl send radio_discover
  sdrctl send set_rx1_freq 7.1
  sdrctl send set_disp_state true false false
  sdrctl send set_audio_route 1 LOCAL 1 MME "Speakers" BOTH`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := protocol.CommandRequest{Cmd: args[0], Params: parseParams(args[1:])}

			var resp protocol.CommandResponse
			if err := apiPost("/api/v1/command", req, &resp); err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(resp.Response); err != nil {
				return err
			}
			if resp.Response.Rejected() {
				return fmt.Errorf("%s rejected by device", args[0])
			}
			return nil
		},
	}
}

// parseParams converts command line arguments into positional parameters.
func parseParams(args []string) []any {
	params := make([]any, 0, len(args))
	for _, a := range args {
		var v any
		if err := json.Unmarshal([]byte(a), &v); err == nil {
			params = append(params, v)
			continue
		}
		params = append(params, a)
	}
	return params
}
