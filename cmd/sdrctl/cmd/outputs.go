package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/G3UKB/SDRLibE/pkg/protocol"
)

func newOutputsCmd() *cobra.Command {
	var inputs bool

	cmd := &cobra.Command{
		Use:   "outputs",
		Short: "List the connector's audio devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/outputs"
			if inputs {
				path = "/api/v1/inputs"
			}
			var resp protocol.OutputsResponse
			if err := apiGet(path, &resp); err != nil {
				return err
			}

			if len(resp.Outputs) == 0 {
				fmt.Println("No devices reported.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "#\tINDEX\tAPI\tNAME\tCHANNELS")
			for i, o := range resp.Outputs {
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%d\n", i, o.Index, o.API, o.Name, o.Channels)
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().BoolVar(&inputs, "inputs", false, "list input devices instead")
	return cmd
}
