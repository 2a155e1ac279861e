package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"imagepipe/internal/presets"
)

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the size presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSIZE\tJPEG Q\tWEBP Q")
			for _, p := range presets.List() {
				fmt.Fprintf(w, "%s\t%dx%d\t%d\t%d\n", p.Name, p.Width, p.Height, p.PrimaryQuality, p.SecondaryQuality)
			}
			return w.Flush()
		},
	}
}
