package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"imagepipe/internal/pipeline"
	"imagepipe/internal/presets"
)

func newClassifyCmd(c *cli) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "classify HINT [FILE]",
		Short: "Print the preset chosen for a context hint and filename",
		Example: `  imagepipe classify "homepage hero banner"
  imagepipe classify "" team/avatar-jane.png`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var filename string
			if len(args) == 2 {
				filename = args[1]
			}

			name := pipeline.NewClassifier(c.cfg).Classify(args[0], filename)
			if !verbose {
				fmt.Fprintln(cmd.OutOrStdout(), name)
				return nil
			}

			p, err := presets.Get(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %dx%d q%d/%d\n", p.Name, p.Width, p.Height, p.PrimaryQuality, p.SecondaryQuality)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print the preset dimensions and qualities")
	return cmd
}
