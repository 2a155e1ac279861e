package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"imagepipe/internal/presets"
	"imagepipe/internal/services"
)

func newResolveCmd(c *cli) *cobra.Command {
	var (
		names []string
		all   bool
		webp  bool
	)

	cmd := &cobra.Command{
		Use:   "resolve URL",
		Short: "Rewrite a CDN URL into preset derivative URLs",
		Long: `Prints the derivative URL for each requested preset. The host must be on the
allow-list (images.unsplash.com and imgix.net by default, or allowed_hosts in
the pipeline file). Nothing is fetched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				names = presets.Names()
			}

			r := services.NewResolver(c.cfg.Pipeline.AllowedHosts)
			out := cmd.OutOrStdout()
			for _, name := range names {
				p, err := presets.Get(name)
				if err != nil {
					return err
				}
				set, err := r.ResolveSet(args[0], p, webp)
				if err != nil {
					return err
				}
				for _, f := range set.Formats() {
					fmt.Fprintf(out, "%s\t%s\t%s\n", name, f, set[f].URL)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&names, "preset", "p", []string{presets.Default}, "preset names, repeatable or comma separated")
	cmd.Flags().BoolVar(&all, "all", false, "resolve every preset")
	cmd.Flags().BoolVar(&webp, "webp", false, "also resolve the WebP derivative")
	return cmd
}
