package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"imagepipe/internal/batch"
	"imagepipe/internal/pipeline"
	"imagepipe/internal/watcher"
)

func newWatchCmd(c *cli) *cobra.Command {
	var (
		outputDir string
		debounce  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch DIR...",
		Short: "Optimize images as they land in one or more directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.cfg
			cfg.StorageBackend = "file"
			cfg.OutputDir = outputDir

			p, err := pipeline.FromConfig(cfg, nil)
			if err != nil {
				return err
			}
			defer p.Close()

			out := cmd.OutOrStdout()
			w, err := watcher.New(p.Batch(), args, debounce, func(rec batch.FileRecord) {
				if rec.Error != nil {
					fmt.Fprintf(out, "FAIL  %s: %s\n", rec.File, *rec.Error)
					return
				}
				fmt.Fprintf(out, "OK    %s [%s] %s\n", rec.File, rec.ChosenPreset, humanize.Bytes(uint64(rec.OriginalSize)))
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := w.Run(ctx); err != nil {
				return err
			}
			log.Info().Msg("👋 Watcher stopped")
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "write derivatives into this directory")
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "wait this long after the last write before processing a file")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}
