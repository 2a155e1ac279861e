package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"imagepipe/internal/pipeline"
)

func newBatchCmd(c *cli) *cobra.Command {
	var (
		reportPath  string
		outputDir   string
		workers     int
		progressive bool
	)

	cmd := &cobra.Command{
		Use:   "batch DIR...",
		Short: "Optimize every image under one or more directories",
		Long: `Walks each directory, picks a preset per file from its path, and encodes
JPEG and WebP derivatives. Failed files are listed in the report and do not
stop the run.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.cfg
			if workers > 0 {
				cfg.MaxWorkers = workers
			}
			if reportPath == "" {
				reportPath = cfg.ReportPath
			}
			if progressive {
				cfg.DefaultProgressive = true
			}
			// Derivatives are only written when an output directory is given.
			cfg.StorageBackend = "none"
			if outputDir != "" {
				cfg.StorageBackend = "file"
				cfg.OutputDir = outputDir
			}

			p, err := pipeline.FromConfig(cfg, nil)
			if err != nil {
				return err
			}
			defer p.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, runErr := p.RunBatch(ctx, args)
			if report == nil {
				return runErr
			}

			out := cmd.OutOrStdout()
			for _, rec := range report.Records {
				if rec.Error != nil {
					fmt.Fprintf(out, "FAIL  %s: %s\n", rec.File, *rec.Error)
				}
			}
			fmt.Fprintf(out, "%s\n", report.Summary())
			fmt.Fprintf(out, "saved %s across %d files\n",
				humanize.Bytes(uint64(max(report.TotalBytesBefore-report.TotalBytesAfter, 0))), report.FilesSucceeded)

			if reportPath != "" {
				if err := report.WriteJSON(reportPath); err != nil {
					return err
				}
				log.Info().Str("path", reportPath).Msg("📄 Report written")
			}

			if errors.Is(runErr, context.Canceled) {
				return fmt.Errorf("batch interrupted: %w", runErr)
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&reportPath, "report", "r", "", "write the JSON report to this path (default REPORT_PATH)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "write derivatives into this directory")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "number of concurrent workers (default MAX_WORKERS or CPU count)")
	cmd.Flags().BoolVar(&progressive, "progressive", false, "encode progressive JPEGs")
	return cmd
}
