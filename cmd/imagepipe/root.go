package main

import (
	"io"

	"github.com/spf13/cobra"

	"imagepipe/internal/config"
	"imagepipe/internal/logging"
)

// cli carries state shared by subcommands once the root has loaded config.
type cli struct {
	cfg      *config.Config
	logLevel string
	logs     io.Closer
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "imagepipe",
		Short: "imagepipe - image derivative pipeline",
		Long: `imagepipe turns source images into right-sized JPEG and WebP derivatives.
It optimizes whole directory trees, watches folders for new uploads, and
rewrites CDN URLs into preset derivative URLs.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if c.logLevel != "" {
				cfg.LogLevel = c.logLevel
			}
			logs, err := logging.Setup(cfg)
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.logs = logs
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.logs != nil {
				return c.logs.Close()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")

	root.AddCommand(
		newBatchCmd(c),
		newPresetsCmd(),
		newClassifyCmd(c),
		newResolveCmd(c),
		newWatchCmd(c),
	)
	return root
}
