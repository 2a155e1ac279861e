// Package logging configures the global zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"imagepipe/internal/config"
)

// Setup points the global logger at stderr and, when LOG_DIR is set, at a
// rotating file as well. It returns a closer for the file writer.
func Setup(cfg *config.Config) (io.Closer, error) {
	return setup(cfg, os.Stderr)
}

func setup(cfg *config.Config, console io.Writer) (io.Closer, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	consoleWriter := zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05"}

	if cfg.LogDir == "" {
		log.Logger = zerolog.New(consoleWriter).With().Timestamp().Logger()
		if err != nil {
			log.Warn().Str("invalid_level", cfg.LogLevel).Msg("Invalid log level, using info")
		}
		return nopCloser{}, nil
	}

	if err := os.MkdirAll(cfg.LogDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	logFile := filepath.Join(cfg.LogDir, cfg.LogFile)
	fileWriter := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
		Compress:   true,
	}

	log.Logger = zerolog.New(io.MultiWriter(consoleWriter, fileWriter)).With().Timestamp().Logger()
	if err != nil {
		log.Warn().Str("invalid_level", cfg.LogLevel).Msg("Invalid log level, using info")
	}

	log.Info().
		Str("file", logFile).
		Str("level", level.String()).
		Msg("📝 File logging initialized")

	return fileWriter, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
