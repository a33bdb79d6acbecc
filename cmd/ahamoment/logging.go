package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/vizcayal/aha-moment/internal/logger"
)

// setupLogging loads the config file and installs the process logger on
// the command context.
func setupLogging(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return ctx, err
	}
	loadedConfig = cfg

	if cfg.LogLevel != "" && !cmd.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !cmd.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
	if debug {
		logLevel = "debug"
	}
	format := logFormat
	if format == "pretty" && !isTerminal(os.Stderr.Fd()) {
		format = "json"
	}

	log, err := logger.ForFormat(os.Stderr, format, logLevel)
	if err != nil {
		return ctx, err
	}
	return logger.WithContext(ctx, log), nil
}
