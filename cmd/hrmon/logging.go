package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/hrmon/pkg/config"
)

// configureLogger creates a logger with the level taken from --log-level, then
// HRMON_LOG_LEVEL, then fallback.
func configureLogger(cmd *cobra.Command, fallback logrus.Level) (*logrus.Logger, error) {
	cfg := config.DefaultConfig()
	cfg.LogLevel = fallback

	level, _ := cmd.Flags().GetString("log-level")
	source := "--log-level"
	if level == "" {
		level = os.Getenv(config.EnvLogLevel)
		source = config.EnvLogLevel
	}

	switch level {
	case "":
	case "debug":
		cfg.LogLevel = logrus.DebugLevel
	case "info":
		cfg.LogLevel = logrus.InfoLevel
	case "warn":
		cfg.LogLevel = logrus.WarnLevel
	case "error":
		cfg.LogLevel = logrus.ErrorLevel
	default:
		return nil, fmt.Errorf("invalid log level from %s: %s (must be debug, info, warn, or error)", source, level)
	}

	logger := cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())
	return logger, nil
}
