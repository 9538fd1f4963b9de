package config

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds runtime options that come from flags rather than the settings file.
type Config struct {
	LogLevel       logrus.Level  `json:"log_level"`
	ScanTimeout    time.Duration `json:"scan_timeout"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	OutputFormat   string        `json:"output_format"`
}

// OutputFormats lists the values accepted by OutputFormat.
var OutputFormats = []string{"table", "json"}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		LogLevel:       logrus.InfoLevel,
		ScanTimeout:    10 * time.Second,
		ConnectTimeout: 15 * time.Second,
		OutputFormat:   "table",
	}
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// ValidOutputFormat reports whether f is one of OutputFormats.
func ValidOutputFormat(f string) bool {
	for _, v := range OutputFormats {
		if v == f {
			return true
		}
	}
	return false
}
