// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Formats accepted by Config.Format
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config selects the level and output format of the logger
type Config struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// DefaultConfig logs info and above as text
func DefaultConfig() *Config {
	return &Config{Level: "info", Format: FormatText}
}

// Validate checks the level name and format
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	switch strings.ToLower(c.Format) {
	case FormatText, FormatJSON:
		return nil
	default:
		return fmt.Errorf("invalid log format %q", c.Format)
	}
}

// New creates a logger writing to stderr
func New(cfg *Config) (*logrus.Logger, error) {
	return NewWithOutput(cfg, os.Stderr)
}

// NewWithOutput creates a logger writing to out
func NewWithOutput(cfg *Config, out io.Writer) (*logrus.Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level, _ := logrus.ParseLevel(cfg.Level)

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)
	if strings.ToLower(cfg.Format) == FormatJSON {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.TimeOnly})
	}
	return logger, nil
}

// Discard returns a logger that drops everything, for tests and quiet clients
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
