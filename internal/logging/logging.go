// Package logging builds the zerolog logger used across the service.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Format represents the output format for logs
type Format string

const (
	// JSONFormat outputs one JSON object per line
	JSONFormat Format = "json"
	// HumanFormat outputs colored console lines
	HumanFormat Format = "human"
)

// Config holds logger configuration
type Config struct {
	Format Format
	Level  string
	Output io.Writer // Optional, defaults to stderr
}

// ParseLevel accepts debug, info, warn and error
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	}
	return zerolog.NoLevel, fmt.Errorf("unknown log level %q", s)
}

// NewLogger creates a logger with the given configuration.
// The level is process wide so a config reload can change it later.
func NewLogger(cfg Config) (zerolog.Logger, error) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), err
	}

	w := cfg.Output
	if w == nil {
		w = os.Stderr
	}

	switch cfg.Format {
	case HumanFormat, "":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case JSONFormat:
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", cfg.Format)
	}

	zerolog.SetGlobalLevel(lvl)
	return zerolog.New(w).With().Timestamp().Logger(), nil
}

// SetLevel changes the level of every logger built by NewLogger
func SetLevel(s string) error {
	lvl, err := ParseLevel(s)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}
