// Package logging configures the process wide zerolog logger.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultLevel is used when no level is configured.
const DefaultLevel = "info"

// ErrInvalidLevel is returned for an unknown log level name.
var ErrInvalidLevel = errors.New("invalid log level")

// Config is the logging configuration.
type Config struct {
	Level  string
	Pretty bool
}

// Validate checks that the level is known to zerolog.
func (c Config) Validate() error {
	if _, err := parseLevel(c.Level); err != nil {
		return err
	}
	return nil
}

// Configure installs the global logger. Pretty selects the human friendly
// console writer instead of JSON lines.
func Configure(config Config, w io.Writer) error {
	level, err := parseLevel(config.Level)
	if err != nil {
		return err
	}
	if w == nil {
		w = os.Stderr
	}

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if config.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return nil
}

func parseLevel(raw string) (zerolog.Level, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		raw = DefaultLevel
	}
	level, err := zerolog.ParseLevel(raw)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("%q: %w", raw, ErrInvalidLevel)
	}
	return level, nil
}
