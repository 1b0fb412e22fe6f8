package coordinator

import (
	"errors"
	"fmt"
	"os"
	"time"

	"mediabot/engine"
)

// Default values for the coordinator. If the values are not set, these values are used.
const (
	DefaultGrace           = 5 * time.Second
	DefaultBudget          = 60 * time.Second
	DefaultCallbackTimeout = 10 * time.Second
)

var (
	// ErrInvalidGrace is returned for a negative grace period.
	ErrInvalidGrace = errors.New("invalid grace period")

	// ErrInvalidBudget is returned for a non-positive default budget.
	ErrInvalidBudget = errors.New("invalid default budget")

	// ErrInvalidMediaFile is returned when a configured media file is unusable.
	ErrInvalidMediaFile = errors.New("invalid media file")
)

// Config contains the configuration for the coordinator.
type Config struct {
	DefaultVideo    string        // IVF file published by every job, synthetic when empty
	DefaultAudio    string        // OGG file published by every job, synthetic when empty
	RecordDir       string        // Directory receiving consumed tracks, discarded when empty
	Grace           time.Duration // Added to the video duration to form the budget
	DefaultBudget   time.Duration // Budget used when there is no video to measure
	CallbackTimeout time.Duration // Timeout of each callback request
	Engine          engine.Config
}

// Validate checks the durations and that configured media files exist.
func (c Config) Validate() error {
	if c.Grace < 0 {
		return fmt.Errorf("%s: %w", c.Grace, ErrInvalidGrace)
	}
	if c.DefaultBudget <= 0 {
		return fmt.Errorf("%s: %w", c.DefaultBudget, ErrInvalidBudget)
	}
	for _, path := range []string{c.DefaultVideo, c.DefaultAudio} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("%s: %w", path, ErrInvalidMediaFile)
		}
	}
	return c.Engine.Validate()
}
