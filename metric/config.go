package metric

import (
	"errors"
	"fmt"
	"strings"
)

// Default values for metrics configuration.
const (
	DefaultMetricsPort = 9090
	DefaultMetricsPath = "/metrics"
)

var (
	// ErrInvalidPort is returned when the metrics port is out of range.
	ErrInvalidPort = errors.New("invalid metrics port")

	// ErrInvalidPath is returned when the metrics path is not absolute.
	ErrInvalidPath = errors.New("invalid metrics path")
)

// Config defines the configuration for the metrics server.
type Config struct {
	Port int    // Port for metrics server, 0 disables it
	Path string // Path for metrics endpoint
}

// Validate checks the port and path.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%d: %w", c.Port, ErrInvalidPort)
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("%q: %w", c.Path, ErrInvalidPath)
	}
	return nil
}
