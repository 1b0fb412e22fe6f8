package engine

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// ErrInvalidPortRange is returned when the UDP port range is unusable.
var ErrInvalidPortRange = errors.New("invalid UDP port range")

// Config defines the configuration of the media engine.
type Config struct {
	MinUDPPort uint16 // Minimum UDP port for ICE, 0 lets the OS choose
	MaxUDPPort uint16 // Maximum UDP port for ICE, 0 lets the OS choose
}

// Validate checks the port range. Both bounds must be set together.
func (c Config) Validate() error {
	if c.MinUDPPort == 0 && c.MaxUDPPort == 0 {
		return nil
	}
	if c.MinUDPPort == 0 || c.MaxUDPPort == 0 {
		return fmt.Errorf("both bounds are required, given %d-%d: %w", c.MinUDPPort, c.MaxUDPPort, ErrInvalidPortRange)
	}
	if c.MinUDPPort > c.MaxUDPPort {
		return fmt.Errorf("min %d > max %d: %w", c.MinUDPPort, c.MaxUDPPort, ErrInvalidPortRange)
	}
	return nil
}

// SetPortRange sets the ephemeral UDP port range for ICE.
func (c Config) SetPortRange(s *webrtc.SettingEngine) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.MinUDPPort == 0 {
		return nil
	}
	if err := s.SetEphemeralUDPPortRange(c.MinUDPPort, c.MaxUDPPort); err != nil {
		return fmt.Errorf("failed to set ephemeral UDP port range: %w", err)
	}
	return nil
}
