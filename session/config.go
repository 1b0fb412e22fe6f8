package session

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"mediabot/types/request"
)

// Default values for session configuration.
const (
	DefaultDisplayName    = "mediabot"
	DefaultRequestTimeout = 15 * time.Second
)

// DefaultDevice is how the session presents itself to other peers.
var DefaultDevice = request.Device{Flag: "mediabot", Name: "pion", Version: "4"}

var (
	// ErrInvalidURI is returned when the signaling URI is not a websocket URL.
	ErrInvalidURI = errors.New("invalid signaling uri")

	// ErrInvalidBudget is returned for a negative time budget.
	ErrInvalidBudget = errors.New("invalid time budget")

	// ErrInvalidTimeout is returned for a negative request timeout.
	ErrInvalidTimeout = errors.New("invalid request timeout")
)

// Config defines the configuration of a session.
type Config struct {
	URI            string         // Signaling websocket URI
	DisplayName    string         // Name shown to other peers
	Device         request.Device // Device descriptor sent on join
	Budget         time.Duration  // Deadline of the publish phase, 0 for none
	RequestTimeout time.Duration  // Wait for each response, 0 for the default
	ProduceData    bool           // Open a data producer after publishing media
}

// Validate checks the URI, budget and timeout.
func (c Config) Validate() error {
	u, err := url.Parse(c.URI)
	if err != nil {
		return fmt.Errorf("%q: %w", c.URI, ErrInvalidURI)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" || u.Host == "" {
		return fmt.Errorf("%q: %w", c.URI, ErrInvalidURI)
	}
	if c.Budget < 0 {
		return fmt.Errorf("%s: %w", c.Budget, ErrInvalidBudget)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("%s: %w", c.RequestTimeout, ErrInvalidTimeout)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.DisplayName == "" {
		c.DisplayName = DefaultDisplayName
	}
	if c.Device == (request.Device{}) {
		c.Device = DefaultDevice
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}
