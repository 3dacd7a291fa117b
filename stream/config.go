package stream

import (
	"fmt"
	"time"

	"github.com/c360/docfeed/errors"
	"github.com/c360/docfeed/pkg/tlsutil"
)

// Config holds the websocket server settings.
type Config struct {
	Port int `json:"port"`
	// RateLimit is the sustained number of new subscriptions accepted per
	// second; Burst how many may arrive at once.
	RateLimit float64 `json:"rate_limit"`
	Burst     int     `json:"burst"`
	// QueueSize bounds the states waiting for one slow client. The oldest
	// pending state is dropped first.
	QueueSize    int           `json:"queue_size"`
	WriteTimeout time.Duration `json:"write_timeout"`
	PingInterval time.Duration `json:"ping_interval"`
	// TLS serves wss:// when enabled.
	TLS tlsutil.ServerConfig `json:"tls,omitempty"`
}

// DefaultConfig returns the server defaults.
func DefaultConfig() Config {
	return Config{
		Port:         8081,
		RateLimit:    100,
		Burst:        10,
		QueueSize:    64,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return invalidConfig(fmt.Sprintf("stream.port %d out of range", c.Port))
	case c.RateLimit <= 0:
		return invalidConfig(fmt.Sprintf("stream.rate_limit must be positive, got %v", c.RateLimit))
	case c.Burst < 1:
		return invalidConfig(fmt.Sprintf("stream.burst must be at least 1, got %d", c.Burst))
	case c.QueueSize < 1:
		return invalidConfig(fmt.Sprintf("stream.queue_size must be at least 1, got %d", c.QueueSize))
	case c.WriteTimeout <= 0 || c.PingInterval <= 0:
		return invalidConfig("stream.write_timeout and stream.ping_interval must be positive")
	}
	return c.TLS.Validate()
}

func invalidConfig(action string) error {
	return errors.WrapInvalid(errors.ErrInvalidConfig, "stream", "Validate", action)
}
