package interfaces

import (
	"errors"
	"fmt"
	"time"
)

// Validation errors for SocketConfig.
var (
	// ErrInvalidPollInterval indicates PollIntervalMS is not positive
	ErrInvalidPollInterval = errors.New("poll interval must be positive")

	// ErrInvalidSocketBuffer indicates a negative kernel buffer size
	ErrInvalidSocketBuffer = errors.New("socket buffer size cannot be negative")
)

// SocketConfig holds configuration for socket implementations.
type SocketConfig struct {
	// UseSimulation determines whether to use an in-memory socket or real UDP
	UseSimulation bool `toml:"use_simulation"`

	// PollIntervalMS bounds a blocking Receive so a stop request is observed promptly
	PollIntervalMS int `toml:"poll_interval_ms"`

	// ReadBufferSize is the kernel receive buffer to request (0 keeps the OS default)
	ReadBufferSize int `toml:"read_buffer_size"`

	// WriteBufferSize is the kernel send buffer to request (0 keeps the OS default)
	WriteBufferSize int `toml:"write_buffer_size"`
}

// PollInterval returns PollIntervalMS as a duration.
func (c *SocketConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// Validate checks the configuration for values no socket can honor.
func (c *SocketConfig) Validate() error {
	if c.PollIntervalMS <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidPollInterval, c.PollIntervalMS)
	}
	if c.ReadBufferSize < 0 {
		return fmt.Errorf("%w: read buffer %d", ErrInvalidSocketBuffer, c.ReadBufferSize)
	}
	if c.WriteBufferSize < 0 {
		return fmt.Errorf("%w: write buffer %d", ErrInvalidSocketBuffer, c.WriteBufferSize)
	}
	return nil
}
