package rtp

import (
	"fmt"
	"time"

	"github.com/opd-ai/rtpdispatch/limits"
	pionrtp "github.com/pion/rtp"
)

// Options configures a Dispatcher.
type Options struct {
	// ReceiveBufferSize is the size of the buffer each datagram is read into.
	ReceiveBufferSize int `toml:"receive_buffer_size"`
	// IdleBackoff is slept after a would-block result when the socket is
	// polled with FlagNonBlocking. Zero spins.
	IdleBackoff time.Duration `toml:"idle_backoff"`
}

// DefaultOptions returns options that fit any UDP datagram with a 1ms idle backoff.
func DefaultOptions() Options {
	return Options{
		ReceiveBufferSize: limits.DefaultReceiveBuffer,
		IdleBackoff:       time.Millisecond,
	}
}

// Validate checks the options for consistency.
func (o Options) Validate() error {
	if err := limits.ValidateReceiveBuffer(o.ReceiveBufferSize); err != nil {
		return fmt.Errorf("%w: %w", ErrMemory, err)
	}
	if o.IdleBackoff < 0 {
		return fmt.Errorf("%w: negative idle backoff %s", ErrInvalidValue, o.IdleBackoff)
	}
	return nil
}

// WriterOptions configures how a Writer packetizes frames.
type WriterOptions struct {
	PayloadType     uint8  `toml:"payload_type"`
	ClockRate       uint32 `toml:"clock_rate"`
	SamplesPerFrame uint32 `toml:"samples_per_frame"`
	MTU             int    `toml:"mtu"`
	// SSRC of the outgoing stream. Zero picks a random one at Start.
	SSRC uint32 `toml:"ssrc"`
	// Payloader splits a frame into packet payloads. Nil uses ChunkPayloader.
	Payloader pionrtp.Payloader `toml:"-"`
}

// DefaultWriterOptions returns a dynamic payload type on a 90kHz clock
// advancing one 30fps frame per push.
func DefaultWriterOptions() WriterOptions {
	return WriterOptions{
		PayloadType:     96,
		ClockRate:       90000,
		SamplesPerFrame: 3000,
		MTU:             limits.DefaultMTU,
	}
}

// Validate checks the writer options for consistency.
func (o WriterOptions) Validate() error {
	if o.PayloadType > 127 {
		return fmt.Errorf("%w: payload type %d exceeds 7 bits", ErrInvalidValue, o.PayloadType)
	}
	if o.ClockRate == 0 {
		return fmt.Errorf("%w: clock rate must be positive", ErrInvalidValue)
	}
	if err := limits.ValidateMTU(o.MTU); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}
	return nil
}
