// Package limits provides centralized size limits for the RTP pipeline.
// This ensures consistent validation across the socket, dispatcher and writer.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxDatagramSize is the largest payload a single UDP datagram can carry
	MaxDatagramSize = 65535

	// RTPHeaderSize is the size of a fixed RTP header without CSRCs or extensions (RFC 3550)
	RTPHeaderSize = 12

	// DefaultMTU is a conservative packet size for media datagrams.
	// It leaves room for IP/UDP headers and tunnel overhead on typical 1500 byte links.
	DefaultMTU = 1200

	// MinMTU is the smallest packet size that still carries payload after the RTP header
	MinMTU = RTPHeaderSize + 1

	// MaxMTU is the largest packet size the writer will produce
	MaxMTU = MaxDatagramSize

	// MaxFrameSize is the largest application frame the writer accepts (2MB)
	MaxFrameSize = 2000000

	// DefaultReceiveBuffer is the per-read buffer the dispatcher allocates by default
	DefaultReceiveBuffer = MaxDatagramSize

	// MaxReceiveBuffer is the absolute maximum for the dispatcher read buffer (1MB).
	// This prevents memory exhaustion through misconfiguration.
	MaxReceiveBuffer = 1024 * 1024

	// LargeSocketBuffer is the kernel buffer size requested for sockets that
	// expect bursts of large video frames
	LargeSocketBuffer = 4 * 1024 * 1024
)

var (
	// ErrDatagramEmpty indicates an empty datagram was provided
	ErrDatagramEmpty = errors.New("empty datagram")

	// ErrDatagramTooLarge indicates a datagram exceeds the maximum size
	ErrDatagramTooLarge = errors.New("datagram too large")

	// ErrFrameEmpty indicates an empty frame was provided
	ErrFrameEmpty = errors.New("empty frame")

	// ErrFrameTooLarge indicates a frame exceeds the maximum size
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrInvalidMTU indicates a packet size outside [MinMTU, MaxMTU]
	ErrInvalidMTU = errors.New("invalid MTU")

	// ErrInvalidBufferSize indicates a receive buffer outside (0, MaxReceiveBuffer]
	ErrInvalidBufferSize = errors.New("invalid buffer size")
)

// ValidateDatagram validates an outgoing datagram against MaxDatagramSize.
// Returns an error with context if the datagram is empty or exceeds the limit.
func ValidateDatagram(datagram []byte) error {
	if len(datagram) == 0 {
		return ErrDatagramEmpty
	}
	if len(datagram) > MaxDatagramSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrDatagramTooLarge, len(datagram), MaxDatagramSize)
	}
	return nil
}

// ValidateFrame validates an application frame against MaxFrameSize.
func ValidateFrame(frame []byte) error {
	if len(frame) == 0 {
		return ErrFrameEmpty
	}
	if len(frame) > MaxFrameSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrFrameTooLarge, len(frame), MaxFrameSize)
	}
	return nil
}

// ValidateMTU checks that a packet size leaves room for at least one payload byte
// and fits in a single datagram.
func ValidateMTU(mtu int) error {
	if mtu < MinMTU || mtu > MaxMTU {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidMTU, mtu, MinMTU, MaxMTU)
	}
	return nil
}

// ValidateReceiveBuffer checks a dispatcher read buffer size.
func ValidateReceiveBuffer(size int) error {
	if size <= 0 || size > MaxReceiveBuffer {
		return fmt.Errorf("%w: %d not in (0, %d]", ErrInvalidBufferSize, size, MaxReceiveBuffer)
	}
	return nil
}
