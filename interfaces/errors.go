package interfaces

import (
	"errors"
	"net"
	"os"
)

// Transport error taxonomy shared by every Socket implementation.
// These errors enable reliable error classification using errors.Is().
var (
	// ErrWouldBlock indicates no datagram was available within the poll window.
	// It is never fatal to a receive loop.
	ErrWouldBlock = errors.New("operation would block")

	// ErrSocketClosed indicates the socket was closed locally
	ErrSocketClosed = errors.New("socket closed")

	// ErrMessageTooLong indicates a datagram did not fit the buffer or the path MTU
	ErrMessageTooLong = errors.New("message too long")

	// ErrUnreachable indicates the destination rejected the datagram
	ErrUnreachable = errors.New("destination unreachable")
)

// IsTransient reports whether err is a would-block or timeout condition that a
// receive loop should ride out rather than treat as terminal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrWouldBlock) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
