package interfaces

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Flags is an opaque bitmask of transport-level knobs passed unmodified from the
// owner of a socket through the dispatcher to every Receive call.
type Flags uint32

// FlagNone selects blocking reads bounded by the socket poll interval.
const FlagNone Flags = 0

const (
	// FlagNonBlocking makes Receive return ErrWouldBlock immediately when no datagram is queued
	FlagNonBlocking Flags = 1 << iota

	// FlagLargeReceiveBuffer asks the socket to enlarge its kernel receive buffer
	FlagLargeReceiveBuffer

	// FlagExpeditedForwarding marks outgoing datagrams with DSCP EF (RFC 3246)
	FlagExpeditedForwarding
)

// Has reports whether all bits of other are set in f.
func (f Flags) Has(other Flags) bool {
	return f&other == other
}

// String renders the set bits for logging.
func (f Flags) String() string {
	if f == FlagNone {
		return "none"
	}
	var names []string
	if f.Has(FlagNonBlocking) {
		names = append(names, "nonblocking")
	}
	if f.Has(FlagLargeReceiveBuffer) {
		names = append(names, "large_rcvbuf")
	}
	if f.Has(FlagExpeditedForwarding) {
		names = append(names, "dscp_ef")
	}
	if rest := f &^ (FlagNonBlocking | FlagLargeReceiveBuffer | FlagExpeditedForwarding); rest != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(names, "|")
}

// Socket is the datagram endpoint consumed by the dispatcher and the writer.
// This abstraction allows switching between a real UDP socket and a simulation.
type Socket interface {
	// Receive reads one datagram into buf and returns the number of bytes read and
	// the sender. A timeout or empty queue is reported as ErrWouldBlock (or a
	// net.Error with Timeout() == true); any other error is fatal to a receive loop.
	Receive(buf []byte, flags Flags) (int, net.Addr, error)

	// Send writes one datagram to addr and returns the number of bytes written.
	Send(buf []byte, addr net.Addr) (int, error)

	// LocalAddr returns the address the socket is bound to
	LocalAddr() net.Addr

	// Close releases the socket. Pending and future calls fail with ErrSocketClosed.
	Close() error
}

// ReadDeadliner is implemented by sockets whose blocked Receive can be interrupted
// by moving the read deadline.
type ReadDeadliner interface {
	SetReadDeadline(t time.Time) error
}
