package rtp

import (
	"fmt"

	"github.com/opd-ai/rtpdispatch/interfaces"
)

// Status is a handler's verdict on one datagram.
type Status int

const (
	// StatusNotMine means the handler does not recognize the datagram; the
	// next handler is tried.
	StatusNotMine Status = iota
	// StatusComplete means the datagram finished a frame, which is returned.
	StatusComplete
	// StatusBuffered means the datagram was consumed into the handler's
	// partial state and no frame is ready yet.
	StatusBuffered
	// StatusMalformed means the handler recognized the datagram but it is
	// invalid; it is dropped.
	StatusMalformed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusNotMine:
		return "not_mine"
	case StatusComplete:
		return "complete"
	case StatusBuffered:
		return "buffered"
	case StatusMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Handler classifies a datagram and possibly produces a frame.
//
// datagram holds exactly the bytes received and is only valid for the
// duration of the call. Handlers must copy anything they keep. The
// dispatcher calls Handle only from its receive goroutine, so a handler
// may keep reassembly state in its fields without locking.
type Handler interface {
	Handle(datagram []byte, flags interfaces.Flags) (*Frame, Status)
}

// MultiFrameHandler is a Handler that can finish more than one frame with a
// single datagram. After Handle returns StatusComplete the dispatcher calls
// NextFrame until it returns nil, delivering each frame in turn.
type MultiFrameHandler interface {
	Handler
	NextFrame() *Frame
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(datagram []byte, flags interfaces.Flags) (*Frame, Status)

// Handle calls f(datagram, flags).
func (f HandlerFunc) Handle(datagram []byte, flags interfaces.Flags) (*Frame, Status) {
	return f(datagram, flags)
}

// ReceiveHook receives every completed frame on the dispatcher's receive
// goroutine when installed. arg is the opaque value given at installation.
// The hook must not block for long; it stalls the receive loop.
type ReceiveHook func(arg any, frame *Frame)
