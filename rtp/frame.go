package rtp

import (
	"net"
	"time"

	pionrtp "github.com/pion/rtp"
)

// Frame is one complete unit of media produced by a Handler.
//
// The payload is owned by the frame. Once a handler returns a frame to the
// dispatcher it is handed to exactly one consumer: a PullFrame caller or the
// receive hook.
type Frame struct {
	Header     pionrtp.Header
	Payload    []byte
	Source     net.Addr
	ReceivedAt time.Time
}

// NewFrame builds a frame from a parsed header and a payload.
// The payload is copied so the frame never aliases a receive buffer.
func NewFrame(header pionrtp.Header, payload []byte) *Frame {
	p := make([]byte, len(payload))
	copy(p, payload)
	return &Frame{Header: header.Clone(), Payload: p}
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	c := NewFrame(f.Header, f.Payload)
	c.Source = f.Source
	c.ReceivedAt = f.ReceivedAt
	return c
}

// Size returns the payload length in bytes.
func (f *Frame) Size() int {
	return len(f.Payload)
}
