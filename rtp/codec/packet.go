package codec

import (
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/rtpdispatch/limits"
	pionrtp "github.com/pion/rtp"
)

// ErrNotRTP indicates a datagram too short or with a version other than 2.
var ErrNotRTP = errors.New("not an RTP version 2 packet")

// TimeProvider abstracts time for deterministic testing.
type TimeProvider interface {
	Now() time.Time
}

// DefaultTimeProvider uses the wall clock.
type DefaultTimeProvider struct{}

// Now returns time.Now().
func (DefaultTimeProvider) Now() time.Time {
	return time.Now()
}

// parsePacket unmarshals an RTP packet. The returned payload aliases datagram.
func parsePacket(datagram []byte) (*pionrtp.Packet, error) {
	if len(datagram) < limits.RTPHeaderSize || datagram[0]>>6 != 2 {
		return nil, fmt.Errorf("%w: %d bytes", ErrNotRTP, len(datagram))
	}
	p := &pionrtp.Packet{}
	if err := p.Unmarshal(datagram); err != nil {
		return nil, fmt.Errorf("unmarshal RTP packet: %w", err)
	}
	return p, nil
}

// payloadTypeSet is a set of RTP payload types. An empty set matches all.
type payloadTypeSet map[uint8]struct{}

func newPayloadTypeSet(types []uint8) payloadTypeSet {
	set := make(payloadTypeSet, len(types))
	for _, pt := range types {
		set[pt] = struct{}{}
	}
	return set
}

func (s payloadTypeSet) matches(pt uint8) bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s[pt]
	return ok
}

// isSequenceLess reports whether a precedes b in 16-bit serial number
// arithmetic (RFC 1982).
func isSequenceLess(a, b uint16) bool {
	return int16(a-b) < 0
}
