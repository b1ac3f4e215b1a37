package codec

import (
	"fmt"

	"github.com/pion/rtp/codecs"
)

// vp8Depayloader strips the RFC 7741 payload descriptor.
type vp8Depayloader struct{}

// Depayload parses the VP8 payload descriptor. A packet starts a frame when
// it begins partition 0 (S=1, PID=0).
func (vp8Depayloader) Depayload(payload []byte) ([]byte, bool, error) {
	var p codecs.VP8Packet
	data, err := p.Unmarshal(payload)
	if err != nil {
		return nil, false, fmt.Errorf("parse VP8 payload descriptor: %w", err)
	}
	return data, p.S == 1 && p.PID == 0, nil
}

func (vp8Depayloader) MarksStart() bool { return true }

// NewVP8Handler creates a FragmentHandler for VP8 streams on payloadType.
// Frames are returned without payload descriptors, ready for a VP8 decoder.
func NewVP8Handler(payloadType uint8) *FragmentHandler {
	return NewFragmentHandler(FragmentConfig{
		PayloadTypes: []uint8{payloadType},
		Depayloader:  vp8Depayloader{},
	})
}
