package codec

import (
	"github.com/opd-ai/rtpdispatch/interfaces"
	"github.com/opd-ai/rtpdispatch/rtp"
	"github.com/sirupsen/logrus"
)

// GenericHandler turns every RTP packet of the configured payload types into
// one frame.
type GenericHandler struct {
	payloadTypes payloadTypeSet
}

// NewGenericHandler creates a handler claiming the given payload types, or
// every payload type when none are given.
func NewGenericHandler(payloadTypes ...uint8) *GenericHandler {
	return &GenericHandler{payloadTypes: newPayloadTypeSet(payloadTypes)}
}

// Handle implements rtp.Handler.
func (h *GenericHandler) Handle(datagram []byte, flags interfaces.Flags) (*rtp.Frame, rtp.Status) {
	p, err := parsePacket(datagram)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "GenericHandler.Handle",
			"size":     len(datagram),
			"error":    err.Error(),
		}).Debug("Rejecting datagram")
		return nil, rtp.StatusMalformed
	}
	if !h.payloadTypes.matches(p.PayloadType) {
		return nil, rtp.StatusNotMine
	}
	return rtp.NewFrame(p.Header, p.Payload), rtp.StatusComplete
}
