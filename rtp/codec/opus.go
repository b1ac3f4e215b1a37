package codec

import (
	"errors"
	"fmt"

	"github.com/opd-ai/rtpdispatch/interfaces"
	"github.com/opd-ai/rtpdispatch/rtp"
	"github.com/pion/opus"
	"github.com/sirupsen/logrus"
)

// Opus packet limits from RFC 6716.
const (
	opusMaxFrameBytes = 1275
	// opusMaxDurationUS is the longest audio a single packet may carry (120ms).
	opusMaxDurationUS = 120000
	// opusDecodeBuffer fits 120ms of 48kHz stereo 16-bit PCM.
	opusDecodeBuffer = 5760 * 2 * 2
)

// ErrInvalidOpusPacket indicates a payload violating the RFC 6716 packet layout.
var ErrInvalidOpusPacket = errors.New("invalid opus packet")

// OpusHandler claims one payload type carrying Opus and returns each
// structurally valid packet as a frame.
type OpusHandler struct {
	payloadType  uint8
	verifyDecode bool
	decoder      *opus.Decoder
	pcm          []byte
}

// NewOpusHandler creates a handler for Opus packets on payloadType.
func NewOpusHandler(payloadType uint8) *OpusHandler {
	return &OpusHandler{payloadType: payloadType}
}

// SetVerifyDecode makes the handler run every packet through the pion/opus
// decoder and reject the ones it cannot decode. The decoder handles SILK
// frames only, so enable this for SILK-only streams.
func (h *OpusHandler) SetVerifyDecode(verify bool) {
	h.verifyDecode = verify
	if verify && h.decoder == nil {
		decoder := opus.NewDecoder()
		h.decoder = &decoder
		h.pcm = make([]byte, opusDecodeBuffer)
	}
}

// Handle implements rtp.Handler.
func (h *OpusHandler) Handle(datagram []byte, flags interfaces.Flags) (*rtp.Frame, rtp.Status) {
	p, err := parsePacket(datagram)
	if err != nil {
		return nil, rtp.StatusMalformed
	}
	if p.PayloadType != h.payloadType {
		return nil, rtp.StatusNotMine
	}

	if err := ValidateOpusPacket(p.Payload); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "OpusHandler.Handle",
			"seq":      p.SequenceNumber,
			"error":    err.Error(),
		}).Debug("Dropping invalid opus packet")
		return nil, rtp.StatusMalformed
	}
	if h.verifyDecode {
		if err := h.decode(p.Payload); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "OpusHandler.Handle",
				"seq":      p.SequenceNumber,
				"error":    err.Error(),
			}).Debug("Opus decode failed")
			return nil, rtp.StatusMalformed
		}
	}

	return rtp.NewFrame(p.Header, p.Payload), rtp.StatusComplete
}

func (h *OpusHandler) decode(payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("opus decoder panic: %v", r)
		}
	}()
	_, _, err = h.decoder.Decode(payload, h.pcm)
	return err
}

// opusFrameDurationUS returns the frame duration in microseconds for a TOC
// configuration number (RFC 6716 table 2).
func opusFrameDurationUS(config byte) int {
	switch {
	case config < 12: // SILK
		return [...]int{10000, 20000, 40000, 60000}[config%4]
	case config < 16: // Hybrid
		return [...]int{10000, 20000}[config%2]
	default: // CELT
		return [...]int{2500, 5000, 10000, 20000}[config%4]
	}
}

// ValidateOpusPacket checks the TOC byte and frame packing of an Opus packet
// (RFC 6716 section 3.2).
func ValidateOpusPacket(packet []byte) error {
	if len(packet) < 1 {
		return fmt.Errorf("%w: empty packet", ErrInvalidOpusPacket)
	}

	toc := packet[0]
	duration := opusFrameDurationUS(toc >> 3)
	body := packet[1:]

	switch toc & 0x3 {
	case 0:
		return checkFrameSize(len(body))
	case 1:
		if len(body)%2 != 0 {
			return fmt.Errorf("%w: code 1 with odd length %d", ErrInvalidOpusPacket, len(body))
		}
		return checkFrameSize(len(body) / 2)
	case 2:
		size, n, err := readFrameLength(body)
		if err != nil {
			return err
		}
		body = body[n:]
		if size > len(body) {
			return fmt.Errorf("%w: first frame %d exceeds %d remaining bytes", ErrInvalidOpusPacket, size, len(body))
		}
		if err := checkFrameSize(size); err != nil {
			return err
		}
		return checkFrameSize(len(body) - size)
	default:
		return validateCode3(body, duration)
	}
}

// validateCode3 checks a packet with an arbitrary number of frames.
func validateCode3(body []byte, duration int) error {
	if len(body) < 1 {
		return fmt.Errorf("%w: code 3 without frame count", ErrInvalidOpusPacket)
	}
	header := body[0]
	body = body[1:]

	count := int(header & 0x3F)
	vbr := header&0x80 != 0
	padded := header&0x40 != 0

	if count == 0 {
		return fmt.Errorf("%w: zero frames", ErrInvalidOpusPacket)
	}
	if count*duration > opusMaxDurationUS {
		return fmt.Errorf("%w: %d frames exceed 120ms", ErrInvalidOpusPacket, count)
	}

	if padded {
		padding := 0
		for {
			if len(body) == 0 {
				return fmt.Errorf("%w: truncated padding length", ErrInvalidOpusPacket)
			}
			b := int(body[0])
			body = body[1:]
			if b == 255 {
				padding += 254
				continue
			}
			padding += b
			break
		}
		if padding > len(body) {
			return fmt.Errorf("%w: padding %d exceeds %d remaining bytes", ErrInvalidOpusPacket, padding, len(body))
		}
		body = body[:len(body)-padding]
	}

	if !vbr {
		if len(body)%count != 0 {
			return fmt.Errorf("%w: %d bytes not divisible into %d CBR frames", ErrInvalidOpusPacket, len(body), count)
		}
		return checkFrameSize(len(body) / count)
	}

	sizes := make([]int, 0, count-1)
	for i := 0; i < count-1; i++ {
		size, n, err := readFrameLength(body)
		if err != nil {
			return err
		}
		body = body[n:]
		sizes = append(sizes, size)
	}

	total := 0
	for _, size := range sizes {
		if err := checkFrameSize(size); err != nil {
			return err
		}
		total += size
	}
	if total > len(body) {
		return fmt.Errorf("%w: frame sizes %d exceed %d remaining bytes", ErrInvalidOpusPacket, total, len(body))
	}
	return checkFrameSize(len(body) - total)
}

// readFrameLength decodes a one or two byte frame length.
func readFrameLength(b []byte) (size, n int, err error) {
	if len(b) < 1 {
		return 0, 0, fmt.Errorf("%w: truncated frame length", ErrInvalidOpusPacket)
	}
	if b[0] < 252 {
		return int(b[0]), 1, nil
	}
	if len(b) < 2 {
		return 0, 0, fmt.Errorf("%w: truncated two-byte frame length", ErrInvalidOpusPacket)
	}
	return int(b[1])*4 + int(b[0]), 2, nil
}

func checkFrameSize(size int) error {
	if size > opusMaxFrameBytes {
		return fmt.Errorf("%w: frame of %d bytes exceeds %d", ErrInvalidOpusPacket, size, opusMaxFrameBytes)
	}
	return nil
}
