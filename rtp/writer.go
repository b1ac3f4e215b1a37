package rtp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/opd-ai/rtpdispatch/interfaces"
	"github.com/opd-ai/rtpdispatch/limits"
	"github.com/opd-ai/rtpdispatch/transport"
	pionrtp "github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

// PushFlags modify how PushFrame packetizes one buffer.
type PushFlags uint32

// PushNone packetizes the buffer as one complete frame.
const PushNone PushFlags = 0

const (
	// PushHoldTimestamp keeps the RTP timestamp for the next push, so several
	// pushes form one access unit.
	PushHoldTimestamp PushFlags = 1 << iota
	// PushNoMarker clears the marker bit on the last packet.
	PushNoMarker
)

// Has reports whether every bit in other is set in f.
func (f PushFlags) Has(other PushFlags) bool {
	return f&other == other
}

// WriterStatistics holds send counters.
type WriterStatistics struct {
	FramesSent  uint64
	PacketsSent uint64
	BytesSent   uint64
	SendErrors  uint64
}

// Writer packetizes application frames into RTP datagrams and sends them to
// one destination.
type Writer struct {
	*Connection

	dstHost string
	dstPort int
	opts    WriterOptions

	mu         sync.Mutex
	started    bool
	stopped    bool
	outAddr    *net.UDPAddr
	packetizer pionrtp.Packetizer
	ssrc       uint32

	framesSent  atomic.Uint64
	packetsSent atomic.Uint64
	bytesSent   atomic.Uint64
	sendErrors  atomic.Uint64
}

// NewWriter creates a writer to dstAddr:dstPort sending from an ephemeral port.
func NewWriter(dstAddr string, dstPort int) *Writer {
	return NewWriterWithSource(dstAddr, dstPort, 0)
}

// NewWriterWithSource creates a writer that binds srcPort locally.
func NewWriterWithSource(dstAddr string, dstPort, srcPort int) *Writer {
	return NewWriterWithOptions(dstAddr, dstPort, srcPort, DefaultWriterOptions())
}

// NewWriterWithOptions creates a writer with custom packetization options.
// Options and the destination are validated at Start.
func NewWriterWithOptions(dstAddr string, dstPort, srcPort int, opts WriterOptions) *Writer {
	w := &Writer{
		Connection: newConnection("", srcPort),
		dstHost:    dstAddr,
		dstPort:    dstPort,
		opts:       opts,
	}

	logrus.WithFields(logrus.Fields{
		"function":      "NewWriterWithOptions",
		"connection_id": w.id,
		"dst_addr":      dstAddr,
		"dst_port":      dstPort,
		"src_port":      srcPort,
		"payload_type":  opts.PayloadType,
	}).Debug("Created RTP writer")

	return w
}

// Start binds the local socket, resolves the destination and prepares the
// packetizer. The destination is resolved once and never changes.
func (w *Writer) Start() error {
	return w.start(nil)
}

// StartWithSocket starts the writer on a socket the caller owns. Stop does
// not close it.
func (w *Writer) StartWithSocket(sock interfaces.Socket) error {
	if sock == nil {
		return fmt.Errorf("start writer: %w: nil socket", ErrInvalidValue)
	}
	return w.start(sock)
}

func (w *Writer) start(sock interfaces.Socket) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started || w.stopped {
		return fmt.Errorf("start writer: %w", ErrAlreadyStarted)
	}
	if err := w.opts.Validate(); err != nil {
		return fmt.Errorf("start writer: %w", err)
	}

	outAddr, err := transport.ResolveUDPAddr(w.dstHost, w.dstPort)
	if err != nil {
		return fmt.Errorf("start writer: %w: %w", ErrInvalidValue, err)
	}

	if sock == nil {
		if _, err := w.bind(); err != nil {
			return fmt.Errorf("start writer: %w", err)
		}
	} else if err := w.attach(sock); err != nil {
		return fmt.Errorf("start writer: %w", err)
	}

	ssrc := w.opts.SSRC
	if ssrc == 0 {
		ssrc = uuid.New().ID()
	}
	payloader := w.opts.Payloader
	if payloader == nil {
		payloader = ChunkPayloader{}
	}

	w.packetizer = pionrtp.NewPacketizer(
		uint16(w.opts.MTU),
		w.opts.PayloadType,
		ssrc,
		payloader,
		pionrtp.NewRandomSequencer(),
		w.opts.ClockRate,
	)
	w.ssrc = ssrc
	w.outAddr = outAddr
	w.started = true

	logrus.WithFields(logrus.Fields{
		"function":      "Writer.Start",
		"connection_id": w.id,
		"out_addr":      outAddr.String(),
		"ssrc":          ssrc,
		"mtu":           w.opts.MTU,
		"clock_rate":    w.opts.ClockRate,
	}).Info("RTP writer started")

	return nil
}

// PushFrame packetizes data and sends every resulting packet.
//
// Parameters:
//   - data: one encoded frame or access unit slice
//   - flags: PushHoldTimestamp and PushNoMarker adjust timestamp and marker
//
// Returns:
//   - error: ErrInvalidValue for empty data, limits.ErrFrameTooLarge for
//     oversized data, ErrNotStarted before Start, or the wrapped socket error
func (w *Writer) PushFrame(data []byte, flags PushFlags) error {
	if err := limits.ValidateFrame(data); err != nil {
		if errors.Is(err, limits.ErrFrameEmpty) {
			return fmt.Errorf("push frame: %w: %w", ErrInvalidValue, err)
		}
		return fmt.Errorf("push frame: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started || w.stopped {
		return fmt.Errorf("push frame: %w", ErrNotStarted)
	}

	samples := w.opts.SamplesPerFrame
	if flags.Has(PushHoldTimestamp) {
		samples = 0
	}

	packets := w.packetizer.Packetize(data, samples)
	if len(packets) == 0 {
		return fmt.Errorf("push frame: %w: payloader produced no packets", ErrInvalidValue)
	}
	if flags.Has(PushNoMarker) {
		packets[len(packets)-1].Marker = false
	}

	sock := w.Socket()
	for i, p := range packets {
		raw, err := p.Marshal()
		if err != nil {
			w.sendErrors.Add(1)
			return fmt.Errorf("push frame: marshal packet %d: %w", i, err)
		}
		n, err := sock.Send(raw, w.outAddr)
		if err != nil {
			w.sendErrors.Add(1)
			logrus.WithFields(logrus.Fields{
				"function":      "PushFrame",
				"connection_id": w.id,
				"packet":        i,
				"packets":       len(packets),
				"error":         err.Error(),
			}).Warn("Failed to send RTP packet")
			return fmt.Errorf("push frame: send packet %d of %d: %w", i+1, len(packets), err)
		}
		w.packetsSent.Add(1)
		w.bytesSent.Add(uint64(n))
	}
	w.framesSent.Add(1)

	logrus.WithFields(logrus.Fields{
		"function":      "PushFrame",
		"connection_id": w.id,
		"size":          len(data),
		"packets":       len(packets),
		"timestamp":     packets[0].Timestamp,
	}).Debug("Sent frame")

	return nil
}

// GetOutAddress returns the resolved destination, or nil before Start.
func (w *Writer) GetOutAddress() *net.UDPAddr {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.outAddr == nil {
		return nil
	}
	addr := *w.outAddr
	return &addr
}

// SSRC returns the stream's synchronization source, or zero before Start.
func (w *Writer) SSRC() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ssrc
}

// Stop closes the writer's socket. It is idempotent.
func (w *Writer) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	w.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":      "Writer.Stop",
		"connection_id": w.id,
		"frames_sent":   w.framesSent.Load(),
	}).Info("Stopping RTP writer")

	return w.close()
}

// GetStatistics returns a snapshot of the send counters.
func (w *Writer) GetStatistics() WriterStatistics {
	return WriterStatistics{
		FramesSent:  w.framesSent.Load(),
		PacketsSent: w.packetsSent.Load(),
		BytesSent:   w.bytesSent.Load(),
		SendErrors:  w.sendErrors.Load(),
	}
}
