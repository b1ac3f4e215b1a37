package codec

import (
	"fmt"
	"sort"
	"time"

	"github.com/opd-ai/rtpdispatch/interfaces"
	"github.com/opd-ai/rtpdispatch/limits"
	"github.com/opd-ai/rtpdispatch/rtp"
	pionrtp "github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

// Default reassembly bounds.
const (
	DefaultMaxPending = 10
	DefaultMaxAge     = time.Second
	DefaultStartGrace = 50 * time.Millisecond
)

// maxMarkers bounds the marker history kept per source.
const maxMarkers = 16

// Depayloader strips a codec payload header from one packet payload.
type Depayloader interface {
	// Depayload returns the media bytes carried by payload and whether the
	// packet starts a frame.
	Depayload(payload []byte) (data []byte, start bool, err error)
	// MarksStart reports whether Depayload's start result is meaningful.
	// Without start markers the frame start is inferred from the previous
	// frame's marker packet.
	MarksStart() bool
}

// rawDepayloader passes payloads through unchanged, as produced by
// rtp.ChunkPayloader.
type rawDepayloader struct{}

func (rawDepayloader) Depayload(payload []byte) ([]byte, bool, error) { return payload, false, nil }
func (rawDepayloader) MarksStart() bool                               { return false }

// FragmentConfig configures a FragmentHandler.
type FragmentConfig struct {
	// PayloadTypes claimed by the handler. Empty claims all.
	PayloadTypes []uint8
	// MaxPending bounds the number of frames under reassembly.
	MaxPending int
	// MaxAge drops incomplete frames not touched for this long.
	MaxAge time.Duration
	// StartGrace is how long a source's first frame waits for packets
	// preceding the earliest one seen, when the depayloader cannot mark
	// frame starts. A later packet from the same source ends the wait.
	StartGrace time.Duration
	// Depayloader strips codec payload headers. Nil keeps payloads as is.
	Depayloader Depayloader
}

type assemblyKey struct {
	ssrc      uint32
	timestamp uint32
}

type fragment struct {
	seq  uint16
	data []byte
}

// frameAssembly is one frame being reassembled.
type frameAssembly struct {
	fragments    []fragment
	size         int
	hasStart     bool
	startSeq     uint16
	hasEnd       bool
	endHeader    pionrtp.Header
	created      time.Time
	lastActivity time.Time
	endAt        time.Time
}

func (a *frameAssembly) has(seq uint16) bool {
	for _, f := range a.fragments {
		if f.seq == seq {
			return true
		}
	}
	return false
}

// FragmentStatistics counts reassembly outcomes.
type FragmentStatistics struct {
	FramesCompleted uint64
	FramesEvicted   uint64
	FramesExpired   uint64
	FramesDropped   uint64
	Duplicates      uint64
}

var _ rtp.MultiFrameHandler = (*FragmentHandler)(nil)

// FragmentHandler reassembles frames carried in several RTP packets that
// share SSRC and timestamp. The marker bit ends a frame. Packets may arrive
// out of order within a frame; the sequence range from start to marker must
// be complete before the frame is returned.
//
// Without depayloader start flags a frame starts after the previous
// frame's marker. A source's first frame has no previous marker, so it is
// held until a later packet from that source arrives or StartGrace passes.
// Both are checked when Handle is called, so the frame may be returned from
// the call for another packet. When one packet finishes several frames
// Handle returns the earliest and NextFrame the rest.
type FragmentHandler struct {
	payloadTypes payloadTypeSet
	maxPending   int
	maxAge       time.Duration
	startGrace   time.Duration
	depayloader  Depayloader
	timeProvider TimeProvider

	assemblies map[assemblyKey]*frameAssembly
	// markers holds each source's most recent marker sequence numbers. The
	// packet after a marker starts the next frame.
	markers map[uint32][]uint16
	stats   FragmentStatistics

	// last packet handled, for NextFrame
	lastSSRC uint32
	lastSeq  uint16
	lastNow  time.Time
}

// NewFragmentHandler creates a reassembling handler. Zero bounds use
// DefaultMaxPending, DefaultMaxAge and DefaultStartGrace.
func NewFragmentHandler(config FragmentConfig) *FragmentHandler {
	if config.MaxPending <= 0 {
		config.MaxPending = DefaultMaxPending
	}
	if config.MaxAge <= 0 {
		config.MaxAge = DefaultMaxAge
	}
	if config.StartGrace <= 0 {
		config.StartGrace = DefaultStartGrace
	}
	if config.Depayloader == nil {
		config.Depayloader = rawDepayloader{}
	}

	return &FragmentHandler{
		payloadTypes: newPayloadTypeSet(config.PayloadTypes),
		maxPending:   config.MaxPending,
		maxAge:       config.MaxAge,
		startGrace:   config.StartGrace,
		depayloader:  config.Depayloader,
		timeProvider: DefaultTimeProvider{},
		assemblies:   make(map[assemblyKey]*frameAssembly),
		markers:      make(map[uint32][]uint16),
	}
}

// SetTimeProvider sets the time provider for deterministic testing.
func (h *FragmentHandler) SetTimeProvider(tp TimeProvider) {
	h.timeProvider = tp
}

// Pending returns the number of frames under reassembly.
func (h *FragmentHandler) Pending() int {
	return len(h.assemblies)
}

// Statistics returns the reassembly counters.
func (h *FragmentHandler) Statistics() FragmentStatistics {
	return h.stats
}

// Handle implements rtp.Handler.
func (h *FragmentHandler) Handle(datagram []byte, flags interfaces.Flags) (*rtp.Frame, rtp.Status) {
	p, err := parsePacket(datagram)
	if err != nil {
		return nil, rtp.StatusMalformed
	}
	if !h.payloadTypes.matches(p.PayloadType) {
		return nil, rtp.StatusNotMine
	}

	data, start, err := h.depayloader.Depayload(p.Payload)
	if err != nil || len(data) == 0 {
		logrus.WithFields(logrus.Fields{
			"function": "FragmentHandler.Handle",
			"seq":      p.SequenceNumber,
			"error":    fmt.Sprint(err),
		}).Debug("Dropping packet with unusable payload")
		return nil, rtp.StatusMalformed
	}

	now := h.timeProvider.Now()
	h.expire(now)

	key := assemblyKey{ssrc: p.SSRC, timestamp: p.Timestamp}
	assembly := h.getOrCreateAssembly(key, now)

	if assembly.has(p.SequenceNumber) {
		h.stats.Duplicates++
		return nil, rtp.StatusBuffered
	}

	assembly.fragments = append(assembly.fragments, fragment{
		seq:  p.SequenceNumber,
		data: append([]byte(nil), data...),
	})
	assembly.size += len(data)
	assembly.lastActivity = now

	if assembly.size > limits.MaxFrameSize {
		h.drop(key, "frame exceeds size limit")
		return nil, rtp.StatusMalformed
	}
	if start && h.depayloader.MarksStart() {
		assembly.hasStart = true
		assembly.startSeq = p.SequenceNumber
	}
	if p.Marker {
		assembly.hasEnd = true
		assembly.endHeader = p.Header.Clone()
		assembly.endAt = now
		h.recordMarker(p.SSRC, p.SequenceNumber)
	}

	h.lastSSRC, h.lastSeq, h.lastNow = p.SSRC, p.SequenceNumber, now
	if frame := h.completeNext(p.SSRC, p.SequenceNumber, now); frame != nil {
		return frame, rtp.StatusComplete
	}
	if _, ok := h.assemblies[key]; !ok {
		// dropped by the sequence range check
		return nil, rtp.StatusMalformed
	}
	return nil, rtp.StatusBuffered
}

// NextFrame implements rtp.MultiFrameHandler. It returns a further frame
// finished by the last packet handled, or nil.
func (h *FragmentHandler) NextFrame() *rtp.Frame {
	if h.lastNow.IsZero() {
		return nil
	}
	return h.completeNext(h.lastSSRC, h.lastSeq, h.lastNow)
}

// completeNext completes the finished frame whose marker came first.
func (h *FragmentHandler) completeNext(ssrc uint32, seq uint16, now time.Time) *rtp.Frame {
	var bestKey assemblyKey
	var best *frameAssembly
	var bestPayload []byte

	for key, a := range h.assemblies {
		if !a.hasEnd {
			continue
		}
		payload, status := h.tryComplete(key, a, ssrc, seq, now)
		if status != rtp.StatusComplete {
			continue
		}
		if best == nil || endsBefore(a, best) {
			bestKey, best, bestPayload = key, a, payload
		}
	}
	if best == nil {
		return nil
	}

	h.stats.FramesCompleted++
	delete(h.assemblies, bestKey)

	return &rtp.Frame{Header: best.endHeader, Payload: bestPayload}
}

func endsBefore(a, b *frameAssembly) bool {
	if a.endHeader.SSRC == b.endHeader.SSRC {
		return isSequenceLess(a.endHeader.SequenceNumber, b.endHeader.SequenceNumber)
	}
	return a.endAt.Before(b.endAt)
}

// getOrCreateAssembly returns the assembly for key, evicting the oldest one
// when the pending limit is reached.
func (h *FragmentHandler) getOrCreateAssembly(key assemblyKey, now time.Time) *frameAssembly {
	if a, ok := h.assemblies[key]; ok {
		return a
	}
	if len(h.assemblies) >= h.maxPending {
		h.removeOldest()
	}
	a := &frameAssembly{created: now, lastActivity: now}
	h.assemblies[key] = a
	return a
}

// tryComplete checks whether the assembly spans a gap-free sequence range
// from its start to its marker packet and joins the payloads if so.
// ssrc and seq identify the packet being handled.
func (h *FragmentHandler) tryComplete(key assemblyKey, a *frameAssembly, ssrc uint32, seq uint16, now time.Time) ([]byte, rtp.Status) {
	if !a.hasEnd {
		return nil, rtp.StatusBuffered
	}

	startSeq, ok := h.frameStart(key, a, ssrc, seq, now)
	if !ok {
		return nil, rtp.StatusBuffered
	}

	endSeq := a.endHeader.SequenceNumber
	expected := int(endSeq-startSeq) + 1
	if len(a.fragments) < expected {
		return nil, rtp.StatusBuffered
	}

	// order by distance from the start, which handles wraparound
	sort.Slice(a.fragments, func(i, j int) bool {
		return a.fragments[i].seq-startSeq < a.fragments[j].seq-startSeq
	})

	if len(a.fragments) != expected || a.fragments[0].seq != startSeq || a.fragments[expected-1].seq != endSeq {
		// packets outside the frame's range
		h.drop(key, "sequence range mismatch")
		return nil, rtp.StatusMalformed
	}

	payload := make([]byte, 0, a.size)
	for _, f := range a.fragments {
		payload = append(payload, f.data...)
	}
	return payload, rtp.StatusComplete
}

// frameStart locates the first sequence number of the frame.
func (h *FragmentHandler) frameStart(key assemblyKey, a *frameAssembly, ssrc uint32, seq uint16, now time.Time) (uint16, bool) {
	if h.depayloader.MarksStart() {
		return a.startSeq, a.hasStart
	}
	end := a.endHeader.SequenceNumber
	var prev uint16
	found := false
	for _, m := range h.markers[key.ssrc] {
		if isSequenceLess(m, end) && (!found || isSequenceLess(prev, m)) {
			prev, found = m, true
		}
	}
	if found {
		return prev + 1, true
	}

	// first frame from this source: earlier packets may still be in flight
	later := key.ssrc == ssrc && isSequenceLess(end, seq)
	if !later && now.Sub(a.endAt) < h.startGrace {
		return 0, false
	}
	start := a.fragments[0].seq
	for _, f := range a.fragments[1:] {
		if isSequenceLess(f.seq, start) {
			start = f.seq
		}
	}
	return start, true
}

// recordMarker remembers a marker sequence number for ssrc, keeping the
// most recent maxMarkers.
func (h *FragmentHandler) recordMarker(ssrc uint32, seq uint16) {
	m := append(h.markers[ssrc], seq)
	if len(m) > maxMarkers {
		m = m[len(m)-maxMarkers:]
	}
	h.markers[ssrc] = m
}

// expire drops assemblies idle for longer than maxAge.
func (h *FragmentHandler) expire(now time.Time) {
	for key, a := range h.assemblies {
		if now.Sub(a.lastActivity) > h.maxAge {
			delete(h.assemblies, key)
			h.stats.FramesExpired++
			logrus.WithFields(logrus.Fields{
				"function":  "FragmentHandler.expire",
				"ssrc":      key.ssrc,
				"timestamp": key.timestamp,
				"fragments": len(a.fragments),
			}).Debug("Incomplete frame expired")
		}
	}
}

// removeOldest evicts the assembly created first.
func (h *FragmentHandler) removeOldest() {
	var oldestKey assemblyKey
	var oldest *frameAssembly
	for key, a := range h.assemblies {
		if oldest == nil || a.created.Before(oldest.created) {
			oldestKey, oldest = key, a
		}
	}
	if oldest == nil {
		return
	}
	delete(h.assemblies, oldestKey)
	h.stats.FramesEvicted++
	logrus.WithFields(logrus.Fields{
		"function":  "FragmentHandler.removeOldest",
		"ssrc":      oldestKey.ssrc,
		"timestamp": oldestKey.timestamp,
	}).Debug("Evicted incomplete frame")
}

func (h *FragmentHandler) drop(key assemblyKey, reason string) {
	delete(h.assemblies, key)
	h.stats.FramesDropped++
	logrus.WithFields(logrus.Fields{
		"function":  "FragmentHandler.drop",
		"ssrc":      key.ssrc,
		"timestamp": key.timestamp,
		"reason":    reason,
	}).Debug("Dropped frame")
}
