// Package codec provides reference rtp.Handler implementations built on
// pion/rtp and pion/opus.
//
//   - GenericHandler completes one frame per RTP packet.
//   - FragmentHandler reassembles frames split over several packets that share
//     a timestamp, terminated by the marker bit.
//   - VP8Handler is a FragmentHandler that strips the RFC 7741 payload
//     descriptor.
//   - OpusHandler validates the RFC 6716 packet structure and can run each
//     packet through the pion/opus decoder.
//
// Handlers keep reassembly state in their fields and are meant to be called
// from a single dispatcher goroutine.
//
// # Deterministic Testing
//
// FragmentHandler ages out incomplete assemblies using a TimeProvider that
// tests can replace:
//
//	h := codec.NewFragmentHandler(codec.FragmentConfig{MaxAge: time.Second})
//	h.SetTimeProvider(mockTime)
package codec
