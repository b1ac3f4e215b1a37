// Package limits provides centralized size constants and validation functions
// for the RTP receive and send pipeline.
//
// # Size Hierarchy
//
//   - RTPHeaderSize (12 bytes): fixed RTP header (RFC 3550 section 5.1).
//
//   - DefaultMTU (1200 bytes): the packet size the writer targets by default.
//     Frames larger than this are split over several datagrams.
//
//   - MaxDatagramSize (65535 bytes): the UDP ceiling. The dispatcher reads into
//     a buffer of this size by default so no datagram is truncated.
//
//   - MaxFrameSize (2MB): the largest application frame the writer accepts.
//
//   - MaxReceiveBuffer (1MB): upper bound for a configured dispatcher read buffer.
//
// # Validation Functions
//
//	if err := limits.ValidateFrame(data); err != nil {
//	    // ErrFrameEmpty or ErrFrameTooLarge
//	}
//
// All errors wrap a sentinel so callers classify them with errors.Is.
package limits
