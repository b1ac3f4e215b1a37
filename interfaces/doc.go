// Package interfaces defines the socket abstraction shared by the receive
// dispatcher and the send-side writer.
//
// This package provides the foundational types that enable switching between a
// simulated socket and a real UDP socket, supporting both production deployments
// and deterministic testing scenarios.
//
// # Socket
//
// [Socket] is a datagram endpoint with a POSIX-like error model:
//
//	n, from, err := sock.Receive(buf, interfaces.FlagNone)
//	switch {
//	case interfaces.IsTransient(err):
//	    // nothing arrived within the poll window, try again
//	case err != nil:
//	    // fatal: the socket is gone
//	default:
//	    process(buf[:n], from)
//	}
//
// # Flags
//
// [Flags] is passed unmodified by the dispatcher to every Receive call. The
// recognized bits are FlagNonBlocking, FlagLargeReceiveBuffer and
// FlagExpeditedForwarding; implementations ignore bits they do not know.
//
// # Errors
//
// Implementations report would-block with [ErrWouldBlock], local close with
// [ErrSocketClosed] and oversized datagrams with [ErrMessageTooLong], wrapping
// them with context so errors.Is keeps working.
//
// # Configuration
//
// [SocketConfig] selects simulation or real networking and bounds the blocking
// read window. The factory package fills it from defaults and RTP_* environment
// variables.
package interfaces
