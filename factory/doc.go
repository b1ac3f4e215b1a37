// Package factory creates socket implementations from configuration, choosing
// between the in-memory simulation and real UDP sockets.
//
// # Configuration Sources
//
// NewSocketFactory starts from built-in defaults and applies these environment
// variables when they parse and fall within bounds:
//
//   - RTP_USE_SIMULATION (bool)
//   - RTP_POLL_INTERVAL_MS (1..10000)
//   - RTP_READ_BUFFER, RTP_WRITE_BUFFER (0..64MB)
//
// Invalid values are logged and ignored.
//
// # Usage
//
//	f := factory.NewSocketFactory()
//	sock, err := f.CreateSocket("0.0.0.0:5004")
//
// Connections in the rtp package obtain their sockets through a SocketFactory,
// so switching a whole program to simulation is a single SwitchToSimulation call.
package factory
