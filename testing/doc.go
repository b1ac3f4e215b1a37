// Package testing provides an in-memory socket for deterministic testing of the
// RTP dispatcher and writer.
//
// # Overview
//
// SimulatedSocket implements interfaces.Socket without touching the network.
// Datagrams are queued with Inject, or delivered from a peer created by
// NewSimulatedPair, and every Send is kept in a log for verification.
//
// # Simulation vs Real Implementation
//
//   - Simulation (this package): datagrams live in a bounded in-memory queue.
//     Blocking reads honor the configured poll interval, non-blocking reads
//     return interfaces.ErrWouldBlock immediately.
//
//   - Real (transport package): a bound UDP socket.
//
// The factory package selects between them from interfaces.SocketConfig.
//
// # Usage
//
//	sock := testsim.NewSimulatedSocket("receiver", interfaces.SocketConfig{
//	    UseSimulation:  true,
//	    PollIntervalMS: 10,
//	})
//	sock.Inject(packet, nil)
//
//	// simulate a hard transport error
//	sock.FailReceive(errors.New("link down"))
//
// The package name shadows the standard library; import it under an alias:
//
//	import testsim "github.com/opd-ai/rtpdispatch/testing"
package testing
