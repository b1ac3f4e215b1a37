// Package transport provides the production UDP implementation of the
// interfaces.Socket abstraction used by the RTP dispatcher and writer.
//
// # UDP Socket
//
//	sock, err := transport.ListenUDP("0.0.0.0:5004", config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sock.Close()
//
// Blocking reads are bounded by SocketConfig.PollIntervalMS so that a receive
// loop observes a stop request without waiting for traffic. A read that times
// out reports interfaces.ErrWouldBlock; a closed socket reports
// interfaces.ErrSocketClosed. The original net error stays in the chain.
//
// # Flags
//
// ApplyFlags (also called from Receive) honors interfaces.FlagLargeReceiveBuffer
// by enlarging the kernel receive buffer, and interfaces.FlagExpeditedForwarding
// by setting DSCP EF through golang.org/x/net/ipv4 or ipv6.
//
// # Address Resolution
//
// ResolveUDPAddr turns a destination host and port into a *net.UDPAddr once,
// so writers never resolve names on the send path.
package transport
