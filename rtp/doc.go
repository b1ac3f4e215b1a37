// Package rtp implements the receive dispatch pipeline and send-side
// connections of an RTP stack.
//
// # Receiving
//
// A Dispatcher owns one background goroutine that drains an
// interfaces.Socket. Each datagram is offered to the installed handlers in
// order; the first handler that does not answer StatusNotMine decides what
// happens to it:
//
//	StatusComplete   the returned Frame is delivered
//	StatusBuffered   the handler kept the datagram as partial state
//	StatusMalformed  the datagram is dropped
//
// Completed frames go to a FIFO queue drained by PullFrame, PullFrameTimeout
// and PullFrameContext, or, when a receive hook was installed before Start,
// straight to the hook on the receive goroutine. The mode is fixed at Start
// and pulls fail fast with ErrHookInstalled in hook mode.
//
//	d := rtp.NewDispatcher()
//	d.InstallHandler(codec.NewGenericHandler())
//	if err := d.Start(sock, interfaces.FlagNone); err != nil {
//		return err
//	}
//	defer d.Close()
//	defer d.Stop()
//
//	frame, err := d.PullFrameTimeout(50 * time.Millisecond)
//
// Stop is synchronous: when it returns the receive goroutine has exited and
// no handler or hook runs anymore. A stopped dispatcher cannot be restarted.
//
// # Sending
//
// A Writer packetizes application frames with the pion/rtp packetizer and
// sends them to one destination resolved at Start. A Reader pairs a bound
// socket with its own Dispatcher. Both obtain sockets from a
// factory.SocketFactory, so tests and demos can run them over the in-memory
// simulation.
package rtp
