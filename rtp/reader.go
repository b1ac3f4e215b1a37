package rtp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/rtpdispatch/interfaces"
	"github.com/sirupsen/logrus"
)

// Reader binds a local address and feeds it to a Dispatcher it owns.
type Reader struct {
	*Connection

	dispatcher *Dispatcher

	mu      sync.Mutex
	started bool
}

// NewReader creates a reader bound to srcAddr:srcPort at Start.
func NewReader(srcAddr string, srcPort int) *Reader {
	return NewReaderWithOptions(srcAddr, srcPort, DefaultOptions())
}

// NewReaderWithOptions creates a reader whose dispatcher uses opts.
func NewReaderWithOptions(srcAddr string, srcPort int, opts Options) *Reader {
	r := &Reader{
		Connection: newConnection(srcAddr, srcPort),
		dispatcher: NewDispatcherWithOptions(opts),
	}

	logrus.WithFields(logrus.Fields{
		"function":      "NewReaderWithOptions",
		"connection_id": r.id,
		"dispatcher_id": r.dispatcher.ID(),
		"src_addr":      srcAddr,
		"src_port":      srcPort,
	}).Debug("Created RTP reader")

	return r
}

// Dispatcher returns the reader's dispatcher for installing handlers and a
// receive hook before Start.
func (r *Reader) Dispatcher() *Dispatcher {
	return r.dispatcher
}

// Start binds the socket and starts the dispatcher's receive loop.
func (r *Reader) Start(flags interfaces.Flags) error {
	return r.start(nil, flags)
}

// StartWithSocket starts the dispatcher on a socket the caller owns.
// Stop does not close it.
func (r *Reader) StartWithSocket(sock interfaces.Socket, flags interfaces.Flags) error {
	if sock == nil {
		return fmt.Errorf("start reader: %w: nil socket", ErrInvalidValue)
	}
	return r.start(sock, flags)
}

func (r *Reader) start(sock interfaces.Socket, flags interfaces.Flags) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("start reader: %w", ErrAlreadyStarted)
	}
	if err := r.SetFlags(flags); err != nil {
		return fmt.Errorf("start reader: %w", err)
	}

	var err error
	if sock == nil {
		sock, err = r.bind()
	} else {
		err = r.attach(sock)
	}
	if err != nil {
		return fmt.Errorf("start reader: %w", err)
	}

	if err := r.dispatcher.Start(sock, flags); err != nil {
		r.close()
		return fmt.Errorf("start reader: %w", err)
	}
	r.started = true
	return nil
}

// Stop stops the dispatcher, waiting for its loop, then closes the socket.
func (r *Reader) Stop() error {
	if err := r.dispatcher.Stop(); err != nil {
		return fmt.Errorf("stop reader: %w", err)
	}
	return r.close()
}

// PullFrame blocks until the dispatcher delivers a frame.
func (r *Reader) PullFrame() (*Frame, error) {
	return r.dispatcher.PullFrame()
}

// PullFrameTimeout waits at most timeout for a frame.
func (r *Reader) PullFrameTimeout(timeout time.Duration) (*Frame, error) {
	return r.dispatcher.PullFrameTimeout(timeout)
}

// PullFrameContext waits for a frame until ctx is done.
func (r *Reader) PullFrameContext(ctx context.Context) (*Frame, error) {
	return r.dispatcher.PullFrameContext(ctx)
}
