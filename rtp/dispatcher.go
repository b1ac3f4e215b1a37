package rtp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/rtpdispatch/interfaces"
	"github.com/sirupsen/logrus"
)

// State is the lifecycle state of a Dispatcher.
type State int32

const (
	// StateCreated is a dispatcher that has not been started.
	StateCreated State = iota
	// StateStarted is a dispatcher whose receive loop is running.
	StateStarted
	// StateStopping is a dispatcher whose loop was asked to exit.
	StateStopping
	// StateStopped is a dispatcher whose loop has exited. It cannot be restarted.
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DeliveryMode selects where completed frames go.
type DeliveryMode int

const (
	// DeliveryQueue stores frames for PullFrame callers.
	DeliveryQueue DeliveryMode = iota
	// DeliveryHook passes frames to the receive hook on the loop goroutine.
	DeliveryHook
)

// String returns the mode name.
func (m DeliveryMode) String() string {
	if m == DeliveryHook {
		return "hook"
	}
	return "queue"
}

// Statistics holds receive loop counters.
type Statistics struct {
	DatagramsReceived  uint64
	FramesCompleted    uint64
	DatagramsBuffered  uint64
	DatagramsMalformed uint64
	DatagramsUnclaimed uint64
	HandlerPanics      uint64
	HookPanics         uint64
	TransientErrors    uint64
}

type counters struct {
	received  atomic.Uint64
	completed atomic.Uint64
	buffered  atomic.Uint64
	malformed atomic.Uint64
	unclaimed atomic.Uint64
	panics    atomic.Uint64
	hookPanic atomic.Uint64
	transient atomic.Uint64
}

// maxFramesPerDatagram bounds how many frames one datagram may finish.
const maxFramesPerDatagram = 64

// errHookMode is what pulls return once a hook owns delivery. It matches both
// ErrHookInstalled and ErrNoFrame.
var errHookMode = fmt.Errorf("%w: %w", ErrHookInstalled, ErrNoFrame)

// Dispatcher drains a socket on a background goroutine, runs each datagram
// through an ordered handler chain and delivers completed frames to a queue
// or a receive hook.
//
// Handlers and the hook are installed before Start. After Start the chain is
// read only by the receive goroutine. PullFrame may be called from any
// number of goroutines. Stop and Close must not be called from a handler or
// the hook, since Stop waits for the receive goroutine to return.
type Dispatcher struct {
	id   string
	opts Options

	mu       sync.Mutex
	state    State
	handlers []Handler
	hook     ReceiveHook
	hookArg  any
	mode     DeliveryMode
	cancel   context.CancelFunc
	socket   interfaces.Socket
	err      error
	closed   bool

	stopRequested atomic.Bool
	done          chan struct{}
	store         *frameStore
	stats         counters
}

// NewDispatcher creates a dispatcher with DefaultOptions.
func NewDispatcher() *Dispatcher {
	return NewDispatcherWithOptions(DefaultOptions())
}

// NewDispatcherWithOptions creates a dispatcher with custom options.
// Options are validated at Start.
func NewDispatcherWithOptions(opts Options) *Dispatcher {
	d := &Dispatcher{
		id:    uuid.New().String(),
		opts:  opts,
		done:  make(chan struct{}),
		store: newFrameStore(),
	}

	logrus.WithFields(logrus.Fields{
		"function":            "NewDispatcherWithOptions",
		"dispatcher_id":       d.id,
		"receive_buffer_size": opts.ReceiveBufferSize,
		"idle_backoff":        opts.IdleBackoff.String(),
	}).Debug("Created packet dispatcher")

	return d
}

// ID returns the dispatcher's unique identifier used in log fields.
func (d *Dispatcher) ID() string {
	return d.id
}

// InstallHandler appends h to the handler chain.
//
// Handlers are consulted in installation order and the first one that does
// not return StatusNotMine decides the datagram's fate.
func (d *Dispatcher) InstallHandler(h Handler) error {
	if h == nil {
		return fmt.Errorf("install handler: %w: nil handler", ErrInvalidValue)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.configurableLocked(); err != nil {
		return fmt.Errorf("install handler: %w", err)
	}
	d.handlers = append(d.handlers, h)

	logrus.WithFields(logrus.Fields{
		"function":      "InstallHandler",
		"dispatcher_id": d.id,
		"position":      len(d.handlers) - 1,
	}).Debug("Installed handler")

	return nil
}

// InstallReceiveHook routes completed frames to hook instead of the queue.
//
// Only one hook exists; a later call replaces the earlier one. Once a hook is
// installed PullFrame fails fast with ErrHookInstalled.
func (d *Dispatcher) InstallReceiveHook(arg any, hook ReceiveHook) error {
	if hook == nil {
		return fmt.Errorf("install receive hook: %w: nil hook", ErrInvalidValue)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.configurableLocked(); err != nil {
		return fmt.Errorf("install receive hook: %w", err)
	}
	replaced := d.hook != nil
	d.hook = hook
	d.hookArg = arg
	d.store.fail(errHookMode)

	logrus.WithFields(logrus.Fields{
		"function":      "InstallReceiveHook",
		"dispatcher_id": d.id,
		"replaced":      replaced,
	}).Debug("Installed receive hook")

	return nil
}

func (d *Dispatcher) configurableLocked() error {
	switch {
	case d.closed:
		return ErrClosed
	case d.state == StateStopped:
		return ErrDispatcherStopped
	case d.state != StateCreated:
		return ErrAlreadyStarted
	}
	return nil
}

// GetHandlers returns a copy of the handler chain in installation order.
func (d *Dispatcher) GetHandlers() []Handler {
	d.mu.Lock()
	defer d.mu.Unlock()

	handlers := make([]Handler, len(d.handlers))
	copy(handlers, d.handlers)
	return handlers
}

// Start spawns the receive loop on socket.
//
// flags are passed unchanged to every Receive call. The delivery mode is
// fixed here: hook delivery if a hook is installed, queue delivery otherwise.
//
// Parameters:
//   - socket: the datagram source; the dispatcher does not close it
//   - flags: receive flags forwarded to the socket
//
// Returns:
//   - error: ErrInvalidValue for a nil socket, ErrAlreadyStarted or
//     ErrDispatcherStopped for a wrong state, ErrMemory when the receive
//     buffer cannot be allocated
func (d *Dispatcher) Start(socket interfaces.Socket, flags interfaces.Flags) error {
	if socket == nil {
		return fmt.Errorf("start dispatcher: %w: nil socket", ErrInvalidValue)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.configurableLocked(); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}
	if err := d.opts.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":      "Start",
			"dispatcher_id": d.id,
			"error":         err.Error(),
		}).Error("Cannot allocate receive loop resources")
		return fmt.Errorf("start dispatcher: %w", err)
	}

	buf := make([]byte, d.opts.ReceiveBufferSize)
	handlers := make([]Handler, len(d.handlers))
	copy(handlers, d.handlers)

	d.mode = DeliveryQueue
	if d.hook != nil {
		d.mode = DeliveryHook
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.socket = socket
	d.state = StateStarted

	logrus.WithFields(logrus.Fields{
		"function":      "Start",
		"dispatcher_id": d.id,
		"local_addr":    addrString(socket.LocalAddr()),
		"flags":         flags.String(),
		"handlers":      len(handlers),
		"delivery_mode": d.mode.String(),
	}).Info("Starting packet dispatcher")

	go d.run(ctx, socket, flags, handlers, buf, d.mode, d.hook, d.hookArg)

	return nil
}

// Stop asks the receive loop to exit and waits until it has.
//
// Stop is idempotent and returns nil on a dispatcher that was never started
// or has already stopped. Frames already queued stay available to PullFrame.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	switch d.state {
	case StateCreated, StateStopped:
		d.mu.Unlock()
		return nil
	case StateStarted:
		d.state = StateStopping
		d.stopRequested.Store(true)
		d.cancel()
		kickReceive(d.socket)

		logrus.WithFields(logrus.Fields{
			"function":      "Stop",
			"dispatcher_id": d.id,
		}).Info("Stopping packet dispatcher")
	}
	done := d.done
	d.mu.Unlock()

	<-done
	return nil
}

// kickReceive wakes a blocked Receive by moving its read deadline to now.
func kickReceive(socket interfaces.Socket) {
	rd, ok := socket.(interfaces.ReadDeadliner)
	if !ok {
		return
	}
	if err := rd.SetReadDeadline(time.Now()); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "kickReceive",
			"error":    err.Error(),
		}).Debug("Failed to set read deadline")
	}
}

// Close releases queued frames and fails current and future pulls with
// ErrClosed. It returns ErrStillRunning while the receive loop runs.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateStarted || d.state == StateStopping {
		logrus.WithFields(logrus.Fields{
			"function":      "Close",
			"dispatcher_id": d.id,
			"state":         d.state.String(),
		}).Error("Dispatcher closed while its receive loop is running")
		return ErrStillRunning
	}
	if d.closed {
		return nil
	}
	d.closed = true

	released := d.store.drain()
	d.store.fail(ErrClosed)

	logrus.WithFields(logrus.Fields{
		"function":        "Close",
		"dispatcher_id":   d.id,
		"frames_released": released,
	}).Info("Closed packet dispatcher")

	return nil
}

// State returns the current lifecycle state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// DeliveryMode returns where completed frames go. Before Start it reports
// the mode Start would lock in.
func (d *Dispatcher) DeliveryMode() DeliveryMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deliveryModeLocked()
}

func (d *Dispatcher) deliveryModeLocked() DeliveryMode {
	if d.state == StateCreated {
		if d.hook != nil {
			return DeliveryHook
		}
		return DeliveryQueue
	}
	return d.mode
}

// Done returns a channel closed when the receive loop exits, whether through
// Stop or a fatal socket error.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Err returns the socket error that terminated the receive loop, or nil.
func (d *Dispatcher) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// FramesPending returns the number of queued frames.
func (d *Dispatcher) FramesPending() int {
	return d.store.Len()
}

// GetStatistics returns a snapshot of the receive counters.
func (d *Dispatcher) GetStatistics() Statistics {
	return Statistics{
		DatagramsReceived:  d.stats.received.Load(),
		FramesCompleted:    d.stats.completed.Load(),
		DatagramsBuffered:  d.stats.buffered.Load(),
		DatagramsMalformed: d.stats.malformed.Load(),
		DatagramsUnclaimed: d.stats.unclaimed.Load(),
		HandlerPanics:      d.stats.panics.Load(),
		HookPanics:         d.stats.hookPanic.Load(),
		TransientErrors:    d.stats.transient.Load(),
	}
}

// PullFrame blocks until a frame is available and removes it from the queue.
func (d *Dispatcher) PullFrame() (*Frame, error) {
	return d.store.pop(context.Background(), nil)
}

// PullFrameTimeout waits at most timeout for a frame. It returns ErrNoFrame
// when the timeout expires first. A non-positive timeout only checks the queue.
func (d *Dispatcher) PullFrameTimeout(timeout time.Duration) (*Frame, error) {
	if timeout < 0 {
		timeout = 0
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	return d.store.pop(context.Background(), timer.C)
}

// PullFrameContext waits for a frame until ctx is done.
func (d *Dispatcher) PullFrameContext(ctx context.Context) (*Frame, error) {
	if ctx == nil {
		return nil, fmt.Errorf("pull frame: %w: nil context", ErrInvalidValue)
	}
	return d.store.pop(ctx, nil)
}

// ReturnFrame hands a completed frame to its consumer: the receive hook in
// hook mode, the queue otherwise. The hook runs on the calling goroutine.
func (d *Dispatcher) ReturnFrame(f *Frame) {
	if f == nil {
		return
	}
	d.mu.Lock()
	mode, hook, arg := d.deliveryModeLocked(), d.hook, d.hookArg
	d.mu.Unlock()

	d.deliver(f, mode, hook, arg)
}

func (d *Dispatcher) deliver(f *Frame, mode DeliveryMode, hook ReceiveHook, arg any) {
	switch mode {
	case DeliveryHook:
		d.callHook(hook, arg, f)
	default:
		d.store.push(f)
	}
}

func (d *Dispatcher) callHook(hook ReceiveHook, arg any, f *Frame) {
	defer func() {
		if r := recover(); r != nil {
			d.stats.hookPanic.Add(1)
			logrus.WithFields(logrus.Fields{
				"function":      "callHook",
				"dispatcher_id": d.id,
				"panic":         fmt.Sprint(r),
			}).Warn("Receive hook panicked, frame discarded")
		}
	}()
	hook(arg, f)
}

// run is the receive loop. It owns buf and the handler snapshot.
func (d *Dispatcher) run(ctx context.Context, socket interfaces.Socket, flags interfaces.Flags,
	handlers []Handler, buf []byte, mode DeliveryMode, hook ReceiveHook, hookArg any,
) {
	var loopErr error
	defer func() { d.finish(loopErr) }()

	var backoff *time.Timer
	defer func() {
		if backoff != nil {
			backoff.Stop()
		}
	}()

	for {
		if d.stopRequested.Load() {
			return
		}

		n, addr, err := socket.Receive(buf, flags)
		if err != nil {
			if interfaces.IsTransient(err) {
				d.stats.transient.Add(1)
				if flags.Has(interfaces.FlagNonBlocking) && d.opts.IdleBackoff > 0 {
					if backoff == nil {
						backoff = time.NewTimer(d.opts.IdleBackoff)
					} else {
						backoff.Reset(d.opts.IdleBackoff)
					}
					select {
					case <-ctx.Done():
						return
					case <-backoff.C:
					}
				}
				continue
			}
			if d.stopRequested.Load() {
				return
			}
			loopErr = err
			return
		}
		if n <= 0 {
			continue
		}

		d.stats.received.Add(1)
		d.dispatch(buf[:n], addr, flags, handlers, mode, hook, hookArg)
	}
}

// finish marks the loop as exited and releases Stop and Done waiters.
func (d *Dispatcher) finish(loopErr error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	fields := logrus.Fields{
		"function":      "run",
		"dispatcher_id": d.id,
	}
	if loopErr != nil && !errors.Is(loopErr, context.Canceled) {
		d.err = loopErr
		fields["error"] = loopErr.Error()
		logrus.WithFields(fields).Error("Receive loop terminated by socket error")
	} else {
		logrus.WithFields(fields).Info("Receive loop exited")
	}

	d.stopRequested.Store(true)
	if d.cancel != nil {
		d.cancel()
	}
	d.state = StateStopped
	close(d.done)
}

// dispatch walks the handler chain for one datagram.
func (d *Dispatcher) dispatch(datagram []byte, addr net.Addr, flags interfaces.Flags,
	handlers []Handler, mode DeliveryMode, hook ReceiveHook, hookArg any,
) {
	for i, h := range handlers {
		frame, status := d.callHandler(i, h, datagram, flags)
		switch status {
		case StatusNotMine:
			continue
		case StatusComplete:
			d.stats.completed.Add(1)
			d.stampFrame(frame, addr)
			d.deliver(frame, mode, hook, hookArg)
			if mh, ok := h.(MultiFrameHandler); ok {
				d.drainHandler(i, mh, addr, mode, hook, hookArg)
			}
		case StatusBuffered:
			d.stats.buffered.Add(1)
		default:
			d.stats.malformed.Add(1)
			logrus.WithFields(logrus.Fields{
				"function":      "dispatch",
				"dispatcher_id": d.id,
				"handler":       i,
				"size":          len(datagram),
			}).Debug("Dropped malformed datagram")
		}
		return
	}

	d.stats.unclaimed.Add(1)
	logrus.WithFields(logrus.Fields{
		"function":      "dispatch",
		"dispatcher_id": d.id,
		"size":          len(datagram),
	}).Debug("No handler claimed datagram")
}

// callHandler runs one handler, turning panics, nil complete frames and
// unknown statuses into StatusMalformed.
func (d *Dispatcher) callHandler(index int, h Handler, datagram []byte, flags interfaces.Flags) (frame *Frame, status Status) {
	defer func() {
		if r := recover(); r != nil {
			d.stats.panics.Add(1)
			logrus.WithFields(logrus.Fields{
				"function":      "callHandler",
				"dispatcher_id": d.id,
				"handler":       index,
				"panic":         fmt.Sprint(r),
			}).Warn("Handler panicked, datagram dropped")
			frame, status = nil, StatusMalformed
		}
	}()

	frame, status = h.Handle(datagram, flags)
	switch status {
	case StatusNotMine, StatusBuffered, StatusMalformed:
		return nil, status
	case StatusComplete:
		if frame == nil {
			return nil, StatusMalformed
		}
		return frame, status
	default:
		return nil, StatusMalformed
	}
}

// drainHandler delivers the further frames a handler finished with the
// datagram it just completed.
func (d *Dispatcher) drainHandler(index int, h MultiFrameHandler, addr net.Addr,
	mode DeliveryMode, hook ReceiveHook, hookArg any,
) {
	for n := 1; n < maxFramesPerDatagram; n++ {
		frame := d.callNextFrame(index, h)
		if frame == nil {
			return
		}
		d.stats.completed.Add(1)
		d.stampFrame(frame, addr)
		d.deliver(frame, mode, hook, hookArg)
	}
	logrus.WithFields(logrus.Fields{
		"function":      "drainHandler",
		"dispatcher_id": d.id,
		"handler":       index,
		"limit":         maxFramesPerDatagram,
	}).Warn("Handler frame limit reached for one datagram")
}

func (d *Dispatcher) callNextFrame(index int, h MultiFrameHandler) (frame *Frame) {
	defer func() {
		if r := recover(); r != nil {
			d.stats.panics.Add(1)
			logrus.WithFields(logrus.Fields{
				"function":      "callNextFrame",
				"dispatcher_id": d.id,
				"handler":       index,
				"panic":         fmt.Sprint(r),
			}).Warn("Handler panicked returning queued frame")
			frame = nil
		}
	}()
	return h.NextFrame()
}

// stampFrame fills in the receive metadata a handler left unset.
func (d *Dispatcher) stampFrame(f *Frame, addr net.Addr) {
	if f.Source == nil {
		f.Source = addr
	}
	if f.ReceivedAt.IsZero() {
		f.ReceivedAt = time.Now()
	}
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
