package testing

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/rtpdispatch/interfaces"
	"github.com/sirupsen/logrus"
)

// inboundQueueSize is the number of datagrams a simulated socket holds before
// further deliveries are dropped, mirroring a full kernel receive queue.
const inboundQueueSize = 1024

// SimulatedAddr is the net.Addr of a simulated socket.
type SimulatedAddr struct {
	Name string
}

// Network implements net.Addr.
func (a SimulatedAddr) Network() string { return "sim" }

// String implements net.Addr.
func (a SimulatedAddr) String() string { return a.Name }

type datagram struct {
	data []byte
	from net.Addr
}

// SendRecord represents a datagram written through a simulated socket for test verification
type SendRecord struct {
	Data      []byte
	Addr      net.Addr
	Size      int
	Timestamp int64
	Delivered bool
	Error     error
}

// SimulatedSocket implements interfaces.Socket in memory.
// Datagrams arrive through Inject or from a connected peer's Send.
type SimulatedSocket struct {
	localAddr    net.Addr
	pollInterval time.Duration
	inbound      chan datagram
	kick         chan struct{}

	closeOnce sync.Once
	closed    chan struct{}

	failOnce sync.Once
	failed   chan struct{}

	mu        sync.RWMutex
	peer      *SimulatedSocket
	sendLog   []SendRecord
	sendErr   error
	recvErr   error
	lastFlags interfaces.Flags

	receiveCalls atomic.Int64
	dropped      atomic.Int64
}

// NewSimulatedSocket creates an unconnected simulated socket named name.
func NewSimulatedSocket(name string, config interfaces.SocketConfig) *SimulatedSocket {
	logrus.Warn("SIMULATION FUNCTION - NOT A REAL OPERATION")
	logrus.WithFields(logrus.Fields{
		"function":      "NewSimulatedSocket",
		"name":          name,
		"poll_interval": config.PollInterval().String(),
	}).Info("Creating simulated socket for testing")

	pollInterval := config.PollInterval()
	if pollInterval <= 0 {
		pollInterval = 10 * time.Millisecond
	}

	return &SimulatedSocket{
		localAddr:    SimulatedAddr{Name: name},
		pollInterval: pollInterval,
		inbound:      make(chan datagram, inboundQueueSize),
		kick:         make(chan struct{}, 1),
		closed:       make(chan struct{}),
		failed:       make(chan struct{}),
		sendLog:      make([]SendRecord, 0),
	}
}

// NewSimulatedPair creates two sockets where each one's Send to the other's
// address is delivered to the other's Receive.
func NewSimulatedPair(nameA, nameB string, config interfaces.SocketConfig) (*SimulatedSocket, *SimulatedSocket) {
	a := NewSimulatedSocket(nameA, config)
	b := NewSimulatedSocket(nameB, config)
	a.peer = b
	b.peer = a
	return a, b
}

// Inject queues a datagram as if it had arrived from the network.
// The data is copied; the caller may reuse its buffer.
func (s *SimulatedSocket) Inject(data []byte, from net.Addr) error {
	select {
	case <-s.closed:
		return interfaces.ErrSocketClosed
	default:
	}

	if from == nil {
		from = SimulatedAddr{Name: "injected"}
	}
	d := datagram{data: append([]byte(nil), data...), from: from}

	select {
	case s.inbound <- d:
		logrus.WithFields(logrus.Fields{
			"function": "SimulatedSocket.Inject",
			"socket":   s.localAddr.String(),
			"size":     len(data),
		}).Debug("Injected simulated datagram")
		return nil
	default:
		s.dropped.Add(1)
		return fmt.Errorf("simulated receive queue full (%d datagrams)", inboundQueueSize)
	}
}

// FailReceive makes the current and every later Receive return err.
// Use it to simulate a hard transport failure.
func (s *SimulatedSocket) FailReceive(err error) {
	s.mu.Lock()
	s.recvErr = err
	s.mu.Unlock()
	s.failOnce.Do(func() { close(s.failed) })
}

// FailSend makes every later Send return err. A nil err clears the failure.
func (s *SimulatedSocket) FailSend(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

// Receive implements interfaces.Socket. Without FlagNonBlocking it waits at most
// one poll interval for a datagram.
func (s *SimulatedSocket) Receive(buf []byte, flags interfaces.Flags) (int, net.Addr, error) {
	s.receiveCalls.Add(1)
	s.mu.Lock()
	s.lastFlags = flags
	recvErr := s.recvErr
	s.mu.Unlock()

	if recvErr != nil {
		return 0, nil, recvErr
	}
	select {
	case <-s.closed:
		return 0, nil, interfaces.ErrSocketClosed
	default:
	}

	if flags.Has(interfaces.FlagNonBlocking) {
		select {
		case d := <-s.inbound:
			return copy(buf, d.data), d.from, nil
		default:
			return 0, nil, interfaces.ErrWouldBlock
		}
	}

	timer := time.NewTimer(s.pollInterval)
	defer timer.Stop()

	select {
	case d := <-s.inbound:
		return copy(buf, d.data), d.from, nil
	case <-s.closed:
		return 0, nil, interfaces.ErrSocketClosed
	case <-s.failed:
		s.mu.RLock()
		defer s.mu.RUnlock()
		return 0, nil, s.recvErr
	case <-s.kick:
		return 0, nil, interfaces.ErrWouldBlock
	case <-timer.C:
		return 0, nil, interfaces.ErrWouldBlock
	}
}

// Send implements interfaces.Socket. Datagrams addressed to the connected peer
// are delivered to it; everything else is only recorded.
func (s *SimulatedSocket) Send(buf []byte, addr net.Addr) (int, error) {
	select {
	case <-s.closed:
		return 0, interfaces.ErrSocketClosed
	default:
	}
	if addr == nil {
		return 0, fmt.Errorf("send: destination address cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record := SendRecord{
		Data:      append([]byte(nil), buf...),
		Addr:      addr,
		Size:      len(buf),
		Timestamp: time.Now().UnixNano(),
		Error:     s.sendErr,
	}
	if s.sendErr != nil {
		s.sendLog = append(s.sendLog, record)
		return 0, s.sendErr
	}

	if s.peer != nil && addr.String() == s.peer.localAddr.String() {
		record.Delivered = s.peer.Inject(buf, s.localAddr) == nil
	} else {
		logrus.WithFields(logrus.Fields{
			"function": "SimulatedSocket.Send",
			"socket":   s.localAddr.String(),
			"dst_addr": addr.String(),
		}).Debug("No simulated peer at destination, datagram dropped")
	}
	s.sendLog = append(s.sendLog, record)

	return len(buf), nil
}

// SetReadDeadline interrupts a blocked Receive when t is not in the future.
func (s *SimulatedSocket) SetReadDeadline(t time.Time) error {
	if t.After(time.Now()) {
		return nil
	}
	select {
	case s.kick <- struct{}{}:
	default:
	}
	return nil
}

// LocalAddr implements interfaces.Socket.
func (s *SimulatedSocket) LocalAddr() net.Addr {
	return s.localAddr
}

// Close implements interfaces.Socket. Closing twice is a no-op.
func (s *SimulatedSocket) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		logrus.WithFields(logrus.Fields{
			"function": "SimulatedSocket.Close",
			"socket":   s.localAddr.String(),
		}).Info("Simulated socket closed")
	})
	return nil
}

// LastFlags returns the flags passed to the most recent Receive call.
func (s *SimulatedSocket) LastFlags() interfaces.Flags {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastFlags
}

// ReceiveCalls returns how many times Receive has been called.
func (s *SimulatedSocket) ReceiveCalls() int64 {
	return s.receiveCalls.Load()
}

// Pending returns the number of queued, unread datagrams.
func (s *SimulatedSocket) Pending() int {
	return len(s.inbound)
}

// GetSendLog returns the complete send log for test verification
func (s *SimulatedSocket) GetSendLog() []SendRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Return a copy to prevent external modifications
	log := make([]SendRecord, len(s.sendLog))
	copy(log, s.sendLog)
	return log
}

// PollInterval returns how long a blocking Receive waits before reporting would-block.
func (s *SimulatedSocket) PollInterval() time.Duration {
	return s.pollInterval
}

// ClearSendLog clears the send log for test cleanup
func (s *SimulatedSocket) ClearSendLog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendLog = make([]SendRecord, 0)
}

// GetStats returns statistics about the simulation
func (s *SimulatedSocket) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	delivered := 0
	failed := 0
	for _, record := range s.sendLog {
		if record.Error != nil {
			failed++
		} else if record.Delivered {
			delivered++
		}
	}

	return map[string]interface{}{
		"total_sends":       len(s.sendLog),
		"delivered_sends":   delivered,
		"failed_sends":      failed,
		"pending_datagrams": len(s.inbound),
		"dropped_datagrams": s.dropped.Load(),
		"receive_calls":     s.receiveCalls.Load(),
		"poll_interval_ms":  int(s.pollInterval / time.Millisecond),
		"is_simulation":     true,
	}
}
