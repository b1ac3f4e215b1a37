package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/opd-ai/rtpdispatch/interfaces"
	"github.com/opd-ai/rtpdispatch/limits"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// dscpExpeditedForwarding is the EF code point (46) shifted into the TOS byte.
const dscpExpeditedForwarding = 46 << 2

// UDPSocket implements interfaces.Socket over a bound UDP socket.
type UDPSocket struct {
	conn   *net.UDPConn
	config interfaces.SocketConfig

	flagsMu sync.Mutex
	applied interfaces.Flags

	closed atomic.Bool
}

// ListenUDP binds a UDP socket on localAddr ("host:port", port 0 for ephemeral).
func ListenUDP(localAddr string, config interfaces.SocketConfig) (*UDPSocket, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid socket config: %w", err)
	}

	addr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "ListenUDP",
			"local_addr": localAddr,
			"error":      err.Error(),
		}).Error("Failed to resolve local address")
		return nil, fmt.Errorf("failed to resolve %q: %w", localAddr, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "ListenUDP",
			"local_addr": localAddr,
			"error":      err.Error(),
		}).Error("Failed to bind UDP socket")
		return nil, fmt.Errorf("failed to bind %q: %w", localAddr, err)
	}

	if config.ReadBufferSize > 0 {
		if err := conn.SetReadBuffer(config.ReadBufferSize); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set read buffer: %w", err)
		}
	}
	if config.WriteBufferSize > 0 {
		if err := conn.SetWriteBuffer(config.WriteBufferSize); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set write buffer: %w", err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":      "ListenUDP",
		"local_addr":    conn.LocalAddr().String(),
		"poll_interval": config.PollInterval().String(),
	}).Debug("UDP socket bound")

	return &UDPSocket{
		conn:   conn,
		config: config,
	}, nil
}

// Receive reads a single datagram. Without FlagNonBlocking the read waits at most
// one poll interval; with it the read returns immediately.
func (s *UDPSocket) Receive(buf []byte, flags interfaces.Flags) (int, net.Addr, error) {
	if s.closed.Load() {
		return 0, nil, interfaces.ErrSocketClosed
	}
	if err := s.ApplyFlags(flags); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "UDPSocket.Receive",
			"flags":    flags.String(),
			"error":    err.Error(),
		}).Warn("Failed to apply socket flags")
	}

	deadline := time.Now()
	if !flags.Has(interfaces.FlagNonBlocking) {
		deadline = deadline.Add(s.config.PollInterval())
	}
	_ = s.conn.SetReadDeadline(deadline)

	n, addr, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		return n, nil, translateError("receive", err)
	}
	return n, addr, nil
}

// Send writes buf as one datagram to addr.
func (s *UDPSocket) Send(buf []byte, addr net.Addr) (int, error) {
	if s.closed.Load() {
		return 0, interfaces.ErrSocketClosed
	}
	if addr == nil {
		return 0, fmt.Errorf("send: destination address cannot be nil")
	}
	if err := limits.ValidateDatagram(buf); err != nil {
		if errors.Is(err, limits.ErrDatagramTooLarge) {
			return 0, fmt.Errorf("send: %w: %w", interfaces.ErrMessageTooLong, err)
		}
		return 0, fmt.Errorf("send: %w", err)
	}

	n, err := s.conn.WriteTo(buf, addr)
	if err != nil {
		return n, translateError("send", err)
	}
	return n, nil
}

// SetReadDeadline moves the read deadline, interrupting a blocked Receive when t is in the past.
func (s *UDPSocket) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// ApplyFlags applies the socket-level knobs in flags. Each bit is applied once.
func (s *UDPSocket) ApplyFlags(flags interfaces.Flags) error {
	s.flagsMu.Lock()
	defer s.flagsMu.Unlock()

	pending := flags &^ s.applied
	if pending&(interfaces.FlagLargeReceiveBuffer|interfaces.FlagExpeditedForwarding) == 0 {
		s.applied |= pending
		return nil
	}

	if pending.Has(interfaces.FlagLargeReceiveBuffer) {
		if err := s.conn.SetReadBuffer(limits.LargeSocketBuffer); err != nil {
			return fmt.Errorf("failed to enlarge receive buffer: %w", err)
		}
	}
	if pending.Has(interfaces.FlagExpeditedForwarding) {
		if err := s.setDSCP(dscpExpeditedForwarding); err != nil {
			return fmt.Errorf("failed to set DSCP: %w", err)
		}
	}
	s.applied |= pending

	logrus.WithFields(logrus.Fields{
		"function":   "UDPSocket.ApplyFlags",
		"local_addr": s.conn.LocalAddr().String(),
		"flags":      s.applied.String(),
	}).Debug("Applied socket flags")

	return nil
}

// setDSCP sets the TOS byte (IPv4) or traffic class (IPv6) for outgoing datagrams.
func (s *UDPSocket) setDSCP(tos int) error {
	local, _ := s.conn.LocalAddr().(*net.UDPAddr)
	if local != nil && local.IP.To4() == nil && !local.IP.IsUnspecified() {
		return ipv6.NewPacketConn(s.conn).SetTrafficClass(tos)
	}
	return ipv4.NewPacketConn(s.conn).SetTOS(tos)
}

// LocalAddr returns the local address the socket is bound to.
func (s *UDPSocket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Close shuts down the socket. Closing twice is a no-op.
func (s *UDPSocket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.conn.Close()
}

// translateError maps socket errors onto the interfaces error taxonomy while
// keeping the original error in the chain.
func translateError(op string, err error) error {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%s: %w: %w", op, interfaces.ErrWouldBlock, err)
	case errors.Is(err, net.ErrClosed):
		return fmt.Errorf("%s: %w: %w", op, interfaces.ErrSocketClosed, err)
	case errors.Is(err, syscall.EMSGSIZE):
		return fmt.Errorf("%s: %w: %w", op, interfaces.ErrMessageTooLong, err)
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return fmt.Errorf("%s: %w: %w", op, interfaces.ErrUnreachable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
