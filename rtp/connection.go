package rtp

import (
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/opd-ai/rtpdispatch/factory"
	"github.com/opd-ai/rtpdispatch/interfaces"
	"github.com/opd-ai/rtpdispatch/transport"
	"github.com/sirupsen/logrus"
)

var (
	defaultFactoryOnce sync.Once
	defaultFactory     *factory.SocketFactory
)

// DefaultSocketFactory returns the factory connections use unless one is set
// with SetSocketFactory. It reads the RTP_* environment once.
func DefaultSocketFactory() *factory.SocketFactory {
	defaultFactoryOnce.Do(func() {
		defaultFactory = factory.NewSocketFactory()
	})
	return defaultFactory
}

// flagApplier is implemented by sockets that apply flags at bind time,
// such as transport.UDPSocket.
type flagApplier interface {
	ApplyFlags(flags interfaces.Flags) error
}

// Connection is the state shared by Reader and Writer: an identifier, a
// local bind address, socket flags and the bound socket.
type Connection struct {
	id        string
	localHost string
	localPort int

	mu      sync.Mutex
	flags   interfaces.Flags
	factory *factory.SocketFactory
	socket  interfaces.Socket
	owned   bool
	closed  bool
}

func newConnection(localHost string, localPort int) *Connection {
	return &Connection{
		id:        uuid.New().String(),
		localHost: localHost,
		localPort: localPort,
	}
}

// ID returns the connection's unique identifier used in log fields.
func (c *Connection) ID() string {
	return c.id
}

// SetFlags sets the socket flags applied when the connection binds.
func (c *Connection) SetFlags(flags interfaces.Flags) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.socket != nil {
		return fmt.Errorf("set flags: %w", ErrAlreadyStarted)
	}
	c.flags = flags
	return nil
}

// Flags returns the connection's socket flags.
func (c *Connection) Flags() interfaces.Flags {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flags
}

// SetSocketFactory replaces the factory used to bind the socket.
func (c *Connection) SetSocketFactory(f *factory.SocketFactory) error {
	if f == nil {
		return fmt.Errorf("set socket factory: %w: nil factory", ErrInvalidValue)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.socket != nil {
		return fmt.Errorf("set socket factory: %w", ErrAlreadyStarted)
	}
	c.factory = f
	return nil
}

// Socket returns the bound socket, or nil before Start.
func (c *Connection) Socket() interfaces.Socket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socket
}

// LocalAddr returns the bound local address, or nil before Start.
func (c *Connection) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.socket == nil {
		return nil
	}
	return c.socket.LocalAddr()
}

// bind creates the socket through the socket factory. Port 0 binds an
// ephemeral port.
func (c *Connection) bind() (interfaces.Socket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("bind: %w", interfaces.ErrSocketClosed)
	}
	if c.socket != nil {
		return nil, fmt.Errorf("bind: %w", ErrAlreadyStarted)
	}

	localAddr, err := transport.JoinHostPort(c.localHost, c.localPort)
	if err != nil {
		return nil, fmt.Errorf("bind: %w: %w", ErrInvalidValue, err)
	}

	f := c.factory
	if f == nil {
		f = DefaultSocketFactory()
	}
	sock, err := f.CreateSocket(localAddr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":      "bind",
			"connection_id": c.id,
			"local_addr":    localAddr,
			"error":         err.Error(),
		}).Error("Failed to bind socket")
		return nil, fmt.Errorf("bind %s: %w", localAddr, err)
	}

	if err := c.attachLocked(sock, true); err != nil {
		sock.Close()
		return nil, err
	}
	return sock, nil
}

// attach adopts a caller-provided socket. The connection does not close it.
func (c *Connection) attach(sock interfaces.Socket) error {
	if sock == nil {
		return fmt.Errorf("attach: %w: nil socket", ErrInvalidValue)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("attach: %w", interfaces.ErrSocketClosed)
	}
	if c.socket != nil {
		return fmt.Errorf("attach: %w", ErrAlreadyStarted)
	}
	return c.attachLocked(sock, false)
}

func (c *Connection) attachLocked(sock interfaces.Socket, owned bool) error {
	if fa, ok := sock.(flagApplier); ok {
		if err := fa.ApplyFlags(c.flags); err != nil {
			return fmt.Errorf("apply flags %s: %w", c.flags, err)
		}
	}
	c.socket = sock
	c.owned = owned

	logrus.WithFields(logrus.Fields{
		"function":      "attach",
		"connection_id": c.id,
		"local_addr":    addrString(sock.LocalAddr()),
		"flags":         c.flags.String(),
		"owned":         owned,
	}).Info("Connection bound")

	return nil
}

// close releases the socket if the connection created it. Idempotent.
func (c *Connection) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.socket == nil || !c.owned {
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"function":      "close",
		"connection_id": c.id,
	}).Info("Closing connection socket")

	return c.socket.Close()
}
