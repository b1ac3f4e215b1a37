package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// ErrInvalidPort indicates a port outside the UDP range.
var ErrInvalidPort = errors.New("invalid port")

// JoinHostPort builds a "host:port" string after validating the port.
// Port 0 is accepted and asks the OS for an ephemeral port.
func JoinHostPort(host string, port int) (string, error) {
	if port < 0 || port > 65535 {
		return "", fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// ResolveUDPAddr resolves a destination host and port into a concrete UDP address.
// Destinations need a non-zero port.
func ResolveUDPAddr(host string, port int) (*net.UDPAddr, error) {
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	if host == "" {
		return nil, fmt.Errorf("destination host cannot be empty")
	}

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s:%d: %w", host, port, err)
	}
	return addr, nil
}
