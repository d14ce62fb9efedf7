package transport

// transport.go = endpoint contracts shared by the tcp and redis backends.
// a publish endpoint is bound once and fans messages out to subscribers;
// a subscribe endpoint is connected once and owned by a single goroutine.

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	ErrBindFailure    = errors.New("bind failure")
	ErrConnectFailure = errors.New("connect failure")
	ErrWouldBlock     = errors.New("send would block")
	ErrRecvTimeout    = errors.New("receive timed out")
	ErrClosed         = errors.New("endpoint closed")
	ErrInvalidFrame   = errors.New("invalid frame")
	ErrInvalidAddress = errors.New("invalid address")
)

// PubEndpoint is a bound publishing socket
type PubEndpoint interface {
	// Send never blocks; ErrWouldBlock means at least one subscriber missed the message
	Send(frames [][]byte) error
	// Close is idempotent
	Close() error
}

// SubEndpoint is a connected subscribing socket
type SubEndpoint interface {
	Subscribe(prefix string) error
	Unsubscribe(prefix string) error
	// Recv waits at most timeout for one message; ErrRecvTimeout is not a failure
	Recv(timeout time.Duration) ([][]byte, error)
	// Close is idempotent
	Close() error
}

// PeerCounter is implemented by endpoints that know how many subscribers are attached
type PeerCounter interface {
	Peers() int
}

// Addresser is implemented by endpoints listening on a network address
type Addresser interface {
	Addr() net.Addr
}

// ParseAddress normalises "tcp://host:port", "*:port" and "host:port" into a
// host:port pair usable by net.Listen
func ParseAddress(address string) (string, error) {
	addr := strings.TrimSpace(address)
	addr = strings.TrimPrefix(addr, "tcp://")

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidAddress, address, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return "", fmt.Errorf("%w: %q: port must be 0-65535", ErrInvalidAddress, address)
	}
	if host == "*" {
		host = ""
	}
	return net.JoinHostPort(host, port), nil
}

// dialAddress is ParseAddress with wildcard hosts pointed at loopback
func dialAddress(address string) (string, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return "", err
	}
	host, port, _ := net.SplitHostPort(addr)
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isClosedConn matches the errors a socket returns once it was closed locally or reset
func isClosedConn(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		strings.Contains(err.Error(), "closed network connection") ||
		strings.Contains(err.Error(), "connection reset") ||
		strings.Contains(err.Error(), "connection was aborted") ||
		strings.Contains(err.Error(), "forcibly closed")
}
