package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

// TCPSubscriber is the connecting side of the tcp transport. Recv and the
// subscription calls are meant to be used from one goroutine.
type TCPSubscriber struct {
	conn   net.Conn
	reader *bufio.Reader
	logger *slog.Logger
	addr   string

	writeMu     sync.Mutex // serialises control lines
	pending     []byte     // partial line carried over a read timeout
	frames      [][]byte   // frames of a message still being assembled
	discarding  bool       // inside an oversized line, skipping to its newline
	skipMessage bool       // inside a message with too many frames, skipping to its last frame

	closeOnce sync.Once
	closeErr  error
}

// DialTCP connects to a TCPPublisher. Nothing is subscribed yet, so nothing is
// delivered until Subscribe is called.
func DialTCP(ctx context.Context, address string, opts TCPOptions) (*TCPSubscriber, error) {
	opts = opts.withDefaults()

	hostPort, err := dialAddress(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectFailure, err)
	}

	dialer := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnectFailure, address, err)
	}

	opts.Logger.Debug("subscriber_connected", "address", hostPort, "local_addr", conn.LocalAddr().String())
	return &TCPSubscriber{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, 16*1024),
		logger: opts.Logger,
		addr:   hostPort,
	}, nil
}

func (s *TCPSubscriber) Subscribe(prefix string) error {
	return s.control(cmdSubscribe, prefix)
}

func (s *TCPSubscriber) Unsubscribe(prefix string) error {
	return s.control(cmdUnsubscribe, prefix)
}

func (s *TCPSubscriber) control(cmd, prefix string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := s.conn.Write(controlLine(cmd, prefix)); err != nil {
		if isClosedConn(err) {
			return fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return fmt.Errorf("failed to send %s %q: %w", cmd, prefix, err)
	}
	return nil
}

// Recv returns the next complete message. When timeout elapses first it
// returns ErrRecvTimeout and keeps any partial data for the next call.
//
// A line longer than MaxFrameSize, or a message of more than
// maxFramesPerMessage frames, is thrown away and reported as ErrInvalidFrame.
// That error concerns one message only; the connection stays usable and the
// next call resumes at the following message.
func (s *TCPSubscriber) Recv(timeout time.Duration) ([][]byte, error) {
	if timeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		s.conn.SetReadDeadline(time.Time{})
	}

	for {
		chunk, err := s.reader.ReadSlice('\n')
		complete := err == nil
		if len(chunk) > 0 {
			switch {
			case s.discarding:
				if complete {
					s.discarding = false
				}
				if err == nil || errors.Is(err, bufio.ErrBufferFull) {
					continue
				}
			case len(s.pending)+len(chunk) > MaxFrameSize+2:
				size := len(s.pending) + len(chunk)
				s.pending = nil
				s.frames = nil
				s.discarding = !complete
				return nil, fmt.Errorf("%w: line over %d bytes (%d read)", ErrInvalidFrame, MaxFrameSize, size)
			default:
				// ReadSlice reuses its buffer, so the bytes are copied out here
				s.pending = append(s.pending, chunk...)
			}
		}
		if err != nil {
			if errors.Is(err, bufio.ErrBufferFull) {
				continue
			}
			if isTimeout(err) {
				return nil, ErrRecvTimeout
			}
			if errors.Is(err, io.EOF) || isClosedConn(err) {
				return nil, fmt.Errorf("%w: %v", ErrClosed, err)
			}
			return nil, fmt.Errorf("receive from %s: %w", s.addr, err)
		}

		line := s.pending
		s.pending = nil
		payload, more := parseFrameLine(line)

		if s.skipMessage {
			s.skipMessage = more
			continue
		}

		s.frames = append(s.frames, payload)
		if !more {
			frames := s.frames
			s.frames = nil
			return frames, nil
		}
		if len(s.frames) >= maxFramesPerMessage {
			s.frames = nil
			s.skipMessage = true
			return nil, fmt.Errorf("%w: more than %d frames", ErrInvalidFrame, maxFramesPerMessage)
		}
	}
}

// Close is idempotent
func (s *TCPSubscriber) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
		s.logger.Debug("subscriber_disconnected", "address", s.addr)
	})
	return s.closeErr
}
