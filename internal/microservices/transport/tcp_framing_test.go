package transport

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawPublisher accepts one TCPSubscriber and hands back the server side of the
// connection so a test can write arbitrary bytes to it
func rawPublisher(t *testing.T) (*TCPSubscriber, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	sub, err := DialTCP(context.Background(), ln.Addr().String(), TCPOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })

	select {
	case conn := <-accepted:
		t.Cleanup(func() { conn.Close() })
		return sub, conn
	case <-time.After(2 * time.Second):
		t.Fatal("listener never accepted the subscriber")
		return nil, nil
	}
}

func writeAsync(conn net.Conn, data string) {
	go conn.Write([]byte(data))
}

// recvMessage skips timeouts and returns the next message or framing error
func recvMessage(t *testing.T, sub *TCPSubscriber) ([][]byte, error) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		frames, err := sub.Recv(50 * time.Millisecond)
		if errors.Is(err, ErrRecvTimeout) {
			continue
		}
		return frames, err
	}
	t.Fatal("no message within 3s")
	return nil, nil
}

func TestTCPRecv_OversizedLineIsDroppedAndReadingContinues(t *testing.T) {
	sub, conn := rawPublisher(t)
	writeAsync(conn, "actual1 "+strings.Repeat("9", 70*1024)+"\n"+"actual3 1.234500\n")

	_, err := recvMessage(t, sub)
	require.ErrorIs(t, err, ErrInvalidFrame)

	frames, err := recvMessage(t, sub)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("actual3 1.234500")}, frames)
}

func TestTCPRecv_UnterminatedStreamStaysBounded(t *testing.T) {
	sub, conn := rawPublisher(t)
	writeAsync(conn, strings.Repeat("x", 256*1024))

	_, err := recvMessage(t, sub)
	require.ErrorIs(t, err, ErrInvalidFrame)

	// the rest of the line is skipped, never buffered
	for i := 0; i < 5; i++ {
		_, err := sub.Recv(20 * time.Millisecond)
		assert.ErrorIs(t, err, ErrRecvTimeout)
		assert.LessOrEqual(t, len(sub.pending), MaxFrameSize+2)
	}

	writeAsync(conn, "\n.actual2 0.500000\n")
	frames, err := recvMessage(t, sub)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("actual2 0.500000")}, frames)
}

func TestTCPRecv_TooManyFramesSkipsWholeMessage(t *testing.T) {
	sub, conn := rawPublisher(t)
	var b strings.Builder
	for i := 0; i < maxFramesPerMessage+2; i++ {
		b.WriteString("+part\n")
	}
	b.WriteString(".end\n")
	b.WriteString("+actual_4\n.0.250000\n")
	writeAsync(conn, b.String())

	_, err := recvMessage(t, sub)
	require.ErrorIs(t, err, ErrInvalidFrame)

	frames, err := recvMessage(t, sub)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("actual_4"), []byte("0.250000")}, frames)
}

func TestTCPRecv_MaxFramesIsAccepted(t *testing.T) {
	sub, conn := rawPublisher(t)
	var b strings.Builder
	for i := 0; i < maxFramesPerMessage-1; i++ {
		b.WriteString("+f\n")
	}
	b.WriteString(".f\n")
	writeAsync(conn, b.String())

	frames, err := recvMessage(t, sub)
	require.NoError(t, err)
	assert.Len(t, frames, maxFramesPerMessage)
}

func TestTCPPublisher_OversizedControlLineKeepsPeer(t *testing.T) {
	pub := bindLoopback(t, TCPOptions{})
	conn, err := net.Dial("tcp", pub.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("SUB " + strings.Repeat("a", 100*1024) + "\nSUB actual\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return pub.SubscriptionCount() == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, pub.Peers())
}
