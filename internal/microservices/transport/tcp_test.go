package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bindLoopback(t testing.TB, opts TCPOptions) *TCPPublisher {
	t.Helper()
	pub, err := BindTCP("127.0.0.1:0", opts)
	require.NoError(t, err)
	t.Cleanup(func() { pub.Close() })
	return pub
}

func dialSubscribed(t testing.TB, pub *TCPPublisher, prefixes ...string) *TCPSubscriber {
	t.Helper()
	before := pub.SubscriptionCount()
	sub, err := DialTCP(context.Background(), pub.Addr().String(), TCPOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })

	for _, p := range prefixes {
		require.NoError(t, sub.Subscribe(p))
	}
	require.Eventually(t, func() bool {
		return pub.SubscriptionCount() == before+len(prefixes)
	}, 2*time.Second, 5*time.Millisecond, "subscriptions never reached the publisher")
	return sub
}

func TestTCP_SendRecv(t *testing.T) {
	pub := bindLoopback(t, TCPOptions{})
	sub := dialSubscribed(t, pub, "actual")

	require.NoError(t, pub.Send([][]byte{[]byte("actual3"), []byte("1.234500")}))
	require.NoError(t, pub.Send([][]byte{[]byte("actual4 0.500000")}))

	frames, err := sub.Recv(time.Second)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("actual3"), []byte("1.234500")}, frames)

	frames, err = sub.Recv(time.Second)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("actual4 0.500000")}, frames)
}

func TestTCP_PrefixFiltering(t *testing.T) {
	pub := bindLoopback(t, TCPOptions{})
	physical := dialSubscribed(t, pub, "actual")
	digital := dialSubscribed(t, pub, "desired")

	require.NoError(t, pub.Send([][]byte{[]byte("actual_1"), []byte("0.100000")}))

	frames, err := physical.Recv(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "actual_1", string(frames[0]))

	_, err = digital.Recv(100 * time.Millisecond)
	assert.ErrorIs(t, err, ErrRecvTimeout)
}

func TestTCP_EmptyPrefixReceivesEverything(t *testing.T) {
	pub := bindLoopback(t, TCPOptions{})
	sub := dialSubscribed(t, pub, "")

	require.NoError(t, pub.Send([][]byte{[]byte("anything0 1.000000")}))
	frames, err := sub.Recv(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "anything0 1.000000", string(frames[0]))
}

func TestTCP_Unsubscribe(t *testing.T) {
	pub := bindLoopback(t, TCPOptions{})
	sub := dialSubscribed(t, pub, "actual")

	require.NoError(t, sub.Unsubscribe("actual"))
	require.Eventually(t, func() bool { return pub.SubscriptionCount() == 0 },
		2*time.Second, 5*time.Millisecond)

	require.NoError(t, pub.Send([][]byte{[]byte("actual0 1.000000")}))
	_, err := sub.Recv(100 * time.Millisecond)
	assert.ErrorIs(t, err, ErrRecvTimeout)
}

func TestTCP_RecvTimeoutIsNotTerminal(t *testing.T) {
	pub := bindLoopback(t, TCPOptions{})
	sub := dialSubscribed(t, pub, "actual")

	for i := 0; i < 3; i++ {
		_, err := sub.Recv(20 * time.Millisecond)
		assert.ErrorIs(t, err, ErrRecvTimeout)
	}

	require.NoError(t, pub.Send([][]byte{[]byte("actual0 1.000000")}))
	frames, err := sub.Recv(time.Second)
	require.NoError(t, err)
	assert.Len(t, frames, 1)
}

func TestTCP_BindFailure(t *testing.T) {
	pub := bindLoopback(t, TCPOptions{})

	_, err := BindTCP(pub.Addr().String(), TCPOptions{})
	assert.ErrorIs(t, err, ErrBindFailure, "port in use")

	_, err = BindTCP("not-an-address", TCPOptions{})
	assert.ErrorIs(t, err, ErrBindFailure, "invalid address")
}

func TestTCP_ConnectFailure(t *testing.T) {
	// grab a free port and release it so nothing listens there
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	_, err = DialTCP(context.Background(), addr, TCPOptions{DialTimeout: 500 * time.Millisecond})
	assert.ErrorIs(t, err, ErrConnectFailure)
}

func TestTCP_SendDropsWhenSubscriberIsBehind(t *testing.T) {
	pub := bindLoopback(t, TCPOptions{SendBuffer: 1})
	dialSubscribed(t, pub, "actual") // never reads

	payload := make([]byte, 32*1024)
	for i := range payload {
		payload[i] = 'x'
	}

	var blocked bool
	for i := 0; i < 10000 && !blocked; i++ {
		err := pub.Send([][]byte{[]byte("actual0"), payload})
		if err != nil {
			require.ErrorIs(t, err, ErrWouldBlock)
			blocked = true
		}
	}
	assert.True(t, blocked, "a subscriber that never reads must eventually cause drops")
}

func TestTCP_CloseIsIdempotent(t *testing.T) {
	pub, err := BindTCP("127.0.0.1:0", TCPOptions{})
	require.NoError(t, err)
	sub, err := DialTCP(context.Background(), pub.Addr().String(), TCPOptions{})
	require.NoError(t, err)

	assert.NoError(t, pub.Close())
	assert.NoError(t, pub.Close())
	assert.ErrorIs(t, pub.Send([][]byte{[]byte("actual0 1")}), ErrClosed)

	_, err = sub.Recv(time.Second)
	assert.ErrorIs(t, err, ErrClosed)

	assert.NoError(t, sub.Close())
	sub.Close()
}

func TestTCP_RebindAfterClose(t *testing.T) {
	pub, err := BindTCP("127.0.0.1:0", TCPOptions{})
	require.NoError(t, err)
	addr := pub.Addr().String()
	require.NoError(t, pub.Close())

	again, err := BindTCP(addr, TCPOptions{})
	require.NoError(t, err)
	assert.NoError(t, again.Close())
}
