package publisher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twinbridge/internal/microservices/transport"
	"twinbridge/internal/trajectory"
	"twinbridge/internal/wire"
)

// recordingEndpoint keeps every message and can simulate back-pressure
type recordingEndpoint struct {
	messages [][][]byte
	block    bool
	closes   int
}

func (e *recordingEndpoint) Send(frames [][]byte) error {
	if e.block {
		return transport.ErrWouldBlock
	}
	e.messages = append(e.messages, frames)
	return nil
}

func (e *recordingEndpoint) Close() error {
	e.closes++
	return nil
}

func (e *recordingEndpoint) Peers() int { return 2 }

func newTestPublisher(t *testing.T, opts Options) (*Publisher, *recordingEndpoint) {
	t.Helper()
	classifier, err := wire.NewTwinClassifier("actual", "desired")
	require.NoError(t, err)
	ep := &recordingEndpoint{}
	return New(ep, classifier, opts), ep
}

func TestPublishChannel_SingleFrame(t *testing.T) {
	p, ep := newTestPublisher(t, Options{})

	assert.True(t, p.PublishChannel(wire.Physical, 3, 1.2345))
	require.Len(t, ep.messages, 1)
	assert.Equal(t, [][]byte{[]byte("actual3 1.234500")}, ep.messages[0])
	assert.Equal(t, Stats{Sent: 1}, p.Stats())
}

func TestPublishChannel_MultiFrameUnderscore(t *testing.T) {
	p, ep := newTestPublisher(t, Options{Layout: wire.MultiFrame, UnderscoreTopics: true})

	assert.True(t, p.PublishChannel(wire.Digital, 12, -0.5))
	require.Len(t, ep.messages, 1)
	assert.Equal(t, [][]byte{[]byte("desired_12"), []byte("-0.500000")}, ep.messages[0])
}

func TestPublishChannel_DropsOnBackPressure(t *testing.T) {
	p, ep := newTestPublisher(t, Options{})
	ep.block = true

	assert.False(t, p.PublishChannel(wire.Physical, 0, 1))
	assert.False(t, p.PublishChannel(wire.Physical, 1, 1))
	assert.Equal(t, Stats{Dropped: 2}, p.Stats())

	ep.block = false
	assert.True(t, p.PublishChannel(wire.Physical, 2, 1))
	assert.Equal(t, Stats{Sent: 1, Dropped: 2}, p.Stats())
}

func TestPublishChannel_NegativeIndex(t *testing.T) {
	p, ep := newTestPublisher(t, Options{})

	assert.False(t, p.PublishChannel(wire.Physical, -1, 1))
	assert.False(t, p.PublishChannel(wire.Digital, -7, 1))
	assert.Empty(t, ep.messages)
	assert.Equal(t, Stats{Dropped: 2}, p.Stats())
}

func TestPublishChannel_UnknownStream(t *testing.T) {
	classifier, err := wire.NewClassifier(wire.Prefix{Value: "actual", Kind: wire.Physical})
	require.NoError(t, err)
	p := New(&recordingEndpoint{}, classifier, Options{})

	assert.False(t, p.PublishChannel(wire.Digital, 0, 1))
	assert.Equal(t, uint64(1), p.Stats().Dropped)
}

func TestPublishTrajectoryPoint(t *testing.T) {
	p, ep := newTestPublisher(t, Options{})

	sent := p.PublishTrajectoryPoint(trajectory.Point{Timestamp: 0, Angles: []float32{0.1, 0.2, 0.3}})
	assert.Equal(t, 6, sent)

	var topics []string
	for _, m := range ep.messages {
		msg, err := wire.DecodeFrames(m)
		require.NoError(t, err)
		topics = append(topics, msg.Topic)
	}
	assert.Equal(t, []string{"actual0", "actual1", "actual2", "desired0", "desired1", "desired2"}, topics)
}

func TestFeedChannelAngle(t *testing.T) {
	p, ep := newTestPublisher(t, Options{})
	assert.True(t, p.FeedChannelAngle(4, 0.25))
	require.Len(t, ep.messages, 1)
	assert.Equal(t, "actual4 0.250000", string(ep.messages[0][0]))

	mirrored, ep2 := newTestPublisher(t, Options{MirrorDigital: true})
	assert.True(t, mirrored.FeedChannelAngle(4, 0.25))
	require.Len(t, ep2.messages, 2)
	assert.Equal(t, "desired4 0.250000", string(ep2.messages[1][0]))
}

func TestClose_Idempotent(t *testing.T) {
	p, ep := newTestPublisher(t, Options{})
	assert.Equal(t, 2, p.Peers())

	assert.NoError(t, p.Close())
	assert.NoError(t, p.Close())
	assert.Equal(t, 1, ep.closes)
	assert.False(t, p.PublishChannel(wire.Physical, 0, 1))
}

func TestBind_PortInUse(t *testing.T) {
	tctx := transport.NewContext(transport.TCPFactory{}, nil)
	defer tctx.Shutdown()
	classifier, err := wire.NewTwinClassifier("actual", "desired")
	require.NoError(t, err)

	first, err := Bind(context.Background(), tctx, "127.0.0.1:0", classifier, Options{})
	require.NoError(t, err)
	defer first.Close()

	_, err = Bind(context.Background(), tctx, "invalid", classifier, Options{})
	assert.ErrorIs(t, err, transport.ErrBindFailure)
}
