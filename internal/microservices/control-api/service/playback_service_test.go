package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twinbridge/internal/microservices/playback"
	"twinbridge/internal/microservices/publisher"
	"twinbridge/internal/trajectory"
)

type fakeFeeder struct {
	mu     sync.Mutex
	fed    map[int]float32
	points int
}

func (f *fakeFeeder) FeedChannelAngle(index int, angle float32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fed[index] = angle
	return true
}

func (f *fakeFeeder) PublishTrajectoryPoint(trajectory.Point) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points++
	return 1
}

func (f *fakeFeeder) Stats() publisher.Stats { return publisher.Stats{Sent: 7} }
func (f *fakeFeeder) Peers() int             { return 1 }

func startDriver(t *testing.T, seq *trajectory.Sequence) (PlaybackService, *fakeFeeder) {
	t.Helper()
	feeder := &fakeFeeder{fed: make(map[int]float32)}
	sched := playback.New(feeder, playback.Options{Loop: true})
	if seq != nil {
		require.NoError(t, sched.Initialize(seq))
	}

	ctx, cancel := context.WithCancel(context.Background())
	commands := make(chan func())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.Run(ctx, 5*time.Millisecond, commands)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return NewPlaybackService(sched, feeder, 6, commands), feeder
}

func testSequence() *trajectory.Sequence {
	return &trajectory.Sequence{
		Channels: 1,
		Points: []trajectory.Point{
			{Timestamp: 0, Angles: []float32{0}},
			{Timestamp: 10, Angles: []float32{1}},
		},
	}
}

func TestPlaybackService_Lifecycle(t *testing.T) {
	svc, _ := startDriver(t, testSequence())
	ctx := context.Background()

	st, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "playing", st.State)
	assert.Equal(t, 2, st.Points)
	assert.Equal(t, uint64(7), st.Sent)
	assert.Equal(t, 1, st.Peers)

	st, err = svc.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "stopped", st.State)

	st, err = svc.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, "playing", st.State)

	st, err = svc.SetSpeed(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 3.0, st.Speed)

	_, err = svc.SetSpeed(ctx, -1)
	assert.Error(t, err)

	st, err = svc.SetLoop(ctx, false)
	require.NoError(t, err)
	assert.False(t, st.Loop)
}

func TestPlaybackService_StartWithoutTrajectory(t *testing.T) {
	svc, _ := startDriver(t, nil)
	_, err := svc.Start(context.Background())
	assert.ErrorIs(t, err, ErrNoTrajectory)
}

func TestPlaybackService_FeedChannel(t *testing.T) {
	svc, feeder := startDriver(t, nil)
	ctx := context.Background()

	resp, err := svc.FeedChannel(ctx, 5, 0.75)
	require.NoError(t, err)
	assert.True(t, resp.Sent)

	feeder.mu.Lock()
	assert.Equal(t, float32(0.75), feeder.fed[5])
	feeder.mu.Unlock()

	_, err = svc.FeedChannel(ctx, 6, 0)
	assert.ErrorIs(t, err, ErrInvalidChannel)
	_, err = svc.FeedChannel(ctx, -1, 0)
	assert.ErrorIs(t, err, ErrInvalidChannel)
}

func TestPlaybackService_DriverNotRunning(t *testing.T) {
	sched := playback.New(&fakeFeeder{fed: map[int]float32{}}, playback.Options{})
	svc := NewPlaybackService(sched, &fakeFeeder{}, 6, make(chan func()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.Status(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
