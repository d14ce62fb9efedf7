package playback

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twinbridge/internal/trajectory"
)

type recordingPublisher struct {
	timestamps []float64
}

func (r *recordingPublisher) PublishTrajectoryPoint(p trajectory.Point) int {
	r.timestamps = append(r.timestamps, p.Timestamp)
	return len(p.Angles)
}

func sequence(timestamps ...float64) *trajectory.Sequence {
	seq := &trajectory.Sequence{Channels: 1}
	for _, ts := range timestamps {
		seq.Points = append(seq.Points, trajectory.Point{Timestamp: ts, Angles: []float32{float32(ts)}})
	}
	return seq
}

func TestInitialize_Empty(t *testing.T) {
	s := New(&recordingPublisher{}, Options{})
	assert.ErrorIs(t, s.Initialize(nil), ErrEmptySequence)
	assert.ErrorIs(t, s.Initialize(&trajectory.Sequence{}), ErrEmptySequence)
	assert.Equal(t, Idle, s.State())
}

func TestInitialize_PublishesFirstPoint(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(pub, Options{})

	require.NoError(t, s.Initialize(sequence(5, 6, 7)))
	assert.Equal(t, Playing, s.State())
	assert.Equal(t, 5.0, s.Clock())
	assert.Equal(t, []float64{5}, pub.timestamps)
}

func TestTick_CatchUp(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(pub, Options{})
	require.NoError(t, s.Initialize(sequence(0, 1, 2)))
	pub.timestamps = nil

	n := s.Tick(2.5, 1.0)
	assert.Equal(t, 3, n)
	assert.Equal(t, []float64{0, 1, 2}, pub.timestamps)
	assert.Equal(t, Stopped, s.State(), "without looping the end of the sequence stops playback")

	assert.Equal(t, 0, s.Tick(1, 1))
}

func TestTick_OneAtATime(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(pub, Options{})
	require.NoError(t, s.Initialize(sequence(0, 1, 2, 3)))
	pub.timestamps = nil

	s.Tick(0.5, 1) // only the first point is due
	assert.Equal(t, []float64{0}, pub.timestamps)
	s.Tick(0.5, 1)
	assert.Equal(t, []float64{0, 1}, pub.timestamps)
	s.Tick(0.5, 4) // speed multiplier makes two more due
	assert.Equal(t, []float64{0, 1, 2, 3}, pub.timestamps)
}

func TestTick_ZeroOrNegativeAdvance(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(pub, Options{})
	require.NoError(t, s.Initialize(sequence(0, 1)))

	assert.Equal(t, 0, s.Tick(1, 0))
	assert.Equal(t, 0, s.Tick(-1, 1))
	assert.Equal(t, 0.0, s.Clock())
}

func TestTick_NonFiniteAdvanceLeavesClock(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(pub, Options{})
	require.NoError(t, s.Initialize(sequence(0, 1, 2)))
	pub.timestamps = nil

	assert.Equal(t, 0, s.Tick(math.NaN(), 1))
	assert.Equal(t, 0, s.Tick(0.5, math.NaN()))
	assert.Equal(t, 0, s.Tick(math.Inf(1), 1))
	assert.Equal(t, 0.0, s.Clock())
	assert.Empty(t, pub.timestamps)

	assert.Equal(t, 1, s.Tick(0.5, 1))
	assert.Equal(t, []float64{0}, pub.timestamps)
	assert.Equal(t, 0.5, s.Clock())
}

func TestTick_LoopPreservesOvershoot(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(pub, Options{Loop: true})
	require.NoError(t, s.Initialize(sequence(0, 1, 2)))
	pub.timestamps = nil

	s.Tick(2.3, 1)
	assert.Equal(t, Playing, s.State())
	assert.InDelta(t, 0.3, s.Clock(), 1e-9)
	assert.Equal(t, []float64{0, 1, 2, 0}, pub.timestamps, "first point republished after the reset")
	assert.Equal(t, 1, s.Cursor())
	assert.Equal(t, uint64(1), s.Loops())

	pub.timestamps = nil
	s.Tick(0.8, 1)
	assert.Equal(t, []float64{1}, pub.timestamps)
}

func TestTick_LoopWithOffsetStart(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(pub, Options{Loop: true})
	require.NoError(t, s.Initialize(sequence(10, 11, 12)))

	s.Tick(2.25, 1)
	assert.InDelta(t, 10.25, s.Clock(), 1e-9)
}

func TestTick_LoopCatchUpAfterReset(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(pub, Options{Loop: true})
	require.NoError(t, s.Initialize(sequence(0, 1, 2)))
	pub.timestamps = nil

	// overshoot of 1.5 makes point 1 due again right after the wrap
	s.Tick(3.5, 1)
	assert.Equal(t, []float64{0, 1, 2, 0, 1}, pub.timestamps)
	assert.InDelta(t, 1.5, s.Clock(), 1e-9)
}

func TestTick_SinglePointLoop(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(pub, Options{Loop: true})
	require.NoError(t, s.Initialize(sequence(0)))
	pub.timestamps = nil

	n := s.Tick(1, 1)
	assert.Equal(t, 2, n)
	assert.Equal(t, Playing, s.State())
}

func TestStop_Idempotent(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(pub, Options{Loop: true})

	s.Stop()
	assert.Equal(t, Stopped, s.State())
	s.Stop()

	require.NoError(t, s.Initialize(sequence(0, 1)))
	s.Stop()
	s.Stop()
	assert.Equal(t, 0, s.Tick(5, 1))

	require.NoError(t, s.Restart())
	assert.Equal(t, Playing, s.State())
}

func TestSetSpeed(t *testing.T) {
	s := New(&recordingPublisher{}, Options{})
	assert.Equal(t, 1.0, s.Speed())
	require.NoError(t, s.SetSpeed(2))
	assert.Equal(t, 2.0, s.Status().Speed)
	assert.Error(t, s.SetSpeed(-1))
	assert.Error(t, s.SetSpeed(math.NaN()))
	assert.Error(t, s.SetSpeed(math.Inf(1)))
	assert.Equal(t, 2.0, s.Speed())
}

func TestRun_ExecutesCommandsAndTicks(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(pub, Options{Loop: true})
	require.NoError(t, s.Initialize(sequence(0, 0.01, 0.02)))

	ctx, cancel := context.WithCancel(context.Background())
	commands := make(chan func())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, 5*time.Millisecond, commands) }()

	time.Sleep(50 * time.Millisecond)

	type snapshot struct {
		status    Status
		published int
	}
	result := make(chan snapshot, 1)
	commands <- func() {
		result <- snapshot{status: s.Status(), published: len(pub.timestamps)}
	}
	snap := <-result
	assert.Equal(t, "playing", snap.status.State)
	assert.Greater(t, snap.published, 1)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
