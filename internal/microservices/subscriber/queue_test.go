package subscriber

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twinbridge/internal/wire"
)

func ev(channel int) wire.ChannelEvent {
	return wire.ChannelEvent{Stream: wire.Physical, Channel: channel, Angle: float32(channel)}
}

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(4)
	for i := 0; i < 3; i++ {
		assert.False(t, q.Push(ev(i)))
	}
	assert.Equal(t, 3, q.Len())

	got := q.PopAll()
	assert.Equal(t, []wire.ChannelEvent{ev(0), ev(1), ev(2)}, got)
	assert.Equal(t, 0, q.Len())
	assert.Nil(t, q.PopAll())
}

func TestQueue_DropsOldest(t *testing.T) {
	q := NewQueue(3)
	for i := 0; i < 5; i++ {
		q.Push(ev(i))
	}
	assert.Equal(t, uint64(2), q.Dropped())
	assert.Equal(t, []wire.ChannelEvent{ev(2), ev(3), ev(4)}, q.PopAll())

	// wraps correctly after a partial drain
	q.Push(ev(5))
	q.Push(ev(6))
	assert.Equal(t, []wire.ChannelEvent{ev(5), ev(6)}, q.PopAll())
}

func TestQueue_MinimumCapacity(t *testing.T) {
	q := NewQueue(0)
	assert.Equal(t, 1, q.Capacity())
	q.Push(ev(1))
	assert.True(t, q.Push(ev(2)))
	assert.Equal(t, []wire.ChannelEvent{ev(2)}, q.PopAll())
}

func TestQueue_ConcurrentProducerConsumer(t *testing.T) {
	q := NewQueue(64)
	const total = 10000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			q.Push(ev(i))
		}
	}()

	var seen []wire.ChannelEvent
	producerDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(producerDone)
	}()
	for {
		seen = append(seen, q.PopAll()...)
		select {
		case <-producerDone:
			seen = append(seen, q.PopAll()...)
			require.Equal(t, uint64(total), uint64(len(seen))+q.Dropped())
			for i := 1; i < len(seen); i++ {
				require.Less(t, seen[i-1].Channel, seen[i].Channel, "order must be preserved")
			}
			return
		default:
		}
	}
}
