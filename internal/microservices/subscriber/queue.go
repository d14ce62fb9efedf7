package subscriber

import (
	"sync"

	"twinbridge/internal/wire"
)

// Queue is the bounded hand-off between the worker (producer) and the drain
// (consumer). When full, the oldest unread event is overwritten.
type Queue struct {
	mu       sync.Mutex
	items    []wire.ChannelEvent
	capacity int
	head     int // next read position
	size     int
	dropped  uint64
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		items:    make([]wire.ChannelEvent, capacity),
		capacity: capacity,
	}
}

// Push never blocks. It reports whether an older event was dropped to make room.
func (q *Queue) Push(ev wire.ChannelEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	tail := (q.head + q.size) % q.capacity
	q.items[tail] = ev
	if q.size < q.capacity {
		q.size++
		return false
	}
	// overwrote the oldest; advance the read position past it
	q.head = (q.head + 1) % q.capacity
	q.dropped++
	return true
}

// PopAll removes and returns everything queued right now, oldest first
func (q *Queue) PopAll() []wire.ChannelEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return nil
	}
	out := make([]wire.ChannelEvent, q.size)
	for i := 0; i < q.size; i++ {
		out[i] = q.items[(q.head+i)%q.capacity]
	}
	q.head = 0
	q.size = 0
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *Queue) Capacity() int {
	return q.capacity
}

// Dropped is the number of events overwritten before they were drained
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
