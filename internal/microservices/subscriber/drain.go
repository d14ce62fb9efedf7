package subscriber

import (
	"log/slog"

	"twinbridge/internal/metrics"
	"twinbridge/internal/wire"
)

// OnChannelEvent receives decoded events on the consumer's goroutine
type OnChannelEvent func(ev wire.ChannelEvent)

// Drain delivers every event queued right now, oldest first, on the calling
// goroutine. It returns how many callbacks completed without panicking.
func (s *Subscriber) Drain(cb OnChannelEvent) int {
	n := DrainQueue(s.queue, cb, s.logger, s.opts.Metrics)
	s.opts.Metrics.SetQueueDepth(s.queue.Len())
	return n
}

// DrainQueue is Drain for a bare queue. A panicking callback is logged and
// the remaining events are still delivered.
func DrainQueue(q *Queue, cb OnChannelEvent, logger *slog.Logger, m *metrics.Telemetry) int {
	if cb == nil {
		return 0
	}
	if logger == nil {
		logger = slog.Default()
	}

	delivered := 0
	for _, ev := range q.PopAll() {
		if deliver(cb, ev, logger) {
			delivered++
		} else {
			m.IncCallbackFailure()
		}
	}
	m.AddDelivered(delivered)
	return delivered
}

func deliver(cb OnChannelEvent, ev wire.ChannelEvent, logger *slog.Logger) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("channel_event_callback_panic",
				"stream", ev.Stream.String(),
				"channel", ev.Channel,
				"panic", r,
			)
			ok = false
		}
	}()
	cb(ev)
	return true
}
