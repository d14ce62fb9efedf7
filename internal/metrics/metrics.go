package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "twinbridge"

// Telemetry holds the bridge's prometheus collectors. A nil *Telemetry is
// valid and records nothing, so components built without a registry need no
// checks of their own.
type Telemetry struct {
	published     *prometheus.CounterVec // by stream kind
	dropped       *prometheus.CounterVec // by stage: send, queue
	malformed     prometheus.Counter
	received      prometheus.Counter
	delivered     prometheus.Counter
	callbackFails prometheus.Counter
	loops         prometheus.Counter
	cursor        prometheus.Gauge
	queueDepth    prometheus.Gauge
	peers         prometheus.Gauge
}

// New creates and registers the collectors. A nil registerer returns nil metrics.
func New(reg prometheus.Registerer) (*Telemetry, error) {
	if reg == nil {
		return nil, nil
	}

	t := &Telemetry{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "messages_sent_total",
			Help:      "Channel values handed to the transport",
		}, []string{"stream"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Messages dropped under back-pressure",
		}, []string{"stage"}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriber",
			Name:      "malformed_total",
			Help:      "Received messages that failed to decode or classify",
		}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriber",
			Name:      "events_received_total",
			Help:      "Channel events decoded by the subscriber worker",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriber",
			Name:      "events_delivered_total",
			Help:      "Channel events handed to the drain callback",
		}),
		callbackFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriber",
			Name:      "callback_failures_total",
			Help:      "Drain callbacks that returned an error or panicked",
		}),
		loops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "playback",
			Name:      "loops_total",
			Help:      "Times playback wrapped around to the first point",
		}),
		cursor: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "playback",
			Name:      "cursor",
			Help:      "Index of the next trajectory point to publish",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscriber",
			Name:      "queue_depth",
			Help:      "Events waiting in the hand-off queue",
		}),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "peers",
			Help:      "Subscribers attached to the publishing endpoint",
		}),
	}

	collectors := []prometheus.Collector{
		t.published, t.dropped, t.malformed, t.received, t.delivered,
		t.callbackFails, t.loops, t.cursor, t.queueDepth, t.peers,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return t, nil
}

func (t *Telemetry) IncPublished(stream string) {
	if t == nil {
		return
	}
	t.published.WithLabelValues(stream).Inc()
}

// IncDropped counts a drop at stage "send" (transport back-pressure) or "queue" (hand-off overflow)
func (t *Telemetry) IncDropped(stage string, n int) {
	if t == nil || n <= 0 {
		return
	}
	t.dropped.WithLabelValues(stage).Add(float64(n))
}

func (t *Telemetry) IncMalformed() {
	if t == nil {
		return
	}
	t.malformed.Inc()
}

func (t *Telemetry) IncReceived() {
	if t == nil {
		return
	}
	t.received.Inc()
}

func (t *Telemetry) AddDelivered(n int) {
	if t == nil || n <= 0 {
		return
	}
	t.delivered.Add(float64(n))
}

func (t *Telemetry) IncCallbackFailure() {
	if t == nil {
		return
	}
	t.callbackFails.Inc()
}

func (t *Telemetry) IncLoops() {
	if t == nil {
		return
	}
	t.loops.Inc()
}

func (t *Telemetry) SetCursor(n int) {
	if t == nil {
		return
	}
	t.cursor.Set(float64(n))
}

func (t *Telemetry) SetQueueDepth(n int) {
	if t == nil {
		return
	}
	t.queueDepth.Set(float64(n))
}

func (t *Telemetry) SetPeers(n int) {
	if t == nil {
		return
	}
	t.peers.Set(float64(n))
}
