package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"twinbridge/internal/metrics"
	"twinbridge/internal/microservices/transport"
	"twinbridge/internal/trajectory"
	"twinbridge/internal/wire"
)

type Options struct {
	Layout           wire.Layout
	UnderscoreTopics bool // "actual_3" instead of "actual3"
	MirrorDigital    bool // FeedChannelAngle also publishes on the digital stream
	Logger           *slog.Logger
	Metrics          *metrics.Telemetry
}

// Stats is a snapshot of the publisher counters
type Stats struct {
	Sent    uint64
	Dropped uint64
}

// Publisher encodes channel angles and hands them to a bound endpoint.
// It is owned by one goroutine; only Stats may be read from elsewhere.
type Publisher struct {
	endpoint   transport.PubEndpoint
	classifier *wire.Classifier
	opts       Options
	logger     *slog.Logger

	sent    atomic.Uint64
	dropped atomic.Uint64

	dropLog *rate.Limiter // at most one drop warning per second

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func New(endpoint transport.PubEndpoint, classifier *wire.Classifier, opts Options) *Publisher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Publisher{
		endpoint:   endpoint,
		classifier: classifier,
		opts:       opts,
		logger:     opts.Logger,
		dropLog:    rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Bind opens a publishing endpoint on address through the transport context.
// Failures wrap transport.ErrBindFailure and leave nothing behind.
func Bind(ctx context.Context, tctx *transport.Context, address string, classifier *wire.Classifier, opts Options) (*Publisher, error) {
	endpoint, err := tctx.Bind(ctx, address)
	if err != nil {
		if errors.Is(err, transport.ErrBindFailure) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", transport.ErrBindFailure, err)
	}
	p := New(endpoint, classifier, opts)
	p.logger.Info("publisher_started",
		"address", address,
		"listen_addr", p.Addr(),
		"layout", opts.Layout.String(),
		"underscore_topics", opts.UnderscoreTopics,
	)
	return p, nil
}

// PublishChannel sends one angle without waiting. It reports false when the
// message was dropped (back-pressure, unknown stream or closed publisher).
func (p *Publisher) PublishChannel(kind wire.StreamKind, index int, angle float32) bool {
	if p.closed.Load() {
		return false
	}
	if index < 0 {
		p.drop(fmt.Errorf("channel index %d is negative", index), kind, index)
		return false
	}
	prefix, ok := p.classifier.PrefixFor(kind)
	if !ok {
		p.drop(fmt.Errorf("no prefix registered for %s stream", kind), kind, index)
		return false
	}

	topic := wire.TopicFor(prefix, index, p.opts.UnderscoreTopics)
	frames := wire.EncodeFrames(p.opts.Layout, topic, wire.FormatValue(angle))

	if err := p.endpoint.Send(frames); err != nil {
		p.drop(err, kind, index)
		return false
	}
	p.sent.Add(1)
	p.opts.Metrics.IncPublished(kind.String())
	return true
}

func (p *Publisher) drop(err error, kind wire.StreamKind, index int) {
	p.dropped.Add(1)
	p.opts.Metrics.IncDropped("send", 1)
	if p.dropLog.Allow() {
		p.logger.Warn("publish_dropped",
			"stream", kind.String(),
			"channel", index,
			"dropped_total", p.dropped.Load(),
			"error", err,
		)
	}
}

// PublishTrajectoryPoint sends every channel on the physical stream, then
// mirrors the same values on the digital stream. Returns how many were sent.
func (p *Publisher) PublishTrajectoryPoint(point trajectory.Point) int {
	sent := 0
	for _, kind := range []wire.StreamKind{wire.Physical, wire.Digital} {
		for i, angle := range point.Angles {
			if p.PublishChannel(kind, i, angle) {
				sent++
			}
		}
	}
	return sent
}

// FeedChannelAngle is the entry point for live sources between playback ticks
func (p *Publisher) FeedChannelAngle(index int, angle float32) bool {
	ok := p.PublishChannel(wire.Physical, index, angle)
	if p.opts.MirrorDigital {
		ok = p.PublishChannel(wire.Digital, index, angle) && ok
	}
	return ok
}

// Peers reports attached subscribers, or -1 when the transport cannot tell
func (p *Publisher) Peers() int {
	if pc, ok := p.endpoint.(transport.PeerCounter); ok {
		n := pc.Peers()
		p.opts.Metrics.SetPeers(n)
		return n
	}
	return -1
}

// Addr is the address subscribers should connect to, or "" when the
// transport does not listen itself
func (p *Publisher) Addr() string {
	if a, ok := p.endpoint.(transport.Addresser); ok {
		if addr := a.Addr(); addr != nil {
			return addr.String()
		}
	}
	return ""
}

func (p *Publisher) Stats() Stats {
	return Stats{Sent: p.sent.Load(), Dropped: p.dropped.Load()}
}

// Close releases the endpoint. Calling it more than once is a no-op.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.closeErr = p.endpoint.Close()
		stats := p.Stats()
		p.logger.Info("publisher_closed", "sent", stats.Sent, "dropped", stats.Dropped)
	})
	return p.closeErr
}
