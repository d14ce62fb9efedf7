package subscriber

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
	"twinbridge/internal/wire"
)

var (
	ErrAlreadyStarted = errors.New("subscriber already started")
	ErrStopped        = errors.New("subscriber stopped")
)

type Options struct {
	RecvTimeout   time.Duration // bounds how long Stop waits for the worker to notice
	JoinTimeout   time.Duration // how long Stop waits before abandoning the worker
	QueueCapacity int
	Logger        *slog.Logger
	Metrics       *metrics.Telemetry
}

func (o Options) withDefaults() Options {
	if o.RecvTimeout <= 0 {
		o.RecvTimeout = 50 * time.Millisecond
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = time.Second
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 1024
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Stats is a snapshot of the subscriber counters
type Stats struct {
	Received     uint64 `json:"received"`
	Malformed    uint64 `json:"malformed"`
	QueueDropped uint64 `json:"queue_dropped"`
	Queued       int    `json:"queued"`
}

// Subscriber owns a connected endpoint and one background worker that moves
// decoded events into the hand-off queue
type Subscriber struct {
	endpoint   transport.SubEndpoint
	classifier *wire.Classifier
	prefixes   []string
	queue      *Queue
	opts       Options
	logger     *slog.Logger

	lifecycle sync.Mutex // guards started against a concurrent Stop
	started   bool
	stopping  atomic.Bool
	done      chan struct{}

	cleanupOnce sync.Once

	errMu sync.Mutex
	err   error

	received   atomic.Uint64
	badFrames  atomic.Uint64 // framing errors, counted apart from the classifier's decode failures
	malformLog *rate.Limiter
}

// Connect opens a subscribing endpoint through the transport context and
// subscribes it to every prefix of classifier
func Connect(ctx context.Context, tctx *transport.Context, address string, classifier *wire.Classifier, opts Options) (*Subscriber, error) {
	endpoint, err := tctx.Connect(ctx, address)
	if err != nil {
		return nil, err
	}
	s, err := Attach(endpoint, classifier, opts)
	if err != nil {
		return nil, err
	}
	s.logger.Info("subscriber_connected", "address", address, "prefixes", s.prefixes)
	return s, nil
}

// Attach wraps an already connected endpoint. With no registered prefixes the
// empty prefix is subscribed, which accepts everything. On failure the
// endpoint is closed.
func Attach(endpoint transport.SubEndpoint, classifier *wire.Classifier, opts Options) (*Subscriber, error) {
	opts = opts.withDefaults()

	prefixes := classifier.Prefixes()
	if len(prefixes) == 0 {
		prefixes = []string{""}
	}
	for _, p := range prefixes {
		if err := endpoint.Subscribe(p); err != nil {
			endpoint.Close()
			return nil, fmt.Errorf("failed to subscribe to %q: %w", p, err)
		}
	}

	return &Subscriber{
		endpoint:   endpoint,
		classifier: classifier,
		prefixes:   prefixes,
		queue:      NewQueue(opts.QueueCapacity),
		opts:       opts,
		logger:     opts.Logger,
		done:       make(chan struct{}),
		malformLog: rate.NewLimiter(rate.Every(time.Second), 1),
	}, nil
}

// Start launches the worker goroutine. It can only be called once.
func (s *Subscriber) Start() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.stopping.Load() {
		return ErrStopped
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	go s.run()
	s.logger.Info("subscriber_started", "recv_timeout", s.opts.RecvTimeout)
	return nil
}

func (s *Subscriber) run() {
	defer close(s.done)
	defer s.cleanup()
	defer func() {
		if r := recover(); r != nil {
			s.setErr(fmt.Errorf("subscriber worker panic: %v", r))
			s.logger.Error("subscriber_worker_panic", "panic", r)
		}
	}()

	for {
		if s.stopping.Load() {
			return
		}

		frames, err := s.endpoint.Recv(s.opts.RecvTimeout)
		if err != nil {
			if errors.Is(err, transport.ErrRecvTimeout) {
				continue
			}
			// one bad message, the connection is still good
			if errors.Is(err, transport.ErrInvalidFrame) {
				s.dropMalformed(err)
				continue
			}
			s.setErr(err)
			if s.stopping.Load() {
				s.logger.Debug("subscriber_recv_closed", "error", err)
			} else {
				s.logger.Error("subscriber_transport_failed", "error", err)
			}
			return
		}

		ev, err := s.classifier.DecodeChannelEvent(frames)
		if err != nil {
			s.dropMalformed(err)
			continue
		}

		s.received.Add(1)
		s.opts.Metrics.IncReceived()
		if s.queue.Push(ev) {
			s.opts.Metrics.IncDropped("queue", 1)
		}
		s.opts.Metrics.SetQueueDepth(s.queue.Len())
	}
}

// dropMalformed counts a message that could not be framed or decoded
func (s *Subscriber) dropMalformed(err error) {
	if errors.Is(err, transport.ErrInvalidFrame) {
		s.badFrames.Add(1)
	}
	s.opts.Metrics.IncMalformed()
	if s.malformLog.Allow() {
		s.logger.Warn("malformed_message_dropped",
			"error", err,
			"malformed_total", s.classifier.Malformed()+s.badFrames.Load(),
		)
	}
}

// cleanup unsubscribes and releases the endpoint; it runs at most once,
// either at worker exit or from Stop when the worker never started
func (s *Subscriber) cleanup() {
	s.cleanupOnce.Do(func() {
		for _, p := range s.prefixes {
			if err := s.endpoint.Unsubscribe(p); err != nil {
				s.logger.Debug("unsubscribe_failed", "prefix", p, "error", err)
			}
		}
		if err := s.endpoint.Close(); err != nil {
			s.logger.Warn("subscriber_close_failed", "error", err)
		}
		s.logger.Info("subscriber_released", "received", s.received.Load())
	})
}

// Stop asks the worker to exit and waits up to JoinTimeout. A worker still
// blocked after that is left to finish on its own; Stop returns nil either
// way and is safe to call repeatedly and from several goroutines.
func (s *Subscriber) Stop() error {
	s.lifecycle.Lock()
	first := s.stopping.CompareAndSwap(false, true)
	started := s.started
	s.lifecycle.Unlock()

	if !started {
		if first {
			s.cleanup()
			close(s.done)
		}
		return nil
	}

	timer := time.NewTimer(s.opts.JoinTimeout)
	defer timer.Stop()

	select {
	case <-s.done:
		return nil
	case <-timer.C:
		if first {
			s.logger.Warn("subscriber_join_timeout",
				"timeout", s.opts.JoinTimeout,
				"detail", "worker abandoned, it will release the endpoint when it wakes",
			)
		}
		return nil
	}
}

// Done is closed once the worker has exited and released the endpoint
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Err returns the transport error that ended the worker, if any
func (s *Subscriber) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Subscriber) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Queue exposes the hand-off queue for callers that drain it themselves
func (s *Subscriber) Queue() *Queue {
	return s.queue
}

func (s *Subscriber) Stats() Stats {
	return Stats{
		Received:     s.received.Load(),
		Malformed:    s.classifier.Malformed() + s.badFrames.Load(),
		QueueDropped: s.queue.Dropped(),
		Queued:       s.queue.Len(),
	}
}
