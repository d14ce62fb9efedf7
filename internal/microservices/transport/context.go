package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrContextClosed = errors.New("transport context is shut down")

const (
	KindTCP   = "tcp"
	KindRedis = "redis"
)

// Factory creates endpoints for one backend
type Factory interface {
	Bind(ctx context.Context, address string) (PubEndpoint, error)
	Connect(ctx context.Context, address string) (SubEndpoint, error)
}

type TCPFactory struct {
	Options TCPOptions
}

func (f TCPFactory) Bind(_ context.Context, address string) (PubEndpoint, error) {
	return BindTCP(address, f.Options)
}

func (f TCPFactory) Connect(ctx context.Context, address string) (SubEndpoint, error) {
	return DialTCP(ctx, address, f.Options)
}

// RedisFactory ignores per-endpoint addresses other than a redis:// URL
type RedisFactory struct {
	Options RedisOptions
}

func (f RedisFactory) Bind(ctx context.Context, url string) (PubEndpoint, error) {
	return BindRedis(ctx, url, f.Options)
}

func (f RedisFactory) Connect(ctx context.Context, url string) (SubEndpoint, error) {
	return DialRedis(ctx, url, f.Options)
}

// NewFactory picks a backend by name ("tcp" or "redis")
func NewFactory(kind string, sendBuffer int, logger *slog.Logger) (Factory, error) {
	switch kind {
	case "", KindTCP:
		opts := DefaultTCPOptions()
		if sendBuffer > 0 {
			opts.SendBuffer = sendBuffer
		}
		opts.Logger = logger
		return TCPFactory{Options: opts}, nil
	case KindRedis:
		return RedisFactory{Options: RedisOptions{Logger: logger}}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}

// Context is the process-wide owner of every endpoint. Components close their
// own endpoints; Shutdown is the single teardown for whatever is left and is
// called once by main.
type Context struct {
	factory Factory
	logger  *slog.Logger

	mu        sync.Mutex
	endpoints map[string]endpointCloser
	closed    bool

	shutdownOnce sync.Once
	shutdownErr  error
}

type endpointCloser interface {
	Close() error
}

func NewContext(factory Factory, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		factory:   factory,
		logger:    logger,
		endpoints: make(map[string]endpointCloser),
	}
}

// Bind creates a tracked publishing endpoint
func (c *Context) Bind(ctx context.Context, address string) (PubEndpoint, error) {
	if c.isClosed() {
		return nil, ErrContextClosed
	}
	ep, err := c.factory.Bind(ctx, address)
	if err != nil {
		return nil, err
	}
	t := &trackedPub{PubEndpoint: ep, owner: c, id: uuid.NewString()}
	if err := c.track(t.id, t); err != nil {
		ep.Close()
		return nil, err
	}
	return t, nil
}

// Connect creates a tracked subscribing endpoint
func (c *Context) Connect(ctx context.Context, address string) (SubEndpoint, error) {
	if c.isClosed() {
		return nil, ErrContextClosed
	}
	ep, err := c.factory.Connect(ctx, address)
	if err != nil {
		return nil, err
	}
	t := &trackedSub{SubEndpoint: ep, owner: c, id: uuid.NewString()}
	if err := c.track(t.id, t); err != nil {
		ep.Close()
		return nil, err
	}
	return t, nil
}

// Open returns the number of endpoints not yet closed
func (c *Context) Open() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.endpoints)
}

// Shutdown closes every endpoint still open. Only the first call does work;
// later calls return the same result.
func (c *Context) Shutdown() error {
	c.shutdownOnce.Do(func() {
		start := time.Now()

		c.mu.Lock()
		c.closed = true
		leftovers := make([]endpointCloser, 0, len(c.endpoints))
		for _, ep := range c.endpoints {
			leftovers = append(leftovers, ep)
		}
		c.mu.Unlock()

		var errs []error
		for _, ep := range leftovers {
			if err := ep.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		c.shutdownErr = errors.Join(errs...)

		c.logger.Info("transport_shutdown",
			"closed_endpoints", len(leftovers),
			"duration", time.Since(start),
		)
	})
	return c.shutdownErr
}

func (c *Context) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Context) track(id string, ep endpointCloser) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrContextClosed
	}
	c.endpoints[id] = ep
	return nil
}

func (c *Context) untrack(id string) {
	c.mu.Lock()
	delete(c.endpoints, id)
	c.mu.Unlock()
}

type trackedPub struct {
	PubEndpoint
	owner *Context
	id    string
}

func (t *trackedPub) Close() error {
	t.owner.untrack(t.id)
	return t.PubEndpoint.Close()
}

// Peers forwards to the backend; -1 means the backend cannot tell
func (t *trackedPub) Peers() int {
	if pc, ok := t.PubEndpoint.(PeerCounter); ok {
		return pc.Peers()
	}
	return -1
}

// Addr forwards to the backend; nil when it has no listening address
func (t *trackedPub) Addr() net.Addr {
	if a, ok := t.PubEndpoint.(Addresser); ok {
		return a.Addr()
	}
	return nil
}

type trackedSub struct {
	SubEndpoint
	owner *Context
	id    string
}

func (t *trackedSub) Close() error {
	t.owner.untrack(t.id)
	return t.SubEndpoint.Close()
}
