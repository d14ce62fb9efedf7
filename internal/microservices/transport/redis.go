package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions tunes the redis pub/sub backend
type RedisOptions struct {
	SendTimeout time.Duration // budget for one PUBLISH; exceeding it counts as back-pressure
	DialTimeout time.Duration
	Logger      *slog.Logger
}

func (o RedisOptions) withDefaults() RedisOptions {
	if o.SendTimeout <= 0 {
		o.SendTimeout = 20 * time.Millisecond
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func newRedisClient(ctx context.Context, url string, opts RedisOptions) (*redis.Client, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, url, err)
	}
	redisOpts.DialTimeout = opts.DialTimeout
	redisOpts.ReadTimeout = 3 * time.Second
	redisOpts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

// RedisPublisher publishes every message as PUBLISH <topic> <value>
type RedisPublisher struct {
	client *redis.Client
	opts   RedisOptions

	closeOnce sync.Once
	closeErr  error
}

func BindRedis(ctx context.Context, url string, opts RedisOptions) (*RedisPublisher, error) {
	opts = opts.withDefaults()
	rdb, err := newRedisClient(ctx, url, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBindFailure, err)
	}
	opts.Logger.Info("publisher_bound", "transport", "redis", "address", rdb.Options().Addr)
	return &RedisPublisher{client: rdb, opts: opts}, nil
}

// Send accepts both frame layouts. A single frame is split at its first space.
func (p *RedisPublisher) Send(frames [][]byte) error {
	var channel, payload []byte
	switch len(frames) {
	case 1:
		var ok bool
		channel, payload, ok = bytes.Cut(bytes.TrimSpace(frames[0]), []byte(" "))
		if !ok {
			return fmt.Errorf("%w: single frame without a value", ErrInvalidFrame)
		}
	case 2:
		channel, payload = frames[0], frames[1]
	default:
		return fmt.Errorf("%w: %d frames", ErrInvalidFrame, len(frames))
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.SendTimeout)
	defer cancel()

	if err := p.client.Publish(ctx, string(channel), payload).Err(); err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return ErrClosed
		}
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return fmt.Errorf("%w: %v", ErrWouldBlock, err)
		}
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.client.Close()
	})
	return p.closeErr
}

// RedisSubscriber maps prefix subscriptions onto PSUBSCRIBE patterns
type RedisSubscriber struct {
	client *redis.Client
	pubsub *redis.PubSub
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

func DialRedis(ctx context.Context, url string, opts RedisOptions) (*RedisSubscriber, error) {
	opts = opts.withDefaults()
	rdb, err := newRedisClient(ctx, url, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectFailure, err)
	}
	return &RedisSubscriber{
		client: rdb,
		pubsub: rdb.PSubscribe(ctx),
		logger: opts.Logger,
	}, nil
}

// PrefixPattern turns a raw prefix into a glob that matches exactly the
// channels starting with it
func PrefixPattern(prefix string) string {
	var b strings.Builder
	for _, r := range prefix {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('*')
	return b.String()
}

func (s *RedisSubscriber) Subscribe(prefix string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.pubsub.PSubscribe(ctx, PrefixPattern(prefix)); err != nil {
		return s.wrap(err)
	}
	return nil
}

func (s *RedisSubscriber) Unsubscribe(prefix string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.pubsub.PUnsubscribe(ctx, PrefixPattern(prefix)); err != nil {
		return s.wrap(err)
	}
	return nil
}

// Recv returns [channel, payload]. Subscription confirmations and pongs are
// reported as ErrRecvTimeout so callers simply poll again.
func (s *RedisSubscriber) Recv(timeout time.Duration) ([][]byte, error) {
	msg, err := s.pubsub.ReceiveTimeout(context.Background(), timeout)
	if err != nil {
		if isTimeout(err) {
			return nil, ErrRecvTimeout
		}
		return nil, s.wrap(err)
	}

	switch m := msg.(type) {
	case *redis.Message:
		return [][]byte{[]byte(m.Channel), []byte(m.Payload)}, nil
	case *redis.Subscription, *redis.Pong:
		return nil, ErrRecvTimeout
	default:
		s.logger.Debug("redis_unexpected_reply", "type", fmt.Sprintf("%T", msg))
		return nil, ErrRecvTimeout
	}
}

func (s *RedisSubscriber) wrap(err error) error {
	if errors.Is(err, redis.ErrClosed) || isClosedConn(err) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}

func (s *RedisSubscriber) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = errors.Join(s.pubsub.Close(), s.client.Close())
	})
	return s.closeErr
}
