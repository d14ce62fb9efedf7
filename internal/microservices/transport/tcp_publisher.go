package transport

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// TCPOptions tunes both ends of the tcp transport
type TCPOptions struct {
	SendBuffer   int           // per-subscriber outbound queue, in messages
	WriteTimeout time.Duration // max time a single socket write may take
	DialTimeout  time.Duration
	Logger       *slog.Logger
}

func DefaultTCPOptions() TCPOptions {
	return TCPOptions{
		SendBuffer:   1000,
		WriteTimeout: 2 * time.Second,
		DialTimeout:  2 * time.Second,
	}
}

func (o TCPOptions) withDefaults() TCPOptions {
	d := DefaultTCPOptions()
	if o.SendBuffer <= 0 {
		o.SendBuffer = d.SendBuffer
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = d.DialTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// TCPPublisher accepts subscriber connections and fans messages out to the
// ones whose subscriptions match the first frame
type TCPPublisher struct {
	listener net.Listener
	opts     TCPOptions
	logger   *slog.Logger

	mu    sync.RWMutex     // guards peers
	peers map[string]*peer // key: peer ID

	closed    atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup // accept loop + per-peer read/write loops
}

// peer is one connected subscriber
type peer struct {
	id      string
	conn    net.Conn
	out     chan []byte   // encoded messages waiting for the writer
	limiter *rate.Limiter // bounds control lines per second

	mu   sync.RWMutex
	subs map[string]int // prefix -> subscribe count

	done      chan struct{}
	closeOnce sync.Once
}

// BindTCP listens on address. Port in use and malformed addresses are both
// reported as ErrBindFailure.
func BindTCP(address string, opts TCPOptions) (*TCPPublisher, error) {
	opts = opts.withDefaults()

	hostPort, err := ParseAddress(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBindFailure, err)
	}
	listener, err := net.Listen("tcp", hostPort)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBindFailure, address, err)
	}

	p := &TCPPublisher{
		listener: listener,
		opts:     opts,
		logger:   opts.Logger,
		peers:    make(map[string]*peer),
	}
	p.wg.Add(1)
	go p.acceptLoop()

	p.logger.Info("publisher_bound", "address", listener.Addr().String())
	return p, nil
}

// Addr is the actual listening address (useful with port 0)
func (p *TCPPublisher) Addr() net.Addr {
	return p.listener.Addr()
}

func (p *TCPPublisher) acceptLoop() {
	defer p.wg.Done()
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			if p.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			p.logger.Warn("accept_failed", "error", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		pr := &peer{
			id:      uuid.NewString(),
			conn:    conn,
			out:     make(chan []byte, p.opts.SendBuffer),
			limiter: rate.NewLimiter(rate.Limit(200), 400), // 200 control lines/sec, burst of 400
			subs:    make(map[string]int),
			done:    make(chan struct{}),
		}
		p.mu.Lock()
		if p.closed.Load() {
			p.mu.Unlock()
			conn.Close()
			return
		}
		p.peers[pr.id] = pr
		p.mu.Unlock()

		p.logger.Info("subscriber_attached",
			"peer_id", pr.id,
			"remote_addr", conn.RemoteAddr().String(),
		)

		p.wg.Add(2)
		go func() {
			defer p.wg.Done()
			p.readLoop(pr)
		}()
		go func() {
			defer p.wg.Done()
			p.writeLoop(pr)
		}()
	}
}

// readLoop consumes SUB/UNSUB lines until the subscriber goes away.
// Lines over MaxFrameSize are skipped without being buffered whole.
func (p *TCPPublisher) readLoop(pr *peer) {
	defer p.removePeer(pr)
	reader := bufio.NewReaderSize(pr.conn, 4*1024)

	var line []byte
	oversized := false
	for {
		chunk, err := reader.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			if oversized || len(line)+len(chunk) > MaxFrameSize {
				oversized = true
				line = line[:0]
			} else {
				line = append(line, chunk...)
			}
			continue
		}
		if err != nil {
			return // EOF, reset or closed by us
		}
		if oversized || len(line)+len(chunk) > MaxFrameSize {
			p.logger.Warn("control_line_too_large", "peer_id", pr.id, "max_size", MaxFrameSize)
			oversized = false
			line = line[:0]
			continue
		}
		current := append(line, chunk...)
		line = current[:0]

		if !pr.limiter.Allow() {
			p.logger.Warn("control_rate_limit_exceeded", "peer_id", pr.id)
			continue
		}

		cmd, prefix, ok := parseControl(current)
		if !ok {
			p.logger.Warn("unknown_control_line", "peer_id", pr.id)
			continue
		}
		switch cmd {
		case cmdSubscribe:
			pr.subscribe(prefix)
		case cmdUnsubscribe:
			pr.unsubscribe(prefix)
		}
		p.logger.Debug("subscription_changed", "peer_id", pr.id, "command", cmd, "prefix", prefix)
	}
}

// writeLoop drains the peer's queue, flushing once the queue is empty
func (p *TCPPublisher) writeLoop(pr *peer) {
	w := bufio.NewWriter(pr.conn)
	for {
		select {
		case <-pr.done:
			return
		case data := <-pr.out:
			pr.conn.SetWriteDeadline(time.Now().Add(p.opts.WriteTimeout))
			if _, err := w.Write(data); err != nil {
				p.dropPeer(pr, err)
				return
			}
			if len(pr.out) == 0 {
				if err := w.Flush(); err != nil {
					p.dropPeer(pr, err)
					return
				}
			}
		}
	}
}

func (p *TCPPublisher) dropPeer(pr *peer, err error) {
	if !isClosedConn(err) {
		p.logger.Warn("subscriber_write_failed", "peer_id", pr.id, "error", err)
	}
	p.removePeer(pr)
}

func (p *TCPPublisher) removePeer(pr *peer) {
	p.mu.Lock()
	_, existed := p.peers[pr.id]
	delete(p.peers, pr.id)
	p.mu.Unlock()

	pr.close()
	if existed {
		p.logger.Info("subscriber_detached", "peer_id", pr.id)
	}
}

// Send enqueues the encoded message for every matching subscriber without
// blocking. Subscribers whose queue is full miss this message.
func (p *TCPPublisher) Send(frames [][]byte) error {
	if p.closed.Load() {
		return ErrClosed
	}
	data, err := appendMessage(nil, frames)
	if err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	dropped := 0
	for _, pr := range p.peers {
		if !pr.matches(frames[0]) {
			continue
		}
		select {
		case pr.out <- data:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		return fmt.Errorf("%w: %d subscriber(s) behind", ErrWouldBlock, dropped)
	}
	return nil
}

// Peers returns the number of attached subscribers
func (p *TCPPublisher) Peers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.peers)
}

// SubscriptionCount returns the total number of active prefix subscriptions
func (p *TCPPublisher) SubscriptionCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, pr := range p.peers {
		pr.mu.RLock()
		n += len(pr.subs)
		pr.mu.RUnlock()
	}
	return n
}

// Close stops accepting, disconnects every subscriber and waits for the
// connection goroutines. Calling it again is a no-op.
func (p *TCPPublisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		err = p.listener.Close()

		p.mu.Lock()
		peers := make([]*peer, 0, len(p.peers))
		for _, pr := range p.peers {
			peers = append(peers, pr)
		}
		p.mu.Unlock()

		for _, pr := range peers {
			pr.close()
		}
		p.wg.Wait()
		p.logger.Info("publisher_closed", "address", p.listener.Addr().String())
	})
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

func (pr *peer) subscribe(prefix string) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.subs[prefix]++
}

func (pr *peer) unsubscribe(prefix string) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if n, ok := pr.subs[prefix]; ok {
		if n <= 1 {
			delete(pr.subs, prefix)
		} else {
			pr.subs[prefix] = n - 1
		}
	}
}

// matches reports whether any subscribed prefix is a byte prefix of the first frame
func (pr *peer) matches(first []byte) bool {
	pr.mu.RLock()
	defer pr.mu.RUnlock()
	for prefix := range pr.subs {
		if len(prefix) <= len(first) && string(first[:len(prefix)]) == prefix {
			return true
		}
	}
	return false
}

func (pr *peer) close() {
	pr.closeOnce.Do(func() {
		close(pr.done)
		pr.conn.Close()
	})
}
