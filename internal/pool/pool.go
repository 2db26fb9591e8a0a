package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by Get after Close.
var ErrClosed = errors.New("pool: closed")

// Pool is a fixed-size connection pool for one address.
//
// Capacity is enforced with counting permits: a permit is held for each
// checked-out connection, so idle plus checked-out can never exceed Size.
// Idle connections are reused most-recently-returned first, which keeps a
// small hot set alive under low load and lets the rest expire.
type Pool struct {
	cfg     Config
	permits chan struct{}
	log     zerolog.Logger

	mu     sync.Mutex
	idle   []*Conn // LIFO: append on release, pop from the end
	closed bool

	created   *metrics.Counter
	evicted   *metrics.Counter
	discarded *metrics.Counter
	gets      *metrics.Counter
	timeouts  *metrics.Counter
}

// New builds a pool. No connections are dialed until the first Get.
func New(cfg Config) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = 8
	}
	permits := make(chan struct{}, cfg.Size)
	for i := 0; i < cfg.Size; i++ {
		permits <- struct{}{}
	}
	return &Pool{
		cfg:     cfg,
		permits: permits,
		log:     cfg.Logger.With().Str("addr", cfg.Addr).Logger(),
		created: metrics.GetOrCreateCounter(
			fmt.Sprintf(`rediswire_pool_connections_created_total{addr=%q}`, cfg.Addr)),
		evicted: metrics.GetOrCreateCounter(
			fmt.Sprintf(`rediswire_pool_connections_evicted_total{addr=%q}`, cfg.Addr)),
		discarded: metrics.GetOrCreateCounter(
			fmt.Sprintf(`rediswire_pool_connections_discarded_total{addr=%q}`, cfg.Addr)),
		gets: metrics.GetOrCreateCounter(
			fmt.Sprintf(`rediswire_pool_gets_total{addr=%q}`, cfg.Addr)),
		timeouts: metrics.GetOrCreateCounter(
			fmt.Sprintf(`rediswire_pool_get_timeouts_total{addr=%q}`, cfg.Addr)),
	}
}

// Get checks out a connection, dialing a new one only when no healthy idle
// connection exists. It blocks for a permit when all Size connections are
// checked out, honoring ctx.
func (p *Pool) Get(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.mu.Unlock()
	p.gets.Inc()

	select {
	case <-p.permits:
	case <-ctx.Done():
		p.timeouts.Inc()
		return nil, fmt.Errorf("pool: waiting for connection to %s: %w", p.cfg.Addr, ctx.Err())
	}

	if conn := p.popIdle(); conn != nil {
		return conn, nil
	}

	conn, err := Dial(ctx, p.cfg)
	if err != nil {
		p.permits <- struct{}{}
		return nil, err
	}
	p.created.Inc()
	p.log.Debug().Msg("connection created")
	return conn, nil
}

// popIdle pops healthy idle connections newest-first, closing any that sat
// idle past IdleTimeout.
func (p *Pool) popIdle() *Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.idle) > 0 {
		conn := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if p.expired(conn) {
			_ = conn.Close()
			p.evicted.Inc()
			p.log.Debug().Msg("idle connection expired")
			continue
		}
		return conn
	}
	return nil
}

func (p *Pool) expired(conn *Conn) bool {
	return p.cfg.IdleTimeout > 0 && time.Since(conn.lastUsed) > p.cfg.IdleTimeout
}

// Put returns a checked-out connection. A nil err with a healthy conn makes
// it idle again; any error outcome (or a broken conn) closes it. The permit
// is returned on every path.
func (p *Pool) Put(conn *Conn, err error) {
	defer func() { p.permits <- struct{}{} }()

	if conn == nil {
		return
	}
	if err != nil || conn.Broken() {
		_ = conn.Close()
		p.discarded.Inc()
		p.log.Debug().AnErr("cause", err).Msg("connection discarded")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = conn.Close()
		return
	}
	conn.lastUsed = time.Now()
	p.idle = append(p.idle, conn)
}

// With checks out a connection, runs fn, and releases with fn's outcome.
// This is the only acquisition pattern the routers use; the release cannot
// be forgotten and errors always discard the connection.
func (p *Pool) With(ctx context.Context, fn func(*Conn) error) error {
	conn, err := p.Get(ctx)
	if err != nil {
		return err
	}
	err = fn(conn)
	p.Put(conn, err)
	return err
}

// IdleCount returns the number of idle connections.
func (p *Pool) IdleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Available returns the number of free permits.
func (p *Pool) Available() int { return len(p.permits) }

// Size returns the pool's connection cap.
func (p *Pool) Size() int { return cap(p.permits) }

// Addr returns the address the pool dials.
func (p *Pool) Addr() string { return p.cfg.Addr }

// Close closes all idle connections and fails subsequent Gets. Checked-out
// connections are closed as they are returned.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for _, conn := range p.idle {
		_ = conn.Close()
	}
	p.idle = nil
	return nil
}
