// Package pool manages a bounded set of reusable websocket connections per
// venue endpoint, with a global ceiling on concurrent connections.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"

	"github.com/openarb/arbot/internal/domain"
)

const dialTimeout = 15 * time.Second

// Conn is one pooled websocket connection. Callers mark it dead before
// release when the transport failed; dead connections are discarded instead
// of requeued.
type Conn struct {
	WS       *websocket.Conn
	Endpoint string
	DialedAt time.Time

	mu   sync.Mutex
	dead bool
}

// MarkDead flags the connection as unusable for reuse.
func (c *Conn) MarkDead() {
	c.mu.Lock()
	c.dead = true
	c.mu.Unlock()
}

// Dead reports whether the connection has been marked unusable.
func (c *Conn) Dead() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dead
}

// Dialer establishes a websocket connection to an endpoint. Replaced in tests.
type Dialer func(ctx context.Context, endpoint string) (*websocket.Conn, error)

func defaultDialer(ctx context.Context, endpoint string) (*websocket.Conn, error) {
	d := websocket.Dialer{HandshakeTimeout: dialTimeout}
	ws, _, err := d.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("pool: dial %s: %w", endpoint, err)
	}
	return ws, nil
}

// Config holds the pool's limits. Both must be positive; anything else is a
// programming invariant violation and fatal at construction.
type Config struct {
	MaxPerEndpoint int
	MaxTotal       int
}

// Pool keeps per-endpoint idle buckets capped at MaxPerEndpoint and enforces
// a global concurrency ceiling through a weighted semaphore. Acquire blocks
// until a global slot is free.
type Pool struct {
	cfg    Config
	dial   Dialer
	sem    *semaphore.Weighted
	logger *slog.Logger

	mu     sync.Mutex
	idle   map[string][]*Conn
	closed bool
}

// New creates a pool. It panics on non-positive limits.
func New(cfg Config, logger *slog.Logger) *Pool {
	if cfg.MaxPerEndpoint <= 0 || cfg.MaxTotal <= 0 {
		panic(fmt.Sprintf("pool: invalid limits (per_endpoint=%d, total=%d)",
			cfg.MaxPerEndpoint, cfg.MaxTotal))
	}
	return &Pool{
		cfg:    cfg,
		dial:   defaultDialer,
		sem:    semaphore.NewWeighted(int64(cfg.MaxTotal)),
		logger: logger.With(slog.String("component", "conn_pool")),
		idle:   make(map[string][]*Conn),
	}
}

// SetDialer replaces the websocket dialer. Must be called before Acquire.
func (p *Pool) SetDialer(d Dialer) { p.dial = d }

// Acquire returns a connection to the endpoint, reusing an idle one when
// available. It blocks on the global semaphore until capacity frees up or
// ctx is cancelled.
func (p *Pool) Acquire(ctx context.Context, endpoint string) (*Conn, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("pool: acquire slot: %w", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, domain.ErrPoolClosed
	}
	if bucket := p.idle[endpoint]; len(bucket) > 0 {
		conn := bucket[len(bucket)-1]
		p.idle[endpoint] = bucket[:len(bucket)-1]
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	ws, err := p.dial(ctx, endpoint)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	return &Conn{WS: ws, Endpoint: endpoint, DialedAt: time.Now()}, nil
}

// Release returns a connection to its endpoint's idle bucket, or closes it
// when it is dead or the bucket is full. The global slot is always returned.
func (p *Pool) Release(conn *Conn) {
	if conn == nil {
		return
	}
	defer p.sem.Release(1)

	p.mu.Lock()
	if p.closed || conn.Dead() || len(p.idle[conn.Endpoint]) >= p.cfg.MaxPerEndpoint {
		p.mu.Unlock()
		p.closeConn(conn)
		return
	}
	p.idle[conn.Endpoint] = append(p.idle[conn.Endpoint], conn)
	p.mu.Unlock()
}

// CloseAll closes every idle connection best-effort and marks the pool
// closed; subsequent Acquire calls fail with ErrPoolClosed. Close failures
// are logged, never returned.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = make(map[string][]*Conn)
	p.mu.Unlock()

	for endpoint, bucket := range idle {
		for _, conn := range bucket {
			p.closeConn(conn)
		}
		p.logger.Info("closed idle connections",
			slog.String("endpoint", endpoint),
			slog.Int("count", len(bucket)),
		)
	}
}

// IdleCount returns the number of idle connections for an endpoint.
func (p *Pool) IdleCount(endpoint string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle[endpoint])
}

func (p *Pool) closeConn(conn *Conn) {
	if conn.WS == nil {
		return
	}
	if err := conn.WS.Close(); err != nil {
		p.logger.Warn("connection close failed",
			slog.String("endpoint", conn.Endpoint),
			slog.String("error", err.Error()),
		)
	}
}
