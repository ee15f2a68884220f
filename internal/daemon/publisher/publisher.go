// Package publisher delivers sealed windows from the daemon's flush
// pipeline to the server over TCP. A single goroutine owns the
// connection, retrying a failed send with exponential backoff; a bounded
// queue in front of it sheds the oldest pending window once full, so a
// server outage degrades the daemon's freshness rather than its memory.
package publisher

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/wedaly/caesium/internal/daemon/pipeline"
	"github.com/wedaly/caesium/internal/logging"
	resettable "github.com/wedaly/caesium/internal/sync"
	"github.com/wedaly/caesium/internal/wire"
)

// Config configures a Publisher.
type Config struct {
	// ServerAddr is the server's insert socket address.
	ServerAddr string

	// QueueSize bounds the number of sealed windows awaiting delivery
	// before the oldest is dropped.
	QueueSize int

	// RetryBackoff is the initial delay after a failed send.
	RetryBackoff time.Duration

	// MaxBackoff caps the exponential backoff between retries.
	MaxBackoff time.Duration

	// DialTimeout bounds connecting to the server.
	DialTimeout time.Duration

	// RequestTimeout bounds one insert round trip once connected.
	RequestTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return cfg
}

// Stats holds publisher counters.
type Stats struct {
	Published  atomic.Int64
	Dropped    atomic.Int64
	Retries    atomic.Int64
	Reconnects atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Published  int64
	Dropped    int64
	Retries    int64
	Reconnects int64
}

// Publisher implements pipeline.Publisher, delivering sealed windows to
// the server's insert socket.
type Publisher struct {
	cfg   Config
	queue chan pipeline.SealedWindow

	// conn, wireConn, and connectOnce are owned exclusively by the
	// send loop goroutine while it's running; Stop joins that goroutine
	// before touching them, so no lock is needed.
	conn        net.Conn
	wireConn    *wire.Conn
	connectOnce resettable.ResettableOnce

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool

	stats Stats
}

// New returns a Publisher delivering to cfg.ServerAddr.
func New(cfg Config) *Publisher {
	cfg = cfg.withDefaults()
	return &Publisher{
		cfg:   cfg,
		queue: make(chan pipeline.SealedWindow, cfg.QueueSize),
		done:  make(chan struct{}),
	}
}

// Start launches the send loop.
func (p *Publisher) Start() error {
	if !p.running.CompareAndSwap(false, true) {
		return nil
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	go p.sendLoop()
	return nil
}

// Stop stops the send loop and closes the connection, if any.
func (p *Publisher) Stop() error {
	if !p.running.CompareAndSwap(true, false) {
		return nil
	}
	p.cancel()
	<-p.done
	p.closeConn()
	return nil
}

// Publish enqueues w for delivery, dropping the oldest queued window if
// the queue is full.
func (p *Publisher) Publish(w pipeline.SealedWindow) {
	for {
		select {
		case p.queue <- w:
			return
		default:
		}
		select {
		case <-p.queue:
			p.stats.Dropped.Add(1)
		default:
			// The consumer drained a slot between our two selects; retry.
		}
	}
}

func (p *Publisher) sendLoop() {
	defer close(p.done)
	log := logging.Component("daemon.publisher")

	for {
		select {
		case <-p.ctx.Done():
			return
		case w := <-p.queue:
			p.sendWithRetry(w, log)
		}
	}
}

func (p *Publisher) sendWithRetry(w pipeline.SealedWindow, log interface {
	Warn(string, ...any)
}) {
	backoff := p.cfg.RetryBackoff
	for {
		if err := p.sendOnce(w); err != nil {
			p.stats.Retries.Add(1)
			log.Warn("publish failed, retrying", "metric", w.Metric, "error", err)

			select {
			case <-p.ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > p.cfg.MaxBackoff {
				backoff = p.cfg.MaxBackoff
			}
			continue
		}
		p.stats.Published.Add(1)
		return
	}
}

func (p *Publisher) sendOnce(w pipeline.SealedWindow) error {
	wc, err := p.ensureConn()
	if err != nil {
		return fmt.Errorf("connect to %s: %w", p.cfg.ServerAddr, err)
	}
	p.conn.SetDeadline(time.Now().Add(p.cfg.RequestTimeout))

	sketchBytes, err := w.Sketch.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal sketch for %s: %w", w.Metric, err)
	}
	body, err := wire.EncodeInsertRequest(w.Metric, w.Start, w.End, sketchBytes)
	if err != nil {
		return err
	}

	if err := wc.WriteFrame(wire.OpInsert, body); err != nil {
		p.closeConn()
		return fmt.Errorf("write insert request: %w", err)
	}

	status, err := wc.ReadInsertResponse()
	if err != nil {
		p.closeConn()
		return fmt.Errorf("read insert response: %w", err)
	}
	switch status {
	case wire.InsertOK:
		return nil
	case wire.InsertOverloaded, wire.InsertInternal:
		// Overload and internal failures are transient on the server's
		// side, so report an error and let sendWithRetry back off.
		return fmt.Errorf("server replied %s", status)
	default:
		// The server has durably rejected this window (a window conflict
		// or a bad request); retrying the identical request would just
		// repeat the rejection, so treat it as terminal.
		return nil
	}
}

// ensureConn dials the server if not already connected, gated by
// ResettableOnce so concurrent callers (there's only ever one: the send
// loop) never race a dial, and a failed dial leaves the Once unset so the
// next call retries.
func (p *Publisher) ensureConn() (*wire.Conn, error) {
	if p.conn != nil {
		return p.wireConn, nil
	}
	err := p.connectOnce.DoWithError(func() error {
		conn, err := net.DialTimeout("tcp", p.cfg.ServerAddr, p.cfg.DialTimeout)
		if err != nil {
			return err
		}
		p.conn = conn
		p.wireConn = wire.NewConn(conn)
		p.stats.Reconnects.Add(1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p.wireConn, nil
}

func (p *Publisher) closeConn() {
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
		p.wireConn = nil
	}
	p.connectOnce.Reset()
}

// Stats returns a snapshot of the publisher's counters.
func (p *Publisher) Stats() StatsSnapshot {
	return StatsSnapshot{
		Published:  p.stats.Published.Load(),
		Dropped:    p.stats.Dropped.Load(),
		Retries:    p.stats.Retries.Load(),
		Reconnects: p.stats.Reconnects.Load(),
	}
}
