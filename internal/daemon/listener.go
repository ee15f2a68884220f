// Package daemon wires the statsd UDP listener to the flush pipeline.
package daemon

import (
	"errors"
	"net"
	"sync/atomic"

	"github.com/wedaly/caesium/internal/daemon/pipeline"
	"github.com/wedaly/caesium/internal/logging"
	"github.com/wedaly/caesium/internal/statsd"
)

// Inserter receives parsed statsd samples. pipeline.Service satisfies
// this.
type Inserter interface {
	Insert(metric string, value uint64)
}

// ListenerStats holds UDP listener counters.
type ListenerStats struct {
	PacketsReceived atomic.Int64
	LinesParsed     atomic.Int64
	LinesDropped    atomic.Int64
}

// ListenerStatsSnapshot is a point-in-time copy of ListenerStats.
type ListenerStatsSnapshot struct {
	PacketsReceived int64
	LinesParsed     int64
	LinesDropped    int64
}

// Listener reads statsd packets off a UDP socket and inserts each parsed
// sample into a pipeline.
type Listener struct {
	conn *net.UDPConn
	ins  Inserter

	stats ListenerStats
}

// Listen binds addr and returns a Listener ready to Serve.
func Listen(addr string, ins Inserter) (*Listener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	return &Listener{conn: conn, ins: ins}, nil
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Close stops the listener, unblocking any in-flight Serve call.
func (l *Listener) Close() error {
	return l.conn.Close()
}

// Serve reads packets until the listener is closed, parsing and inserting
// each sample. It returns nil on a clean Close, and any other error
// encountered reading the socket.
func (l *Listener) Serve() error {
	log := logging.Component("daemon.listener")
	buf := make([]byte, statsd.MaxDatagramSize)

	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		l.stats.PacketsReceived.Add(1)

		samples, dropped := statsd.ParsePacket(buf[:n])
		if dropped > 0 {
			l.stats.LinesDropped.Add(int64(dropped))
			log.Warn("dropped malformed statsd lines", "count", dropped)
		}
		l.stats.LinesParsed.Add(int64(len(samples)))
		for _, s := range samples {
			l.ins.Insert(s.Metric, s.Value)
		}
	}
}

// Stats returns a snapshot of the listener's counters.
func (l *Listener) Stats() ListenerStatsSnapshot {
	return ListenerStatsSnapshot{
		PacketsReceived: l.stats.PacketsReceived.Load(),
		LinesParsed:     l.stats.LinesParsed.Load(),
		LinesDropped:    l.stats.LinesDropped.Load(),
	}
}

var _ Inserter = (*pipeline.Service)(nil)
