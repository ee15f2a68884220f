// Package server runs Caesium's two TCP listeners: the insert socket,
// where daemons deliver sealed per-metric sketches, and the query
// socket, where clients submit query-language text and read back a
// quantile table or metric list.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/wedaly/caesium/internal/config"
	"github.com/wedaly/caesium/internal/downsample"
	cserrors "github.com/wedaly/caesium/internal/errors"
	"github.com/wedaly/caesium/internal/logging"
	"github.com/wedaly/caesium/internal/query/exec"
	"github.com/wedaly/caesium/internal/quantile"
	"github.com/wedaly/caesium/internal/storage/store"
	"github.com/wedaly/caesium/internal/wire"
	"github.com/wedaly/caesium/internal/workerpool"
)

var log = logging.Component("server")

// Config holds the settings Server needs beyond the store and
// downsample engine it's handed directly.
type Config struct {
	QueryAddr       string
	InsertAddr      string
	NumReadWorkers  int
	NumWriteWorkers int
	QueryDeadline   time.Duration
	Backpressure    config.BackpressureConfig
}

// insertJob is one (metric, window) insert awaiting a write worker.
type insertJob struct {
	metric      string
	start, end  uint64
	sketchBytes []byte
	resultCh    chan<- error
}

// queryJob is one query string awaiting a read worker.
type queryJob struct {
	text     string
	resultCh chan<- queryResult
}

type queryResult struct {
	res *exec.Result
	err error
}

// Server owns the store, the downsample engine, the query executor,
// and the two accept loops that feed them.
type Server struct {
	cfg     Config
	store   *store.Store
	engine  *downsample.Engine
	queries *exec.Service

	writePool    *workerpool.Pool[insertJob]
	readPool     *workerpool.Pool[queryJob]
	backpressure *backpressureGate

	insertLn net.Listener
	queryLn  net.Listener
	ready    chan struct{}

	shutdown chan struct{}
	wg       sync.WaitGroup
}

// New wires a Server around an already-open store and downsample engine.
func New(cfg Config, s *store.Store, engine *downsample.Engine) *Server {
	if cfg.NumReadWorkers <= 0 {
		cfg.NumReadWorkers = 8
	}
	if cfg.NumWriteWorkers <= 0 {
		cfg.NumWriteWorkers = 4
	}
	if cfg.QueryDeadline <= 0 {
		cfg.QueryDeadline = exec.DefaultDeadline
	}

	queries := exec.New(s)

	srv := &Server{
		cfg:      cfg,
		store:    s,
		engine:   engine,
		queries:  queries,
		shutdown: make(chan struct{}),
		ready:    make(chan struct{}),
	}
	srv.writePool = workerpool.New("insert", cfg.NumWriteWorkers, cfg.NumWriteWorkers*4, srv.handleInsertJob)
	srv.readPool = workerpool.New("query", cfg.NumReadWorkers, cfg.NumReadWorkers*4, srv.handleQueryJob)
	srv.backpressure = newBackpressureGate(cfg.Backpressure)
	return srv
}

// Run starts both worker pools and accept loops and blocks until
// Shutdown is called or a listener fails.
func (s *Server) Run() error {
	if err := s.writePool.Start(); err != nil {
		return fmt.Errorf("start write pool: %w", err)
	}
	if err := s.readPool.Start(); err != nil {
		return fmt.Errorf("start read pool: %w", err)
	}
	if s.engine != nil {
		if err := s.engine.Start(); err != nil {
			return fmt.Errorf("start downsample engine: %w", err)
		}
	}

	insertLn, err := net.Listen("tcp", s.cfg.InsertAddr)
	if err != nil {
		return fmt.Errorf("listen insert: %w", err)
	}
	s.insertLn = insertLn
	log.Info("listening for inserts", "address", insertLn.Addr())

	queryLn, err := net.Listen("tcp", s.cfg.QueryAddr)
	if err != nil {
		insertLn.Close()
		return fmt.Errorf("listen query: %w", err)
	}
	s.queryLn = queryLn
	log.Info("listening for queries", "address", queryLn.Addr())
	close(s.ready)

	s.wg.Add(2)
	go s.acceptLoop(insertLn, s.handleInsertConn)
	go s.acceptLoop(queryLn, s.handleQueryConn)

	s.wg.Wait()
	return nil
}

// Shutdown stops both accept loops, drains the worker pools, and stops
// the downsample engine.
func (s *Server) Shutdown() {
	log.Info("shutting down")
	close(s.shutdown)

	if s.insertLn != nil {
		s.insertLn.Close()
	}
	if s.queryLn != nil {
		s.queryLn.Close()
	}

	s.wg.Wait()
	s.writePool.Stop()
	s.readPool.Stop()
	if s.engine != nil {
		s.engine.Stop()
	}
	log.Info("shutdown complete")
}

// InsertAddr returns the insert socket's bound address, or nil before
// Run has bound both listeners.
func (s *Server) InsertAddr() net.Addr {
	select {
	case <-s.ready:
		return s.insertLn.Addr()
	default:
		return nil
	}
}

// QueryAddr returns the query socket's bound address, or nil before
// Run has bound both listeners.
func (s *Server) QueryAddr() net.Addr {
	select {
	case <-s.ready:
		return s.queryLn.Addr()
	default:
		return nil
	}
}

func (s *Server) acceptLoop(ln net.Listener, handle func(net.Conn)) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				log.Error("accept error", "error", err)
				return
			}
		}
		go handle(conn)
	}
}

// handleInsertConn reads a stream of insert frames off conn, submitting
// each to the write pool and replying with its status before reading
// the next frame: the insert socket is a simple serial request/response
// channel per connection, matching the daemon publisher's one-in-flight
// sender.
func (s *Server) handleInsertConn(conn net.Conn) {
	defer conn.Close()
	wc := wire.NewConn(conn)

	for {
		op, body, err := wc.ReadFrame()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Debug("insert connection closed", "remote", conn.RemoteAddr(), "error", err)
			}
			return
		}
		if op != wire.OpInsert {
			log.Warn("unexpected op on insert socket", "op", op)
			return
		}

		metric, start, end, sketchBytes, err := wire.DecodeInsertRequest(body)
		if err != nil {
			wc.WriteInsertResponse(wire.InsertBadRequest)
			continue
		}

		if s.backpressure.Check(s.writePool.QueueLen(), s.writePool.Cap()) {
			wc.WriteInsertResponse(wire.InsertStatusForError(cserrors.ErrBufferFull))
			continue
		}

		resultCh := make(chan error, 1)
		job := insertJob{metric: metric, start: start, end: end, sketchBytes: sketchBytes, resultCh: resultCh}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		submitErr := s.writePool.Submit(ctx, job)
		cancel()
		if submitErr != nil {
			wc.WriteInsertResponse(wire.InsertInternal)
			continue
		}

		insertErr := <-resultCh
		if err := wc.WriteInsertResponse(wire.InsertStatusForError(insertErr)); err != nil {
			return
		}
	}
}

func (s *Server) handleInsertJob(_ context.Context, job insertJob) error {
	sk := quantile.New()
	err := sk.UnmarshalBinary(job.sketchBytes)
	if err != nil {
		job.resultCh <- cserrors.ErrCorruptSketch
		return err
	}
	err = s.store.Insert(job.metric, job.start, job.end, sk)
	job.resultCh <- err
	return err
}

// handleQueryConn reads a single query request, evaluates it, and
// writes back exactly one response: the query socket is one request
// per connection, mirroring the wire protocol's envelope (len | op |
// query text in, status | payload out).
func (s *Server) handleQueryConn(conn net.Conn) {
	defer conn.Close()
	wc := wire.NewConn(conn)

	op, body, err := wc.ReadFrame()
	if err != nil {
		return
	}
	if op != wire.OpQuery {
		log.Warn("unexpected op on query socket", "op", op)
		return
	}
	text := wire.DecodeQueryRequest(body)

	resultCh := make(chan queryResult, 1)
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.QueryDeadline)
	defer cancel()

	if err := s.readPool.Submit(ctx, queryJob{text: text, resultCh: resultCh}); err != nil {
		wc.WriteQueryResponse(wire.QueryInternal, nil)
		return
	}

	select {
	case qr := <-resultCh:
		status := wire.QueryStatusForError(qr.err)
		wc.WriteQueryResponse(status, formatQueryResult(qr.res))
	case <-ctx.Done():
		wc.WriteQueryResponse(wire.QueryTimeout, nil)
	}
}

func (s *Server) handleQueryJob(ctx context.Context, job queryJob) error {
	res, err := s.queries.Query(ctx, job.text)
	job.resultCh <- queryResult{res: res, err: err}
	return err
}

// formatQueryResult renders a Result into the wire protocol's payload:
// newline-delimited rows for a quantile table, newline-delimited names
// for a metric list.
func formatQueryResult(res *exec.Result) []byte {
	if res == nil {
		return nil
	}
	switch res.Kind {
	case exec.ResultMetricList:
		var buf []byte
		for i, name := range res.Metrics {
			if i > 0 {
				buf = append(buf, '\n')
			}
			buf = append(buf, name...)
		}
		return buf
	case exec.ResultQuantileTable:
		var buf []byte
		for i, row := range res.Rows {
			if i > 0 {
				buf = append(buf, '\n')
			}
			buf = append(buf, fmt.Sprintf("%d %d", row.Start, row.End)...)
			for j, phi := range row.Phis {
				buf = append(buf, fmt.Sprintf(" %g=%d", phi, row.Values[j])...)
			}
		}
		return buf
	default:
		return nil
	}
}
