// Package pipeline implements the daemon's per-metric sketch aggregation:
// every received sample is merged into that metric's current-window
// sketch, and at each flush-window boundary every metric's sketch is
// sealed and handed off for delivery to the server.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wedaly/caesium/internal/logging"
	"github.com/wedaly/caesium/internal/quantile"
)

// SealedWindow is one metric's completed sketch for one flush window.
type SealedWindow struct {
	Metric string
	Start  uint64
	End    uint64
	Sketch *quantile.Sketch
}

// Publisher receives sealed windows for delivery to the server. Publish
// must not block the caller: the pipeline seals every metric's window on
// its own goroutine and a slow publisher must shed load on its own queue
// rather than stall the seal.
type Publisher interface {
	Publish(SealedWindow)
}

// Stats holds pipeline counters.
type Stats struct {
	SamplesReceived atomic.Int64
	SamplesDropped  atomic.Int64
	WindowsSealed   atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	SamplesReceived int64
	SamplesDropped  int64
	WindowsSealed   int64
}

// Service aggregates statsd samples into per-metric sketches and seals
// them at fixed-width window boundaries aligned to wall-clock time.
type Service struct {
	windowSecs uint64
	pub        Publisher
	now        func() time.Time

	mu      sync.Mutex
	metrics map[string]*quantile.Sketch
	winEnd  uint64

	forceSeal chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   atomic.Bool

	stats Stats
}

// New returns a Service that seals a window every windowSize, publishing
// each metric's sealed sketch to pub. Window bounds are whole seconds:
// windowSize is truncated to seconds, and a windowSize under one second
// seals one-second windows.
func New(windowSize time.Duration, pub Publisher) *Service {
	secs := uint64(windowSize.Seconds())
	if secs == 0 {
		secs = 1
	}
	return &Service{
		windowSecs: secs,
		pub:        pub,
		now:        time.Now,
		metrics:    make(map[string]*quantile.Sketch),
		forceSeal:  make(chan struct{}, 1),
	}
}

// Start aligns the first window boundary to wall-clock time and launches
// the sealing loop.
func (s *Service) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	nowTS := uint64(s.now().Unix())
	s.winEnd = windowFloor(nowTS, s.windowSecs) + s.windowSecs

	s.wg.Add(1)
	go s.sealLoop()
	return nil
}

// Stop stops the sealing loop and flushes whatever the current window
// holds, so no observed samples are lost on a clean shutdown.
func (s *Service) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.cancel()
	s.wg.Wait()
	s.sealWindow(s.winEnd)
	return nil
}

// Insert merges one statsd sample into its metric's current-window
// sketch, creating the sketch on first observation of that metric.
func (s *Service) Insert(metric string, value uint64) {
	s.stats.SamplesReceived.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()

	sk, ok := s.metrics[metric]
	if !ok {
		sk = quantile.New()
		s.metrics[metric] = sk
	}
	if err := sk.Insert(value); err != nil {
		s.stats.SamplesDropped.Add(1)
		logging.Component("daemon.pipeline").Warn("dropped sample", "metric", metric, "error", err)
	}
}

// sealLoop wakes at the next window boundary (or on a forced seal
// request) and seals every metric's current sketch.
func (s *Service) sealLoop() {
	defer s.wg.Done()

	for {
		timer := time.NewTimer(time.Until(time.Unix(int64(s.winEnd), 0)))

		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.sealWindow(s.winEnd)
			s.winEnd += s.windowSecs
		case <-s.forceSeal:
			timer.Stop()
			s.sealWindow(s.winEnd)
			s.winEnd += s.windowSecs
		}
	}
}

// ForceSeal seals the current window immediately rather than waiting for
// its boundary. Non-blocking: a seal already pending is left to run.
func (s *Service) ForceSeal() {
	select {
	case s.forceSeal <- struct{}{}:
	default:
	}
}

func (s *Service) sealWindow(end uint64) {
	start := end - s.windowSecs

	s.mu.Lock()
	sealed := s.metrics
	s.metrics = make(map[string]*quantile.Sketch)
	s.mu.Unlock()

	for metric, sk := range sealed {
		s.pub.Publish(SealedWindow{Metric: metric, Start: start, End: end, Sketch: sk})
	}
	s.stats.WindowsSealed.Add(int64(len(sealed)))
}

// Stats returns a snapshot of the pipeline's counters.
func (s *Service) Stats() StatsSnapshot {
	return StatsSnapshot{
		SamplesReceived: s.stats.SamplesReceived.Load(),
		SamplesDropped:  s.stats.SamplesDropped.Load(),
		WindowsSealed:   s.stats.WindowsSealed.Load(),
	}
}

func windowFloor(ts, windowSecs uint64) uint64 {
	return (ts / windowSecs) * windowSecs
}
