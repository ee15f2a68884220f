package downsample

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wedaly/caesium/internal/config"
	"github.com/wedaly/caesium/internal/logging"
	"github.com/wedaly/caesium/internal/quantile"
	"github.com/wedaly/caesium/internal/storage/store"
)

// Job is one tier's worth of downsample work for a single metric.
type Job struct {
	Metric    string
	TierIndex int
	Tier      config.TierConfig
}

// Exporter receives one row per merged window, right after the merge
// commits to the window store. Implementations must not block the
// caller on anything slower than an in-memory write; the analytics
// export sidecar is the only current implementation.
type Exporter interface {
	WriteWindow(metric string, start, end uint64, sk *quantile.Sketch)
}

// Engine periodically scans every metric's windows and merges old ones
// into coarser tiers, per the configured retention policy.
type Engine struct {
	store    *store.Store
	cfg      *config.Config
	exporter Exporter

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	jobCh   chan Job
	workers int

	// now is overridable in tests; production code always uses time.Now.
	now func() time.Time

	stats Stats
}

// Stats holds downsample engine statistics.
type Stats struct {
	JobsScheduled atomic.Int64
	JobsCompleted atomic.Int64
	JobsFailed    atomic.Int64
	GroupsMerged  atomic.Int64
	WindowsMerged atomic.Int64
}

// EngineStats is a point-in-time snapshot of Stats.
type EngineStats struct {
	Running       bool
	JobsScheduled int64
	JobsCompleted int64
	JobsFailed    int64
	GroupsMerged  int64
	WindowsMerged int64
}

// New creates a downsample engine over s, using cfg's tier policy and
// worker count.
func New(s *store.Store, cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	workers := cfg.Server.NumWriteWorkers
	if workers <= 0 {
		workers = 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:   s,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		jobCh:   make(chan Job, 256),
		workers: workers,
		now:     time.Now,
	}
}

// Start launches the scheduler and worker goroutines.
func (e *Engine) Start() error {
	if e.running.Load() {
		return fmt.Errorf("downsample: engine already running")
	}
	e.running.Store(true)

	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}

	e.wg.Add(1)
	go e.scheduler()

	return nil
}

// Stop cancels the scheduler, drains the worker pool, and returns.
func (e *Engine) Stop() error {
	if !e.running.Load() {
		return nil
	}
	e.running.Store(false)
	e.cancel()
	close(e.jobCh)
	e.wg.Wait()
	return nil
}

func (e *Engine) scheduler() {
	defer e.wg.Done()

	interval := time.Duration(e.cfg.Server.DownsampleIntervalSec) * time.Second
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.scheduleAll()
		}
	}
}

// scheduleAll enqueues one job per (metric, tier) pair. Every tier,
// tier 0 included, only covers windows at least its own AgeThreshold
// old (see tierBounds); its "merge until target span" pass is useful
// since raw flush-interval windows are typically much finer than a
// tier's target span.
func (e *Engine) scheduleAll() {
	for _, metric := range e.store.Metrics() {
		for idx, tier := range e.cfg.Tiers {
			e.SubmitJob(Job{Metric: metric, TierIndex: idx, Tier: tier})
		}
	}
}

// SubmitJob enqueues job, returning false if the queue is full or the
// engine is stopped; callers must not block the caller of Start/Stop.
func (e *Engine) SubmitJob(job Job) bool {
	if !e.running.Load() {
		return false
	}
	select {
	case e.jobCh <- job:
		e.stats.JobsScheduled.Add(1)
		return true
	default:
		return false
	}
}

func (e *Engine) worker() {
	defer e.wg.Done()
	log := logging.Component("downsample")

	for job := range e.jobCh {
		if err := e.runJob(job); err != nil {
			e.stats.JobsFailed.Add(1)
			log.Error("downsample job failed", "metric", job.Metric, "tier", job.TierIndex, "error", err)
			continue
		}
		e.stats.JobsCompleted.Add(1)
	}
}

// RunJob executes a single tier job synchronously; exported so callers
// such as tests can drive it without the ticking scheduler.
func (e *Engine) RunJob(job Job) error {
	return e.runJob(job)
}

func (e *Engine) runJob(job Job) error {
	now := uint64(e.now().Unix())

	lowerAge, upperAge, hasUpper := tierBounds(e.cfg.Tiers, job.TierIndex)
	lo, hi, empty := eligibleEndRange(now, lowerAge, upperAge, hasUpper)
	if empty {
		return nil
	}

	fetched, err := e.store.Fetch(job.Metric, &lo, &hi)
	if err != nil {
		return fmt.Errorf("fetch windows: %w", err)
	}

	// Fetch returns everything overlapping [lo, hi); a tier applies to
	// windows whose End falls in that range specifically, since End is
	// what determines a window's age.
	windows := fetched[:0]
	for _, w := range fetched {
		if w.End > lo && w.End <= hi {
			windows = append(windows, w)
		}
	}
	if len(windows) < 2 {
		return nil
	}

	targetSpan := uint64(job.Tier.TargetSpan.Seconds())
	gapTolerance := uint64(job.Tier.GapTolerance.Seconds())

	groups := planMerges(windows, targetSpan, gapTolerance)
	for _, g := range groups {
		merged := quantile.New()
		for i := g.from; i <= g.to; i++ {
			if err := merged.Merge(windows[i].Sketch); err != nil {
				return fmt.Errorf("merge windows: %w", err)
			}
		}
		start, end := g.span(windows)
		if err := e.store.Replace(job.Metric, start, end, merged); err != nil {
			return fmt.Errorf("replace windows: %w", err)
		}
		if e.exporter != nil {
			e.exporter.WriteWindow(job.Metric, start, end, merged)
		}
		e.stats.GroupsMerged.Add(1)
		e.stats.WindowsMerged.Add(int64(g.to - g.from + 1))
	}

	return nil
}

// Stats returns a point-in-time snapshot of the engine's counters.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Running:       e.running.Load(),
		JobsScheduled: e.stats.JobsScheduled.Load(),
		JobsCompleted: e.stats.JobsCompleted.Load(),
		JobsFailed:    e.stats.JobsFailed.Load(),
		GroupsMerged:  e.stats.GroupsMerged.Load(),
		WindowsMerged: e.stats.WindowsMerged.Load(),
	}
}

// IsRunning reports whether the engine's scheduler loop is active.
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// SetExporter attaches the analytics export sidecar. Must be called
// before Start; nil disables export entirely (the default).
func (e *Engine) SetExporter(exp Exporter) {
	e.exporter = exp
}
