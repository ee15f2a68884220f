package downsample

import (
	"testing"
	"time"

	"github.com/wedaly/caesium/internal/config"
	"github.com/wedaly/caesium/internal/quantile"
	"github.com/wedaly/caesium/internal/storage/store"
	"github.com/wedaly/caesium/internal/storage/windowlog"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir(), windowlog.DefaultOptions())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertRaw(t *testing.T, s *store.Store, metric string, start, end uint64, val uint64) {
	t.Helper()
	sk := quantile.New()
	sk.Insert(val)
	if err := s.Insert(metric, start, end, sk); err != nil {
		t.Fatalf("Insert: %v", err)
	}
}

func TestRunJobMergesOldWindowsWithinTier(t *testing.T) {
	s := newTestStore(t)
	metric := "app.web.latency_ms"

	// Five 60-second raw windows, all old enough to fall in tier 0.
	for i := uint64(0); i < 5; i++ {
		insertRaw(t, s, metric, i*60, i*60+60, i+1)
	}

	cfg := config.DefaultConfig()
	cfg.Tiers = []config.TierConfig{
		{AgeThreshold: time.Hour, TargetSpan: 3 * time.Minute, GapTolerance: 0},
	}

	eng := New(s, cfg)
	eng.now = func() time.Time { return time.Unix(100000, 0) }

	if err := eng.RunJob(Job{Metric: metric, TierIndex: 0, Tier: cfg.Tiers[0]}); err != nil {
		t.Fatalf("RunJob: %v", err)
	}

	windows, err := s.Fetch(metric, nil, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("expected windows merged into 2 groups (180s each then 120s), got %d: %+v", len(windows), windows)
	}
	if windows[0].Start != 0 || windows[0].End != 180 {
		t.Errorf("expected first merged window [0,180), got [%d,%d)", windows[0].Start, windows[0].End)
	}

	total := uint64(0)
	for _, w := range windows {
		total += w.Sketch.Count()
	}
	if total != 5 {
		t.Errorf("expected total count 5 preserved across merges, got %d", total)
	}
}

func TestRunJobNoOpWhenWindowsTooYoung(t *testing.T) {
	s := newTestStore(t)
	metric := "app.web.latency_ms"

	now := uint64(100000)
	insertRaw(t, s, metric, now-30, now, 1)
	insertRaw(t, s, metric, now-60, now-30, 2)

	cfg := config.DefaultConfig()
	cfg.Tiers = []config.TierConfig{
		{AgeThreshold: time.Hour, TargetSpan: time.Minute, GapTolerance: 0},
	}

	eng := New(s, cfg)
	eng.now = func() time.Time { return time.Unix(int64(now), 0) }

	if err := eng.RunJob(Job{Metric: metric, TierIndex: 0, Tier: cfg.Tiers[0]}); err != nil {
		t.Fatalf("RunJob: %v", err)
	}

	windows, err := s.Fetch(metric, nil, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("expected windows untouched since they are younger than the tier threshold, got %d", len(windows))
	}
}

func TestRunJobRespectsSecondTierLowerBound(t *testing.T) {
	s := newTestStore(t)
	metric := "app.web.latency_ms"

	now := uint64(1_000_000)
	// Windows old enough for tier index 1 (age >= 24h).
	insertRaw(t, s, metric, now-108060, now-108000, 1)
	insertRaw(t, s, metric, now-108000, now-107940, 2)
	// A window only 2 hours old belongs to tier index 0, not tier index 1.
	insertRaw(t, s, metric, now-7260, now-7200, 3)

	cfg := config.DefaultConfig()
	cfg.Tiers = []config.TierConfig{
		{AgeThreshold: time.Hour, TargetSpan: time.Minute, GapTolerance: 0},
		{AgeThreshold: 24 * time.Hour, TargetSpan: time.Hour, GapTolerance: 0},
	}

	eng := New(s, cfg)
	eng.now = func() time.Time { return time.Unix(int64(now), 0) }

	if err := eng.RunJob(Job{Metric: metric, TierIndex: 1, Tier: cfg.Tiers[1]}); err != nil {
		t.Fatalf("RunJob: %v", err)
	}

	windows, err := s.Fetch(metric, nil, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("expected the two old windows merged and the young one left alone, got %d: %+v", len(windows), windows)
	}
}

type fakeExporter struct {
	calls []string
}

func (f *fakeExporter) WriteWindow(metric string, start, end uint64, sk *quantile.Sketch) {
	f.calls = append(f.calls, metric)
}

func TestRunJobNotifiesExporterOnMerge(t *testing.T) {
	s := newTestStore(t)
	metric := "app.web.latency_ms"
	for i := uint64(0); i < 3; i++ {
		insertRaw(t, s, metric, i*60, i*60+60, i+1)
	}

	cfg := config.DefaultConfig()
	cfg.Tiers = []config.TierConfig{
		{AgeThreshold: time.Hour, TargetSpan: 3 * time.Minute, GapTolerance: 0},
	}

	eng := New(s, cfg)
	eng.now = func() time.Time { return time.Unix(100000, 0) }
	exp := &fakeExporter{}
	eng.SetExporter(exp)

	if err := eng.RunJob(Job{Metric: metric, TierIndex: 0, Tier: cfg.Tiers[0]}); err != nil {
		t.Fatalf("RunJob: %v", err)
	}

	if len(exp.calls) != 1 || exp.calls[0] != metric {
		t.Fatalf("expected exporter notified once for %s, got %v", metric, exp.calls)
	}
}

func TestScheduleAllEnqueuesOneJobPerMetricPerTier(t *testing.T) {
	s := newTestStore(t)
	insertRaw(t, s, "app.a", 0, 60, 1)
	insertRaw(t, s, "app.b", 0, 60, 1)

	cfg := config.DefaultConfig()
	cfg.Tiers = []config.TierConfig{
		{AgeThreshold: time.Hour, TargetSpan: time.Minute},
		{AgeThreshold: 24 * time.Hour, TargetSpan: time.Hour},
	}
	eng := New(s, cfg)
	if err := eng.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop()

	eng.scheduleAll()

	deadline := time.After(time.Second)
	for eng.Stats().JobsScheduled < 4 {
		select {
		case <-deadline:
			t.Fatalf("expected 4 scheduled jobs, got %d", eng.Stats().JobsScheduled)
		case <-time.After(time.Millisecond):
		}
	}
}
