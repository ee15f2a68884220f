package store

import (
	"path/filepath"
	"testing"

	cserrors "github.com/wedaly/caesium/internal/errors"
	"github.com/wedaly/caesium/internal/quantile"
	"github.com/wedaly/caesium/internal/storage/windowlog"
)

func sketchWith(values ...uint64) *quantile.Sketch {
	sk := quantile.New()
	for _, v := range values {
		sk.Insert(v)
	}
	return sk
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, windowlog.DefaultOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndFetch(t *testing.T) {
	s := openTestStore(t)

	if err := s.Insert("app.web.latency_ms", 0, 60, sketchWith(1, 2, 3)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert("app.web.latency_ms", 60, 120, sketchWith(4, 5, 6)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	windows, err := s.Fetch("app.web.latency_ms", nil, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(windows))
	}
	if windows[0].Start != 0 || windows[1].Start != 60 {
		t.Errorf("expected ascending start order, got %+v", windows)
	}
	if windows[0].Sketch.Count() != 3 {
		t.Errorf("expected count 3, got %d", windows[0].Sketch.Count())
	}
}

func TestInsertMergesExactWindowMatch(t *testing.T) {
	s := openTestStore(t)

	if err := s.Insert("app.web.latency_ms", 0, 60, sketchWith(1, 2, 3)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert("app.web.latency_ms", 0, 60, sketchWith(4, 5)); err != nil {
		t.Fatalf("Insert (merge): %v", err)
	}

	windows, err := s.Fetch("app.web.latency_ms", nil, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("expected exact match to merge into 1 window, got %d", len(windows))
	}
	if windows[0].Sketch.Count() != 5 {
		t.Errorf("expected merged count 5, got %d", windows[0].Sketch.Count())
	}
}

func TestInsertPartialOverlapReturnsConflict(t *testing.T) {
	s := openTestStore(t)

	if err := s.Insert("app.web.latency_ms", 0, 60, sketchWith(1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	err := s.Insert("app.web.latency_ms", 30, 90, sketchWith(2))
	if !cserrors.Is(err, cserrors.ErrWindowConflict) {
		t.Fatalf("expected ErrWindowConflict, got %v", err)
	}
}

func TestFetchRangeFiltersWindows(t *testing.T) {
	s := openTestStore(t)

	for i := uint64(0); i < 5; i++ {
		if err := s.Insert("app.web.latency_ms", i*60, i*60+60, sketchWith(i)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	lo, hi := uint64(60), uint64(180)
	windows, err := s.Fetch("app.web.latency_ms", &lo, &hi)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("expected 2 windows in range, got %d", len(windows))
	}
	if windows[0].Start != 60 || windows[1].Start != 120 {
		t.Errorf("unexpected windows: %+v", windows)
	}
}

func TestFetchUnknownMetricReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Fetch("nope", nil, nil)
	if !cserrors.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestSearchMatchesGlob(t *testing.T) {
	s := openTestStore(t)
	for _, m := range []string{"app.web.latency_ms", "app.api.latency_ms", "app.web.errors"} {
		if err := s.Insert(m, 0, 60, sketchWith(1)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	matches, err := s.Search("app.*.latency_ms")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %v", matches)
	}
}

func TestReplaceSupersedesRange(t *testing.T) {
	s := openTestStore(t)

	for i := uint64(0); i < 3; i++ {
		if err := s.Insert("app.web.latency_ms", i*60, i*60+60, sketchWith(i+1)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	merged := sketchWith(1, 2, 3)
	if err := s.Replace("app.web.latency_ms", 0, 180, merged); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	windows, err := s.Fetch("app.web.latency_ms", nil, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("expected 1 window after replace, got %d", len(windows))
	}
	if windows[0].Start != 0 || windows[0].End != 180 {
		t.Errorf("expected merged window [0, 180), got [%d, %d)", windows[0].Start, windows[0].End)
	}
}

func TestReopenRecoversEntriesAndSkipsDeadOffsets(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir, windowlog.DefaultOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.Insert("app.web.latency_ms", 0, 60, sketchWith(1, 2)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s1.Insert("app.web.latency_ms", 0, 60, sketchWith(3)); err != nil {
		t.Fatalf("Insert (merge): %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(dir, windowlog.DefaultOptions())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	windows, err := s2.Fetch("app.web.latency_ms", nil, nil)
	if err != nil {
		t.Fatalf("Fetch after reopen: %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("expected 1 live window after recovery, got %d", len(windows))
	}
	if windows[0].Sketch.Count() != 3 {
		t.Errorf("expected recovered count 3, got %d", windows[0].Sketch.Count())
	}
}

func TestMetricFilenameEscapesSlashes(t *testing.T) {
	s := openTestStore(t)
	metric := "app/with/slash"
	if err := s.Insert(metric, 0, 60, sketchWith(1)); err == nil {
		t.Fatalf("expected Insert to reject a metric name containing '/'")
	}
	path := s.logPath(metric)
	if filepath.Base(path) != encodeMetricFilename(metric)+".log" {
		t.Errorf("unexpected log path %s", path)
	}
	if decodeMetricFilename(encodeMetricFilename(metric)) != metric {
		t.Errorf("filename encode/decode round trip failed for %q", metric)
	}
}
