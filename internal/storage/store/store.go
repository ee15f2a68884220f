// Package store implements the window store: a per-metric, crash-safe
// collection of (start, end, sketch) windows, backed by an append-only
// log per metric and an in-memory ordered index for fast fetch and
// search. It is the storage façade the server's ingestion and query
// services sit on top of.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	cserrors "github.com/wedaly/caesium/internal/errors"
	"github.com/wedaly/caesium/internal/logging"
	"github.com/wedaly/caesium/internal/quantile"
	"github.com/wedaly/caesium/internal/storage/windowlog"
	"github.com/wedaly/caesium/internal/validation"
)

// Window is a read-only snapshot of one stored window.
type Window struct {
	Metric string
	Start  uint64
	End    uint64
	Sketch *quantile.Sketch
}

// Store owns every metric's window log and in-memory index.
type Store struct {
	dir  string
	opts windowlog.Options

	mu      sync.RWMutex
	metrics map[string]*metricState
}

type metricState struct {
	mu       sync.RWMutex
	metric   string
	log      *windowlog.Log
	manifest *windowlog.Manifest
	entries  []entry // live, sorted ascending by Start
}

type entry struct {
	start, end uint64
	offset     int64
	sketch     *quantile.Sketch
}

// Open recovers every metric log found under dir and returns a ready
// Store. Unknown files are ignored; only the ".log" / ".manifest" pairs
// this package writes are recognized.
func Open(dir string, opts windowlog.Options) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("store: create dir %s: %w", dir, err)
	}

	s := &Store{
		dir:     dir,
		opts:    opts,
		metrics: make(map[string]*metricState),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("store: read dir %s: %w", dir, err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		metric := decodeMetricFilename(strings.TrimSuffix(e.Name(), ".log"))
		ms, err := s.recoverMetric(metric)
		if err != nil {
			return nil, fmt.Errorf("store: recover metric %q: %w", metric, err)
		}
		s.metrics[metric] = ms
	}

	return s, nil
}

// recoverMetric replays a metric's log, truncating a torn tail record if
// one is found, loads its manifest, and builds the in-memory index of
// live entries.
func (s *Store) recoverMetric(metric string) (*metricState, error) {
	logPath := s.logPath(metric)
	manifestPath := s.manifestPath(metric)

	records, validSize, err := windowlog.ReadAll(logPath)
	if err != nil {
		return nil, err
	}
	if info, statErr := os.Stat(logPath); statErr == nil && info.Size() != validSize {
		logging.Component("store").Warn("truncating torn window log tail",
			"metric", metric, "file_size", info.Size(), "valid_size", validSize)
		if err := windowlog.Truncate(logPath, validSize); err != nil {
			return nil, fmt.Errorf("truncate torn tail: %w", err)
		}
	}

	manifest, err := windowlog.LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	log, err := windowlog.Open(logPath, s.opts)
	if err != nil {
		return nil, err
	}

	ms := &metricState{metric: metric, log: log, manifest: manifest}
	for _, rec := range records {
		if manifest.IsDead(rec.Offset) {
			continue
		}
		sk := quantile.New()
		if err := sk.UnmarshalBinary(rec.Sketch); err != nil {
			return nil, fmt.Errorf("%w: metric %q offset %d: %v", cserrors.ErrCorruptRecord, metric, rec.Offset, err)
		}
		ms.entries = append(ms.entries, entry{start: rec.Start, end: rec.End, offset: rec.Offset, sketch: sk})
	}
	sort.Slice(ms.entries, func(i, j int) bool { return ms.entries[i].start < ms.entries[j].start })

	return ms, nil
}

func (s *Store) getOrCreateMetric(metric string) (*metricState, error) {
	s.mu.RLock()
	ms, ok := s.metrics[metric]
	s.mu.RUnlock()
	if ok {
		return ms, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ms, ok := s.metrics[metric]; ok {
		return ms, nil
	}

	log, err := windowlog.Open(s.logPath(metric), s.opts)
	if err != nil {
		return nil, err
	}
	manifest, err := windowlog.LoadManifest(s.manifestPath(metric))
	if err != nil {
		log.Close()
		return nil, err
	}

	ms = &metricState{metric: metric, log: log, manifest: manifest}
	s.metrics[metric] = ms
	return ms, nil
}

// Insert merges sk into the window [start, end) for metric, creating the
// window if it does not already exist. A partial overlap with a
// different window returns ErrWindowConflict.
func (s *Store) Insert(metric string, start, end uint64, sk *quantile.Sketch) error {
	if err := validation.ValidateMetricName(metric); err != nil {
		return err
	}
	if end <= start {
		return cserrors.ErrInvalidWindow
	}

	ms, err := s.getOrCreateMetric(metric)
	if err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	idx, exact := findWindow(ms.entries, start, end)
	if exact {
		merged := ms.entries[idx].sketch.Clone()
		if err := merged.Merge(sk); err != nil {
			return fmt.Errorf("store: merge window: %w", err)
		}
		return ms.replace(idx, idx, start, end, merged)
	}

	if conflicts(ms.entries, start, end) {
		return cserrors.ErrWindowConflict
	}

	data, err := sk.MarshalBinary()
	if err != nil {
		return fmt.Errorf("store: marshal sketch: %w", err)
	}
	offset, err := ms.log.Append(start, end, data)
	if err != nil {
		return err
	}

	ne := entry{start: start, end: end, offset: offset, sketch: sk.Clone()}
	pos := sort.Search(len(ms.entries), func(i int) bool { return ms.entries[i].start >= start })
	ms.entries = append(ms.entries, entry{})
	copy(ms.entries[pos+1:], ms.entries[pos:])
	ms.entries[pos] = ne

	return nil
}

// replace appends a merged sketch covering [start, end) as a new record,
// marks the old entries at [from, to] dead in the manifest, and updates
// the in-memory index — in that order, so a crash can only ever leave a
// harmless extra live record behind, never lose one.
func (ms *metricState) replace(from, to int, start, end uint64, merged *quantile.Sketch) error {
	data, err := merged.MarshalBinary()
	if err != nil {
		return fmt.Errorf("store: marshal merged sketch: %w", err)
	}
	offset, err := ms.log.Append(start, end, data)
	if err != nil {
		return err
	}

	dead := make([]int64, 0, to-from+1)
	for i := from; i <= to; i++ {
		dead = append(dead, ms.entries[i].offset)
	}
	if err := ms.manifest.MarkDead(dead...); err != nil {
		return fmt.Errorf("store: mark dead: %w", err)
	}

	ne := entry{start: start, end: end, offset: offset, sketch: merged}
	tail := append([]entry{}, ms.entries[to+1:]...)
	ms.entries = append(ms.entries[:from], ne)
	ms.entries = append(ms.entries, tail...)

	return nil
}

// Replace atomically supersedes the windows at [start, end) spanning
// positions matched against lo/hi with a single downsampled record
// covering the whole span. It is used by the compaction engine once it
// has merged a run of adjacent windows into one coarser sketch.
func (s *Store) Replace(metric string, lo, hi uint64, merged *quantile.Sketch) error {
	ms, err := s.getOrCreateMetric(metric)
	if err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	from := sort.Search(len(ms.entries), func(i int) bool { return ms.entries[i].start >= lo })
	to := from
	for to < len(ms.entries) && ms.entries[to].end <= hi {
		to++
	}
	to--
	if from > to {
		return fmt.Errorf("store: no windows found in [%d, %d) for metric %q", lo, hi, metric)
	}

	return ms.replace(from, to, ms.entries[from].start, ms.entries[to].end, merged)
}

// Fetch returns a snapshot of metric's windows intersecting [lo, hi), in
// ascending start order. A nil lo/hi pointer means unbounded on that
// side.
func (s *Store) Fetch(metric string, lo, hi *uint64) ([]Window, error) {
	s.mu.RLock()
	ms, ok := s.metrics[metric]
	s.mu.RUnlock()
	if !ok {
		return nil, cserrors.NewNotFound("metric", metric)
	}

	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]Window, 0, len(ms.entries))
	for _, e := range ms.entries {
		if lo != nil && e.end <= *lo {
			continue
		}
		if hi != nil && e.start >= *hi {
			continue
		}
		out = append(out, Window{Metric: metric, Start: e.start, End: e.end, Sketch: e.sketch.Clone()})
	}
	return out, nil
}

// Search returns every known metric name matching the glob pattern.
func (s *Store) Search(pattern string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for metric := range s.metrics {
		if validation.MatchGlob(pattern, metric) {
			out = append(out, metric)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Metrics returns every known metric name.
func (s *Store) Metrics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.metrics))
	for metric := range s.metrics {
		out = append(out, metric)
	}
	sort.Strings(out)
	return out
}

// Close flushes and closes every metric's log.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, ms := range s.metrics {
		if err := ms.log.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Store) logPath(metric string) string {
	return filepath.Join(s.dir, encodeMetricFilename(metric)+".log")
}

func (s *Store) manifestPath(metric string) string {
	return filepath.Join(s.dir, encodeMetricFilename(metric)+".manifest")
}

// encodeMetricFilename escapes '/' as "_2f_" so the result is a single
// filename component. Names accepted by Insert never contain '/', so a
// dotted metric name like "app.web.latency_ms" is used unchanged.
func encodeMetricFilename(metric string) string {
	return strings.ReplaceAll(metric, "/", "_2f_")
}

func decodeMetricFilename(name string) string {
	return strings.ReplaceAll(name, "_2f_", "/")
}

// findWindow returns the index of an entry with an exact (start, end)
// match, if any.
func findWindow(entries []entry, start, end uint64) (int, bool) {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].start >= start })
	if i < len(entries) && entries[i].start == start && entries[i].end == end {
		return i, true
	}
	return 0, false
}

// conflicts reports whether [start, end) partially overlaps any existing
// entry without matching it exactly.
func conflicts(entries []entry, start, end uint64) bool {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].end > start })
	for ; i < len(entries) && entries[i].start < end; i++ {
		if entries[i].start == start && entries[i].end == end {
			continue
		}
		return true
	}
	return false
}
