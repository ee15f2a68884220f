// Package exec compiles a parsed query AST into a lazy execution
// pipeline over window streams, and evaluates it into either a
// quantile table or a metric-name list.
package exec

import (
	"container/heap"
	"sort"

	cserrors "github.com/wedaly/caesium/internal/errors"
	"github.com/wedaly/caesium/internal/quantile"
	"github.com/wedaly/caesium/internal/storage/store"
)

// Stream is a lazy iterator over (start, end, sketch) windows ordered
// by start, the runtime counterpart of lang.KindWindowStream.
type Stream interface {
	// Next returns the next window. ok is false once the stream is
	// exhausted; err is non-nil only on failure.
	Next() (w store.Window, ok bool, err error)
}

// sliceStream iterates a pre-fetched, already start-ordered slice.
type sliceStream struct {
	windows []store.Window
	pos     int
}

func newSliceStream(windows []store.Window) *sliceStream {
	return &sliceStream{windows: windows}
}

func (s *sliceStream) Next() (store.Window, bool, error) {
	if s.pos >= len(s.windows) {
		return store.Window{}, false, nil
	}
	w := s.windows[s.pos]
	s.pos++
	return w, true, nil
}

// coalesceStream drains its input entirely and emits a single merged
// window spanning the input's full start/end range.
type coalesceStream struct {
	input Stream
	done  bool
}

func (s *coalesceStream) Next() (store.Window, bool, error) {
	if s.done {
		return store.Window{}, false, nil
	}
	s.done = true

	var (
		minStart = ^uint64(0)
		maxEnd   uint64
		merged   *quantile.Sketch
		metric   string
		sawInput bool
	)
	for {
		w, ok, err := s.input.Next()
		if err != nil {
			return store.Window{}, false, err
		}
		if !ok {
			break
		}
		sawInput = true
		metric = w.Metric
		if w.Start < minStart {
			minStart = w.Start
		}
		if w.End > maxEnd {
			maxEnd = w.End
		}
		if merged == nil {
			merged = w.Sketch.Clone()
		} else if err := merged.Merge(w.Sketch); err != nil {
			return store.Window{}, false, err
		}
	}
	if !sawInput {
		return store.Window{}, false, nil
	}
	return store.Window{Metric: metric, Start: minStart, End: maxEnd, Sketch: merged}, true, nil
}

// combineHeapItem is one pending window from one combine input, kept
// in a min-heap ordered by start so the k-way merge below always
// considers the earliest-starting window next.
type combineHeapItem struct {
	w store.Window
}

type combineHeap []combineHeapItem

func (h combineHeap) Len() int            { return len(h) }
func (h combineHeap) Less(i, j int) bool  { return h[i].w.Start < h[j].w.Start }
func (h combineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *combineHeap) Push(x interface{}) { *h = append(*h, x.(combineHeapItem)) }
func (h *combineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// combineStream merges windows with identical (start, end) boundaries
// across its inputs into one sketch, and passes disjoint windows
// through unchanged. It materializes its full result eagerly since
// the merge decision for one window can depend on any other input.
type combineStream struct {
	inputs  []Stream
	results []store.Window
	pos     int
	built   bool
}

func newCombineStream(inputs []Stream) *combineStream {
	return &combineStream{inputs: inputs}
}

func (s *combineStream) Next() (store.Window, bool, error) {
	if !s.built {
		if err := s.build(); err != nil {
			return store.Window{}, false, err
		}
		s.built = true
	}
	if s.pos >= len(s.results) {
		return store.Window{}, false, nil
	}
	w := s.results[s.pos]
	s.pos++
	return w, true, nil
}

func (s *combineStream) build() error {
	h := &combineHeap{}
	heap.Init(h)
	for _, in := range s.inputs {
		for {
			w, ok, err := in.Next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			heap.Push(h, combineHeapItem{w: w})
		}
	}

	var results []store.Window
	for h.Len() > 0 {
		x := heap.Pop(h).(combineHeapItem).w
		if h.Len() == 0 {
			results = append(results, x)
			continue
		}
		y := heap.Pop(h).(combineHeapItem).w

		switch {
		case x.End <= y.Start || x.Start >= y.End:
			// Disjoint: x is done (nothing left can start before it),
			// put y back for the next round.
			results = append(results, x)
			heap.Push(h, combineHeapItem{w: y})
		case x.Start == y.Start && x.End == y.End:
			merged := x.Sketch.Clone()
			if err := merged.Merge(y.Sketch); err != nil {
				return err
			}
			heap.Push(h, combineHeapItem{w: store.Window{Metric: x.Metric, Start: x.Start, End: x.End, Sketch: merged}})
		default:
			return cserrors.ErrBadCombineSpan
		}
	}
	s.results = results
	return nil
}

// GroupBucket mirrors lang.GroupBucket without importing the lang
// package, keeping exec usable by anything that can produce a bucket
// size in seconds.
type GroupBucket int

const (
	GroupMinutes GroupBucket = iota
	GroupHours
	GroupDays
)

func bucketSizeSeconds(b GroupBucket) uint64 {
	switch b {
	case GroupMinutes:
		return 60
	case GroupHours:
		return 3600
	case GroupDays:
		return 86400
	default:
		return 1
	}
}

// groupStream re-buckets its input onto calendar-aligned UTC windows
// of the given granularity, merging every window whose start falls in
// the same bucket. It materializes its input eagerly, matching the
// upstream implementation's bucket-map approach: a bucket's final
// merged sketch isn't known until every contributing window is seen.
type groupStream struct {
	input  Stream
	bucket GroupBucket
	built  bool
	order  []uint64
	pos    int
	byKey  map[uint64]*groupEntry
	metric string
}

type groupEntry struct {
	sketch *quantile.Sketch
}

func newGroupStream(bucket GroupBucket, input Stream) *groupStream {
	return &groupStream{bucket: bucket, input: input, byKey: make(map[uint64]*groupEntry)}
}

func (s *groupStream) Next() (store.Window, bool, error) {
	if !s.built {
		if err := s.build(); err != nil {
			return store.Window{}, false, err
		}
		s.built = true
	}
	if s.pos >= len(s.order) {
		return store.Window{}, false, nil
	}
	key := s.order[s.pos]
	s.pos++
	size := bucketSizeSeconds(s.bucket)
	entry := s.byKey[key]
	return store.Window{Metric: s.metric, Start: key * size, End: key*size + size, Sketch: entry.sketch}, true, nil
}

func (s *groupStream) build() error {
	size := bucketSizeSeconds(s.bucket)
	for {
		w, ok, err := s.input.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		s.metric = w.Metric
		key := w.Start / size
		entry, exists := s.byKey[key]
		if !exists {
			entry = &groupEntry{sketch: w.Sketch.Clone()}
			s.byKey[key] = entry
			s.order = append(s.order, key)
			continue
		}
		if err := entry.sketch.Merge(w.Sketch); err != nil {
			return err
		}
	}
	sort.Slice(s.order, func(i, j int) bool { return s.order[i] < s.order[j] })
	return nil
}
