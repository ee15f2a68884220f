// Package export writes downsample merge output to Parquet files for
// ad hoc SQL inspection. It is strictly a side channel: nothing in the
// insert/fetch/query path depends on it, and a write failure here never
// fails the merge that produced it.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/wedaly/caesium/internal/logging"
	"github.com/wedaly/caesium/internal/quantile"
)

var log = logging.Component("export")

// Row is one merged window, flattened for Parquet.
type Row struct {
	Metric string  `parquet:"metric,zstd"`
	Start  int64   `parquet:"start"`
	End    int64   `parquet:"end"`
	Count  int64   `parquet:"count"`
	P50    float64 `parquet:"p50"`
	P90    float64 `parquet:"p90"`
	P95    float64 `parquet:"p95"`
	P99    float64 `parquet:"p99"`
}

var exportPhis = []float64{0.5, 0.9, 0.95, 0.99}

// rowFromSketch computes Row's quantile columns from a merged sketch.
// An empty sketch (Count 0) writes zeroed quantiles rather than erroring:
// a tier merge of zero-count windows is itself degenerate but shouldn't
// take down the export sidecar.
func rowFromSketch(metric string, start, end uint64, sk *quantile.Sketch) Row {
	row := Row{Metric: metric, Start: int64(start), End: int64(end), Count: int64(sk.Count())}
	vals, err := sk.MultiQuantile(exportPhis...)
	if err != nil {
		return row
	}
	row.P50, row.P90, row.P95, row.P99 = float64(vals[0]), float64(vals[1]), float64(vals[2]), float64(vals[3])
	return row
}

// Compression selects the Parquet page compression codec.
type Compression int

const (
	CompressionZstd Compression = iota
	CompressionSnappy
	CompressionNone
)

// ParseCompression parses a config string into a Compression value,
// defaulting to zstd for anything unrecognized.
func ParseCompression(s string) Compression {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "none":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

func (c Compression) codec() compress.Codec {
	switch c {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionNone:
		return &parquet.Uncompressed
	default:
		return &parquet.Zstd
	}
}

// Writer appends merged-window rows to a rotating sequence of Parquet
// files under a directory, starting a new file every RowLimit rows.
type Writer struct {
	mu          sync.Mutex
	dir         string
	compression Compression
	rowLimit    int
	now         func() time.Time

	file     *os.File
	pw       *parquet.GenericWriter[Row]
	rowCount int
	closed   bool
}

// Options configures a Writer.
type Options struct {
	Dir         string
	Compression Compression
	// RowLimit rotates to a new file once the current one holds this
	// many rows. Zero disables rotation; there is no time-based
	// rotation.
	RowLimit int
}

// New creates a Writer that appends to files under opts.Dir, creating
// the directory if needed.
func New(opts Options) (*Writer, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("export: dir is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("export: create dir: %w", err)
	}
	w := &Writer{
		dir:         opts.Dir,
		compression: opts.Compression,
		rowLimit:    opts.RowLimit,
		now:         time.Now,
	}
	if err := w.openNewFile(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) openNewFile() error {
	name := fmt.Sprintf("windows-%d.parquet", w.now().UnixNano())
	path := filepath.Join(w.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create file: %w", err)
	}
	w.file = f
	w.pw = parquet.NewGenericWriter[Row](f, parquet.Compression(w.compression.codec()))
	w.rowCount = 0
	return nil
}

// WriteWindow appends one merged window's summary row, computing its
// quantile columns from sk. Called by the downsample engine right after
// it commits a merge to the window store; a failure here is logged and
// swallowed rather than propagated, since the merge itself already
// succeeded and must not be undone over an export hiccup.
func (w *Writer) WriteWindow(metric string, start, end uint64, sk *quantile.Sketch) {
	row := rowFromSketch(metric, start, end, sk)
	if err := w.writeRow(row); err != nil {
		log.Warn("export write failed", "metric", metric, "error", err)
	}
}

func (w *Writer) writeRow(row Row) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("export: writer is closed")
	}
	if w.rowLimit > 0 && w.rowCount >= w.rowLimit {
		if err := w.rotateLocked(); err != nil {
			return err
		}
	}

	if _, err := w.pw.Write([]Row{row}); err != nil {
		return fmt.Errorf("export: write row: %w", err)
	}
	w.rowCount++
	return nil
}

func (w *Writer) rotateLocked() error {
	if err := w.pw.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("export: close rotated file: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("export: close rotated file: %w", err)
	}
	return w.openNewFile()
}

// Close flushes and closes the current file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.pw.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("export: close writer: %w", err)
	}
	return w.file.Close()
}

// RowCount returns the number of rows written to the current file.
func (w *Writer) RowCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}
