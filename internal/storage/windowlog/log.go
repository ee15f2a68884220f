package windowlog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// SyncMode controls how aggressively a Log flushes to stable storage.
type SyncMode int

const (
	// SyncAsync buffers writes and relies on a periodic background sync.
	SyncAsync SyncMode = iota
	// SyncOnWrite flushes the buffered writer after every append, but
	// leaves the fsync to the operating system's page cache.
	SyncOnWrite
	// SyncFsync calls fsync after every append.
	SyncFsync
)

// Options configures a Log.
type Options struct {
	SyncMode     SyncMode
	SyncInterval time.Duration
	BufferSize   int
}

// DefaultOptions returns reasonable defaults for a window log.
func DefaultOptions() Options {
	return Options{
		SyncMode:     SyncOnWrite,
		SyncInterval: time.Second,
		BufferSize:   64 * 1024,
	}
}

// StoredRecord is a Record plus its byte offset within the log file,
// used by callers to address records for tombstoning in the manifest.
type StoredRecord struct {
	Record
	Offset int64
}

// Log is a single metric's append-only, crash-safe record log. A Log is
// safe for concurrent use; callers typically still hold a per-metric
// lock above it to keep append order consistent with their in-memory
// index.
type Log struct {
	path string
	opts Options

	mu      sync.Mutex
	file    *os.File
	w       *bufio.Writer
	offset  int64
	closed  bool
	stopSync chan struct{}
	syncDone chan struct{}
}

// Open opens or creates the log file at path and positions for
// appending after its current contents.
func Open(path string, opts Options) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("windowlog: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("windowlog: stat %s: %w", path, err)
	}

	var offset int64
	if info.Size() == 0 {
		if _, err := f.Write(encodeFileHeader()); err != nil {
			f.Close()
			return nil, fmt.Errorf("windowlog: write header %s: %w", path, err)
		}
		offset = fileHeaderSize
	} else {
		offset = info.Size()
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("windowlog: seek %s: %w", path, err)
	}

	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions().BufferSize
	}

	l := &Log{
		path:    path,
		opts:    opts,
		file:    f,
		w:       bufio.NewWriterSize(f, opts.BufferSize),
		offset:  offset,
	}

	if opts.SyncMode == SyncAsync {
		l.stopSync = make(chan struct{})
		l.syncDone = make(chan struct{})
		go l.syncLoop()
	}

	return l, nil
}

func (l *Log) syncLoop() {
	defer close(l.syncDone)
	interval := l.opts.SyncInterval
	if interval <= 0 {
		interval = DefaultOptions().SyncInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			if !l.closed {
				l.w.Flush()
				l.file.Sync()
			}
			l.mu.Unlock()
		case <-l.stopSync:
			return
		}
	}
}

// Append writes a new record and returns the byte offset it was written
// at, for later use as a tombstone key in a Manifest.
func (l *Log) Append(start, end uint64, sketch []byte) (int64, error) {
	encoded := encodeRecord(Record{Start: start, End: end, Sketch: sketch})

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, fmt.Errorf("windowlog: log closed")
	}

	offset := l.offset
	if _, err := l.w.Write(encoded); err != nil {
		return 0, fmt.Errorf("windowlog: append: %w", err)
	}
	l.offset += int64(len(encoded))

	switch l.opts.SyncMode {
	case SyncOnWrite:
		if err := l.w.Flush(); err != nil {
			return 0, fmt.Errorf("windowlog: flush: %w", err)
		}
	case SyncFsync:
		if err := l.w.Flush(); err != nil {
			return 0, fmt.Errorf("windowlog: flush: %w", err)
		}
		if err := l.file.Sync(); err != nil {
			return 0, fmt.Errorf("windowlog: fsync: %w", err)
		}
	}

	return offset, nil
}

// Sync flushes any buffered writes and fsyncs the underlying file.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	if err := l.w.Flush(); err != nil {
		return err
	}
	return l.file.Sync()
}

// Close flushes and closes the log file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.stopSync != nil {
		close(l.stopSync)
	}
	err := l.w.Flush()
	if syncErr := l.file.Sync(); err == nil {
		err = syncErr
	}
	if closeErr := l.file.Close(); err == nil {
		err = closeErr
	}
	if l.syncDone != nil {
		<-l.syncDone
	}
	return err
}

// ReadAll replays every well-formed record in path from the start of the
// file. Unlike a tailing reader that skips a corrupt record and keeps
// going, ReadAll stops at the first corrupt or truncated record: a
// window log's records are strictly ordered by append time, so a torn
// write can only ever be the last one, and anything after it is not
// trustworthy either. validSize is the byte offset one past the last
// well-formed record; callers pass it to Truncate to drop a torn tail
// before reopening the log for appending. validSize equals the file's
// current size when no tear was found.
func ReadAll(path string) (records []StoredRecord, validSize int64, err error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("windowlog: open %s: %w", path, err)
	}
	defer f.Close()

	header := make([]byte, fileHeaderSize)
	n, err := io.ReadFull(f, header)
	if err == io.EOF || (err == io.ErrUnexpectedEOF && n == 0) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("windowlog: read header %s: %w", path, err)
	}
	if err := decodeFileHeader(header); err != nil {
		return nil, 0, fmt.Errorf("windowlog: %s: %w", path, err)
	}

	r := bufio.NewReader(f)
	offset := int64(fileHeaderSize)

	for {
		recHeader := make([]byte, recordHeaderSize)
		n, err := io.ReadFull(r, recHeader)
		if err == io.EOF {
			return records, offset, nil
		}
		if err != nil || n != recordHeaderSize {
			return records, offset, nil
		}

		length := binary.BigEndian.Uint32(recHeader[0:4])
		crc := binary.BigEndian.Uint32(recHeader[4:8])
		if length < recordBodyFixed || length > maxRecordBody {
			return records, offset, nil
		}

		body := make([]byte, length)
		if _, err := io.ReadFull(r, body); err != nil {
			return records, offset, nil
		}

		rec, err := decodeRecordBody(body, crc)
		if err != nil {
			return records, offset, nil
		}

		records = append(records, StoredRecord{Record: rec, Offset: offset})
		offset += int64(recordHeaderSize) + int64(length)
	}
}

// Truncate cuts the log file at offset, discarding a detected torn tail
// record so subsequent appends resume cleanly. Callers invoke this once
// at startup recovery, before any new Log is opened for appending.
func Truncate(path string, offset int64) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("windowlog: truncate open %s: %w", path, err)
	}
	defer f.Close()
	if err := f.Truncate(offset); err != nil {
		return fmt.Errorf("windowlog: truncate %s: %w", path, err)
	}
	return f.Sync()
}
