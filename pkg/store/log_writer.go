package store

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/ssargent/ringrelay/pkg/codec"
)

// LogWriter appends records to a sequential record file, rolling over to a
// new segment whenever the next record would push the current one past the
// configured size. Records are never split across segments.
type LogWriter struct {
	file       *os.File
	writer     *bufio.Writer
	gz         *gzip.Writer
	out        io.Writer
	fsyncTimer *time.Timer
	config     LogWriterConfig
	mutex      sync.Mutex
	closed     bool

	index   int
	offset  int64 // uncompressed bytes in the current segment
	current SegmentInfo
	total   int64
	runs    int
}

// NewLogWriter creates the first segment, replacing any earlier record file
// with the same base name.
func NewLogWriter(config LogWriterConfig) (*LogWriter, error) {
	if config.MaxSegmentSize <= 0 {
		config.MaxSegmentSize = DefaultMaxSegmentSize
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 64 * 1024
	}

	if err := os.MkdirAll(filepath.Dir(config.FilePath), 0750); err != nil {
		return nil, err
	}
	// stale segments from an earlier run would be read as part of this one
	if err := RemoveSegments(config.FilePath, 1); err != nil {
		return nil, err
	}

	w := &LogWriter{config: config}
	if err := w.openSegment(0); err != nil {
		return nil, err
	}

	if config.FsyncInterval > 0 {
		w.fsyncTimer = time.AfterFunc(config.FsyncInterval, func() {
			w.mutex.Lock()
			defer w.mutex.Unlock()
			if !w.closed {
				w.sync()
			}
		})
	}

	return w, nil
}

func (w *LogWriter) openSegment(index int) error {
	path := SegmentPath(w.config.FilePath, index)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}

	w.file = file
	w.writer = bufio.NewWriterSize(file, w.config.BufferSize)
	w.out = w.writer
	w.gz = nil
	if IsCompressed(w.config.FilePath) {
		w.gz = gzip.NewWriter(w.writer)
		w.out = w.gz
	}
	w.index = index
	w.offset = 0
	w.current = SegmentInfo{
		Path:       path,
		Index:      index,
		Compressed: w.gz != nil,
		Run:        w.runs,
	}
	return nil
}

// closeSegment finishes the current segment and returns its description.
func (w *LogWriter) closeSegment() (SegmentInfo, error) {
	if w.gz != nil {
		if err := w.gz.Close(); err != nil {
			w.file.Close()
			return SegmentInfo{}, err
		}
	}
	if err := w.sync(); err != nil {
		w.file.Close()
		return SegmentInfo{}, err
	}
	if err := w.file.Close(); err != nil {
		return SegmentInfo{}, err
	}

	info := w.current
	info.ClosedAt = time.Now()
	return info, nil
}

// Put appends one record and returns its offset within the current segment.
func (w *LogWriter) Put(rec *codec.Record) (int64, error) {
	finished, offset, err := w.put(rec)
	if finished != nil && w.config.OnSegmentClosed != nil {
		w.config.OnSegmentClosed(*finished)
	}
	return offset, err
}

func (w *LogWriter) put(rec *codec.Record) (*SegmentInfo, int64, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.closed {
		return nil, 0, ErrClosed
	}

	var finished *SegmentInfo
	size := int64(rec.Size())
	if w.offset > 0 && w.offset+size > w.config.MaxSegmentSize {
		info, err := w.closeSegment()
		if err != nil {
			return nil, 0, err
		}
		finished = &info
		if err := w.openSegment(w.index + 1); err != nil {
			w.closed = true
			return finished, 0, err
		}
	}

	n, err := w.out.Write(rec.Bytes())
	if err != nil {
		return finished, 0, err
	}

	recordOffset := w.offset
	w.offset += int64(n)
	w.total += int64(n)

	if rec.Type() == codec.TypeBeginRun {
		w.runs++
		w.current.Run = w.runs
	}

	ts := rec.Time()
	if w.current.Records == 0 {
		w.current.FirstRecord = ts
	}
	w.current.LastRecord = ts
	w.current.Records++
	w.current.Bytes += int64(n)

	if w.config.FsyncInterval == 0 {
		if err := w.sync(); err != nil {
			return finished, 0, err
		}
	} else if w.fsyncTimer != nil {
		w.fsyncTimer.Reset(w.config.FsyncInterval)
	}

	return finished, recordOffset, nil
}

// Sync forces a fsync to disk
func (w *LogWriter) Sync() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.sync()
}

// sync flushes every buffered layer and fsyncs the segment
func (w *LogWriter) sync() error {
	if w.gz != nil {
		if err := w.gz.Flush(); err != nil {
			return err
		}
	}
	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Close finishes the current segment.
func (w *LogWriter) Close() error {
	w.mutex.Lock()
	if w.closed {
		w.mutex.Unlock()
		return nil
	}
	w.closed = true
	if w.fsyncTimer != nil {
		w.fsyncTimer.Stop()
	}
	info, err := w.closeSegment()
	w.mutex.Unlock()

	if err == nil && w.config.OnSegmentClosed != nil {
		w.config.OnSegmentClosed(info)
	}
	return err
}

// Size returns the uncompressed size of the current segment
func (w *LogWriter) Size() int64 {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.offset
}

// TotalSize returns the uncompressed bytes written across all segments
func (w *LogWriter) TotalSize() int64 {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.total
}

// Path returns the current segment path
func (w *LogWriter) Path() string {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.current.Path
}

// Segment returns the index of the current segment
func (w *LogWriter) Segment() int {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.index
}
