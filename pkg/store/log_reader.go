package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/ssargent/ringrelay/pkg/codec"
)

// LogReader provides sequential access to the records of a record file,
// moving on to the next segment transparently.
type LogReader struct {
	file   *os.File
	gz     *gzip.Reader
	reader io.Reader
	config LogReaderConfig

	index   int
	offset  int64
	records int64
	buf     []byte
}

// NewLogReader opens the first segment of the record file
func NewLogReader(config LogReaderConfig) (*LogReader, error) {
	r := &LogReader{
		config: config,
		buf:    make([]byte, 64*1024),
	}
	if err := r.openSegment(0); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *LogReader) openSegment(index int) error {
	file, err := os.Open(SegmentPath(r.config.FilePath, index))
	if err != nil {
		return err
	}

	r.file = file
	r.gz = nil
	r.reader = bufio.NewReaderSize(file, 64*1024)
	if IsCompressed(r.config.FilePath) {
		gz, err := gzip.NewReader(r.reader)
		if err != nil {
			file.Close()
			return fmt.Errorf("%s: %w: %w", file.Name(), ErrCorruption, err)
		}
		r.gz = gz
		r.reader = gz
	}
	r.index = index
	r.offset = 0
	return nil
}

func (r *LogReader) closeSegment() {
	if r.gz != nil {
		r.gz.Close()
	}
	r.file.Close()
}

// ReadNext returns the next record. The record borrows the reader's buffer and
// is valid until the next call. io.EOF marks the end of the last segment.
func (r *LogReader) ReadNext() (*codec.Record, error) {
	if r.file == nil {
		return nil, ErrClosed
	}

	hdr := r.buf[:codec.HeaderSize]
	for {
		_, err := io.ReadFull(r.reader, hdr)
		if err == nil {
			break
		}
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%s: truncated header at %d: %w", r.Path(), r.offset, ErrCorruption)
		}
		if err != io.EOF {
			return nil, err
		}

		// end of this segment; the next one may or may not exist
		next := SegmentPath(r.config.FilePath, r.index+1)
		if _, statErr := os.Stat(next); errors.Is(statErr, os.ErrNotExist) {
			return nil, io.EOF
		}
		r.closeSegment()
		if err := r.openSegment(r.index + 1); err != nil {
			r.file = nil
			return nil, err
		}
	}

	size, err := codec.ParseSize(hdr)
	if err != nil {
		return nil, fmt.Errorf("%s at %d: %w: %w", r.Path(), r.offset, ErrCorruption, err)
	}

	padded := (size + 3) &^ 3
	if padded > len(r.buf) {
		grown := make([]byte, padded)
		copy(grown, hdr)
		r.buf = grown
	}
	clear(r.buf[size:padded])

	if _, err := io.ReadFull(r.reader, r.buf[codec.HeaderSize:size]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%s: truncated record at %d: %w", r.Path(), r.offset, ErrCorruption)
		}
		return nil, err
	}
	r.offset += int64(size)
	r.records++

	return codec.Decode(r.buf[:padded])
}

// Offset returns the read offset within the current segment
func (r *LogReader) Offset() int64 {
	return r.offset
}

// Segment returns the index of the current segment
func (r *LogReader) Segment() int {
	return r.index
}

// Path returns the current segment path
func (r *LogReader) Path() string {
	return SegmentPath(r.config.FilePath, r.index)
}

// Records returns how many records have been read
func (r *LogReader) Records() int64 {
	return r.records
}

// Iterator returns a streaming iterator for records
func (r *LogReader) Iterator() RecordIterator {
	return &logRecordIterator{reader: r}
}

// Close closes the log reader
func (r *LogReader) Close() error {
	if r.file == nil {
		return nil
	}
	if r.gz != nil {
		r.gz.Close()
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// logRecordIterator implements RecordIterator for streaming access
type logRecordIterator struct {
	reader *LogReader
	record *codec.Record
	err    error
}

func (it *logRecordIterator) Next() bool {
	it.record, it.err = it.reader.ReadNext()
	return it.err == nil
}

func (it *logRecordIterator) Record() *codec.Record {
	return it.record
}

// Err returns the error that stopped iteration, or nil at a clean end.
func (it *logRecordIterator) Err() error {
	if it.err == io.EOF {
		return nil
	}
	return it.err
}

func (it *logRecordIterator) Close() error {
	// Don't close the underlying reader as it's owned by the caller
	return nil
}
