package store

import (
	"time"

	"github.com/ssargent/ringrelay/pkg/codec"
)

// DefaultMaxSegmentSize is the size at which a record file rolls over to its
// next segment.
const DefaultMaxSegmentSize int64 = 2_000_000_000

// LogWriterConfig holds configuration for the log writer
type LogWriterConfig struct {
	FilePath       string        // Path of the first segment; later ones derive from it
	FsyncInterval  time.Duration // How often to fsync (0 = every write)
	BufferSize     int           // Write buffer size
	MaxSegmentSize int64         // Uncompressed bytes per segment (0 = DefaultMaxSegmentSize)

	// OnSegmentClosed is called, outside the writer lock, after each segment
	// is finished: on rollover and on Close.
	OnSegmentClosed func(SegmentInfo)
}

// LogReaderConfig holds configuration for the log reader
type LogReaderConfig struct {
	FilePath string // Path of the first segment
}

// SegmentInfo describes one finished segment of a record file.
type SegmentInfo struct {
	Path        string    `json:"path"`
	Index       int       `json:"index"`
	Records     int64     `json:"records"`
	Bytes       int64     `json:"bytes"`
	Compressed  bool      `json:"compressed"`
	Run         int       `json:"run"` // BEGIN_RUN records seen by the writer so far
	FirstRecord time.Time `json:"first_record"`
	LastRecord  time.Time `json:"last_record"`
	ClosedAt    time.Time `json:"closed_at"`
}

// RecordIterator provides streaming access to records
type RecordIterator interface {
	Next() bool
	Record() *codec.Record
	Err() error
	Close() error
}

// Errors
var (
	ErrCorruption = &StoreError{"data corruption detected"}
	ErrClosed     = &StoreError{"record file closed"}
)

// StoreError represents a record file error
type StoreError struct {
	Message string
}

func (e *StoreError) Error() string {
	return e.Message
}
