//go:build unix

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ssargent/ringrelay/pkg/codec"
	"github.com/ssargent/ringrelay/pkg/ringbuf"
	"github.com/ssargent/ringrelay/pkg/store"
)

// RingToFile appends records from a ring buffer to a sequential record file.
// The TERMINATE that ends the run is not written; it closes the file set.
type RingToFile struct {
	base
	src *ringbuf.RingBuffer
	w   *store.LogWriter
}

// NewRingToFile creates an rb2file relay. The relay owns w and closes it when
// Run returns.
func NewRingToFile(src *ringbuf.RingBuffer, w *store.LogWriter, opts Options) *RingToFile {
	r := &RingToFile{src: src, w: w}
	r.init("rb2file", opts)
	return r
}

// Run writes records until TERMINATE, a write failure, or the end of ctx.
func (r *RingToFile) Run(ctx context.Context) (err error) {
	defer func() { r.finish(err) }()
	defer func() {
		if cerr := r.w.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", r.w.Path(), cerr)
		}
	}()
	r.setState(StateRunning)

	idle := r.idleWaiter()
	var buf []byte

	for {
		data, err := r.dequeue(ctx, r.src, buf, idle)
		if err != nil {
			return err
		}
		buf = data

		rec, err := codec.Decode(data)
		if err != nil {
			r.drop("decode", err, nil)
			continue
		}

		if rec.IsTerminate() {
			r.forwarded(rec)
			r.logger.Info("terminate received, closing file",
				"segments", r.w.Segment()+1,
				"bytes", r.w.TotalSize())
			return nil
		}

		if _, err := r.w.Put(rec); err != nil {
			return fmt.Errorf("write %s: %w", r.w.Path(), err)
		}
		r.forwarded(rec)
	}
}

// FileToRing replays a sequential record file into a ring buffer.
type FileToRing struct {
	base
	r   *store.LogReader
	dst *ringbuf.RingBuffer

	// EmitTerminate enqueues a TERMINATE after the last record of the file
	// set, unless the file ended with one already.
	EmitTerminate bool
}

// NewFileToRing creates a file2rb relay. The relay owns r and closes it when
// Run returns.
func NewFileToRing(r *store.LogReader, dst *ringbuf.RingBuffer, opts Options) *FileToRing {
	f := &FileToRing{r: r, dst: dst, EmitTerminate: true}
	f.init("file2rb", opts)
	return f
}

// Run replays records until the end of the file set or a TERMINATE in it.
func (f *FileToRing) Run(ctx context.Context) (err error) {
	defer func() { f.finish(err) }()
	defer f.r.Close()
	f.setState(StateRunning)

	full := f.fullWaiter()

	for {
		rec, err := f.r.ReadNext()
		if errors.Is(err, io.EOF) {
			f.logger.Info("end of file set", "records", f.r.Records(), "segments", f.r.Segment()+1)
			if !f.EmitTerminate {
				return nil
			}
			rec = codec.NewRecordCodec().Terminate()
		} else if err != nil {
			return fmt.Errorf("read %s: %w", f.r.Path(), err)
		}

		if err := f.enqueue(ctx, f.dst, rec.Padded(), full); err != nil {
			if errors.Is(err, ringbuf.ErrRecordTooLarge) && !rec.IsTerminate() {
				f.drop("too_large", err, rec)
				continue
			}
			return err
		}
		f.forwarded(rec)

		if rec.IsTerminate() {
			return nil
		}
	}
}

var _ Relay = (*RingToFile)(nil)
var _ Relay = (*FileToRing)(nil)
