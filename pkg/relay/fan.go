//go:build unix

package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/ssargent/ringrelay/pkg/codec"
	errs "github.com/ssargent/ringrelay/pkg/errors"
	"github.com/ssargent/ringrelay/pkg/ringbuf"
)

// FanOut distributes records from one ring buffer over several, in strict
// round-robin order. A full destination holds up the whole relay.
type FanOut struct {
	base
	src *ringbuf.RingBuffer
	dst []*ringbuf.RingBuffer
}

// NewFanOut creates a fan-out relay.
func NewFanOut(src *ringbuf.RingBuffer, dst []*ringbuf.RingBuffer, opts Options) (*FanOut, error) {
	if len(dst) == 0 {
		return nil, fmt.Errorf("fan-out needs at least one destination: %w", errs.ErrInvalidConfig)
	}
	f := &FanOut{src: src, dst: dst}
	f.init("fanout", opts)
	return f, nil
}

// Run distributes records until a TERMINATE has been copied into every
// destination or ctx ends.
func (f *FanOut) Run(ctx context.Context) (err error) {
	defer func() { f.finish(err) }()
	f.setState(StateRunning)

	idle, full := f.idleWaiter(), f.fullWaiter()
	var buf []byte
	next := 0

	for {
		data, err := f.dequeue(ctx, f.src, buf, idle)
		if err != nil {
			return err
		}
		buf = data

		rec, err := codec.Decode(data)
		if err != nil {
			f.drop("decode", err, nil)
			continue
		}

		if rec.IsTerminate() {
			for i, dst := range f.dst {
				if err := f.enqueue(ctx, dst, data, full); err != nil {
					return fmt.Errorf("terminate to destination %d: %w", i, err)
				}
			}
			f.forwarded(rec)
			f.logger.Info("terminate forwarded", "destinations", len(f.dst))
			return nil
		}

		if err := f.enqueue(ctx, f.dst[next], data, full); err != nil {
			if errors.Is(err, ringbuf.ErrRecordTooLarge) {
				f.drop("too_large", err, rec)
				continue
			}
			return err
		}
		next = (next + 1) % len(f.dst)
		f.forwarded(rec)
	}
}

// FanIn merges several ring buffers into one, polling the sources in turn.
// Order is kept per source only.
type FanIn struct {
	base
	src []*ringbuf.RingBuffer
	dst *ringbuf.RingBuffer
}

// NewFanIn creates a fan-in relay.
func NewFanIn(src []*ringbuf.RingBuffer, dst *ringbuf.RingBuffer, opts Options) (*FanIn, error) {
	if len(src) == 0 {
		return nil, fmt.Errorf("fan-in needs at least one source: %w", errs.ErrInvalidConfig)
	}
	f := &FanIn{src: src, dst: dst}
	f.init("fanin", opts)
	return f, nil
}

// Run merges records until the first TERMINATE from any source has been
// forwarded, or ctx ends. Records still queued in other sources stay there.
func (f *FanIn) Run(ctx context.Context) (err error) {
	defer func() { f.finish(err) }()
	f.setState(StateRunning)

	idle, full := f.idleWaiter(), f.fullWaiter()
	var buf []byte
	next := 0

	for {
		var data []byte
		found := false
		for range f.src {
			src := f.src[next]
			next = (next + 1) % len(f.src)

			d, ok, err := src.TryDequeueInto(buf)
			if err != nil {
				return fmt.Errorf("dequeue %s: %w", src.Name(), err)
			}
			if ok {
				data, found = d, true
				break
			}
		}
		if !found {
			if err := idle.Wait(ctx); err != nil {
				return err
			}
			continue
		}
		idle.Reset()
		buf = data

		rec, err := codec.Decode(data)
		if err != nil {
			f.drop("decode", err, nil)
			continue
		}

		if err := f.enqueue(ctx, f.dst, data, full); err != nil {
			if errors.Is(err, ringbuf.ErrRecordTooLarge) && !rec.IsTerminate() {
				f.drop("too_large", err, rec)
				continue
			}
			return err
		}
		f.forwarded(rec)

		if rec.IsTerminate() {
			f.logger.Info("terminate forwarded")
			return nil
		}
	}
}

var _ Relay = (*FanOut)(nil)
var _ Relay = (*FanIn)(nil)
