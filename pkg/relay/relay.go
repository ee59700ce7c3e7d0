//go:build unix

// Package relay implements the processes that move records between ring
// buffers, sockets and record files. Each relay is a single loop that runs
// until it forwards a TERMINATE record, fails fatally, or its context ends.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ssargent/ringrelay/pkg/api"
	"github.com/ssargent/ringrelay/pkg/codec"
	"github.com/ssargent/ringrelay/pkg/flowstats"
	"github.com/ssargent/ringrelay/pkg/ringbuf"
)

// State is the lifecycle state of a relay.
type State int32

const (
	StateRunning State = iota
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateReconnecting:
		return "RECONNECTING"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Relay is a record pump.
type Relay interface {
	Run(ctx context.Context) error
	State() State
	Snapshot() flowstats.Snapshot
}

const (
	DefaultIdleWait      = 20 * time.Microsecond
	DefaultFullWait      = 200 * time.Microsecond
	DefaultStatsInterval = 10 * time.Second
)

// Options are shared by every relay.
type Options struct {
	Name string // label used in logs and metrics
	ID   int    // flow stats slot

	Logger  *slog.Logger
	Metrics *api.Metrics     // optional
	Stats   *flowstats.Table // optional

	IdleWait      time.Duration // wait between polls of an empty ring buffer
	FullWait      time.Duration // wait between attempts on a full ring buffer
	MaxWait       time.Duration // caps backoff of both waits; 0 keeps them fixed
	StatsInterval time.Duration
}

func (o *Options) setDefaults(kind string) {
	if o.Name == "" {
		o.Name = kind
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.IdleWait <= 0 {
		o.IdleWait = DefaultIdleWait
	}
	if o.FullWait <= 0 {
		o.FullWait = DefaultFullWait
	}
	if o.StatsInterval <= 0 {
		o.StatsInterval = DefaultStatsInterval
	}
}

// base carries the state machine, counters and reporting common to all relays.
type base struct {
	opts   Options
	logger *slog.Logger

	state      atomic.Int32
	records    atomic.Uint64
	bytes      atomic.Uint64
	reconnects atomic.Uint64
	dropped    atomic.Uint64
	terminates atomic.Uint64

	reportMu    sync.Mutex
	lastReport  time.Time
	lastRecords uint64
	lastBytes   uint64
}

func (b *base) init(kind string, opts Options) {
	opts.setDefaults(kind)
	b.opts = opts
	b.logger = opts.Logger.With("relay", opts.Name, "id", opts.ID)
	b.lastReport = time.Now()
}

// State returns the current state.
func (b *base) State() State {
	return State(b.state.Load())
}

// Records returns the number of records forwarded.
func (b *base) Records() uint64 {
	return b.records.Load()
}

// Dropped returns the number of records lost.
func (b *base) Dropped() uint64 {
	return b.dropped.Load()
}

// Reconnects returns the number of successful reconnections.
func (b *base) Reconnects() uint64 {
	return b.reconnects.Load()
}

// Terminates returns the number of TERMINATE records forwarded.
func (b *base) Terminates() uint64 {
	return b.terminates.Load()
}

func (b *base) setState(s State) {
	if State(b.state.Swap(int32(s))) == s {
		return
	}
	b.logger.Debug("relay state", "state", s.String())
	if b.opts.Metrics != nil {
		b.opts.Metrics.SetRelayState(b.opts.Name, int(s))
	}
	b.publish()
}

// forwarded accounts for one record that reached its destination.
func (b *base) forwarded(rec *codec.Record) {
	b.records.Add(1)
	b.bytes.Add(uint64(rec.Size()))
	if rec.IsTerminate() {
		b.terminates.Add(1)
		if b.opts.Metrics != nil {
			b.opts.Metrics.RecordTerminate(b.opts.Name)
		}
	}
	if b.opts.Metrics != nil {
		b.opts.Metrics.RecordRecord(b.opts.Name, rec.Type().String(), rec.Size())
	}
	b.report(false)
}

func (b *base) drop(reason string, err error, rec *codec.Record) {
	b.dropped.Add(1)
	attrs := []any{"reason", reason, "error", err}
	if rec != nil {
		attrs = append(attrs, "type", rec.Type().String(), "size", rec.Size())
	}
	b.logger.Error("record dropped", attrs...)
	if b.opts.Metrics != nil {
		b.opts.Metrics.RecordDrop(b.opts.Name, reason)
	}
}

// Snapshot returns the relay's counters.
func (b *base) Snapshot() flowstats.Snapshot {
	return flowstats.Snapshot{
		ID:         b.opts.ID,
		Name:       b.opts.Name,
		State:      b.State().String(),
		Records:    b.records.Load(),
		Bytes:      b.bytes.Load(),
		Reconnects: b.reconnects.Load(),
		Dropped:    b.dropped.Load(),
		Terminates: b.terminates.Load(),
		Updated:    time.Now(),
	}
}

func (b *base) publish() {
	if b.opts.Stats == nil {
		return
	}
	if err := b.opts.Stats.Publish(b.Snapshot()); err != nil {
		b.logger.Warn("failed to publish flow stats", "error", err)
	}
}

// report logs flow statistics once per StatsInterval, or now when forced.
func (b *base) report(force bool) {
	now := time.Now()
	b.reportMu.Lock()
	elapsed := now.Sub(b.lastReport)
	if !force && elapsed < b.opts.StatsInterval {
		b.reportMu.Unlock()
		return
	}
	records, bytes := b.records.Load(), b.bytes.Load()
	dr, db := records-b.lastRecords, bytes-b.lastBytes
	b.lastReport, b.lastRecords, b.lastBytes = now, records, bytes
	b.reportMu.Unlock()

	var perRecord, rate, mbps float64
	if dr > 0 {
		perRecord = float64(db) / float64(dr)
	}
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(dr) / secs
		mbps = float64(db) / secs / 1e6
	}
	b.logger.Info("flow",
		"records", records,
		"bytes", bytes,
		"bytes_per_record", perRecord,
		"records_per_sec", rate,
		"mb_per_sec", mbps,
		"dropped", b.dropped.Load(),
		"reconnects", b.reconnects.Load())
	b.publish()
}

// finish marks the relay stopped and emits a final report.
func (b *base) finish(err error) {
	b.setState(StateStopped)
	b.report(true)
	if err != nil {
		b.logger.Error("relay stopped", "error", err)
	} else {
		b.logger.Info("relay stopped")
	}
}

// dequeue polls src until a record arrives or ctx ends. The returned slice
// reuses buf when it is large enough.
func (b *base) dequeue(ctx context.Context, src *ringbuf.RingBuffer, buf []byte, w *Waiter) ([]byte, error) {
	for {
		data, ok, err := src.TryDequeueInto(buf)
		if err != nil {
			return nil, err
		}
		if ok {
			w.Reset()
			return data, nil
		}
		if err := w.Wait(ctx); err != nil {
			return nil, err
		}
	}
}

// enqueue retries until dst accepts data or ctx ends.
func (b *base) enqueue(ctx context.Context, dst *ringbuf.RingBuffer, data []byte, w *Waiter) error {
	for {
		ok, err := dst.TryEnqueueBytes(data)
		if err != nil {
			return err
		}
		if ok {
			w.Reset()
			return nil
		}
		if err := w.Wait(ctx); err != nil {
			return err
		}
	}
}

func (b *base) idleWaiter() *Waiter {
	return NewWaiter(b.opts.IdleWait, b.opts.MaxWait)
}

func (b *base) fullWaiter() *Waiter {
	return NewWaiter(b.opts.FullWait, b.opts.MaxWait)
}

// Waiter sleeps between attempts on an empty or full ring buffer, doubling
// the interval after each consecutive wait up to a cap.
type Waiter struct {
	min, max, cur time.Duration
}

// NewWaiter returns a waiter starting at min. A max at or below min keeps the
// interval fixed.
func NewWaiter(min, max time.Duration) *Waiter {
	if max < min {
		max = min
	}
	return &Waiter{min: min, max: max, cur: min}
}

// Wait sleeps for the current interval.
func (w *Waiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	time.Sleep(w.cur)
	if w.cur < w.max {
		w.cur = min(w.cur*2, w.max)
	}
	return ctx.Err()
}

// Reset returns to the minimum interval.
func (w *Waiter) Reset() {
	w.cur = w.min
}

// Current returns the interval of the next wait.
func (w *Waiter) Current() time.Duration {
	return w.cur
}
