//go:build unix

package relay

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ssargent/ringrelay/pkg/api"
	"github.com/ssargent/ringrelay/pkg/flowstats"
	"github.com/ssargent/ringrelay/pkg/ringbuf"
)

// Group runs the relays of one process and reports on them and on the ring
// buffers they use.
type Group struct {
	mu     sync.Mutex
	relays []Relay
	rings  []*ringbuf.RingBuffer
}

// Add registers relays to be run by Run.
func (g *Group) Add(r ...Relay) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.relays = append(g.relays, r...)
}

// Watch registers ring buffers whose occupancy is reported by Rings.
func (g *Group) Watch(rb ...*ringbuf.RingBuffer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rings = append(g.rings, rb...)
}

// Run runs every relay and waits for all of them. A relay that fails cancels
// the others.
func (g *Group) Run(ctx context.Context) error {
	g.mu.Lock()
	relays := append([]Relay(nil), g.relays...)
	g.mu.Unlock()

	eg, gctx := errgroup.WithContext(ctx)
	var (
		mu       sync.Mutex
		failures []error
	)
	for _, r := range relays {
		r := r
		eg.Go(func() error {
			err := r.Run(gctx)
			if err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
			}
			return err
		})
	}
	first := eg.Wait()

	// relays stopped by a sibling's failure report context.Canceled
	var failed []error
	for _, err := range failures {
		if !errors.Is(err, context.Canceled) {
			failed = append(failed, err)
		}
	}
	if len(failed) == 0 {
		return first
	}
	return errors.Join(failed...)
}

// Snapshots implements api.StatsProvider.
func (g *Group) Snapshots() []flowstats.Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]flowstats.Snapshot, 0, len(g.relays))
	for _, r := range g.relays {
		out = append(out, r.Snapshot())
	}
	return out
}

// Rings implements api.StatsProvider.
func (g *Group) Rings() []ringbuf.Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ringbuf.Stats, 0, len(g.rings))
	for _, rb := range g.rings {
		st, err := rb.Stats()
		if err != nil {
			continue
		}
		out = append(out, st)
	}
	return out
}

var _ api.StatsProvider = (*Group)(nil)
