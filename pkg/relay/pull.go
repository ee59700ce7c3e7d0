//go:build unix

package relay

import (
	"context"
	"errors"

	errs "github.com/ssargent/ringrelay/pkg/errors"
	"github.com/ssargent/ringrelay/pkg/ringbuf"
	"github.com/ssargent/ringrelay/pkg/socket"
)

// Pull receives records from a socket into a ring buffer. Lost connections
// are re-established under a bounded policy; running out of attempts is fatal.
type Pull struct {
	base
	dst  *ringbuf.RingBuffer
	link link
}

// NewPull creates a pull relay receiving through c into dst.
func NewPull(c socket.Connector, dst *ringbuf.RingBuffer, policy ReconnectPolicy, opts Options) *Pull {
	p := &Pull{
		dst:  dst,
		link: link{connector: c, policy: policy},
	}
	p.init("pull", opts)
	return p
}

// Run receives records until a TERMINATE has been enqueued, reconnection
// fails, or ctx ends.
func (p *Pull) Run(ctx context.Context) (err error) {
	defer func() { p.finish(err) }()
	defer p.link.release()

	p.setState(StateReconnecting)
	if err := p.connect(ctx, &p.link); err != nil {
		return err
	}
	p.setState(StateRunning)

	full := p.fullWaiter()

	for {
		rec, err := p.link.conn.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errs.IsInvalid(err) {
				p.logger.Error("protocol violation, dropping connection", "error", err)
			}
			if err := p.reconnect(ctx, &p.link, err); err != nil {
				return err
			}
			continue
		}

		if err := p.enqueue(ctx, p.dst, rec.Padded(), full); err != nil {
			if errors.Is(err, ringbuf.ErrRecordTooLarge) && !rec.IsTerminate() {
				p.drop("too_large", err, rec)
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errs.WrapFatal(err, p.opts.Name, "Run", "enqueue")
		}
		p.forwarded(rec)

		if rec.IsTerminate() {
			p.logger.Info("terminate received")
			return nil
		}
	}
}

var _ Relay = (*Pull)(nil)
var _ Relay = (*Push)(nil)

