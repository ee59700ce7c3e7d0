//go:build unix

package relay

import (
	"context"

	"github.com/ssargent/ringrelay/pkg/codec"
	"github.com/ssargent/ringrelay/pkg/ringbuf"
	"github.com/ssargent/ringrelay/pkg/socket"
)

// Push forwards records from a ring buffer to a socket. A failed send drops
// the record in flight and reconnects; the default policy never gives up.
type Push struct {
	base
	src  *ringbuf.RingBuffer
	link link
}

// NewPush creates a push relay reading src and sending through c.
func NewPush(src *ringbuf.RingBuffer, c socket.Connector, policy ReconnectPolicy, opts Options) *Push {
	p := &Push{
		src:  src,
		link: link{connector: c, policy: policy},
	}
	p.init("push", opts)
	return p
}

// Run pumps records until a TERMINATE has been sent, the reconnect policy is
// exhausted, or ctx ends.
func (p *Push) Run(ctx context.Context) (err error) {
	defer func() { p.finish(err) }()
	defer p.link.release()

	p.setState(StateReconnecting)
	if err := p.connect(ctx, &p.link); err != nil {
		return err
	}
	p.setState(StateRunning)

	idle := p.idleWaiter()
	buf := make([]byte, 64*1024)

	for {
		data, err := p.dequeue(ctx, p.src, buf, idle)
		if err != nil {
			return err
		}
		if cap(data) > cap(buf) {
			buf = data[:cap(data)]
		}

		rec, err := codec.Decode(data)
		if err != nil {
			p.drop("decode", err, nil)
			continue
		}

		if err := p.send(ctx, rec); err != nil {
			return err
		}
		if rec.IsTerminate() {
			p.logger.Info("terminate forwarded")
			return nil
		}
	}
}

// send delivers rec, reconnecting on failure. Only a TERMINATE is retried on
// the new connection.
func (p *Push) send(ctx context.Context, rec *codec.Record) error {
	for {
		_, err := p.link.conn.Send(rec)
		if err == nil {
			p.forwarded(rec)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !rec.IsTerminate() {
			p.drop("send", err, rec)
		}
		if err := p.reconnect(ctx, &p.link, err); err != nil {
			return err
		}
		if !rec.IsTerminate() {
			return nil
		}
	}
}
