//go:build unix

package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ssargent/ringrelay/pkg/codec"
	"github.com/ssargent/ringrelay/pkg/ringbuf"
)

// Publisher is the part of a NATS connection the monitor relay needs.
type Publisher interface {
	Publish(subject string, data []byte) error
	Flush() error
}

// ControlSuffix is appended to the subject for records other than EVENT.
const ControlSuffix = ".control"

// ToNATS copies records from a ring buffer to NATS subjects for online
// monitoring. Delivery is best effort: a failed publish drops the record.
type ToNATS struct {
	base
	src     *ringbuf.RingBuffer
	pub     Publisher
	subject string
}

// NewToNATS creates an rb2nats relay publishing events on subject.
func NewToNATS(src *ringbuf.RingBuffer, pub Publisher, subject string, opts Options) *ToNATS {
	n := &ToNATS{src: src, pub: pub, subject: subject}
	n.init("rb2nats", opts)
	return n
}

// Run publishes records until TERMINATE or the end of ctx.
func (n *ToNATS) Run(ctx context.Context) (err error) {
	defer func() { n.finish(err) }()
	n.setState(StateRunning)

	idle := n.idleWaiter()
	var buf []byte

	for {
		data, err := n.dequeue(ctx, n.src, buf, idle)
		if err != nil {
			return err
		}
		buf = data

		rec, err := codec.Decode(data)
		if err != nil {
			n.drop("decode", err, nil)
			continue
		}

		subject := n.subject
		if rec.Type() != codec.TypeEvent {
			subject += ControlSuffix
		}
		if err := n.pub.Publish(subject, rec.Bytes()); err != nil {
			n.drop("publish", err, rec)
			continue
		}
		n.forwarded(rec)

		if rec.IsTerminate() {
			if err := n.pub.Flush(); err != nil {
				return fmt.Errorf("flush: %w", err)
			}
			n.logger.Info("terminate published")
			return nil
		}
	}
}

// Observe reports changes of nc's connection as relay state changes.
func (n *ToNATS) Observe(nc *nats.Conn) {
	nc.SetDisconnectErrHandler(func(_ *nats.Conn, err error) {
		if n.State() == StateStopped {
			return
		}
		n.logger.Warn("nats disconnected", "error", err)
		n.setState(StateReconnecting)
	})
	nc.SetReconnectHandler(func(c *nats.Conn) {
		n.reconnects.Add(1)
		n.logger.Info("nats reconnected", "url", c.ConnectedUrl())
		if n.opts.Metrics != nil {
			n.opts.Metrics.RecordReconnect(n.opts.Name, true)
		}
		n.setState(StateRunning)
	})
}

// ConnectNATS connects to url and keeps reconnecting for as long as the
// connection is open.
func ConnectNATS(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.Timeout(5 * time.Second),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Debug("nats connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error("nats error", "error", err)
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return nc, nil
}

var _ Relay = (*ToNATS)(nil)
var _ Publisher = (*nats.Conn)(nil)
