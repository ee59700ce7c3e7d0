//go:build unix

package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	errs "github.com/ssargent/ringrelay/pkg/errors"
	"github.com/ssargent/ringrelay/pkg/retry"
	"github.com/ssargent/ringrelay/pkg/socket"
)

// ReconnectPolicy bounds how a relay re-establishes a lost connection.
// MaxAttempts of retry.Unlimited never gives up.
type ReconnectPolicy = retry.Config

// UnlimitedReconnect retries every delay, forever.
func UnlimitedReconnect(delay time.Duration) ReconnectPolicy {
	return retry.Fixed(retry.Unlimited, delay)
}

// BoundedReconnect gives up after maxAttempts consecutive failures.
func BoundedReconnect(maxAttempts int, delay time.Duration) ReconnectPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return retry.Fixed(maxAttempts, delay)
}

// link owns the current connection of a socket relay and closes it when the
// relay's context ends, which unblocks a pending Send or Recv.
type link struct {
	connector socket.Connector
	policy    ReconnectPolicy
	conn      *socket.Conn
	stop      func() bool
}

func (l *link) set(ctx context.Context, c *socket.Conn) {
	l.release()
	l.conn = c
	l.stop = context.AfterFunc(ctx, func() { c.Close() })
}

func (l *link) release() {
	if l.stop != nil {
		l.stop()
		l.stop = nil
	}
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
}

// connect establishes a connection under the link's policy. Each call starts
// again from attempt one.
func (b *base) connect(ctx context.Context, l *link) error {
	l.release()

	cfg := l.policy
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		b.logger.Warn("connect failed",
			"endpoint", l.connector.String(),
			"attempt", attempt,
			"retry_in", delay,
			"error", err)
	}

	conn, err := retry.DoWithResult(ctx, cfg, func() (*socket.Conn, error) {
		conn, err := l.connector.Connect(ctx)
		if b.opts.Metrics != nil {
			b.opts.Metrics.RecordReconnect(b.opts.Name, err == nil)
		}
		return conn, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, retry.ErrExhausted) {
			return errs.WrapFatal(fmt.Errorf("%w: %w", errs.ErrMaxRetriesExceeded, err), b.opts.Name, "connect", l.connector.String())
		}
		return errs.WrapFatal(err, b.opts.Name, "connect", l.connector.String())
	}

	l.set(ctx, conn)
	b.logger.Info("connected", "endpoint", l.connector.String(), "peer", conn.RemoteAddr().String())
	return nil
}

// reconnect tears down a failed connection and establishes a new one.
func (b *base) reconnect(ctx context.Context, l *link, cause error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	b.setState(StateReconnecting)
	b.logger.Warn("connection lost, reconnecting", "error", cause, "class", errs.Classify(cause).String())

	if err := b.connect(ctx, l); err != nil {
		return err
	}
	b.reconnects.Add(1)
	b.setState(StateRunning)
	return nil
}
