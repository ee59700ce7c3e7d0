// Package socket carries records over TCP. A record's own size field is the
// frame length, so the stream is a plain concatenation of records.
package socket

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/ssargent/ringrelay/pkg/codec"
	errs "github.com/ssargent/ringrelay/pkg/errors"
)

// Conn is one established record stream.
type Conn struct {
	conn net.Conn

	// receive buffer; the record returned by Recv aliases it
	buf []byte

	closeOnce sync.Once
	closeErr  error

	sent     uint64
	received uint64
}

func newConn(c net.Conn) *Conn {
	return &Conn{
		conn: c,
		buf:  make([]byte, 64*1024),
	}
}

// Send writes exactly rec.Size() bytes. Any failure leaves the connection
// unusable and is reported as ErrConnectionLost.
func (c *Conn) Send(rec *codec.Record) (int, error) {
	n, err := c.conn.Write(rec.Bytes())
	c.sent += uint64(n)
	if err != nil {
		return n, fmt.Errorf("%w: send: %w", errs.ErrConnectionLost, err)
	}
	return n, nil
}

// Recv reads the next record. The record borrows the connection's buffer and
// is valid until the next call to Recv. A peer that closes the stream yields
// ErrClosed; a header with an impossible size yields ErrProtocol.
func (c *Conn) Recv() (*codec.Record, error) {
	hdr := c.buf[:codec.HeaderSize]
	if _, err := io.ReadFull(c.conn, hdr); err != nil {
		return nil, c.readErr(err)
	}

	size, err := codec.ParseSize(hdr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrProtocol, err)
	}

	padded := (size + 3) &^ 3
	if padded > len(c.buf) {
		grown := make([]byte, padded)
		copy(grown, hdr)
		c.buf = grown
	}
	// zero the padding so the record can go to a ring buffer as is
	clear(c.buf[size:padded])

	if _, err := io.ReadFull(c.conn, c.buf[codec.HeaderSize:size]); err != nil {
		return nil, c.readErr(err)
	}
	c.received += uint64(size)

	return codec.Decode(c.buf[:padded])
}

func (c *Conn) readErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %w", errs.ErrClosed, err)
	}
	return fmt.Errorf("%w: recv: %w", errs.ErrConnectionLost, err)
}

// BytesSent returns the number of bytes written so far.
func (c *Conn) BytesSent() uint64 {
	return c.sent
}

// BytesReceived returns the number of record bytes read so far.
func (c *Conn) BytesReceived() uint64 {
	return c.received
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the connection. It is safe to call more than once and from
// another goroutine to interrupt a blocked Send or Recv.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
