package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// Connector produces connections to the same peer endpoint, either by
// accepting on a listening socket or by dialing out.
type Connector interface {
	Connect(ctx context.Context) (*Conn, error)
	Close() error
	String() string
}

// Server is a listening socket bound to one port. Each Connect accepts the
// next peer on that port.
type Server struct {
	ln *net.TCPListener

	mu      sync.Mutex
	pending *Conn
}

// Listen binds host:port. With acceptAtInit the call also waits for the first
// peer, which the first Connect then returns.
func Listen(ctx context.Context, host string, port int, acceptAtInit bool) (*Server, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", port, err)
	}

	s := &Server{ln: ln.(*net.TCPListener)}
	if acceptAtInit {
		conn, err := s.accept(ctx)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.pending = conn
	}
	return s, nil
}

// Port returns the bound port, useful when listening on port 0.
func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Connect accepts the next peer.
func (s *Server) Connect(ctx context.Context) (*Conn, error) {
	s.mu.Lock()
	conn := s.pending
	s.pending = nil
	s.mu.Unlock()

	if conn != nil {
		return conn, nil
	}
	return s.accept(ctx)
}

func (s *Server) accept(ctx context.Context) (*Conn, error) {
	stop := context.AfterFunc(ctx, func() {
		s.ln.SetDeadline(time.Now())
	})
	defer func() {
		if stop() {
			return
		}
		s.ln.SetDeadline(time.Time{})
	}()

	c, err := s.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("accept: %w", err)
	}
	return newConn(c), nil
}

// Close stops listening.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.pending != nil {
		s.pending.Close()
		s.pending = nil
	}
	s.mu.Unlock()

	err := s.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) String() string {
	return "listen " + s.ln.Addr().String()
}

// Dialer connects out to a fixed host and port.
type Dialer struct {
	Host    string
	Port    int
	Timeout time.Duration
}

// Dial opens a single connection to host:port.
func Dial(ctx context.Context, host string, port int) (*Conn, error) {
	return (&Dialer{Host: host, Port: port}).Connect(ctx)
}

// Connect dials the configured endpoint.
func (d *Dialer) Connect(ctx context.Context) (*Conn, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	c, err := nd.DialContext(ctx, "tcp", d.addr())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.addr(), err)
	}
	return newConn(c), nil
}

// Close is a no-op; a Dialer holds no resources between connections.
func (d *Dialer) Close() error {
	return nil
}

func (d *Dialer) String() string {
	return "dial " + d.addr()
}

func (d *Dialer) addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}
