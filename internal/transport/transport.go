// Package transport wraps one connected byte stream with blocking read/write
// primitives and classified failures.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/potlink/internal/protocol"
)

var (
	ErrNotConnected     = errors.New("transport: not connected")
	ErrConnectionClosed = errors.New("transport: connection closed by peer")
	ErrConnectRefused   = errors.New("transport: connection refused")
	ErrDNS              = errors.New("transport: host lookup failed")
)

// Conn is the narrow stream contract the protocol paths depend on.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
}

// Dialer opens client connections.
type Dialer struct {
	Timeout time.Duration
	NoDelay bool
}

func DefaultDialer() Dialer {
	return Dialer{Timeout: 5 * time.Second, NoDelay: true}
}

// Dial connects to addr. All failures are transport-kind errors.
func (d Dialer) Dial(ctx context.Context, addr string) (*Stream, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, protocol.Wrap(protocol.KindTransport, "transport.dial", classifyDial(err))
	}
	if tcp, ok := conn.(*net.TCPConn); ok && d.NoDelay {
		if err := tcp.SetNoDelay(true); err != nil {
			_ = conn.Close()
			return nil, protocol.Wrap(protocol.KindTransport, "transport.dial", err)
		}
	}
	return NewStream(conn), nil
}

// Listen binds a TCP listener on addr.
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, protocol.Wrap(protocol.KindTransport, "transport.listen", err)
	}
	return ln, nil
}

// Stream owns one net.Conn and closes it exactly once.
type Stream struct {
	conn      net.Conn
	closeOnce sync.Once
	closeErr  error
}

func NewStream(conn net.Conn) *Stream {
	return &Stream{conn: conn}
}

// Read passes io.EOF through untouched so buffered readers see a clean end.
func (s *Stream) Read(buf []byte) (int, error) {
	if s.conn == nil {
		return 0, protocol.Wrap(protocol.KindTransport, "transport.read", ErrNotConnected)
	}
	n, err := s.conn.Read(buf)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return n, io.EOF
		}
		return n, protocol.Wrap(protocol.KindTransport, "transport.read", classifyIO(err))
	}
	return n, nil
}

func (s *Stream) Write(buf []byte) (int, error) {
	if s.conn == nil {
		return 0, protocol.Wrap(protocol.KindTransport, "transport.write", ErrNotConnected)
	}
	n, err := s.conn.Write(buf)
	if err != nil {
		return n, protocol.Wrap(protocol.KindTransport, "transport.write", classifyIO(err))
	}
	return n, nil
}

// Close is idempotent; later calls return the first result.
func (s *Stream) Close() error {
	if s.conn == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		if err := s.conn.Close(); err != nil {
			s.closeErr = protocol.Wrap(protocol.KindTransport, "transport.close", err)
		}
	})
	return s.closeErr
}

func (s *Stream) RemoteAddr() string {
	if s.conn == nil {
		return ""
	}
	return s.conn.RemoteAddr().String()
}

// SetDeadline forwards to the underlying connection.
func (s *Stream) SetDeadline(t time.Time) error {
	if s.conn == nil {
		return ErrNotConnected
	}
	return s.conn.SetDeadline(t)
}

func classifyDial(err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return errors.Join(ErrDNS, err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return errors.Join(ErrConnectRefused, err)
	}
	return err
}

func classifyIO(err error) error {
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return errors.Join(ErrConnectionClosed, err)
	}
	return err
}
