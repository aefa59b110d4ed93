// Package httpc sends one sample as a GET request and reads the reply over
// a fresh connection per exchange.
package httpc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/potlink/internal/observability"
	"github.com/danmuck/potlink/internal/protocol"
	"github.com/danmuck/potlink/internal/transport"
)

var ErrNoAddr = errors.New("httpc: server address required")

// DialFunc opens one connection for one exchange.
type DialFunc func(ctx context.Context, addr string) (transport.Conn, error)

type ClientConfig struct {
	Addr     string
	Host     string
	Template PathTemplate
	Timeout  time.Duration
	Reader   ReaderConfig
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Template: DefaultTemplate(),
		Timeout:  5 * time.Second,
		Reader:   DefaultReaderConfig(),
	}
}

// Client runs one request/response exchange per call over a fresh
// connection. Calls are serialized.
type Client struct {
	mu     sync.Mutex
	cfg    ClientConfig
	reader *ResponseReader
	dial   DialFunc
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Addr == "" {
		return nil, ErrNoAddr
	}
	if cfg.Host == "" {
		cfg.Host = cfg.Addr
	}
	if cfg.Template.Raw == "" {
		cfg.Template = DefaultTemplate()
	}
	if err := cfg.Template.Validate(); err != nil {
		return nil, err
	}
	d := transport.DefaultDialer()
	if cfg.Timeout > 0 {
		d.Timeout = cfg.Timeout
	}
	return &Client{
		cfg:    cfg,
		reader: NewResponseReader(cfg.Reader),
		dial: func(ctx context.Context, addr string) (transport.Conn, error) {
			return d.Dial(ctx, addr)
		},
	}, nil
}

// WithDialer swaps the connection factory.
func (c *Client) WithDialer(fn DialFunc) *Client {
	c.dial = fn
	return c
}

// Exchange sends v as a GET and reads the reply. The connection is closed on
// every path before Exchange returns. Callers must Release the response
// before the next Exchange.
func (c *Client) Exchange(ctx context.Context, v uint8) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	req, err := BuildGET(v, c.cfg.Template, c.cfg.Host)
	if err != nil {
		return nil, err
	}

	conn, err := c.dial(ctx, c.cfg.Addr)
	if err != nil {
		observability.RecordExchange(0, "dial_error", time.Since(start))
		log.Warn().Err(err).Str("addr", c.cfg.Addr).Msg("connect failed")
		return nil, err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.Debug().Err(cerr).Str("addr", c.cfg.Addr).Msg("close failed")
		}
	}()
	c.applyDeadline(ctx, conn)

	if _, err := req.WriteTo(conn); err != nil {
		observability.RecordExchange(0, "send_error", time.Since(start))
		log.Warn().Err(err).Str("addr", c.cfg.Addr).Msg("send failed")
		return nil, err
	}

	resp, err := c.reader.Read(conn)
	elapsed := time.Since(start)
	if err != nil {
		observability.RecordExchange(resp.Status, protocol.KindOf(err).String(), elapsed)
		log.Warn().
			Err(err).
			Int("status", resp.Status).
			Str("state", resp.State.String()).
			Int("code", protocol.KindOf(err).Code()).
			Msg("exchange failed")
		return resp, err
	}

	observability.RecordExchange(resp.Status, resp.Outcome.String(), elapsed)
	if resp.Body != nil {
		observability.RecordBody(resp.Body.Storage().String(), resp.Body.Len(), tokenCount(resp))
	}
	log.Debug().
		Uint8("sample", v).
		Str("path", req.Path).
		Int("status", resp.Status).
		Str("outcome", resp.Outcome.String()).
		Int("tokens", len(resp.Tokens)).
		Dur("elapsed", elapsed).
		Msg("exchange complete")
	return resp, nil
}

func (c *Client) applyDeadline(ctx context.Context, conn transport.Conn) {
	dc, ok := conn.(interface{ SetDeadline(time.Time) error })
	if !ok {
		return
	}
	deadline, ok := ctx.Deadline()
	if !ok && c.cfg.Timeout > 0 {
		deadline, ok = time.Now().Add(c.cfg.Timeout), true
	}
	if ok {
		_ = dc.SetDeadline(deadline)
	}
}

func tokenCount(resp *Response) int {
	if !resp.JSON() {
		return -1
	}
	return len(resp.Tokens)
}
