// Package ws implements transport.Transport over a WebSocket using
// gorilla/websocket. It is the connection used to talk to a browser's
// DevTools endpoint.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ggoodman/browser-bridge-go/transport"
	"github.com/gorilla/websocket"
)

const (
	// DefaultReadLimit bounds a single inbound message. Screenshots and DOM
	// snapshots routinely exceed gorilla's default so this is generous.
	DefaultReadLimit = 64 << 20
	// DefaultWriteTimeout applies to a write whose context has no deadline.
	DefaultWriteTimeout = 10 * time.Second

	controlTimeout = 5 * time.Second
)

// Conn is a WebSocket-backed transport.Transport.
type Conn struct {
	conn *websocket.Conn
	log  *slog.Logger

	writeTimeout time.Duration

	// gorilla allows one concurrent writer; holding writeSem also keeps
	// frames whole. A channel so waiting writers can give up with ctx.
	writeSem chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

type config struct {
	dialer       *websocket.Dialer
	header       http.Header
	readLimit    int64
	writeTimeout time.Duration
	pingInterval time.Duration
	log          *slog.Logger
}

// Option customizes Dial and New.
type Option func(*config)

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *config) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithHeader sets extra HTTP headers for the opening handshake.
func WithHeader(h http.Header) Option {
	return func(c *config) { c.header = h }
}

// WithReadLimit bounds the size of a single inbound message.
func WithReadLimit(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.readLimit = n
		}
	}
}

// WithWriteTimeout bounds writes whose context carries no deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

// WithPingInterval enables keepalive pings. Zero disables them.
func WithPingInterval(d time.Duration) Option {
	return func(c *config) { c.pingInterval = d }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

func newConfig(opts []Option) config {
	c := config{
		dialer:       websocket.DefaultDialer,
		readLimit:    DefaultReadLimit,
		writeTimeout: DefaultWriteTimeout,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Dial opens a WebSocket connection to url.
func Dial(ctx context.Context, url string, opts ...Option) (*Conn, error) {
	cfg := newConfig(opts)
	conn, resp, err := cfg.dialer.DialContext(ctx, url, cfg.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	cfg.log.Debug("ws.dial.ok", slog.String("url", url))
	return wrap(conn, cfg), nil
}

// New wraps an established connection, such as one returned by an
// websocket.Upgrader on the serving side.
func New(conn *websocket.Conn, opts ...Option) *Conn {
	return wrap(conn, newConfig(opts))
}

func wrap(conn *websocket.Conn, cfg config) *Conn {
	conn.SetReadLimit(cfg.readLimit)
	c := &Conn{
		conn:         conn,
		log:          cfg.log,
		writeTimeout: cfg.writeTimeout,
		writeSem:     make(chan struct{}, 1),
		closed:       make(chan struct{}),
	}
	if cfg.pingInterval > 0 {
		go c.keepalive(cfg.pingInterval)
	}
	return c
}

// Send implements transport.Transport.
func (c *Conn) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.closed:
		return fmt.Errorf("ws send: %w", transport.ErrClosed)
	default:
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.writeTimeout)
	}

	select {
	case c.writeSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return fmt.Errorf("ws send: %w", transport.ErrClosed)
	}
	defer func() { <-c.writeSem }()
	// Nothing is on the wire yet, so giving up here is safe.
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("ws send: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		select {
		case <-c.closed:
			return fmt.Errorf("ws send: %w", transport.ErrClosed)
		default:
		}
		return fmt.Errorf("ws send: %w", err)
	}
	return nil
}

// Receive implements transport.Transport. A gorilla connection cannot resume
// reading after an interrupted read, so cancelling ctx ends the connection.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := c.conn.ReadMessage()
	if err == nil {
		return data, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	select {
	case <-c.closed:
		return nil, fmt.Errorf("ws receive: %w", transport.ErrClosed)
	default:
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil, io.EOF
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return nil, fmt.Errorf("ws receive: peer closed with code %d: %w", closeErr.Code, err)
	}
	return nil, fmt.Errorf("ws receive: %w", err)
}

// Close implements transport.Transport. It attempts an orderly close handshake
// before tearing down the socket.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlTimeout)); werr != nil {
			c.log.Debug("ws.close.handshake_failed", slog.String("err", werr.Error()))
		}
		err = c.conn.Close()
	})
	return err
}

func (c *Conn) keepalive(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlTimeout)); err != nil {
				c.log.Debug("ws.ping.failed", slog.String("err", err.Error()))
			}
		}
	}
}

var _ transport.Transport = (*Conn)(nil)
