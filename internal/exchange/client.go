// Package exchange implements the command/response primitive of the control
// channel: send one Command, wait for one reply, decode it.
//
// The wire protocol carries no request ID, so a reply is matched to its
// request purely by ordering. Client therefore allows a single outstanding
// request: concurrent callers are serialised so each send is immediately
// followed by its own receive.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/G3UKB/SDRLibE/internal/codec"
	"github.com/G3UKB/SDRLibE/internal/transport"
	"github.com/G3UKB/SDRLibE/pkg/protocol"
)

// DefaultMaxReply matches the receive buffer of the reference client.
const DefaultMaxReply = 4096

// Conn is the datagram I/O the client needs. *transport.ControlChannel implements it.
type Conn interface {
	Send(ctx context.Context, payload []byte) error
	Receive(ctx context.Context, maxSize int) (transport.Datagram, error)
}

// Error wraps a failed exchange with the command name and the failing stage.
type Error struct {
	Cmd string
	Op  string // encode, send, receive or decode
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("exchange %s: %s: %v", e.Cmd, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Option configures a Client.
type Option func(*Client)

// WithMaxReply sets the reply receive buffer size.
func WithMaxReply(n int) Option {
	return func(c *Client) { c.maxReply = n }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l.With().Str("component", "exchange").Logger() }
}

// Client performs exchanges over a control channel.
type Client struct {
	conn     Conn
	maxReply int
	logger   zerolog.Logger

	mu sync.Mutex

	total    atomic.Int64
	timeouts atomic.Int64
	failures atomic.Int64
}

// New creates a Client over conn.
func New(conn Conn, opts ...Option) *Client {
	c := &Client{
		conn:     conn,
		maxReply: DefaultMaxReply,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Exchange sends cmd and waits for its reply. Exactly one reply is consumed
// and nothing is retried; a timeout or malformed reply is returned as an
// *Error wrapping the transport or codec error.
func (c *Client) Exchange(ctx context.Context, cmd protocol.Command) (protocol.Response, error) {
	payload, err := codec.Encode(cmd)
	if err != nil {
		c.failures.Add(1)
		return nil, &Error{Cmd: cmd.Cmd, Op: "encode", Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.total.Add(1)
	start := time.Now()

	if err := c.conn.Send(ctx, payload); err != nil {
		c.failures.Add(1)
		return nil, &Error{Cmd: cmd.Cmd, Op: "send", Err: err}
	}

	dg, err := c.conn.Receive(ctx, c.maxReply)
	if err != nil {
		if errors.Is(err, transport.ErrTimeout) {
			c.timeouts.Add(1)
		} else {
			c.failures.Add(1)
		}
		return nil, &Error{Cmd: cmd.Cmd, Op: "receive", Err: err}
	}

	resp, err := codec.Decode(dg.Data)
	if err != nil {
		c.failures.Add(1)
		return nil, &Error{Cmd: cmd.Cmd, Op: "decode", Err: err}
	}

	c.logger.Debug().
		Str("cmd", cmd.Cmd).
		Int("reply_bytes", len(dg.Data)).
		Dur("rtt", time.Since(start)).
		Msg("exchange complete")

	return resp, nil
}

// Stats returns exchange counters.
func (c *Client) Stats() protocol.ExchangeStatus {
	return protocol.ExchangeStatus{
		Total:    c.total.Load(),
		Timeouts: c.timeouts.Load(),
		Failures: c.failures.Load(),
	}
}
