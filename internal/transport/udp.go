package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// MaxUDPPayload is the largest payload a single IPv4 UDP datagram can carry.
const MaxUDPPayload = 65507

// Endpoint is a host/port pair.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Datagram is one received datagram. Data holds exactly the bytes the peer sent.
type Datagram struct {
	Data []byte
	From *net.UDPAddr
}

// channel is the socket state shared by both channel kinds.
type channel struct {
	conn   *net.UDPConn
	mu     sync.Mutex
	closed bool
}

func listen(port int, host string) (*net.UDPConn, error) {
	laddr, err := net.ResolveUDPAddr("udp", Endpoint{Host: host, Port: port}.String())
	if err != nil {
		return nil, fmt.Errorf("transport: resolve local port %d: %w", port, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("transport: bind %s: %w", laddr, err)
	}
	return conn, nil
}

func (c *channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close releases the local port. It is safe to call more than once and
// concurrently with a blocked receive, which then returns ErrClosed.
func (c *channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// LocalAddr returns the bound local address.
func (c *channel) LocalAddr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

// Port returns the bound local port.
func (c *channel) Port() int {
	return c.LocalAddr().Port
}

// read performs one receive with the given absolute deadline (zero means
// none). A cancelled ctx forces the deadline so the read unblocks promptly.
func (c *channel) read(ctx context.Context, maxSize int, deadline time.Time) (Datagram, error) {
	if c.isClosed() {
		return Datagram{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return Datagram{}, err
	}
	if maxSize <= 0 || maxSize > MaxUDPPayload {
		return Datagram{}, fmt.Errorf("transport: invalid receive size %d", maxSize)
	}

	if err := c.conn.SetReadDeadline(deadline); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return Datagram{}, ErrClosed
		}
		return Datagram{}, err
	}

	// The watcher must be gone before returning, or a late cancel could
	// cut short the deadline of the next read.
	readDone := make(chan struct{})
	stopped := make(chan struct{})
	defer func() {
		close(readDone)
		<-stopped
	}()
	go func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
			_ = c.conn.SetReadDeadline(time.Now())
		case <-readDone:
		}
	}()

	buf := make([]byte, maxSize+1)
	n, from, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Datagram{}, ctxErr
		}
		if errors.Is(err, net.ErrClosed) {
			return Datagram{}, ErrClosed
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return Datagram{}, errDeadline
		}
		return Datagram{}, fmt.Errorf("transport: receive: %w", err)
	}
	if n > maxSize {
		return Datagram{From: from}, &TruncatedError{Max: maxSize}
	}
	return Datagram{Data: buf[:n:n], From: from}, nil
}

// errDeadline is the internal signal that a read deadline passed; callers
// translate it into their own semantics.
var errDeadline = errors.New("transport: read deadline exceeded")

// ControlChannel is the command endpoint: it sends to a fixed remote and
// receives replies on its local port with a bounded wait.
type ControlChannel struct {
	channel
	remote  *net.UDPAddr
	timeout time.Duration
}

// OpenControl binds localPort (0 picks an ephemeral port) and targets remote.
// Every Receive gives up after timeout with a *TimeoutError; a zero timeout
// waits indefinitely.
func OpenControl(remote Endpoint, localPort int, timeout time.Duration) (*ControlChannel, error) {
	raddr, err := net.ResolveUDPAddr("udp", remote.String())
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", remote, err)
	}
	conn, err := listen(localPort, "")
	if err != nil {
		return nil, err
	}
	return &ControlChannel{channel: channel{conn: conn}, remote: raddr, timeout: timeout}, nil
}

// Remote returns the resolved device address.
func (c *ControlChannel) Remote() *net.UDPAddr { return c.remote }

// Timeout returns the configured receive timeout.
func (c *ControlChannel) Timeout() time.Duration { return c.timeout }

// Send writes one datagram to the remote endpoint.
func (c *ControlChannel) Send(ctx context.Context, payload []byte) error {
	if c.isClosed() {
		return ErrClosed
	}
	if len(payload) > MaxUDPPayload {
		return fmt.Errorf("transport: %d byte payload exceeds UDP maximum", len(payload))
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}
	if _, err := c.conn.WriteToUDP(payload, c.remote); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("transport: send to %s: %w", c.remote, err)
	}
	return nil
}

// Receive waits for one datagram of at most maxSize bytes.
func (c *ControlChannel) Receive(ctx context.Context, maxSize int) (Datagram, error) {
	var deadline time.Time
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	dg, err := c.read(ctx, maxSize, deadline)
	if err == errDeadline {
		return Datagram{}, &TimeoutError{After: c.timeout}
	}
	return dg, err
}

// StreamChannel is a receive-only endpoint bound to a fixed local port.
type StreamChannel struct {
	channel
}

// OpenStream binds the local stream endpoint. An empty host binds all interfaces.
func OpenStream(local Endpoint) (*StreamChannel, error) {
	conn, err := listen(local.Port, local.Host)
	if err != nil {
		return nil, err
	}
	return &StreamChannel{channel: channel{conn: conn}}, nil
}

// Receive blocks until a datagram arrives, ctx is done or the channel is closed.
func (s *StreamChannel) Receive(ctx context.Context, maxSize int) (Datagram, error) {
	return s.read(ctx, maxSize, time.Time{})
}

// Poll waits at most wait for a datagram. When nothing arrives it returns an
// empty Datagram and a nil error.
func (s *StreamChannel) Poll(ctx context.Context, maxSize int, wait time.Duration) (Datagram, error) {
	dg, err := s.read(ctx, maxSize, time.Now().Add(wait))
	if err == errDeadline {
		return Datagram{}, nil
	}
	return dg, err
}
