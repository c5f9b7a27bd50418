package irc

import (
	"context"
	"net"
	"strings"
	"sync"

	eneerr "ene/internal/errors"
	"ene/internal/metrics"
	"ene/internal/transport"
	"ene/internal/wire"
	"ene/util"
)

// ConnState is the lifecycle state of a [Connection].
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

// ConnOptions wires a Connection to its owner.
type ConnOptions struct {
	Codec *wire.Codec
	// OnLine receives every complete line, in arrival order, on the
	// read goroutine.
	OnLine func(line string)
	// OnLost is called once when the connection ends, with the cause.
	OnLost func(err error)

	Metrics *metrics.Collector
	Logger  *util.Logger
}

// Connection owns one socket to the server.  A new Connection is made
// for every connect attempt and is never reopened.
type Connection struct {
	opts   ConnOptions
	framer *wire.Framer
	addr   string

	mu    sync.Mutex
	state ConnState
	conn  net.Conn
	err   error
	lost  bool

	writeMu  sync.Mutex
	lostOnce sync.Once
	done     chan struct{}
}

// NewConnection returns a disconnected Connection.
func NewConnection(opts ConnOptions) *Connection {
	if opts.Logger == nil {
		opts.Logger = util.Nop()
	}
	return &Connection{
		opts:   opts,
		framer: wire.NewFramer(opts.Codec),
		done:   make(chan struct{}),
	}
}

// Open dials addr and starts the read loop.  It may be called once.
func (c *Connection) Open(ctx context.Context, d transport.Dialer, addr string) error {
	c.mu.Lock()
	if c.lost || c.conn != nil || c.state != StateDisconnected {
		c.mu.Unlock()
		return eneerr.ErrConnectionClosed
	}
	c.state = StateConnecting
	c.addr = addr
	c.mu.Unlock()

	conn, err := d.Dial(ctx, "tcp", addr)
	if err != nil {
		c.mu.Lock()
		if !c.lost {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		return eneerr.Wrap("dial", addr, err)
	}
	if !c.Attach(conn) {
		return eneerr.ErrConnectionClosed
	}
	return nil
}

// Attach adopts an established socket and starts the read loop.  It
// returns false, closing conn, when the Connection was already closed.
func (c *Connection) Attach(conn net.Conn) bool {
	c.mu.Lock()
	if c.lost || c.conn != nil {
		c.mu.Unlock()
		conn.Close()
		return false
	}
	c.conn = conn
	c.state = StateConnected
	if c.addr == "" {
		c.addr = conn.RemoteAddr().String()
	}
	c.mu.Unlock()

	c.opts.Metrics.ConnectionOpened()
	c.opts.Logger.Verbose("connected to %s (local %s)", conn.RemoteAddr(), conn.LocalAddr())
	go c.readLoop(conn)
	return true
}

// State returns the current state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LocalAddr returns the socket's local address, nil when not connected.
func (c *Connection) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}

// Done is closed once the connection has ended.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Err returns why the connection ended.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Write encodes line and writes it with CRLF.  Writes are serialized;
// there is no queue beyond the socket.
func (c *Connection) Write(line string) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if conn == nil || state != StateConnected {
		return eneerr.ErrNotConnected
	}

	data := c.framer.Encode(line)
	c.writeMu.Lock()
	_, err := conn.Write(data)
	c.writeMu.Unlock()
	if err != nil {
		werr := eneerr.Wrap("write", c.addr, err)
		c.onLost(werr)
		return werr
	}

	c.opts.Metrics.BytesSent(int64(len(data)))
	c.opts.Metrics.LineSent()
	c.opts.Logger.Debug("-> %s", redact(line))
	return nil
}

// Close ends the connection.  Calling it again, or after a loss, does
// nothing.
func (c *Connection) Close() error {
	c.onLost(eneerr.ErrConnectionClosed)
	return nil
}

func (c *Connection) readLoop(conn net.Conn) {
	bp := util.GetBuf()
	defer util.PutBuf(bp)
	buf := *bp

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			c.opts.Metrics.BytesReceived(int64(n))
			for _, line := range c.framer.Decode(buf[:n]) {
				c.opts.Logger.Debug("<- %s", line)
				c.opts.Metrics.LineReceived()
				if c.opts.OnLine != nil {
					c.opts.OnLine(line)
				}
			}
		}
		if err != nil {
			if !eneerr.IsClosedConn(err) {
				err = eneerr.Wrap("read", c.addr, err)
			}
			c.onLost(err)
			return
		}
	}
}

// onLost tears the connection down.  Only the first call has any
// effect: it closes the socket, notifies the owner and closes Done.
func (c *Connection) onLost(err error) {
	c.lostOnce.Do(func() {
		c.mu.Lock()
		c.lost = true
		c.state = StateClosing
		c.err = err
		conn := c.conn
		c.mu.Unlock()

		if conn != nil {
			conn.Close()
			c.opts.Metrics.ConnectionClosed()
		}

		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()

		if c.opts.OnLost != nil {
			c.opts.OnLost(err)
		}
		close(c.done)
	})
}

// redact hides the server password in debug output.
func redact(line string) string {
	if len(line) > 5 && strings.EqualFold(line[:5], "PASS ") {
		return "PASS ****"
	}
	return line
}
