// Package irc implements the server connection, the outbound command
// layer and the static event dispatch of an ene client.
package irc

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lrstanley/girc"
	"golang.org/x/time/rate"

	"ene/config"
	"ene/internal/dcc"
	eneerr "ene/internal/errors"
	"ene/internal/metrics"
	"ene/internal/retry"
	"ene/internal/transport"
	"ene/internal/wire"
	"ene/util"
)

// Options supplies a Client's collaborators.  Zero values get defaults.
type Options struct {
	// Dialer opens the server socket (plain TCP by default).
	Dialer transport.Dialer
	// Handlers make up the dispatch table; nil means DefaultHandlers.
	Handlers []Handler
	// Reply answers chat lines addressed to the client.  Only used
	// by the default handler set.
	Reply ReplyEngine
	// Version is substituted for {version} in CTCP replies.
	Version string

	// DCC carries the transport and recorder for DCC sessions.  The
	// sender, chat callback, timeouts and codec are filled in by the
	// client.
	DCC dcc.Options
	// AdvertiseIP overrides the address put in DCC offers.
	AdvertiseIP func() (net.IP, error)

	Metrics *metrics.Collector
	Logger  *util.Logger
}

// Client keeps one logical connection to an IRC server alive, routes
// inbound lines through the dispatch table and sends commands.
type Client struct {
	cfg      atomic.Pointer[config.Config]
	dispatch atomic.Pointer[Dispatcher]
	limiter  atomic.Pointer[rate.Limiter]

	opts     Options
	handlers []Handler
	dialer   transport.Dialer
	breaker  *retry.CircuitBreaker
	server   *ServerConfig
	dcc      *dcc.Manager
	metrics  *metrics.Collector
	logger   *util.Logger

	// dispatchMu serializes handlers across the server connection and
	// DCC chat sessions.
	dispatchMu sync.Mutex

	// stopping is set by Shutdown; a loss after it is not reconnected.
	stopping atomic.Bool

	mu      sync.Mutex
	conn    *Connection
	nick    string
	localIP net.IP
	ctx     context.Context
}

// NewClient returns a client for cfg.  Nothing is dialed until Run.
func NewClient(cfg *config.Config, opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = util.Nop()
	}
	if opts.Dialer == nil {
		opts.Dialer = &transport.TCPDialer{Timeout: cfg.Timeout}
	}
	if opts.Handlers == nil {
		opts.Handlers = DefaultHandlers(opts.Version, opts.Reply)
	}

	c := &Client{
		opts:     opts,
		handlers: opts.Handlers,
		dialer:   opts.Dialer,
		server:   NewServerConfig(cfg.ServerConfig),
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		nick:     cfg.Nick,
		ctx:      context.Background(),
	}
	c.breaker = retry.NewCircuitBreaker(&retry.CircuitBreakerConfig{
		MaxFailures:  cfg.MaxFailures,
		ResetTimeout: cfg.CooldownPeriod,
		OnStateChange: func(from, to retry.State) {
			c.logger.Verbose("connect breaker %s -> %s", from, to)
		},
	})
	c.cfg.Store(cfg)
	c.dispatch.Store(NewDispatcher(c.handlers...))
	c.setLimiter(cfg)

	d := opts.DCC
	d.Sender = c
	d.OnChatLine = c.onChatLine
	d.AdvertiseIP = c.advertiseIP
	d.Ports = cfg.DCC.Ports.Expand()
	d.AcceptTimeout = cfg.DCC.AcceptTimeout
	d.IdleTimeout = cfg.DCC.IdleTimeout
	d.Codec = c.codec(cfg)
	d.Metrics = opts.Metrics
	d.Logger = opts.Logger.With("dcc")
	c.dcc = dcc.NewManager(d)
	return c
}

// DefaultHandlers is the standard dispatch table: protocol upkeep,
// CTCP replies, DCC negotiation and, when reply is non-nil, the reply
// engine adapter.
func DefaultHandlers(version string, reply ReplyEngine) []Handler {
	hs := []Handler{
		&CoreHandler{},
		&CTCPHandler{Version: version, URL: config.DefaultURL},
		&DCCHandler{},
	}
	if reply != nil {
		hs = append(hs, &ReplyHandler{Engine: reply})
	}
	return hs
}

// ── accessors ────────────────────────────────────────────────────────

// Config returns the active configuration.
func (c *Client) Config() *config.Config { return c.cfg.Load() }

// Server returns the server capability map.
func (c *Client) Server() *ServerConfig { return c.server }

// ServerInfo returns a copy of the server capability map.
func (c *Client) ServerInfo() map[string]string { return c.server.Snapshot() }

// DCC returns the DCC session manager.
func (c *Client) DCC() *dcc.Manager { return c.dcc }

// Metrics returns the collector, possibly nil.
func (c *Client) Metrics() *metrics.Collector { return c.metrics }

// Logger returns the client's logger.
func (c *Client) Logger() *util.Logger { return c.logger }

// Nick returns the current nickname as acknowledged by the server.
func (c *Client) Nick() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nick
}

func (c *Client) setNick(nick string) {
	c.mu.Lock()
	c.nick = nick
	c.mu.Unlock()
}

// State returns the state of the current server connection.
func (c *Client) State() ConnState {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return StateDisconnected
	}
	return conn.State()
}

// Connected reports whether the server connection is up.
func (c *Client) Connected() bool { return c.State() == StateConnected }

// LocalIP returns the client's address: the configured DCC IP, or the
// local address of the server socket.  It is resolved once and cached.
func (c *Client) LocalIP() (net.IP, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.localIP != nil {
		return c.localIP, nil
	}

	if s := c.cfg.Load().DCC.IP; s != "" {
		ip := net.ParseIP(s)
		if ip == nil {
			return nil, &eneerr.ConfigError{Field: "dcc.ip", Value: s, Message: "not an IP address"}
		}
		c.localIP = ip
		return ip, nil
	}
	if c.conn == nil {
		return nil, eneerr.ErrNotConnected
	}
	addr := c.conn.LocalAddr()
	if addr == nil {
		return nil, eneerr.ErrNotConnected
	}
	c.localIP = util.AddrIP(addr)
	return c.localIP, nil
}

func (c *Client) advertiseIP() (net.IP, error) {
	if c.opts.AdvertiseIP != nil {
		return c.opts.AdvertiseIP()
	}
	return c.LocalIP()
}

// context returns the Run context, for work started by handlers.
func (c *Client) context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

// ── lifecycle ────────────────────────────────────────────────────────

// Run connects and keeps the connection alive until ctx is cancelled.
// A failed connect is retried after the connect-retry delay, and a
// lost connection is re-established after the reconnect delay.  DCC
// sessions are independent of the server connection and end with ctx.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
	defer c.dcc.Close()

	for {
		conn, err := c.connectLoop(ctx)
		if err != nil {
			if ctx.Err() != nil || c.stopping.Load() {
				return nil
			}
			return err
		}

		select {
		case <-conn.Done():
		case <-ctx.Done():
			conn.Close()
			return nil
		}
		if c.stopping.Load() {
			c.logger.Verbose("connection closed during shutdown")
			return nil
		}

		delay := c.cfg.Load().ReconnectDelay
		c.metrics.Reconnect()
		c.logger.Warn("connection lost (%v), reconnecting in %v", conn.Err(), delay)
		if err := retry.Wait(ctx, delay); err != nil {
			return nil
		}
	}
}

// connectLoop dials until it succeeds or ctx ends.  Attempts go through
// the circuit breaker; an open breaker adds its cool-down.
func (c *Client) connectLoop(ctx context.Context) (*Connection, error) {
	var conn *Connection
	b := retry.Fixed(c.cfg.Load().ConnectRetryDelay)
	b.OnRetry = func(attempt int, err error, wait time.Duration) {
		c.metrics.RecordError(err.Error())
		c.logger.Error("connect attempt %d: %v (retrying in %v)", attempt, err, wait)
	}

	err := b.Do(ctx, func(int) error {
		if ctx.Err() != nil {
			return retry.Permanent(ctx.Err())
		}
		if c.stopping.Load() {
			return retry.Permanent(eneerr.ErrConnectionClosed)
		}
		err := c.breaker.Execute(func() error {
			var err error
			conn, err = c.connect(ctx)
			return err
		})
		if errors.Is(err, eneerr.ErrCircuitOpen) {
			if werr := retry.Wait(ctx, c.breaker.RetryIn()); werr != nil {
				return retry.Permanent(werr)
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// connect opens one Connection, registers and fires EventConnected.
func (c *Client) connect(ctx context.Context) (*Connection, error) {
	cfg := c.cfg.Load()
	conn := NewConnection(ConnOptions{
		Codec:   c.codec(cfg),
		OnLine:  c.handleLine,
		OnLost:  c.onLost,
		Metrics: c.metrics,
		Logger:  c.logger,
	})

	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}

	addr := cfg.Address()
	c.logger.Verbose("connecting to %s", addr)
	dctx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	if err := conn.Open(dctx, c.dialer, addr); err != nil {
		return nil, err
	}

	c.setNick(cfg.Nick)
	if err := c.register(cfg); err != nil {
		conn.Close()
		return nil, err
	}
	c.logger.Info("connected to %s as %s", addr, cfg.Nick)
	c.dispatchEvent(&Event{Kind: EventConnected})
	return conn, nil
}

// register sends the PASS/USER/NICK handshake.
func (c *Client) register(cfg *config.Config) error {
	if cfg.Password != "" {
		if err := c.Send("PASS " + cfg.Password); err != nil {
			return err
		}
	}
	if err := c.Send("USER " + cfg.Realname + " " + cfg.Host + " " + cfg.Host + " :" + cfg.Userinfo); err != nil {
		return err
	}
	return c.Send("NICK " + cfg.Nick)
}

func (c *Client) onLost(err error) {
	if err == nil || errors.Is(err, eneerr.ErrConnectionClosed) {
		c.logger.Verbose("connection closed")
		return
	}
	c.metrics.RecordError("connection: " + err.Error())
	c.logger.Error("connection lost: %v", err)
}

// Shutdown quits with reason "INT" when connected, waits the shutdown
// grace, then closes the connection.  The caller cancels the Run
// context afterwards.
func (c *Client) Shutdown(ctx context.Context) {
	c.stopping.Store(true)
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || conn.State() != StateConnected {
		return
	}
	if err := c.Quit("INT"); err != nil {
		c.logger.Warn("quit: %v", err)
	}
	_ = retry.Wait(ctx, c.cfg.Load().ShutdownGrace)
	conn.Close()
}

// Reload swaps in a new configuration and rebuilds the dispatch table.
// The server connection is kept; settings that only apply at connect
// time take effect on the next reconnect.
func (c *Client) Reload(cfg *config.Config) {
	old := c.cfg.Swap(cfg)
	c.setLimiter(cfg)
	c.dispatch.Store(NewDispatcher(c.handlers...))

	if old == nil || old.DCC.IP != cfg.DCC.IP {
		c.mu.Lock()
		c.localIP = nil
		c.mu.Unlock()
	}
	c.logger.Info("configuration reloaded")
}

// ── dispatch ─────────────────────────────────────────────────────────

func (c *Client) handleLine(line string) {
	ev := girc.ParseEvent(line)
	if ev == nil {
		c.logger.Debug("dropping unparsable line %q", line)
		return
	}
	c.dispatchEvent(Classify(ev, c.server.Get("CHANTYPES")))
}

func (c *Client) onChatLine(s *dcc.Session, line string) {
	c.dispatchEvent(&Event{
		Kind:    EventDCCMessage,
		Source:  &girc.Source{Name: s.Peer},
		Target:  c.Nick(),
		Text:    line,
		Session: s,
	})
}

func (c *Client) dispatchEvent(e *Event) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	c.dispatch.Load().Dispatch(c, e)
}

// ── helpers ──────────────────────────────────────────────────────────

func (c *Client) setLimiter(cfg *config.Config) {
	if cfg.FloodRate <= 0 {
		c.limiter.Store(nil)
		return
	}
	burst := cfg.FloodBurst
	if burst < 1 {
		burst = 1
	}
	c.limiter.Store(rate.NewLimiter(rate.Limit(cfg.FloodRate), burst))
}

func (c *Client) codec(cfg *config.Config) *wire.Codec {
	codec, err := wire.NewCodec(cfg.Encoding)
	if err != nil {
		c.logger.Warn("%v, using utf-8", err)
		return wire.UTF8()
	}
	return codec
}
