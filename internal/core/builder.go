// Package core is the composition root.  It turns a Config into a
// running client: the server transport, the DCC listener, the history
// store and the admin API are chosen here and handed to irc.Client.
//
// Architecture layers (bottom → top):
//
//	wire, transport, tunnel  →  dcc  →  irc  →  core  →  cmd (CLI)
package core

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"ene/config"
	"ene/internal/admin"
	"ene/internal/dcc"
	eneerr "ene/internal/errors"
	"ene/internal/irc"
	"ene/internal/metrics"
	"ene/internal/store"
	"ene/internal/transport"
	"ene/tunnel"
	"ene/util"
)

// Options are the pieces of an App that do not come from the Config.
type Options struct {
	Version string
	Reply   irc.ReplyEngine
	Logger  *util.Logger
}

// App is one fully wired client.
type App struct {
	Client  *irc.Client
	History *store.Store
	Admin   *admin.Server
	Metrics *metrics.Collector

	cfg    *config.Config
	dialer transport.Dialer
	logger *util.Logger

	wg sync.WaitGroup
}

// Build constructs an App from cfg.  Nothing is dialed until Run; the
// history database, when configured, is opened here so a bad DSN fails
// early.
func Build(cfg *config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = util.Nop()
	}
	col := metrics.New()

	dialer, ssh := buildDialer(cfg, logger)
	app := &App{
		Metrics: col,
		cfg:     cfg,
		dialer:  dialer,
		logger:  logger,
	}

	var recorder dcc.Recorder
	if cfg.HistoryDSN != "" {
		st, err := store.Open(cfg.HistoryDSN)
		if err != nil {
			dialer.Close()
			return nil, err
		}
		app.History = st
		recorder = st
	}

	app.Client = irc.NewClient(cfg, irc.Options{
		Dialer:  dialer,
		Reply:   opts.Reply,
		Version: opts.Version,
		DCC: dcc.Options{
			Listener: buildListener(cfg, ssh),
			Dialer:   &transport.TCPDialer{Timeout: cfg.Timeout},
			Recorder: recorder,
		},
		AdvertiseIP: buildAdvertiseIP(cfg),
		Metrics:     col,
		Logger:      logger,
	})

	if cfg.AdminAddr != "" {
		aopts := admin.Options{
			Status:   app.Client,
			Sessions: app.Client.DCC(),
			Metrics:  col,
			Logger:   logger.With("admin"),
		}
		if app.History != nil {
			aopts.History = app.History
		}
		app.Admin = admin.New(aopts)
	}
	return app, nil
}

// Run starts the admin API (if any) and runs the client until ctx is
// cancelled.  Resources are released before it returns.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	if a.Admin != nil {
		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp", a.cfg.AdminAddr)
		if err != nil {
			return eneerr.Wrap("listen", a.cfg.AdminAddr, err)
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.Admin.Serve(ctx, ln); err != nil {
				a.logger.Error("admin API: %v", err)
			}
		}()
	}

	err := a.Client.Run(ctx)
	a.wg.Wait()
	return err
}

// Shutdown quits the server connection gracefully.  The caller cancels
// the Run context afterwards.
func (a *App) Shutdown(ctx context.Context) { a.Client.Shutdown(ctx) }

// Reload swaps in cfg.  Transport, history and admin settings only
// change on restart; a difference is logged.
func (a *App) Reload(cfg *config.Config) {
	if cfg.Address() != a.cfg.Address() || cfg.Proxy != a.cfg.Proxy ||
		cfg.TunnelSpec != a.cfg.TunnelSpec || cfg.TLS != a.cfg.TLS ||
		cfg.HistoryDSN != a.cfg.HistoryDSN || cfg.AdminAddr != a.cfg.AdminAddr {
		a.logger.Warn("server, transport, history and admin settings apply after a restart")
	}
	a.Client.Reload(cfg)
}

func (a *App) close() {
	if err := a.dialer.Close(); err != nil {
		a.logger.Debug("closing dialer: %v", err)
	}
	if a.History != nil {
		if err := a.History.Close(); err != nil {
			a.logger.Warn("closing history: %v", err)
		}
	}
}

// ── transport ────────────────────────────────────────────────────────

// buildDialer picks the server transport: SSH tunnel, SOCKS5 proxy or
// plain TCP, wrapped in TLS when asked.  The SSH dialer is returned
// separately so DCC can listen on the same gateway.
func buildDialer(cfg *config.Config, logger *util.Logger) (transport.Dialer, *transport.SSHDialer) {
	var (
		base transport.Dialer
		ssh  *transport.SSHDialer
	)
	switch {
	case cfg.TunnelEnabled:
		ssh = transport.NewSSHDialer(sshConfig(cfg), logger)
		base = ssh
	case cfg.Proxy != "":
		base = &transport.ProxyDialer{Address: cfg.Proxy, Timeout: cfg.Timeout}
	default:
		base = &transport.TCPDialer{Timeout: cfg.Timeout}
	}

	if cfg.TLS {
		return &transport.TLSDialer{
			Inner: base,
			Config: &tls.Config{
				MinVersion:         tls.VersionTLS12,
				InsecureSkipVerify: cfg.TLSInsecure, //nolint:gosec
			},
		}, ssh
	}
	return base, ssh
}

func sshConfig(cfg *config.Config) *tunnel.SSHConfig {
	return &tunnel.SSHConfig{
		User:          cfg.TunnelUser,
		Host:          cfg.TunnelHost,
		Port:          cfg.TunnelPort,
		KeyPath:       cfg.SSHKeyPath,
		PromptPass:    cfg.SSHPassword,
		UseAgent:      cfg.UseSSHAgent,
		StrictHostKey: cfg.StrictHostKey,
		KnownHosts:    cfg.KnownHostsPath,
		ConnTimeout:   cfg.Timeout,
		KeepAlive:     config.DefaultSSHKeepAlive,
	}
}

// buildListener binds DCC offers on the SSH gateway when asked to,
// otherwise on this host.
func buildListener(cfg *config.Config, ssh *transport.SSHDialer) transport.Listener {
	if cfg.DCC.ViaTunnel && ssh != nil {
		// Peers connect from outside, so the forward must not be bound
		// to the gateway's loopback.
		ssh.SetBindAddress("0.0.0.0")
		return ssh
	}
	return &transport.LocalListener{}
}

// buildAdvertiseIP returns the address source for DCC offers, or nil to
// let the client use the configured or socket address.  A listener on
// the SSH gateway is advertised with the gateway's address.
func buildAdvertiseIP(cfg *config.Config) func() (net.IP, error) {
	if cfg.DCC.IP != "" || !cfg.DCC.ViaTunnel || !cfg.TunnelEnabled {
		return nil
	}
	host := cfg.TunnelHost
	var (
		once sync.Once
		ip   net.IP
		err  error
	)
	return func() (net.IP, error) {
		once.Do(func() { ip, err = resolveIPv4(host) })
		return ip, err
	}
}

func resolveIPv4(host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
		return nil, fmt.Errorf("%s is not an IPv4 address", host)
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, eneerr.Wrap("resolve", host, err)
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("%s has no IPv4 address", host)
}
