package tunnel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	eneerr "ene/internal/errors"
	"ene/util"
)

// SSHConfig holds everything needed to dial an SSH gateway.
type SSHConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration

	// KeepAlive is the interval between keepalive@openssh.com probes.
	// Zero disables them.
	KeepAlive time.Duration
}

// SSHTunnel implements [Tunnel] over a single SSH client connection.
type SSHTunnel struct {
	config   *SSHConfig
	auth     *authenticator
	client   *ssh.Client
	forwards *forwardMux
	logger   *util.Logger
	mu       sync.RWMutex
	alive    bool
	stop     chan struct{}
}

// NewSSHTunnel creates a tunnel that is ready to [Connect].
func NewSSHTunnel(cfg *SSHConfig, logger *util.Logger) *SSHTunnel {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = util.Nop()
	}
	return &SSHTunnel{config: cfg, auth: newAuthenticator(cfg), logger: logger}
}

// Connect dials the SSH gateway and completes the handshake.  Calling it
// again after the connection died replaces the client.
func (t *SSHTunnel) Connect(ctx context.Context) error {
	authMethods, err := t.auth.methods()
	if err != nil {
		return eneerr.WrapSSH("auth", t.config.Host, t.config.Port, err)
	}

	hkCallback, err := hostKeyCallback(t.config)
	if err != nil {
		return eneerr.WrapSSH("hostkey", t.config.Host, t.config.Port, err)
	}

	sshCfg := &ssh.ClientConfig{
		User:            t.config.User,
		Auth:            authMethods,
		HostKeyCallback: hkCallback,
		Timeout:         t.config.ConnTimeout,
	}

	addr := util.FormatAddr(t.config.Host, t.config.Port)
	t.logger.Debug("dialing %s as %s", addr, t.config.User)

	dialer := net.Dialer{Timeout: t.config.ConnTimeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return eneerr.Wrap("dial", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, sshCfg)
	if err != nil {
		tcpConn.Close()
		return eneerr.WrapSSH("handshake", t.config.Host, t.config.Port, authError(err))
	}

	client := ssh.NewClient(sshConn, chans, reqs)
	forwards := newForwardMux(client, t.logger)
	stop := make(chan struct{})

	t.mu.Lock()
	if t.client != nil {
		close(t.stop)
		t.client.Close()
	}
	t.client = client
	t.forwards = forwards
	t.alive = true
	t.stop = stop
	t.mu.Unlock()

	go t.monitor(client)
	if t.config.KeepAlive > 0 {
		go t.keepalive(client, stop)
	}
	return nil
}

// Dial forwards a connection through the tunnel.
func (t *SSHTunnel) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	t.mu.RLock()
	client := t.client
	alive := t.alive
	t.mu.RUnlock()

	if !alive || client == nil {
		return nil, eneerr.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.logger.Debug("dialing %s %s through tunnel", network, address)
	conn, err := client.Dial(network, address)
	if err != nil {
		return nil, fmt.Errorf("tunnel dial %s: %w", address, err)
	}
	return conn, nil
}

// Listen requests a remote port forward on the gateway.
func (t *SSHTunnel) Listen(ctx context.Context, bindAddr string, port int) (net.Listener, error) {
	t.mu.RLock()
	forwards := t.forwards
	alive := t.alive
	t.mu.RUnlock()

	if !alive || forwards == nil {
		return nil, eneerr.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return forwards.listen(bindAddr, port)
}

// Close shuts down the SSH connection.
func (t *SSHTunnel) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.auth.close(); err != nil {
		t.logger.Debug("closing agent connection: %v", err)
	}
	t.alive = false
	if t.client == nil {
		return nil
	}
	close(t.stop)
	err := t.client.Close()
	t.client = nil
	t.forwards = nil
	return err
}

// IsAlive reports whether the tunnel is still connected.
func (t *SSHTunnel) IsAlive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.alive
}

// monitor blocks until client closes and flips the alive flag if client
// is still the current one.
func (t *SSHTunnel) monitor(client *ssh.Client) {
	err := client.Wait()

	t.mu.Lock()
	if t.client == client {
		t.alive = false
	}
	t.mu.Unlock()

	if err != nil {
		t.logger.Debug("SSH tunnel closed: %v", err)
	} else {
		t.logger.Debug("SSH tunnel closed")
	}
}

// keepalive probes the gateway and closes the client once a probe fails,
// which lets monitor mark the tunnel dead.
func (t *SSHTunnel) keepalive(client *ssh.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(t.config.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				t.logger.Warn("SSH keepalive failed: %v", err)
				client.Close()
				return
			}
			t.logger.Debug("SSH keepalive OK")
		}
	}
}
