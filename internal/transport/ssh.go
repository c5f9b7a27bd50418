package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"ene/tunnel"
	"ene/util"
)

// SSHDialer routes connections through an SSH tunnel.  The tunnel is
// connected lazily on first use and reconnected if it has died since.
// It is also a [Listener] that binds DCC ports on the gateway.
type SSHDialer struct {
	tunnel    tunnel.Tunnel
	config    *tunnel.SSHConfig
	logger    *util.Logger
	mu        sync.Mutex
	connected bool
	bindAddr  string
}

// NewSSHDialer creates a dialer that forwards connections through an
// SSH tunnel.  The tunnel is not connected until the first Dial.
func NewSSHDialer(cfg *tunnel.SSHConfig, logger *util.Logger) *SSHDialer {
	if logger == nil {
		logger = util.Nop()
	}
	return &SSHDialer{
		tunnel: tunnel.NewSSHTunnel(cfg, logger.With("ssh")),
		config: cfg,
		logger: logger,
	}
}

// SetBindAddress sets the gateway address remote forwards bind to.
// Empty lets the gateway decide (usually loopback unless GatewayPorts
// is enabled).
func (d *SSHDialer) SetBindAddress(addr string) {
	d.mu.Lock()
	d.bindAddr = addr
	d.mu.Unlock()
}

// connect establishes the SSH tunnel if it is not up.
func (d *SSHDialer) connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected && d.tunnel.IsAlive() {
		return nil
	}
	if d.connected {
		d.logger.Warn("SSH tunnel lost, reconnecting")
	}

	d.logger.Verbose("establishing SSH tunnel to %s@%s:%d",
		d.config.User, d.config.Host, d.config.Port)

	if err := d.tunnel.Connect(ctx); err != nil {
		return fmt.Errorf("tunnel: %w", err)
	}

	d.connected = true
	d.logger.Verbose("SSH tunnel established")
	return nil
}

// Dial connects to address through the SSH tunnel.
func (d *SSHDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	if err := d.connect(ctx); err != nil {
		return nil, err
	}
	return d.tunnel.Dial(ctx, network, address)
}

// Listen binds port on the SSH gateway.
func (d *SSHDialer) Listen(ctx context.Context, port int) (net.Listener, error) {
	if err := d.connect(ctx); err != nil {
		return nil, err
	}
	d.mu.Lock()
	bind := d.bindAddr
	d.mu.Unlock()
	return d.tunnel.Listen(ctx, bind, port)
}

// Close tears down the underlying SSH tunnel.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		d.connected = false
		return d.tunnel.Close()
	}
	return nil
}
