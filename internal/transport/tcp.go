package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"ene/util"
)

// TCPDialer establishes plain TCP connections.
type TCPDialer struct {
	Timeout time.Duration
}

// Dial connects to address over TCP.
func (d *TCPDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	return dialer.DialContext(ctx, network, address)
}

// Close is a no-op for stateless TCP dialers.
func (d *TCPDialer) Close() error { return nil }

// TLSDialer wraps the connections of an inner dialer in TLS.  The server
// name defaults to the host part of the dialled address.
type TLSDialer struct {
	Inner  Dialer
	Config *tls.Config
}

// Dial connects through Inner and completes the TLS handshake.
func (d *TLSDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	raw, err := d.Inner.Dial(ctx, network, address)
	if err != nil {
		return nil, err
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if d.Config != nil {
		cfg = d.Config.Clone()
	}
	if cfg.ServerName == "" && !cfg.InsecureSkipVerify {
		host, _, err := net.SplitHostPort(address)
		if err != nil {
			raw.Close()
			return nil, fmt.Errorf("tls server name: %w", err)
		}
		cfg.ServerName = host
	}

	conn := tls.Client(raw, cfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", address, err)
	}
	return conn, nil
}

// Close closes the inner dialer.
func (d *TLSDialer) Close() error { return d.Inner.Close() }

// LocalListener binds DCC listeners on this host.
type LocalListener struct {
	Host string // bind address, empty for all interfaces
}

// Listen binds a TCP listener on Host:port.
func (l *LocalListener) Listen(ctx context.Context, port int) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp4", util.FormatAddr(l.Host, port))
}
