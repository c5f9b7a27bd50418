package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/proxy"
)

// ProxyDialer routes connections through a SOCKS5 proxy.
type ProxyDialer struct {
	Address string      // proxy host:port
	Auth    *proxy.Auth // optional username/password
	Timeout time.Duration
}

// Dial connects to address through the proxy.
func (d *ProxyDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	forward := &net.Dialer{Timeout: d.Timeout}
	pd, err := proxy.SOCKS5("tcp", d.Address, d.Auth, forward)
	if err != nil {
		return nil, fmt.Errorf("socks5 %s: %w", d.Address, err)
	}
	if cd, ok := pd.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, address)
	}
	return pd.Dial(network, address)
}

// Close is a no-op; the proxy holds no state between dials.
func (d *ProxyDialer) Close() error { return nil }
