// Package transport opens the byte streams ene talks over: the server
// connection and DCC peer connections.  Dialers cover plain TCP, TLS, a
// SOCKS5 proxy and an SSH tunnel; listeners accept DCC peers either
// locally or on the SSH gateway.
package transport

import (
	"context"
	"fmt"
	"net"
)

// Dialer opens outbound network connections.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session).  Stateless dialers return nil.
	Close() error
}

// Listener accepts inbound peer connections for DCC offers.
type Listener interface {
	// Listen binds port (0 for any) and returns the listener.
	Listen(ctx context.Context, port int) (net.Listener, error)
}

// ListenAny tries each port in turn and returns the first listener that
// binds.  An empty ports slice binds an ephemeral port.
func ListenAny(ctx context.Context, l Listener, ports []int) (net.Listener, error) {
	if len(ports) == 0 {
		return l.Listen(ctx, 0)
	}
	var lastErr error
	for _, p := range ports {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ln, err := l.Listen(ctx, p)
		if err == nil {
			return ln, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no free port in %d-%d: %w", ports[0], ports[len(ports)-1], lastErr)
}
