package tunnel

// forward.go - remote port forwards over the tunnel.
//
// ssh.Client.Listen keys forwarded-tcpip channels by the exact bind
// address it sent, and some gateways echo back a different one ("0.0.0.0"
// for ""), so every channel is rejected with "no forward for address".
// The mux below registers its own forwarded-tcpip handler once per client
// and routes channels to listeners by port alone.

import (
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"ene/util"
)

// forwardBacklog is the number of forwarded channels a listener queues
// before further ones are rejected.
const forwardBacklog = 8

// ── Wire format structs (RFC 4254) ──────────────────────────────────

// channelForwardMsg is the payload of the "tcpip-forward" and
// "cancel-tcpip-forward" global requests (RFC 4254 §7.1).
type channelForwardMsg struct {
	Addr string
	Port uint32
}

// channelForwardReply carries the port allocated by the gateway when
// port 0 was requested.
type channelForwardReply struct {
	Port uint32
}

// forwardedTCPPayload is the channel-open payload for
// "forwarded-tcpip" (RFC 4254 §7.2).
type forwardedTCPPayload struct {
	Addr       string
	Port       uint32
	OriginAddr string
	OriginPort uint32
}

// ── forwardMux ───────────────────────────────────────────────────────

type forwardMux struct {
	client *ssh.Client
	logger *util.Logger
	ok     bool

	mu        sync.Mutex
	listeners map[uint32]*forwardListener
}

func newForwardMux(client *ssh.Client, logger *util.Logger) *forwardMux {
	m := &forwardMux{
		client:    client,
		logger:    logger,
		listeners: make(map[uint32]*forwardListener),
	}
	if incoming := client.HandleChannelOpen("forwarded-tcpip"); incoming != nil {
		m.ok = true
		go m.route(incoming)
	}
	return m
}

func (m *forwardMux) listen(bindAddr string, port int) (net.Listener, error) {
	if !m.ok {
		return nil, fmt.Errorf("forwarded-tcpip handler already registered")
	}

	msg := channelForwardMsg{Addr: bindAddr, Port: uint32(port)}
	ok, payload, err := m.client.SendRequest("tcpip-forward", true, ssh.Marshal(&msg))
	if err != nil {
		return nil, fmt.Errorf("tcpip-forward: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("tcpip-forward %s denied by gateway",
			util.FormatAddr(bindAddr, port))
	}

	bound := uint32(port)
	if port == 0 {
		var reply channelForwardReply
		if err := ssh.Unmarshal(payload, &reply); err != nil {
			return nil, fmt.Errorf("tcpip-forward reply: %w", err)
		}
		bound = reply.Port
	}

	l := &forwardListener{
		mux:      m,
		bindAddr: bindAddr,
		port:     bound,
		incoming: make(chan pendingChannel, forwardBacklog),
		done:     make(chan struct{}),
	}

	m.mu.Lock()
	m.listeners[bound] = l
	m.mu.Unlock()

	m.logger.Debug("remote forward listening on %s", util.FormatAddr(bindAddr, int(bound)))
	return l, nil
}

// route hands each forwarded channel to the listener that owns its port.
// It returns when the client connection goes away.
func (m *forwardMux) route(incoming <-chan ssh.NewChannel) {
	for newCh := range incoming {
		var p forwardedTCPPayload
		if err := ssh.Unmarshal(newCh.ExtraData(), &p); err != nil {
			newCh.Reject(ssh.ConnectionFailed, "malformed forwarded-tcpip payload") //nolint:errcheck
			continue
		}

		m.mu.Lock()
		l := m.listeners[p.Port]
		m.mu.Unlock()

		if l == nil {
			newCh.Reject(ssh.Prohibited, fmt.Sprintf("no forward for port %d", p.Port)) //nolint:errcheck
			continue
		}
		l.deliver(newCh, p)
	}

	m.mu.Lock()
	for port, l := range m.listeners {
		l.shutdown()
		delete(m.listeners, port)
	}
	m.mu.Unlock()
}

func (m *forwardMux) remove(l *forwardListener) {
	m.mu.Lock()
	if m.listeners[l.port] == l {
		delete(m.listeners, l.port)
	}
	m.mu.Unlock()
}

// ── forwardListener ──────────────────────────────────────────────────

type pendingChannel struct {
	ch      ssh.NewChannel
	payload forwardedTCPPayload
}

// forwardListener implements [net.Listener] over forwarded-tcpip channels
// for one remote port.
type forwardListener struct {
	mux      *forwardMux
	bindAddr string
	port     uint32
	incoming chan pendingChannel
	done     chan struct{}
	once     sync.Once
}

func (l *forwardListener) deliver(ch ssh.NewChannel, p forwardedTCPPayload) {
	select {
	case <-l.done:
		ch.Reject(ssh.Prohibited, "listener closed") //nolint:errcheck
	case l.incoming <- pendingChannel{ch: ch, payload: p}:
	default:
		ch.Reject(ssh.ResourceShortage, "backlog full") //nolint:errcheck
	}
}

// Accept waits for the next forwarded connection from the gateway.
func (l *forwardListener) Accept() (net.Conn, error) {
	select {
	case <-l.done:
		return nil, net.ErrClosed
	case p := <-l.incoming:
		ch, reqs, err := p.ch.Accept()
		if err != nil {
			return nil, fmt.Errorf("channel accept: %w", err)
		}
		go ssh.DiscardRequests(reqs)

		raddr := &net.TCPAddr{
			IP:   net.ParseIP(p.payload.OriginAddr),
			Port: int(p.payload.OriginPort),
		}
		return &chanConn{Channel: ch, laddr: l.Addr(), raddr: raddr}, nil
	}
}

// Close cancels the remote port forward and unblocks Accept.
func (l *forwardListener) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.mux.remove(l)
		msg := channelForwardMsg{Addr: l.bindAddr, Port: l.port}
		l.mux.client.SendRequest("cancel-tcpip-forward", false, ssh.Marshal(&msg)) //nolint:errcheck
	})
	return nil
}

// shutdown unblocks Accept without talking to the gateway.
func (l *forwardListener) shutdown() {
	l.once.Do(func() { close(l.done) })
}

// Addr returns the gateway-side address being listened on.
func (l *forwardListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP(l.bindAddr), Port: int(l.port)}
}

// ── chanConn ─────────────────────────────────────────────────────────

// chanConn wraps an [ssh.Channel] to satisfy [net.Conn].  Deadlines are
// not supported by SSH channels and are ignored.
type chanConn struct {
	ssh.Channel
	laddr net.Addr
	raddr net.Addr
}

func (c *chanConn) LocalAddr() net.Addr                { return c.laddr }
func (c *chanConn) RemoteAddr() net.Addr               { return c.raddr }
func (c *chanConn) SetDeadline(_ time.Time) error      { return nil }
func (c *chanConn) SetReadDeadline(_ time.Time) error  { return nil }
func (c *chanConn) SetWriteDeadline(_ time.Time) error { return nil }
