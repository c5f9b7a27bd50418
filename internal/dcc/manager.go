package dcc

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	eneerr "ene/internal/errors"
	"ene/internal/metrics"
	"ene/internal/transport"
	"ene/internal/wire"
	"ene/util"
)

// Default timeouts used when [Options] leaves them zero.
const (
	DefaultAcceptTimeout = 60 * time.Second
	DefaultIdleTimeout   = 5 * time.Minute
	DefaultResumeWindow  = 10 * time.Minute
)

// Options configures a [Manager].
type Options struct {
	// Sender delivers offers and resume answers to peers.
	Sender Sender
	// Dialer opens connector sessions.
	Dialer transport.Dialer
	// Listener binds listener sessions.
	Listener transport.Listener
	// Ports restricts listener ports; empty means ephemeral.
	Ports []int
	// AdvertiseIP returns the IPv4 address put in outgoing offers.
	AdvertiseIP func() (net.IP, error)

	AcceptTimeout time.Duration
	IdleTimeout   time.Duration
	// ResumeWindow is how long a failed send offer, or a resume request
	// the peer never accepted, can still be picked up.
	ResumeWindow time.Duration

	// Codec encodes chat lines; nil means UTF-8.
	Codec *wire.Codec
	// OnChatLine receives every line read on a chat session, on that
	// session's goroutine.
	OnChatLine func(s *Session, line string)

	Recorder Recorder
	Metrics  *metrics.Collector
	Logger   *util.Logger
}

// Request describes a session to create.  Supplying Host and Port makes
// the session a connector; otherwise it listens and sends an offer.
type Request struct {
	Kind Kind
	Peer string
	Host net.IP
	Port int

	// File is the local path: the source for send, the destination for
	// get.
	File string
	// Size is the expected size for get (0 when unknown).  For send it
	// is taken from the file.
	Size int64
	// Offset is the resume position.
	Offset int64
}

func (r *Request) connector() bool { return r.Host != nil && r.Port > 0 }

// pendingResume is a get waiting for the peer's DCC ACCEPT.
type pendingResume struct {
	offer   Offer
	path    string
	offset  int64
	expires time.Time
}

// sendOffer is the local file behind a send listener.  expires stays
// zero while the listener's session is live.
type sendOffer struct {
	path    string
	expires time.Time
}

func expired(deadline, now time.Time) bool {
	return !deadline.IsZero() && now.After(deadline)
}

// Manager owns every live DCC session, keyed by (peer, kind, port).
// The map never holds two sessions with the same key, and a session is
// removed as soon as it reaches a terminal state.
type Manager struct {
	opts Options

	mu       sync.Mutex
	sessions map[Key]*Session
	offered  map[Key]sendOffer // send listeners, kept for resume
	pending  map[Key]pendingResume

	closed atomic.Bool
}

// NewManager returns a manager ready to create sessions.
func NewManager(opts Options) *Manager {
	if opts.AcceptTimeout <= 0 {
		opts.AcceptTimeout = DefaultAcceptTimeout
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.ResumeWindow <= 0 {
		opts.ResumeWindow = DefaultResumeWindow
	}
	if opts.Codec == nil {
		opts.Codec = wire.UTF8()
	}
	if opts.Logger == nil {
		opts.Logger = util.Nop()
	}
	if opts.Listener == nil {
		opts.Listener = &transport.LocalListener{}
	}
	if opts.Dialer == nil {
		opts.Dialer = &transport.TCPDialer{}
	}
	return &Manager{
		opts:     opts,
		sessions: make(map[Key]*Session),
		offered:  make(map[Key]sendOffer),
		pending:  make(map[Key]pendingResume),
	}
}

// Create starts a session.  The session keeps running until it
// finishes or ctx is cancelled; wait on it with [Session.Wait].
func (m *Manager) Create(ctx context.Context, req Request) (*Session, error) {
	if m.closed.Load() {
		return nil, eneerr.ErrSessionClosed
	}
	if !req.Kind.valid() {
		return nil, fmt.Errorf("dcc: unknown session kind %q", req.Kind)
	}
	if req.Peer == "" {
		return nil, fmt.Errorf("dcc %s: no peer", req.Kind)
	}

	switch req.Kind {
	case KindGet:
		if !req.connector() {
			return nil, fmt.Errorf("dcc get from %s: host and port are required", req.Peer)
		}
		if req.File == "" {
			return nil, fmt.Errorf("dcc get from %s: no destination file", req.Peer)
		}
	case KindSend:
		fi, err := os.Stat(req.File)
		if err != nil {
			return nil, &eneerr.TransferError{Kind: string(req.Kind), Peer: req.Peer, File: req.File, Err: err}
		}
		if fi.IsDir() {
			return nil, fmt.Errorf("dcc send %q: is a directory", req.File)
		}
		req.Size = fi.Size()
		if req.Offset > req.Size {
			return nil, fmt.Errorf("dcc send %q: offset %d beyond size %d", req.File, req.Offset, req.Size)
		}
	}

	if req.connector() {
		return m.connect(ctx, req)
	}
	if m.opts.Sender == nil {
		return nil, fmt.Errorf("dcc %s to %s: no way to send the offer", req.Kind, req.Peer)
	}
	return m.listen(ctx, req, nil, true)
}

// connect registers and starts a connector session.
func (m *Manager) connect(ctx context.Context, req Request) (*Session, error) {
	s := newSession(m, req.Kind, req.Peer, RoleConnector)
	s.File, s.Size = req.File, req.Size
	s.host, s.port = req.Host, req.Port
	s.offset = req.Offset
	s.position.Store(req.Offset)

	if err := m.register(s); err != nil {
		return nil, err
	}
	go s.run(ctx, nil)
	return s, nil
}

// listen binds a port (or uses ln), registers the session and, when
// announce is set, sends the offer.
func (m *Manager) listen(ctx context.Context, req Request, ln net.Listener, announce bool) (*Session, error) {
	ip, err := m.advertiseIP()
	if err != nil {
		if ln != nil {
			ln.Close()
		}
		return nil, &eneerr.NegotiationError{Kind: string(req.Kind), Peer: req.Peer, Err: err}
	}

	if ln == nil {
		ln, err = transport.ListenAny(ctx, m.opts.Listener, m.opts.Ports)
		if err != nil {
			return nil, &eneerr.NegotiationError{Kind: string(req.Kind), Peer: req.Peer, Err: err}
		}
	}

	s := newSession(m, req.Kind, req.Peer, RoleListener)
	s.File, s.Size = req.File, req.Size
	s.host, s.port = ip, util.AddrPort(ln.Addr())
	s.ln = ln
	s.offset = req.Offset
	s.position.Store(req.Offset)

	if err := m.register(s); err != nil {
		ln.Close()
		return nil, err
	}
	if s.Kind == KindSend {
		m.mu.Lock()
		m.pruneLocked(time.Now())
		m.offered[s.key] = sendOffer{path: s.File}
		m.mu.Unlock()
	}

	offer := Offer{Type: "CHAT", IP: ip, Port: s.port, Size: -1}
	if s.Kind == KindSend {
		offer = Offer{Type: "SEND", File: filepath.Base(s.File), IP: ip, Port: s.port, Size: s.Size}
	}
	if announce {
		if err := m.opts.Sender.CTCP(s.Peer, offer.Message()); err != nil {
			nerr := &eneerr.NegotiationError{Kind: string(s.Kind), Peer: s.Peer, Err: err}
			s.finish(nerr)
			return nil, nerr
		}
	}

	m.opts.Logger.Verbose("dcc %s offered to %s on port %d", s.Kind, s.Peer, s.port)
	go s.run(ctx, ln)
	return s, nil
}

// Resume handles a peer's DCC RESUME for a send.  The matching session
// has its offset moved and the peer is answered with DCC ACCEPT.  When
// the original session is gone, a new listener is bound on the same
// port for the same file, starting at offset.
func (m *Manager) Resume(ctx context.Context, peer, file string, port int, offset int64) (*Session, error) {
	key := newKey(peer, KindSend, port)

	m.mu.Lock()
	m.pruneLocked(time.Now())
	s := m.sessions[key]
	path := m.offered[key].path
	m.mu.Unlock()

	accept := Offer{Type: "ACCEPT", File: file, Port: port, Position: offset}

	if s != nil {
		if filepath.Base(s.File) != SafeName(file) {
			return nil, fmt.Errorf("dcc resume from %s: file %q does not match offer %q",
				peer, file, filepath.Base(s.File))
		}
		if offset < 0 || offset > s.Size {
			return nil, fmt.Errorf("dcc resume from %s: offset %d outside %q (%d bytes)",
				peer, offset, file, s.Size)
		}
		if !s.setOffset(offset) {
			return nil, fmt.Errorf("%w: transfer of %q to %s already started",
				eneerr.ErrSessionExists, file, peer)
		}
		if err := m.opts.Sender.CTCP(s.Peer, accept.Message()); err != nil {
			return nil, err
		}
		m.opts.Logger.Verbose("dcc send %q to %s resumes at %d", file, peer, offset)
		return s, nil
	}

	if path == "" || filepath.Base(path) != SafeName(file) {
		return nil, fmt.Errorf("%w: no send of %q to %s on port %d",
			eneerr.ErrSessionNotFound, file, peer, port)
	}

	ln, err := m.opts.Listener.Listen(ctx, port)
	if err != nil {
		return nil, &eneerr.NegotiationError{Kind: string(KindSend), Peer: peer, Err: err}
	}
	s, err = m.listenResumed(ctx, peer, path, offset, ln)
	if err != nil {
		return nil, err
	}
	if err := m.opts.Sender.CTCP(peer, accept.Message()); err != nil {
		nerr := &eneerr.NegotiationError{Kind: string(KindSend), Peer: peer, Err: err}
		s.finish(nerr)
		return nil, nerr
	}
	return s, nil
}

func (m *Manager) listenResumed(ctx context.Context, peer, path string, offset int64, ln net.Listener) (*Session, error) {
	fi, err := os.Stat(path)
	if err != nil {
		ln.Close()
		return nil, &eneerr.TransferError{Kind: string(KindSend), Peer: peer, File: path, Err: err}
	}
	if offset > fi.Size() {
		ln.Close()
		return nil, fmt.Errorf("dcc resume from %s: offset %d beyond size %d", peer, offset, fi.Size())
	}
	// A re-created send is answered with ACCEPT by the caller, not offered.
	return m.listen(ctx, Request{Kind: KindSend, Peer: peer, File: path, Size: fi.Size(), Offset: offset}, ln, false)
}

// RequestResume asks the peer to resume an offered file at offset and
// remembers the get until the peer's DCC ACCEPT arrives.
func (m *Manager) RequestResume(peer string, offer Offer, path string, offset int64) error {
	key := newKey(peer, KindGet, offer.Port)

	m.mu.Lock()
	if _, busy := m.sessions[key]; busy {
		m.mu.Unlock()
		return fmt.Errorf("%w: get from %s on port %d", eneerr.ErrSessionExists, peer, offer.Port)
	}
	m.pruneLocked(time.Now())
	m.pending[key] = pendingResume{
		offer: offer, path: path, offset: offset,
		expires: time.Now().Add(m.opts.ResumeWindow),
	}
	m.mu.Unlock()

	req := Offer{Type: "RESUME", File: offer.File, Port: offer.Port, Position: offset}
	if err := m.opts.Sender.CTCP(peer, req.Message()); err != nil {
		m.mu.Lock()
		delete(m.pending, key)
		m.mu.Unlock()
		return err
	}
	m.opts.Logger.Verbose("dcc get %q from %s: requested resume at %d", offer.File, peer, offset)
	return nil
}

// Accept starts the get previously registered by [RequestResume] once
// the peer confirms with DCC ACCEPT.
func (m *Manager) Accept(ctx context.Context, peer, file string, port int, position int64) (*Session, error) {
	key := newKey(peer, KindGet, port)

	m.mu.Lock()
	m.pruneLocked(time.Now())
	p, ok := m.pending[key]
	delete(m.pending, key)
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: no pending resume of %q from %s on port %d",
			eneerr.ErrSessionNotFound, file, peer, port)
	}
	if position != p.offset {
		m.opts.Logger.Warn("dcc get %q from %s: peer accepted at %d, asked %d",
			file, peer, position, p.offset)
	}
	size := p.offer.Size
	if size < 0 {
		size = 0
	}
	return m.Create(ctx, Request{
		Kind:   KindGet,
		Peer:   peer,
		Host:   p.offer.IP,
		Port:   p.offer.Port,
		File:   p.path,
		Size:   size,
		Offset: position,
	})
}

// Get returns the live session with the given key.
func (m *Manager) Get(peer string, kind Kind, port int) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[newKey(peer, kind, port)]
	return s, ok
}

// Find returns the live session with the given ID.
func (m *Manager) Find(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// Sessions returns a snapshot of every live session, oldest first.
func (m *Manager) Sessions() []Info {
	m.mu.Lock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.Unlock()

	out := make([]Info, 0, len(list))
	for _, s := range list {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close aborts every live session and refuses new ones.
func (m *Manager) Close() error {
	m.closed.Store(true)
	m.mu.Lock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.Unlock()
	for _, s := range list {
		s.Close()
	}
	return nil
}

// ── internal ─────────────────────────────────────────────────────────

// pruneLocked drops send offers and resume requests whose window has
// passed.  m.mu must be held.
func (m *Manager) pruneLocked(now time.Time) {
	for k, o := range m.offered {
		if expired(o.expires, now) {
			delete(m.offered, k)
		}
	}
	for k, p := range m.pending {
		if expired(p.expires, now) {
			delete(m.pending, k)
		}
	}
}

func (m *Manager) register(s *Session) error {
	s.key = newKey(s.Peer, s.Kind, s.port)

	m.mu.Lock()
	if _, exists := m.sessions[s.key]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s %s port %d", eneerr.ErrSessionExists, s.Kind, s.Peer, s.port)
	}
	m.sessions[s.key] = s
	m.mu.Unlock()

	m.opts.Metrics.DCCStarted()
	return nil
}

// finished is called once per session from Session.finish.
func (m *Manager) finished(s *Session, err error) {
	m.mu.Lock()
	if m.sessions[s.key] == s {
		delete(m.sessions, s.key)
	}
	if o, ok := m.offered[s.key]; ok && s.Kind == KindSend && s.Role == RoleListener {
		if err == nil {
			delete(m.offered, s.key)
		} else {
			o.expires = time.Now().Add(m.opts.ResumeWindow)
			m.offered[s.key] = o
		}
	}
	m.mu.Unlock()

	m.opts.Metrics.DCCFinished(err == nil)
	if err != nil {
		m.opts.Metrics.RecordError(err.Error())
		m.opts.Logger.Warn("dcc %s with %s failed: %v", s.Kind, s.Peer, err)
	} else {
		m.opts.Logger.Info("dcc %s with %s completed", s.Kind, s.Peer)
	}

	if m.opts.Recorder != nil {
		if rerr := m.opts.Recorder.Record(s.Info()); rerr != nil {
			m.opts.Logger.Warn("dcc history: %v", rerr)
		}
	}
}

func (m *Manager) advertiseIP() (net.IP, error) {
	if m.opts.AdvertiseIP == nil {
		return net.IPv4(127, 0, 0, 1), nil
	}
	ip, err := m.opts.AdvertiseIP()
	if err != nil {
		return nil, err
	}
	if ip.To4() == nil {
		return nil, fmt.Errorf("dcc needs an IPv4 address, have %v", ip)
	}
	return ip, nil
}

// DownloadPath returns where an offered file is stored under dir.
func DownloadPath(dir, name string) string {
	return filepath.Join(dir, SafeName(strings.TrimSpace(name)))
}
