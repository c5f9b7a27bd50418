package dcc

import (
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lrstanley/girc"

	eneerr "ene/internal/errors"
	"ene/internal/wire"
)

// Session is one DCC chat or file transfer.  Its socket is owned by the
// session and released when it reaches a terminal state.  Done is closed
// exactly once, after the final state and error are set.
type Session struct {
	ID   string
	Kind Kind
	Peer string
	Role Role
	File string // local path for get/send
	Size int64  // total file size, 0 when unknown

	mgr     *Manager
	key     Key
	started time.Time

	mu       sync.Mutex
	state    State
	host     net.IP
	port     int
	offset   int64
	err      error
	ln       net.Listener
	conn     net.Conn
	finished time.Time

	position atomic.Int64

	writeMu sync.Mutex
	out     *wire.Framer

	done chan struct{}
	once sync.Once
}

func newSession(m *Manager, kind Kind, peer string, role Role) *Session {
	return &Session{
		ID:      uuid.NewString(),
		Kind:    kind,
		Peer:    peer,
		Role:    role,
		mgr:     m,
		started: time.Now(),
		state:   StateNegotiating,
		out:     wire.NewFramer(m.opts.Codec),
		done:    make(chan struct{}),
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Port returns the bound (listener) or remote (connector) port.
func (s *Session) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Offset returns the resume offset.
func (s *Session) Offset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// Position returns the absolute file position reached so far.
func (s *Session) Position() int64 { return s.position.Load() }

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the failure cause once Done is closed, nil on success or
// while the session is still running.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Wait blocks until the session finishes or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendLine writes one line on a chat session.  CR and LF in line are
// replaced with spaces.
func (s *Session) SendLine(line string) error {
	if s.Kind != KindChat {
		return eneerr.New("dcc: SendLine on a " + string(s.Kind) + " session")
	}
	s.mu.Lock()
	conn := s.conn
	state := s.state
	s.mu.Unlock()
	if conn == nil || state != StateTransferring {
		return eneerr.ErrSessionClosed
	}

	line = strings.NewReplacer("\r", " ", "\n", " ").Replace(line)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := conn.Write(s.out.Encode(line)); err != nil {
		return eneerr.Wrap("write", s.Peer, err)
	}
	return nil
}

// Action sends a CTCP ACTION line on a chat session.
func (s *Session) Action(text string) error {
	return s.SendLine(girc.EncodeCTCPRaw(girc.CTCP_ACTION, text))
}

// Close aborts the session.  It is a no-op once the session finished.
func (s *Session) Close() error {
	s.finish(eneerr.ErrSessionClosed)
	return nil
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		ID:       s.ID,
		Kind:     s.Kind,
		Peer:     s.Peer,
		Role:     s.Role.String(),
		State:    s.state.String(),
		Port:     s.port,
		File:     s.File,
		Size:     s.Size,
		Offset:   s.offset,
		Position: s.position.Load(),
		Started:  s.started,
		Finished: s.finished,
	}
	if s.host != nil {
		info.Host = s.host.String()
	}
	if s.err != nil {
		info.Error = s.err.Error()
	}
	return info
}

// ── state transitions ────────────────────────────────────────────────

func (s *Session) setState(st State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	s.state = st
	return true
}

// setOffset moves the start position.  Only allowed before the transfer
// has begun.
func (s *Session) setOffset(offset int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateNegotiating && s.state != StateListening {
		return false
	}
	s.offset = offset
	s.position.Store(offset)
	return true
}

func (s *Session) attach(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	s.conn = conn
	s.state = StateTransferring
	return true
}

// finish moves the session to its terminal state, releases the socket,
// removes it from the manager and resolves Done.  Only the first call
// has any effect.
func (s *Session) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		if err == nil {
			s.state = StateCompleted
		} else {
			s.state = StateFailed
			s.err = err
		}
		s.finished = time.Now()
		ln, conn := s.ln, s.conn
		s.mu.Unlock()

		if ln != nil {
			ln.Close()
		}
		if conn != nil {
			conn.Close()
		}
		s.mgr.finished(s, err)
		close(s.done)
	})
}
