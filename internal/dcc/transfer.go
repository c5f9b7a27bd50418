package dcc

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"

	eneerr "ene/internal/errors"
	"ene/internal/wire"
	"ene/util"
)

// behaviour is what a session does once its socket is up.
type behaviour interface {
	run(ctx context.Context, s *Session, conn net.Conn) error
}

func behaviourFor(k Kind) behaviour {
	switch k {
	case KindChat:
		return chatBehaviour{}
	case KindGet:
		return getBehaviour{}
	default:
		return sendBehaviour{}
	}
}

// run establishes the socket and hands it to the session's behaviour.
func (s *Session) run(ctx context.Context, ln net.Listener) {
	var (
		conn net.Conn
		err  error
	)
	if ln != nil {
		conn, err = s.accept(ctx, ln)
	} else {
		conn, err = s.dial(ctx)
	}
	if err != nil {
		s.finish(&eneerr.NegotiationError{Kind: string(s.Kind), Peer: s.Peer, Err: err})
		return
	}
	if !s.attach(conn) {
		conn.Close()
		return
	}
	s.mgr.opts.Logger.Verbose("dcc %s with %s connected (%s)", s.Kind, s.Peer, conn.RemoteAddr())

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	err = behaviourFor(s.Kind).run(ctx, s, conn)
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	s.finish(err)
}

// accept waits for the single peer connection, bounded by the accept
// timeout.  The listener is closed afterwards either way.
func (s *Session) accept(ctx context.Context, ln net.Listener) (net.Conn, error) {
	if !s.setState(StateListening) {
		return nil, eneerr.ErrSessionClosed
	}

	var timedOut atomic.Bool
	timer := time.AfterFunc(s.mgr.opts.AcceptTimeout, func() {
		timedOut.Store(true)
		ln.Close()
	})
	stop := context.AfterFunc(ctx, func() { ln.Close() })

	conn, err := ln.Accept()
	timer.Stop()
	stop()
	ln.Close()

	switch {
	case err == nil:
		return conn, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case timedOut.Load():
		return nil, eneerr.ErrTimeout
	default:
		return nil, err
	}
}

func (s *Session) dial(ctx context.Context) (net.Conn, error) {
	if !s.setState(StateConnecting) {
		return nil, eneerr.ErrSessionClosed
	}
	s.mu.Lock()
	addr := util.FormatAddr(s.host.String(), s.port)
	s.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, s.mgr.opts.AcceptTimeout)
	defer cancel()
	conn, err := s.mgr.opts.Dialer.Dial(dctx, "tcp", addr)
	if err != nil {
		return nil, eneerr.Wrap("dial", addr, err)
	}
	return conn, nil
}

func (s *Session) transferError(err error) error {
	return &eneerr.TransferError{
		Kind:   string(s.Kind),
		Peer:   s.Peer,
		File:   s.File,
		Offset: s.position.Load(),
		Err:    err,
	}
}

func (s *Session) touch(conn net.Conn) {
	conn.SetDeadline(time.Now().Add(s.mgr.opts.IdleTimeout)) //nolint:errcheck
}

// ── chat ─────────────────────────────────────────────────────────────

type chatBehaviour struct{}

// run reads CRLF lines until the peer hangs up.
func (chatBehaviour) run(_ context.Context, s *Session, conn net.Conn) error {
	framer := wire.NewFramer(s.mgr.opts.Codec)
	bp := util.GetBuf()
	defer util.PutBuf(bp)
	buf := *bp

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			for _, line := range framer.Decode(buf[:n]) {
				if s.mgr.opts.OnChatLine != nil {
					s.mgr.opts.OnChatLine(s, line)
				}
			}
		}
		if err != nil {
			if eneerr.IsClosedConn(err) {
				return nil
			}
			return eneerr.Wrap("read", s.Peer, err)
		}
	}
}

// ── get ──────────────────────────────────────────────────────────────

type getBehaviour struct{}

// run writes received bytes to the destination file from the resume
// offset and acknowledges each chunk with the file position reached.
// Anything on disk past the offset is discarded.
func (getBehaviour) run(_ context.Context, s *Session, conn net.Conn) error {
	offset := s.Offset()
	f, err := openAt(s.File, offset)
	if err != nil {
		return s.transferError(err)
	}
	defer f.Close()

	bp := util.GetBuf()
	defer util.PutBuf(bp)
	buf := *bp

	var (
		received int64
		ack      [4]byte
	)
	want := int64(-1)
	if s.Size > 0 {
		want = s.Size - offset
	}

	for want < 0 || received < want {
		s.touch(conn)
		n, rerr := conn.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return s.transferError(err)
			}
			received += int64(n)
			s.position.Add(int64(n))
			s.mgr.opts.Metrics.DCCBytes(int64(n))

			binary.BigEndian.PutUint32(ack[:], uint32(offset+received))
			if _, err := conn.Write(ack[:]); err != nil {
				return s.transferError(err)
			}
		}
		if rerr != nil {
			if rerr == io.EOF && want < 0 {
				return nil
			}
			if rerr == io.EOF {
				return s.transferError(io.ErrUnexpectedEOF)
			}
			return s.transferError(rerr)
		}
	}
	return nil
}

// openAt opens path for writing positioned at offset.  The file must
// already hold at least offset bytes.
func openAt(path string, offset int64) (*os.File, error) {
	if offset == 0 {
		return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() < offset {
		f.Close()
		return nil, fmt.Errorf("resume offset %d beyond local size %d", offset, fi.Size())
	}
	if err := f.Truncate(offset); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// ── send ─────────────────────────────────────────────────────────────

type sendBehaviour struct{}

// run streams the file from the resume offset and completes when the
// peer acknowledges the end of the file, or hangs up after every byte
// was written.  Acks carry the absolute file position.
func (sendBehaviour) run(ctx context.Context, s *Session, conn net.Conn) error {
	offset := s.Offset()
	f, err := os.Open(s.File)
	if err != nil {
		return s.transferError(err)
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return s.transferError(err)
		}
	}

	remaining := s.Size - offset
	acked := make(chan struct{})
	ackErr := make(chan error, 1)
	go readAcks(conn, uint32(s.Size), acked, ackErr)

	bp := util.GetBuf()
	defer util.PutBuf(bp)
	buf := *bp

	var sent int64
	for sent < remaining {
		chunk := buf
		if left := remaining - sent; left < int64(len(chunk)) {
			chunk = chunk[:left]
		}
		n, rerr := f.Read(chunk)
		if n > 0 {
			s.touch(conn)
			if _, err := conn.Write(chunk[:n]); err != nil {
				return s.transferError(err)
			}
			sent += int64(n)
			s.position.Add(int64(n))
			s.mgr.opts.Metrics.DCCBytes(int64(n))
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return s.transferError(rerr)
		}
	}
	if sent < remaining {
		return s.transferError(io.ErrUnexpectedEOF)
	}
	if remaining == 0 {
		return nil
	}

	idle := time.NewTimer(s.mgr.opts.IdleTimeout)
	defer idle.Stop()
	select {
	case <-acked:
		return nil
	case err := <-ackErr:
		if eneerr.IsClosedConn(err) {
			return nil
		}
		return s.transferError(err)
	case <-idle.C:
		return s.transferError(eneerr.ErrTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readAcks consumes 4-byte acknowledgements until one equals want
// (mod 2³²), closing acked, or the read fails.
func readAcks(conn net.Conn, want uint32, acked chan<- struct{}, errc chan<- error) {
	var b [4]byte
	for {
		if _, err := io.ReadFull(conn, b[:]); err != nil {
			errc <- err
			return
		}
		if binary.BigEndian.Uint32(b[:]) == want {
			close(acked)
			return
		}
	}
}
