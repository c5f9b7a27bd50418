// Package errors provides domain-specific error types for ene.
//
// These types carry structured context (operation, address, peer,
// retryability) so callers can decide between reconnecting, surfacing
// a failure on a DCC session future, or reporting a config problem.
package errors

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrNotConnected     = errors.New("not connected")
	ErrConnectionClosed = errors.New("connection is closed")
	ErrTunnelClosed     = errors.New("tunnel is closed")
	ErrCircuitOpen      = errors.New("circuit breaker is open")
	ErrTimeout          = errors.New("operation timed out")
	ErrAuthFailed       = errors.New("authentication failed")
	ErrHostKeyMismatch  = errors.New("host key mismatch")
	ErrLineTooLong      = errors.New("command does not fit the line limit")

	ErrSessionExists   = errors.New("dcc session already exists")
	ErrSessionNotFound = errors.New("dcc session not found")
	ErrSessionClosed   = errors.New("dcc session is closed")
)

// ── Structured error types ───────────────────────────────────────────

// ConnectionError represents a failure on the main server connection
// or any other outbound socket.
type ConnectionError struct {
	Op        string // "dial", "read", "write", "listen", "accept"
	Addr      string
	Err       error
	Retryable bool
}

func (e *ConnectionError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SSHError represents an SSH-specific failure with host context.
type SSHError struct {
	Op   string // "handshake", "auth", "hostkey", "forward"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// NegotiationError reports a DCC session that never reached the
// transferring state: the peer was unreachable or never connected back.
type NegotiationError struct {
	Kind string // "chat", "get", "send"
	Peer string
	Err  error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("dcc %s with %s: negotiation failed: %v", e.Kind, e.Peer, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// TransferError reports a local file failure during a DCC get or send.
// The partial file is left in place.
type TransferError struct {
	Kind   string
	Peer   string
	File   string
	Offset int64
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("dcc %s %q with %s at byte %d: %v", e.Kind, e.File, e.Peer, e.Offset, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a ConnectionError, detecting retryability from the
// underlying error.
func Wrap(op, addr string, err error) *ConnectionError {
	return &ConnectionError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return classifyRetryable(err)
}

// IsTemporary reports whether err represents a temporary condition.
func IsTemporary(err error) bool {
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return classifyRetryable(err)
}

// IsClosedConn reports whether err is the normal result of a peer or
// local close rather than a real failure.
func IsClosedConn(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, ErrConnectionClosed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}

func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		// A refused or reset dial is worth another attempt for a
		// long-lived client, not just the "temporary" ones.
		if opErr.Op == "dial" {
			return true
		}
		return opErr.Temporary() //nolint:staticcheck // Temporary is deprecated but still useful
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() || dnsErr.IsNotFound //nolint:staticcheck
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────
//
// These allow callers to use ene/internal/errors as a drop-in
// replacement for the standard library in common operations.

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
