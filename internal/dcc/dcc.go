// Package dcc negotiates and runs Direct Client-to-Client sessions:
// chat, file get and file send (with resume).  Offers travel as CTCP
// messages over the server connection; the sessions themselves run on
// their own sockets and outlive server reconnects.
package dcc

import (
	"strings"
	"time"
)

// Kind is the session type.
type Kind string

const (
	KindChat Kind = "chat"
	KindGet  Kind = "get"
	KindSend Kind = "send"
)

func (k Kind) valid() bool {
	switch k {
	case KindChat, KindGet, KindSend:
		return true
	}
	return false
}

// State is a session's position in its lifecycle.  Completed and Failed
// are terminal.
type State int

const (
	StateNegotiating State = iota
	StateListening
	StateConnecting
	StateTransferring
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateListening:
		return "listening"
	case StateConnecting:
		return "connecting"
	case StateTransferring:
		return "transferring"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is final.
func (s State) Terminal() bool { return s == StateCompleted || s == StateFailed }

// Role says which side opens the socket.
type Role int

const (
	// RoleListener binds a port, advertises it and waits for the peer.
	RoleListener Role = iota
	// RoleConnector dials the address the peer advertised.
	RoleConnector
)

func (r Role) String() string {
	if r == RoleConnector {
		return "connector"
	}
	return "listener"
}

// Key identifies a session in the [Manager].  Peer is compared
// case-insensitively, as IRC nicknames are.
type Key struct {
	Peer string
	Kind Kind
	Port int
}

func newKey(peer string, kind Kind, port int) Key {
	return Key{Peer: strings.ToLower(peer), Kind: kind, Port: port}
}

// Info is a point-in-time view of a session, used by the admin API and
// the transfer history.
type Info struct {
	ID       string    `json:"id"`
	Kind     Kind      `json:"kind"`
	Peer     string    `json:"peer"`
	Role     string    `json:"role"`
	State    string    `json:"state"`
	Host     string    `json:"host,omitempty"`
	Port     int       `json:"port"`
	File     string    `json:"file,omitempty"`
	Size     int64     `json:"size,omitempty"`
	Offset   int64     `json:"offset,omitempty"`
	Position int64     `json:"position"`
	Error    string    `json:"error,omitempty"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished,omitempty"`
}

// Recorder persists finished sessions.
type Recorder interface {
	Record(info Info) error
}

// Sender delivers CTCP requests over the server connection.  message is
// the CTCP body without the \x01 delimiters.
type Sender interface {
	CTCP(target, message string) error
}
