// Package metrics provides lightweight, lock-free counters and gauges
// for tracking runtime statistics of an ene client.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for the server connection and DCC
// sessions.  A nil Collector is safe to use: all methods become no-ops.
type Collector struct {
	connectionsActive atomic.Int64
	connectionsTotal  atomic.Int64
	reconnects        atomic.Int64
	bytesIn           atomic.Int64
	bytesOut          atomic.Int64
	linesIn           atomic.Int64
	linesOut          atomic.Int64
	errorsTotal       atomic.Int64

	dccActive    atomic.Int64
	dccTotal     atomic.Int64
	dccCompleted atomic.Int64
	dccFailed    atomic.Int64
	dccBytes     atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastConnect  time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Connection metrics ───────────────────────────────────────────────

// ConnectionOpened increments both the active and total counters.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
	c.mu.Lock()
	c.lastConnect = time.Now()
	c.mu.Unlock()
}

// ConnectionClosed decrements the active connection counter.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
}

// ActiveConnections returns the current number of open connections.
func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// TotalConnections returns the lifetime connection count.
func (c *Collector) TotalConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsTotal.Load()
}

// Reconnect records a reconnect scheduled after a lost connection.
func (c *Collector) Reconnect() {
	if c == nil {
		return
	}
	c.reconnects.Add(1)
}

// Reconnects returns the total reconnect count.
func (c *Collector) Reconnects() int64 {
	if c == nil {
		return 0
	}
	return c.reconnects.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesReceived records n bytes read from the server.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes written to the server.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// LineReceived counts one dispatched inbound line.
func (c *Collector) LineReceived() {
	if c == nil {
		return
	}
	c.linesIn.Add(1)
}

// LineSent counts one outbound line.
func (c *Collector) LineSent() {
	if c == nil {
		return
	}
	c.linesOut.Add(1)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// TotalLinesIn returns the number of lines received.
func (c *Collector) TotalLinesIn() int64 {
	if c == nil {
		return 0
	}
	return c.linesIn.Load()
}

// TotalLinesOut returns the number of lines sent.
func (c *Collector) TotalLinesOut() int64 {
	if c == nil {
		return 0
	}
	return c.linesOut.Load()
}

// ── DCC metrics ──────────────────────────────────────────────────────

// DCCStarted records a new DCC session.
func (c *Collector) DCCStarted() {
	if c == nil {
		return
	}
	c.dccActive.Add(1)
	c.dccTotal.Add(1)
}

// DCCFinished records a session reaching a terminal state.
func (c *Collector) DCCFinished(ok bool) {
	if c == nil {
		return
	}
	c.dccActive.Add(-1)
	if ok {
		c.dccCompleted.Add(1)
	} else {
		c.dccFailed.Add(1)
	}
}

// DCCBytes records n payload bytes moved by a DCC transfer.
func (c *Collector) DCCBytes(n int64) {
	if c == nil {
		return
	}
	c.dccBytes.Add(n)
}

// ActiveDCC returns the number of live DCC sessions.
func (c *Collector) ActiveDCC() int64 {
	if c == nil {
		return 0
	}
	return c.dccActive.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	ConnectionsActive int64  `json:"connections_active"`
	ConnectionsTotal  int64  `json:"connections_total"`
	Reconnects        int64  `json:"reconnects"`
	BytesIn           int64  `json:"bytes_in"`
	BytesOut          int64  `json:"bytes_out"`
	LinesIn           int64  `json:"lines_in"`
	LinesOut          int64  `json:"lines_out"`
	DCCActive         int64  `json:"dcc_active"`
	DCCTotal          int64  `json:"dcc_total"`
	DCCCompleted      int64  `json:"dcc_completed"`
	DCCFailed         int64  `json:"dcc_failed"`
	DCCBytes          int64  `json:"dcc_bytes"`
	ErrorsTotal       int64  `json:"errors_total"`
	LastConnect       string `json:"last_connect,omitempty"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectionsActive: c.connectionsActive.Load(),
		ConnectionsTotal:  c.connectionsTotal.Load(),
		Reconnects:        c.reconnects.Load(),
		BytesIn:           c.bytesIn.Load(),
		BytesOut:          c.bytesOut.Load(),
		LinesIn:           c.linesIn.Load(),
		LinesOut:          c.linesOut.Load(),
		DCCActive:         c.dccActive.Load(),
		DCCTotal:          c.dccTotal.Load(),
		DCCCompleted:      c.dccCompleted.Load(),
		DCCFailed:         c.dccFailed.Load(),
		DCCBytes:          c.dccBytes.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
	}
	if !c.lastConnect.IsZero() {
		s.LastConnect = c.lastConnect.Format(time.RFC3339)
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
