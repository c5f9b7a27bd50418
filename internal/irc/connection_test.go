package irc

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eneerr "ene/internal/errors"
	"ene/internal/metrics"
	"ene/internal/transport"
)

func TestConnection_LinesInOrder(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	lines := make(chan string, 8)
	c := NewConnection(ConnOptions{OnLine: func(l string) { lines <- l }})
	require.True(t, c.Attach(client))
	defer c.Close()
	assert.Equal(t, StateConnected, c.State())

	go func() {
		server.Write([]byte("PING :a\r\nPI"))   //nolint:errcheck
		server.Write([]byte("NG :b\r"))         //nolint:errcheck
		server.Write([]byte("\nPING :c\r\nxx")) //nolint:errcheck
	}()

	for _, want := range []string{"PING :a", "PING :b", "PING :c"} {
		select {
		case got := <-lines:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("line %q not delivered", want)
		}
	}
	select {
	case got := <-lines:
		t.Fatalf("unterminated line dispatched: %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnection_Write(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	col := metrics.New()
	c := NewConnection(ConnOptions{Metrics: col})
	require.True(t, c.Attach(client))
	defer c.Close()

	r := bufio.NewReader(server)
	go c.Write("NICK Ene") //nolint:errcheck
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "NICK Ene\r\n", line)

	require.Eventually(t, func() bool { return col.TotalLinesOut() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(10), col.TotalBytesOut())
}

func TestConnection_LostOnce(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	var lost atomic.Int32
	col := metrics.New()
	c := NewConnection(ConnOptions{
		OnLost:  func(error) { lost.Add(1) },
		Metrics: col,
	})
	require.True(t, c.Attach(client))
	assert.Equal(t, int64(1), col.ActiveConnections())

	boom := errors.New("boom")
	c.onLost(boom)
	c.onLost(errors.New("again"))
	c.Close()

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed")
	}
	// The read loop sees the closed socket too; it must not fire again.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), lost.Load())
	assert.ErrorIs(t, c.Err(), boom)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Zero(t, col.ActiveConnections())

	assert.ErrorIs(t, c.Write("PING :x"), eneerr.ErrNotConnected)
	assert.False(t, c.Attach(server), "a closed connection is never reopened")
}

func TestConnection_PeerHangup(t *testing.T) {
	client, server := net.Pipe()
	var lost atomic.Int32
	c := NewConnection(ConnOptions{OnLost: func(error) { lost.Add(1) }})
	require.True(t, c.Attach(client))

	server.Close()
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("hangup not noticed")
	}
	assert.Equal(t, int32(1), lost.Load())
	assert.True(t, eneerr.IsClosedConn(c.Err()))
}

func TestConnection_OpenDialError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	c := NewConnection(ConnOptions{})
	err = c.Open(context.Background(), &transport.TCPDialer{Timeout: time.Second}, addr)
	var cerr *eneerr.ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "dial", cerr.Op)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestConnState_String(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "closing", StateClosing.String())
	assert.Equal(t, "disconnected", StateDisconnected.String())
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "PASS ****", redact("PASS hunter2"))
	assert.Equal(t, "NICK Ene", redact("NICK Ene"))
}
