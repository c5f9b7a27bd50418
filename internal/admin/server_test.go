package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ene/internal/dcc"
	"ene/internal/metrics"
	"ene/internal/store"
)

type fakeStatus struct {
	nick      string
	connected bool
}

func (f fakeStatus) Nick() string                  { return f.nick }
func (f fakeStatus) Connected() bool               { return f.connected }
func (f fakeStatus) ServerInfo() map[string]string { return map[string]string{"NETWORK": "Test"} }

type fakeSessions struct{ infos []dcc.Info }

func (f fakeSessions) Sessions() []dcc.Info             { return f.infos }
func (f fakeSessions) Find(string) (*dcc.Session, bool) { return nil, false }

type failingHistory struct{}

func (failingHistory) Recent(context.Context, int) ([]store.Transfer, error) {
	return nil, errors.New("db down")
}

func (failingHistory) ByPeer(context.Context, string) ([]store.Transfer, error) {
	return nil, errors.New("db down")
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealth(t *testing.T) {
	s := New(Options{Status: fakeStatus{nick: "Ene", connected: true}})
	rec := do(t, s, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)

	s = New(Options{Status: fakeStatus{nick: "Ene"}})
	rec = do(t, s, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s = New(Options{})
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/healthz").Code)
}

func TestStatus(t *testing.T) {
	col := metrics.New()
	col.ConnectionOpened()
	col.Reconnect()
	s := New(Options{
		Status:   fakeStatus{nick: "Ene_", connected: true},
		Sessions: fakeSessions{infos: []dcc.Info{{ID: "1"}, {ID: "2"}}},
		Metrics:  col,
	})

	rec := do(t, s, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var got statusResponse
	decode(t, rec, &got)
	assert.Equal(t, "Ene_", got.Nick)
	assert.True(t, got.Connected)
	assert.Equal(t, "Test", got.Server["NETWORK"])
	assert.Equal(t, 2, got.Sessions)
	assert.Equal(t, int64(1), got.Metrics.Reconnects)
	assert.Equal(t, int64(1), got.Metrics.ConnectionsActive)
}

func TestSessions(t *testing.T) {
	s := New(Options{})
	rec := do(t, s, http.MethodGet, "/dcc")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	s = New(Options{Sessions: fakeSessions{infos: []dcc.Info{{ID: "abc", Kind: dcc.KindSend, Peer: "bob"}}}})
	rec = do(t, s, http.MethodGet, "/dcc")
	var infos []dcc.Info
	decode(t, rec, &infos)
	require.Len(t, infos, 1)
	assert.Equal(t, "bob", infos[0].Peer)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/dcc/nope").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, "/dcc/nope").Code)
}

func TestSessions_LiveManager(t *testing.T) {
	m := dcc.NewManager(dcc.Options{
		Sender:        senderFunc(func(string, string) error { return nil }),
		AdvertiseIP:   func() (net.IP, error) { return net.IPv4(127, 0, 0, 1), nil },
		AcceptTimeout: 5 * time.Second,
	})
	defer m.Close()

	sess, err := m.Create(context.Background(), dcc.Request{Kind: dcc.KindChat, Peer: "bob"})
	require.NoError(t, err)

	s := New(Options{Sessions: m})
	rec := do(t, s, http.MethodGet, "/dcc/"+sess.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	var info dcc.Info
	decode(t, rec, &info)
	assert.Equal(t, dcc.KindChat, info.Kind)

	rec = do(t, s, http.MethodDelete, "/dcc/"+sess.ID)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session not closed")
	}
}

type senderFunc func(target, message string) error

func (f senderFunc) CTCP(target, message string) error { return f(target, message) }

func TestHistory(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, do(t, New(Options{}), http.MethodGet, "/history").Code)

	st, err := store.Open(filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	defer st.Close()
	now := time.Now().UTC()
	for i, peer := range []string{"bob", "alice", "bob"} {
		require.NoError(t, st.Record(dcc.Info{
			ID: string(rune('a' + i)), Kind: dcc.KindGet, Peer: peer, State: "completed",
			Finished: now.Add(time.Duration(i) * time.Second),
		}))
	}

	s := New(Options{History: st})
	var rows []store.Transfer
	decode(t, do(t, s, http.MethodGet, "/history"), &rows)
	assert.Len(t, rows, 3)
	assert.Equal(t, "c", rows[0].SessionID)

	decode(t, do(t, s, http.MethodGet, "/history?limit=1"), &rows)
	assert.Len(t, rows, 1)

	decode(t, do(t, s, http.MethodGet, "/history?peer=alice"), &rows)
	require.Len(t, rows, 1)
	assert.Equal(t, "alice", rows[0].Peer)

	decode(t, do(t, s, http.MethodGet, "/history?peer=nobody"), &rows)
	assert.Empty(t, rows)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/history?limit=x").Code)
	assert.Equal(t, http.StatusInternalServerError,
		do(t, New(Options{History: failingHistory{}}), http.MethodGet, "/history").Code)
}

func TestMetrics(t *testing.T) {
	col := metrics.New()
	col.BytesSent(42)
	rec := do(t, New(Options{Metrics: col}), http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "ene_"), rec.Body.String())
}

func TestServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := New(Options{Status: fakeStatus{connected: true}})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + ln.Addr().String() + "/healthz")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}
}
