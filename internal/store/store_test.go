package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ene/internal/dcc"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func info(id string, kind dcc.Kind, peer, state string, offset, pos int64, finished time.Time) dcc.Info {
	return dcc.Info{
		ID:       id,
		Kind:     kind,
		Peer:     peer,
		Role:     "listener",
		State:    state,
		Port:     5000,
		File:     "file-" + id,
		Size:     pos,
		Offset:   offset,
		Position: pos,
		Started:  finished.Add(-time.Minute),
		Finished: finished,
	}
}

func TestDialector(t *testing.T) {
	tests := []struct {
		dsn  string
		name string
	}{
		{"history.db", "sqlite"},
		{"sqlite:///var/lib/ene/history.db", "sqlite"},
		{"file::memory:?cache=shared", "sqlite"},
		{"postgres://ene:pw@localhost:5432/ene?sslmode=disable", "postgres"},
		{"postgresql://localhost/ene", "postgres"},
		{"mysql://ene:pw@tcp(localhost:3306)/ene?parseTime=true", "mysql"},
	}
	for _, tt := range tests {
		d, err := Dialector(tt.dsn)
		require.NoError(t, err, tt.dsn)
		assert.Equal(t, tt.name, d.Name(), tt.dsn)
	}

	_, err := Dialector("")
	assert.Error(t, err)
	_, err = Dialector("redis://localhost")
	assert.Error(t, err)
}

func TestStore_RecordAndRecent(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(info("a", dcc.KindSend, "bob", "completed", 0, 100, base)))
	require.NoError(t, s.Record(info("b", dcc.KindGet, "alice", "failed", 0, 40, base.Add(time.Minute))))
	require.NoError(t, s.Record(info("c", dcc.KindGet, "Bob", "completed", 1000, 3000, base.Add(2*time.Minute))))

	all, err := s.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].SessionID, all[1].SessionID, all[2].SessionID})
	assert.Equal(t, int64(1000), all[0].Offset)
	assert.Equal(t, "file-c", all[0].File)

	two, err := s.Recent(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)

	bob, err := s.ByPeer(context.Background(), "BOB")
	require.NoError(t, err)
	require.Len(t, bob, 2)
	assert.Equal(t, "c", bob[0].SessionID)
}

func TestStore_RecordTwiceOverwrites(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.Record(info("x", dcc.KindSend, "bob", "active", 0, 10, now)))
	require.NoError(t, s.Record(info("x", dcc.KindSend, "bob", "completed", 0, 500, now)))

	all, err := s.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "completed", all[0].State)
	assert.Equal(t, int64(500), all[0].Position)
}

func TestStore_Totals(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.Record(info("a", dcc.KindSend, "bob", "completed", 0, 100, now)))
	require.NoError(t, s.Record(info("b", dcc.KindSend, "bob", "completed", 50, 250, now)))
	require.NoError(t, s.Record(info("c", dcc.KindGet, "bob", "completed", 0, 30, now)))
	require.NoError(t, s.Record(info("d", dcc.KindGet, "bob", "failed", 0, 999, now)))

	totals, err := s.Totals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"send": 300, "get": 30}, totals)
}

// The manager writes each finished session through the Recorder.
func TestStore_AsRecorder(t *testing.T) {
	s := openTestStore(t)
	var r dcc.Recorder = s
	require.NoError(t, r.Record(info("z", dcc.KindChat, "carol", "completed", 0, 0, time.Now())))

	rows, err := s.ByPeer(context.Background(), "carol")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "chat", rows[0].Kind)
}
