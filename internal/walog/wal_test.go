package walog

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestWAL(t *testing.T, threshold int) (*WAL, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	if threshold > 0 {
		cfg.CompactionThreshold = threshold
	}
	wal, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = wal.Close() })
	return wal, dir
}

func TestWriteEntryAndReplay(t *testing.T) {
	wal, _ := newTestWAL(t, 1000)

	_, err := wal.WriteEntry(OpInsert, "customer", "c1", []byte(`{"id":"c1"}`), nil, "")
	require.NoError(t, err)
	_, err = wal.WriteEntry(OpInsert, "customer", "c2", []byte(`{"id":"c2"}`), nil, "")
	require.NoError(t, err)

	seen := map[string]string{}
	err = wal.Replay(func(e Entry) error {
		seen[e.EntityType+":"+e.EntityID] = string(e.Data)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 2)
	require.Equal(t, `{"id":"c1"}`, seen["customer:c1"])
}

func TestWriteEntryRequiresData(t *testing.T) {
	wal, _ := newTestWAL(t, 1000)
	_, err := wal.WriteEntry(OpInsert, "customer", "c1", nil, nil, "")
	require.ErrorIs(t, err, ErrMissingData)
}

func TestReplayAppliesDeleteAndUpdate(t *testing.T) {
	wal, _ := newTestWAL(t, 1000)

	_, err := wal.WriteEntry(OpInsert, "customer", "c1", []byte(`{"v":1}`), nil, "")
	require.NoError(t, err)
	_, err = wal.WriteEntry(OpUpdate, "customer", "c1", []byte(`{"v":2}`), nil, "")
	require.NoError(t, err)
	_, err = wal.WriteEntry(OpInsert, "customer", "c2", []byte(`{"v":1}`), nil, "")
	require.NoError(t, err)
	_, err = wal.WriteEntry(OpDelete, "customer", "c2", []byte("null"), nil, "")
	require.NoError(t, err)

	out := map[string]string{}
	err = wal.Replay(func(e Entry) error {
		key := e.EntityType + ":" + e.EntityID
		switch e.Operation {
		case OpInsert, OpUpdate:
			out[key] = string(e.Data)
		case OpDelete:
			delete(out, key)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"customer:c1": `{"v":2}`}, out)
}

func TestCompactionIdempotence(t *testing.T) {
	wal, dir := newTestWAL(t, 1000)

	for i := 0; i < 5; i++ {
		_, err := wal.WriteEntry(OpInsert, "customer", string(rune('a'+i)), []byte(`{"n":1}`), nil, "")
		require.NoError(t, err)
	}

	before := map[string]bool{}
	require.NoError(t, wal.Replay(func(e Entry) error { before[e.EntityID] = true; return nil }))

	require.NoError(t, wal.Compact())

	stats := wal.Stats()
	require.Zero(t, stats.EntriesInMemory)

	after := map[string]bool{}
	require.NoError(t, wal.Replay(func(e Entry) error { after[e.EntityID] = true; return nil }))
	require.Equal(t, before, after)

	paths, err := snapshotPaths(dir)
	require.NoError(t, err)
	require.Len(t, paths, 1)
}

func TestSnapshotRetentionKeepsThreeMostRecent(t *testing.T) {
	wal, dir := newTestWAL(t, 1)

	for round := 0; round < 5; round++ {
		_, err := wal.WriteEntry(OpInsert, "customer", "c1", []byte(`{"n":1}`), nil, "")
		require.NoError(t, err)
		require.NoError(t, wal.Compact())
	}

	paths, err := snapshotPaths(dir)
	require.NoError(t, err)
	require.LessOrEqual(t, len(paths), 3)
}

func TestReplaySkipsCorruptLines(t *testing.T) {
	wal, dir := newTestWAL(t, 1000)

	_, err := wal.WriteEntry(OpInsert, "customer", "c1", []byte(`{"n":1}`), nil, "")
	require.NoError(t, err)

	f, err := os.OpenFile(walPath(dir), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("not-json-garbage\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	wal2, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer wal2.Close()

	_, err = wal2.WriteEntry(OpInsert, "customer", "c2", []byte(`{"n":2}`), nil, "")
	require.NoError(t, err)

	seen := map[string]bool{}
	require.NoError(t, wal2.Replay(func(e Entry) error { seen[e.EntityID] = true; return nil }))
	require.True(t, seen["c1"])
	require.True(t, seen["c2"])
}

func TestSequenceSurvivesReopen(t *testing.T) {
	wal, dir := newTestWAL(t, 1000)
	_, err := wal.WriteEntry(OpInsert, "customer", "c1", []byte(`{}`), nil, "")
	require.NoError(t, err)
	require.NoError(t, wal.Close())

	wal2, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer wal2.Close()
	require.Equal(t, uint64(1), wal2.Sequence())
}
