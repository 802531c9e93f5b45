package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestWAL(t *testing.T, dir string) *WAL {
	t.Helper()
	w, err := Open(Options{Dir: dir, SyncOnAppend: true})
	require.NoError(t, err)
	return w
}

func collect(t *testing.T, w *WAL, afterLSN uint64) []Record {
	t.Helper()
	var out []Record
	require.NoError(t, w.Replay(afterLSN, func(r Record) error {
		out = append(out, r)
		return nil
	}))
	return out
}

func TestAppendAssignsMonotonicLSNs(t *testing.T) {
	w := openTestWAL(t, t.TempDir())
	defer w.Close()

	lsn1, err := w.Append(Record{Txn: 1, Op: OpSet, Table: "t", Key: "a", Value: []byte("1")})
	require.NoError(t, err)
	lsn2, err := w.Append(Record{Txn: 1, Op: OpSet, Table: "t", Key: "b", Value: []byte("2")})
	require.NoError(t, err)

	assert.Equal(t, lsn1+1, lsn2)
	assert.Equal(t, lsn2, w.LastLSN())
}

func TestReplayRoundTrip(t *testing.T) {
	w := openTestWAL(t, t.TempDir())
	defer w.Close()

	want := []Record{
		{Txn: 7, Op: OpSet, Table: "users", Key: "pk:1", Value: []byte("row-image")},
		{Txn: 7, Op: OpDelete, Table: "users", Key: "pk:2"},
		{Txn: 8, Op: OpSet, Table: "orders", Key: "pk:9", Value: []byte{0x00, 0xff}},
	}
	for _, r := range want {
		_, err := w.Append(r)
		require.NoError(t, err)
	}

	got := collect(t, w, 0)
	require.Len(t, got, len(want))
	for i, r := range got {
		assert.Equal(t, uint64(i+1), r.LSN)
		assert.Equal(t, want[i].Txn, r.Txn)
		assert.Equal(t, want[i].Op, r.Op)
		assert.Equal(t, want[i].Table, r.Table)
		assert.Equal(t, want[i].Key, r.Key)
		assert.Equal(t, want[i].Value, r.Value)
	}

	// Replay after an LSN skips everything at or before it.
	got = collect(t, w, 2)
	require.Len(t, got, 1)
	assert.Equal(t, "orders", got[0].Table)
}

func TestReopenResumesLSN(t *testing.T) {
	dir := t.TempDir()

	w := openTestWAL(t, dir)
	_, err := w.Append(Record{Txn: 1, Op: OpSet, Table: "t", Key: "k", Value: []byte("v")})
	require.NoError(t, err)
	last := w.LastLSN()
	require.NoError(t, w.Close())

	w2 := openTestWAL(t, dir)
	defer w2.Close()

	lsn, err := w2.Append(Record{Txn: 2, Op: OpSet, Table: "t", Key: "k2", Value: []byte("v2")})
	require.NoError(t, err)
	assert.Equal(t, last+1, lsn, "LSN counter must resume after recovery")
	assert.Len(t, collect(t, w2, 0), 2)
}

func TestSegmentRotation(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Options{Dir: dir, SegmentSize: 64, SyncOnAppend: true})
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 10; i++ {
		_, err := w.Append(Record{Txn: 1, Op: OpSet, Table: "t", Key: "key", Value: []byte("some value payload")})
		require.NoError(t, err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "wal_*.log"))
	require.NoError(t, err)
	assert.Greater(t, len(files), 1, "tiny segment size must force rotation")

	assert.Len(t, collect(t, w, 0), 10, "replay must span segments")
}

func TestTornTailEndsReplay(t *testing.T) {
	dir := t.TempDir()
	w := openTestWAL(t, dir)
	_, err := w.Append(Record{Txn: 1, Op: OpSet, Table: "t", Key: "a", Value: []byte("1")})
	require.NoError(t, err)
	_, err = w.Append(Record{Txn: 1, Op: OpSet, Table: "t", Key: "b", Value: []byte("2")})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Chop bytes off the end, simulating a crash mid-write.
	files, err := filepath.Glob(filepath.Join(dir, "wal_*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	stat, err := os.Stat(files[0])
	require.NoError(t, err)
	require.NoError(t, os.Truncate(files[0], stat.Size()-3))

	w2 := openTestWAL(t, dir)
	defer w2.Close()

	got := collect(t, w2, 0)
	require.Len(t, got, 1, "complete records before the tear survive")
	assert.Equal(t, "a", got[0].Key)
}

func TestChecksumMismatchFailsReplay(t *testing.T) {
	dir := t.TempDir()
	w := openTestWAL(t, dir)
	_, err := w.Append(Record{Txn: 1, Op: OpSet, Table: "t", Key: "a", Value: []byte("payload")})
	require.NoError(t, err)
	_, err = w.Append(Record{Txn: 1, Op: OpSet, Table: "t", Key: "b", Value: []byte("payload")})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Flip a byte inside the first record's payload.
	files, err := filepath.Glob(filepath.Join(dir, "wal_*.log"))
	require.NoError(t, err)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	data[recordHeaderSize+12] ^= 0xff
	require.NoError(t, os.WriteFile(files[0], data, 0o644))

	w2 := openTestWAL(t, dir)
	defer w2.Close()

	err = w2.Replay(0, func(Record) error { return nil })
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestRewriteReplacesContents(t *testing.T) {
	dir := t.TempDir()
	w := openTestWAL(t, dir)

	for i := 0; i < 5; i++ {
		_, err := w.Append(Record{Txn: 1, Op: OpSet, Table: "t", Key: "a", Value: []byte{byte(i)}})
		require.NoError(t, err)
	}

	require.NoError(t, w.Rewrite([]Record{
		{Op: OpSet, Table: "t", Key: "a", Value: []byte{4}},
		{Op: OpCheckpoint},
	}))

	got := collect(t, w, 0)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(6), got[0].LSN, "LSNs continue past the replaced history")
	assert.Equal(t, []byte{4}, got[0].Value)
	assert.Equal(t, OpCheckpoint, got[1].Op)

	// The history segments are gone from disk.
	files, err := filepath.Glob(filepath.Join(dir, "wal_*.log"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
	require.NoError(t, w.Close())

	// A reopen resumes after the rewritten records.
	w2 := openTestWAL(t, dir)
	defer w2.Close()
	assert.Equal(t, uint64(7), w2.LastLSN())
	assert.Len(t, collect(t, w2, 0), 2)
}

func TestRewriteCrashWindowConverges(t *testing.T) {
	apply := func(recs []Record) map[string]string {
		state := make(map[string]string)
		for _, r := range recs {
			switch r.Op {
			case OpSet:
				state[r.Key] = string(r.Value)
			case OpDelete:
				delete(state, r.Key)
			}
		}
		return state
	}

	history := []Record{
		{Txn: 1, Op: OpSet, Table: "t", Key: "a", Value: []byte("v1")},
		{Txn: 2, Op: OpSet, Table: "t", Key: "a", Value: []byte("v2")},
		{Txn: 2, Op: OpSet, Table: "t", Key: "b", Value: []byte("v1")},
		{Txn: 3, Op: OpDelete, Table: "t", Key: "b"},
	}
	snapshot := []Record{
		{Op: OpSet, Table: "t", Key: "a", Value: []byte("v2")},
		{Op: OpCheckpoint},
	}

	// Completed rewrite: only the snapshot remains.
	done := openTestWAL(t, t.TempDir())
	defer done.Close()
	for _, r := range history {
		_, err := done.Append(r)
		require.NoError(t, err)
	}
	require.NoError(t, done.Rewrite(snapshot))
	want := apply(collect(t, done, 0))

	// A crash after the snapshot segment is synced but before the history
	// segments are removed leaves both on disk. Replay must converge on
	// the same state.
	torn := openTestWAL(t, t.TempDir())
	defer torn.Close()
	for _, r := range history {
		_, err := torn.Append(r)
		require.NoError(t, err)
	}
	for _, r := range snapshot {
		_, err := torn.Append(r)
		require.NoError(t, err)
	}
	assert.Equal(t, want, apply(collect(t, torn, 0)))
	assert.Equal(t, map[string]string{"a": "v2"}, want)
}
