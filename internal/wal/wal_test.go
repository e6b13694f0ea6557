package wal

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/keystonedb/keystone/internal/base"
	"github.com/stretchr/testify/require"
)

func mkRecord(pk string, seq uint64) base.Record {
	return base.Record{
		Key:   base.Key{PK: []byte(pk)},
		Value: base.Item{"name": base.S("alice")},
		Seq:   base.SeqNum(seq),
	}
}

func TestAppendAndReadAll(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")
	w, err := Open(path)
	require.NoError(t, err)

	var lsns []uint64
	for i := 0; i < 10; i++ {
		lsn, err := w.Append(mkRecord("pk", uint64(i)))
		require.NoError(t, err)
		lsns = append(lsns, lsn)
	}
	require.NoError(t, w.Close())

	entries, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, entries, 10)
	for i, e := range entries {
		require.Equal(t, lsns[i], e.LSN)
		require.Equal(t, base.SeqNum(i), e.Record.Seq)
	}
}

func TestGroupCommitConcurrentAppends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")
	w, err := Open(path)
	require.NoError(t, err)

	const n = 200
	var wg sync.WaitGroup
	lsns := make([]uint64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			lsn, err := w.Append(mkRecord("pk", uint64(i)))
			require.NoError(t, err)
			lsns[i] = lsn
		}(i)
	}
	wg.Wait()
	require.NoError(t, w.Close())

	seen := make(map[uint64]bool, n)
	for _, lsn := range lsns {
		require.False(t, seen[lsn], "duplicate LSN assigned")
		seen[lsn] = true
	}

	entries, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, entries, n)
}

func TestTornTailIsTruncatedNotPanicked(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")
	w, err := Open(path)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := w.Append(mkRecord("pk", uint64(i)))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	// Simulate a torn tail: truncate the file mid-last-frame.
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-3))

	entries, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, entries, 4, "torn final frame should be dropped, earlier frames kept")
}

func TestReadAllOnMissingFile(t *testing.T) {
	entries, err := ReadAll(filepath.Join(t.TempDir(), "does-not-exist.log"))
	require.NoError(t, err)
	require.Nil(t, entries)
}

func TestCRCMismatchStopsReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")
	w, err := Open(path)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := w.Append(mkRecord("pk", uint64(i)))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	// Corrupt one byte in the middle of the file (inside the second frame).
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	info, err := f.Stat()
	require.NoError(t, err)
	mid := info.Size() / 2
	_, err = f.WriteAt([]byte{0xFF}, mid)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := ReadAll(path)
	require.NoError(t, err)
	require.Less(t, len(entries), 3, "replay should stop at the corrupted frame")
}
