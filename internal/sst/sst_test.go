package sst

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/keystonedb/keystone/internal/base"
	"github.com/stretchr/testify/require"
)

func mkRec(pk string, seq uint64, tombstone bool) base.Record {
	var v base.Item
	if !tombstone {
		v = base.Item{"n": base.N(fmt.Sprintf("%d", seq))}
	}
	return base.Record{Key: base.Key{PK: []byte(pk)}, Value: v, Seq: base.SeqNum(seq)}
}

func buildTestTable(t *testing.T, opts Options, n int) (*Reader, []base.Record) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "000-1.sst")

	var records []base.Record
	for i := 0; i < n; i++ {
		records = append(records, mkRec(fmt.Sprintf("key-%05d", i), uint64(i), false))
	}
	require.NoError(t, WriteFile(path, opts, records))

	r, err := OpenFile(path)
	require.NoError(t, err)
	return r, records
}

func TestWriteReadRoundTrip(t *testing.T) {
	r, records := buildTestTable(t, DefaultOptions(), 500)
	defer r.Close()

	require.Equal(t, uint32(len(records)), r.RecordCount())
	for _, rec := range records {
		got, ok, err := r.Get(rec.Key.Encode())
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, rec.Seq, got.Seq)
	}
}

func TestGetMissingKey(t *testing.T) {
	r, _ := buildTestTable(t, DefaultOptions(), 100)
	defer r.Close()

	_, ok, err := r.Get(base.Key{PK: []byte("not-present")}.Encode())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestZstdCompressionRoundTrip(t *testing.T) {
	opts := DefaultOptions()
	opts.Compression = Compression{Kind: CompressionZstd, Level: 3}
	r, records := buildTestTable(t, opts, 300)
	defer r.Close()

	for _, rec := range records {
		got, ok, err := r.Get(rec.Key.Encode())
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, rec.Seq, got.Seq)
	}
}

func TestScanCursorForwardAndBackward(t *testing.T) {
	r, records := buildTestTable(t, DefaultOptions(), 50)
	defer r.Close()

	c := r.NewScanCursor(nil, nil, true)
	var seen []uint64
	for c.Valid() {
		seen = append(seen, uint64(c.Peek().Seq))
		c.Next()
	}
	require.NoError(t, c.Err())
	require.Len(t, seen, len(records))
	for i := 1; i < len(seen); i++ {
		require.Less(t, seen[i-1], seen[i])
	}

	cb := r.NewScanCursor(nil, nil, false)
	var seenBack []uint64
	for cb.Valid() {
		seenBack = append(seenBack, uint64(cb.Peek().Seq))
		cb.Next()
	}
	require.Len(t, seenBack, len(records))
	for i := 1; i < len(seenBack); i++ {
		require.Greater(t, seenBack[i-1], seenBack[i])
	}
}

func TestScanCursorRange(t *testing.T) {
	r, _ := buildTestTable(t, DefaultOptions(), 100)
	defer r.Close()

	start := base.Key{PK: []byte("key-00010")}.Encode()
	end := base.Key{PK: []byte("key-00020")}.Encode()
	c := r.NewScanCursor(start, end, true)
	count := 0
	for c.Valid() {
		key := c.Peek().Key.Encode()
		require.True(t, string(key) >= string(start) && string(key) <= string(end))
		count++
		c.Next()
	}
	require.Equal(t, 11, count) // key-00010 .. key-00020 inclusive
}

func TestWriterRejectsOutOfOrderKeys(t *testing.T) {
	w := NewWriter(DefaultOptions())
	require.NoError(t, w.Add(base.Key{PK: []byte("b")}.Encode(), mkRec("b", 1, false)))
	err := w.Add(base.Key{PK: []byte("a")}.Encode(), mkRec("a", 2, false))
	require.Error(t, err)
}

func TestTombstoneRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000-1.sst")
	records := []base.Record{mkRec("alice", 1, true)}
	require.NoError(t, WriteFile(path, DefaultOptions(), records))

	r, err := OpenFile(path)
	require.NoError(t, err)
	defer r.Close()

	got, ok, err := r.Get(base.Key{PK: []byte("alice")}.Encode())
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.IsTombstone())
}

func TestManyBlocksAcrossRestarts(t *testing.T) {
	opts := DefaultOptions()
	opts.BlockSize = 256 // force many small blocks to exercise restart intervals
	r, records := buildTestTable(t, opts, 1000)
	defer r.Close()

	require.Greater(t, r.NumBlocks(), 1)
	for _, rec := range records {
		got, ok, err := r.Get(rec.Key.Encode())
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, rec.Seq, got.Seq)
	}
}
