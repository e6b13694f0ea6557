package compaction

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/keystonedb/keystone/internal/base"
	"github.com/keystonedb/keystone/internal/sst"
)

func rec(pk, v string, seq uint64) base.Record {
	var val base.Item
	if v != "" {
		val = base.Item{"v": base.S(v)}
	}
	return base.Record{Key: base.Key{PK: []byte(pk)}, Value: val, Seq: base.SeqNum(seq)}
}

func buildSST(t *testing.T, dir, name string, recs []base.Record) *sst.Reader {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := sst.WriteFile(path, sst.DefaultOptions(), recs); err != nil {
		t.Fatal(err)
	}
	r, err := sst.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestMergeKeepsNewestVersion(t *testing.T) {
	dir := t.TempDir()
	newer := buildSST(t, dir, "newer.sst", []base.Record{rec("a", "v2", 2)})
	older := buildSST(t, dir, "older.sst", []base.Record{rec("a", "v1", 1), rec("b", "vb", 1)})

	out := filepath.Join(dir, "merged.sst")
	res, err := Merge(context.Background(), []*sst.Reader{newer, older}, true, sst.DefaultOptions(), out, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.RecordsWritten != 2 {
		t.Fatalf("records written = %d, want 2", res.RecordsWritten)
	}

	mr, err := sst.OpenFile(out)
	if err != nil {
		t.Fatal(err)
	}
	defer mr.Close()
	got, ok, err := mr.Get(base.Key{PK: []byte("a")}.Encode())
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if got.Value["v"].Str != "v2" {
		t.Fatalf("got %q want v2", got.Value["v"].Str)
	}
}

func TestMergeDropsTombstonesWhenIncludesOldest(t *testing.T) {
	dir := t.TempDir()
	newer := buildSST(t, dir, "newer.sst", []base.Record{rec("a", "", 2)}) // tombstone
	older := buildSST(t, dir, "older.sst", []base.Record{rec("a", "v1", 1)})

	out := filepath.Join(dir, "merged.sst")
	res, err := Merge(context.Background(), []*sst.Reader{newer, older}, true, sst.DefaultOptions(), out, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.TombstonesDropped != 1 {
		t.Fatalf("tombstones dropped = %d, want 1", res.TombstonesDropped)
	}
	if res.RecordsWritten != 0 {
		t.Fatalf("records written = %d, want 0", res.RecordsWritten)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatal("expected no output file when every record is a dropped tombstone")
	}
}

func TestMergeKeepsTombstoneWhenNotIncludesOldest(t *testing.T) {
	dir := t.TempDir()
	newer := buildSST(t, dir, "newer.sst", []base.Record{rec("a", "", 2)}) // tombstone
	older := buildSST(t, dir, "older.sst", []base.Record{rec("a", "v1", 1)})

	out := filepath.Join(dir, "merged.sst")
	res, err := Merge(context.Background(), []*sst.Reader{newer, older}, false, sst.DefaultOptions(), out, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.RecordsWritten != 1 {
		t.Fatalf("records written = %d, want 1 (tombstone carried forward)", res.RecordsWritten)
	}

	mr, err := sst.OpenFile(out)
	if err != nil {
		t.Fatal(err)
	}
	defer mr.Close()
	got, ok, err := mr.Get(base.Key{PK: []byte("a")}.Encode())
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if !got.IsTombstone() {
		t.Fatal("expected surviving record to be a tombstone")
	}
}
