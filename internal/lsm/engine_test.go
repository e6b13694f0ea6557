package lsm

import (
	"fmt"
	"os"
	"testing"

	"github.com/keystonedb/keystone/internal/base"
)

func testOptions() Options {
	o := DefaultOptions()
	o.MaxMemtableRecords = 8
	o.SSTThreshold = 2
	return o
}

func mustItem(v string) base.Item {
	return base.Item{"v": base.S(v)}
}

func TestPutAndGet(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	key := base.Key{PK: []byte("user#1")}
	if _, err := e.Apply(Mutation{Key: key, Value: mustItem("a")}); err != nil {
		t.Fatal(err)
	}
	rec, ok, err := e.Get(key)
	if err != nil || !ok {
		t.Fatalf("get: rec=%v ok=%v err=%v", rec, ok, err)
	}
	if got := rec.Value["v"].Str; got != "a" {
		t.Fatalf("got %q want %q", got, "a")
	}
}

func TestDeleteTombstones(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	key := base.Key{PK: []byte("user#2")}
	if _, err := e.Apply(Mutation{Key: key, Value: mustItem("a")}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Apply(Mutation{Key: key, Value: nil}); err != nil {
		t.Fatal(err)
	}
	_, ok, err := e.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected key to be deleted")
	}
}

func TestFlushAndReopenRecovers(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		key := base.Key{PK: []byte(fmt.Sprintf("k%03d", i))}
		if _, err := e.Apply(Mutation{Key: key, Value: mustItem(fmt.Sprintf("v%d", i))}); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.FlushAll(); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	e2, err := Open(dir, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer e2.Close()
	for i := 0; i < 20; i++ {
		key := base.Key{PK: []byte(fmt.Sprintf("k%03d", i))}
		rec, ok, err := e2.Get(key)
		if err != nil || !ok {
			t.Fatalf("k%03d missing after reopen: ok=%v err=%v", i, ok, err)
		}
		want := fmt.Sprintf("v%d", i)
		if rec.Value["v"].Str != want {
			t.Fatalf("k%03d: got %q want %q", i, rec.Value["v"].Str, want)
		}
	}
}

func TestWALReplayWithoutFlush(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	key := base.Key{PK: []byte("unflushed")}
	if _, err := e.Apply(Mutation{Key: key, Value: mustItem("z")}); err != nil {
		t.Fatal(err)
	}
	// Simulate a crash: close the underlying file handles without an
	// explicit flush, then reopen and expect WAL replay to recover it.
	if err := e.wal.Close(); err != nil {
		t.Fatal(err)
	}

	e2, err := Open(dir, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer e2.Close()
	rec, ok, err := e2.Get(key)
	if err != nil || !ok {
		t.Fatalf("expected replay to recover key: ok=%v err=%v", ok, err)
	}
	if rec.Value["v"].Str != "z" {
		t.Fatalf("got %q", rec.Value["v"].Str)
	}
}

func TestCompactionMergesKeepsNewestVersion(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.MaxMemtableRecords = 2
	opts.SSTThreshold = 2
	e, err := Open(dir, opts)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	key := base.Key{PK: []byte("hot")}
	for i := 0; i < 3; i++ {
		if _, err := e.Apply(Mutation{Key: key, Value: mustItem(fmt.Sprintf("v%d", i))}); err != nil {
			t.Fatal(err)
		}
		// pad with unrelated keys, then flush so each round's version
		// of hot lands in its own SST in hot's stripe
		for j := 0; j < 2; j++ {
			pad := base.Key{PK: []byte(fmt.Sprintf("pad-%d-%d", i, j))}
			if _, err := e.Apply(Mutation{Key: pad, Value: mustItem("pad")}); err != nil {
				t.Fatal(err)
			}
		}
		if err := e.FlushAll(); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.FlushAll(); err != nil {
		t.Fatal(err)
	}
	if err := e.compactStripe(int(key.Stripe())); err != nil {
		t.Fatal(err)
	}
	rec, ok, err := e.Get(key)
	if err != nil || !ok {
		t.Fatalf("expected newest value to survive compaction: ok=%v err=%v", ok, err)
	}
	if rec.Value["v"].Str != "v2" {
		t.Fatalf("got %q want v2", rec.Value["v"].Str)
	}
}

func TestStatsReflectActivity(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	key := base.Key{PK: []byte("stats")}
	if _, err := e.Apply(Mutation{Key: key, Value: mustItem("a")}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := e.Get(key); err != nil {
		t.Fatal(err)
	}
	st := e.Stats()
	total := 0
	for _, n := range st.StripeMemtableRecords {
		total += n
	}
	if total == 0 && st.TotalSSTCount == 0 {
		t.Fatal("expected at least one record visible in stats")
	}

	h := e.Health()
	if !h.Open {
		t.Fatal("expected engine to report open")
	}
}

func TestOpenRejectsNothingForFreshDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	e, err := Open(dir, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
}
