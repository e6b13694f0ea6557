package index

import (
	"testing"

	"github.com/keystonedb/keystone/internal/base"
	"github.com/keystonedb/keystone/internal/lsm"
	"github.com/keystonedb/keystone/internal/query"
)

func testEngine(t *testing.T) *lsm.Engine {
	t.Helper()
	e, err := lsm.Open(t.TempDir(), lsm.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestLSIMaintainsParallelRecordAndSparseSkip(t *testing.T) {
	e := testEngine(t)
	table := NewTable([]Descriptor{
		{Name: "by_status", Kind: LSI, SKAttr: "status", Projection: ProjectionAll},
	})
	e.AddHook(NewMaintainer(e, table))

	key := base.Key{PK: []byte("order#1"), SK: []byte("v1")}
	if _, err := e.Apply(lsm.Mutation{Key: key, Value: base.Item{"status": base.S("open"), "total": base.N("10")}}); err != nil {
		t.Fatal(err)
	}

	res, err := query.Query(e, query.QueryInput{PK: []byte("order#1"), Input: query.Input{Forward: true}})
	if err != nil {
		t.Fatal(err)
	}
	// Base record + one LSI-projected record in the same partition.
	if res.Count != 2 {
		t.Fatalf("count = %d, want 2 (base + LSI record)", res.Count)
	}

	// A write lacking the indexed attribute writes no LSI record
	// (sparse indexing).
	key2 := base.Key{PK: []byte("order#2"), SK: []byte("v1")}
	if _, err := e.Apply(lsm.Mutation{Key: key2, Value: base.Item{"total": base.N("5")}}); err != nil {
		t.Fatal(err)
	}
	res2, err := query.Query(e, query.QueryInput{PK: []byte("order#2"), Input: query.Input{Forward: true}})
	if err != nil {
		t.Fatal(err)
	}
	if res2.Count != 1 {
		t.Fatalf("count = %d, want 1 (no LSI record without the attribute)", res2.Count)
	}
}

func TestLSIRemovesStaleRecordOnAttributeChange(t *testing.T) {
	e := testEngine(t)
	table := NewTable([]Descriptor{
		{Name: "by_status", Kind: LSI, SKAttr: "status", Projection: ProjectionKeysOnly},
	})
	e.AddHook(NewMaintainer(e, table))

	key := base.Key{PK: []byte("order#1"), SK: []byte("v1")}
	if _, err := e.Apply(lsm.Mutation{Key: key, Value: base.Item{"status": base.S("open")}}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Apply(lsm.Mutation{Key: key, Value: base.Item{"status": base.S("closed")}}); err != nil {
		t.Fatal(err)
	}

	res, err := query.Query(e, query.QueryInput{PK: []byte("order#1"), Input: query.Input{Forward: true}})
	if err != nil {
		t.Fatal(err)
	}
	// base record + exactly one live LSI record (the old "open" slot
	// must have been tombstoned, not left stale).
	if res.Count != 2 {
		t.Fatalf("count = %d, want 2", res.Count)
	}
}

func TestGSIRoutesToComputedPartition(t *testing.T) {
	e := testEngine(t)
	table := NewTable([]Descriptor{
		{Name: "by_email", Kind: GSI, PKAttr: "email", Projection: ProjectionAll},
	})
	e.AddHook(NewMaintainer(e, table))

	key := base.Key{PK: []byte("user#1")}
	if _, err := e.Apply(lsm.Mutation{Key: key, Value: base.Item{"email": base.S("a@example.com")}}); err != nil {
		t.Fatal(err)
	}

	res, err := query.Query(e, query.QueryInput{PK: []byte("a@example.com"), Input: query.Input{Forward: true}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 1 {
		t.Fatalf("count = %d, want 1 (GSI record under the email partition)", res.Count)
	}
}

func TestTableLookup(t *testing.T) {
	table := NewTable([]Descriptor{{Name: "idx1", Kind: LSI, SKAttr: "x"}})
	if _, ok := table.Lookup("idx1"); !ok {
		t.Fatalf("expected idx1 to be registered")
	}
	if _, ok := table.Lookup("missing"); ok {
		t.Fatalf("expected missing index to not be found")
	}
}
