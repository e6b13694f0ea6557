package query

import (
	"context"
	"testing"

	"github.com/keystonedb/keystone/internal/base"
	"github.com/keystonedb/keystone/internal/expr"
	"github.com/keystonedb/keystone/internal/lsm"
)

func testEngine(t *testing.T) *lsm.Engine {
	t.Helper()
	opts := lsm.DefaultOptions()
	opts.MaxMemtableRecords = 4
	opts.SSTThreshold = 2
	e, err := lsm.Open(t.TempDir(), opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func put(t *testing.T, e *lsm.Engine, pk, sk string, attrs base.Item) {
	t.Helper()
	key := base.Key{PK: []byte(pk)}
	if sk != "" {
		key.SK = []byte(sk)
	}
	if _, err := e.Apply(lsm.Mutation{Key: key, Value: attrs}); err != nil {
		t.Fatal(err)
	}
}

func TestQueryRestrictsToPartitionAndOrders(t *testing.T) {
	e := testEngine(t)
	put(t, e, "user#1", "order#1", base.Item{"amount": base.N("10")})
	put(t, e, "user#1", "order#2", base.Item{"amount": base.N("20")})
	put(t, e, "user#2", "order#1", base.Item{"amount": base.N("999")})

	res, err := Query(e, QueryInput{
		PK:    []byte("user#1"),
		Input: Input{Forward: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 2 {
		t.Fatalf("count = %d, want 2", res.Count)
	}
	if string(res.Keys[0].SK) != "order#1" || string(res.Keys[1].SK) != "order#2" {
		t.Fatalf("unexpected order: %v", res.Keys)
	}
}

func TestQuerySKConditionBeginsWith(t *testing.T) {
	e := testEngine(t)
	put(t, e, "user#1", "2024#jan", base.Item{"x": base.N("1")})
	put(t, e, "user#1", "2024#feb", base.Item{"x": base.N("2")})
	put(t, e, "user#1", "2025#jan", base.Item{"x": base.N("3")})

	res, err := Query(e, QueryInput{
		PK:    []byte("user#1"),
		SK:    SKCondition{Op: SKBeginsWith, SK1: []byte("2024#")},
		Input: Input{Forward: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 2 {
		t.Fatalf("count = %d, want 2", res.Count)
	}
}

func TestQueryHonorsDeleteTombstone(t *testing.T) {
	e := testEngine(t)
	put(t, e, "user#1", "a", base.Item{"x": base.N("1")})
	key := base.Key{PK: []byte("user#1"), SK: []byte("a")}
	if _, err := e.Apply(lsm.Mutation{Key: key, Value: nil}); err != nil {
		t.Fatal(err)
	}
	res, err := Query(e, QueryInput{PK: []byte("user#1"), Input: Input{Forward: true}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 0 {
		t.Fatalf("count = %d, want 0 (tombstoned)", res.Count)
	}
}

func TestQueryFilterExpression(t *testing.T) {
	e := testEngine(t)
	put(t, e, "user#1", "a", base.Item{"amount": base.N("5")})
	put(t, e, "user#1", "b", base.Item{"amount": base.N("50")})

	cond, err := expr.ParseCondition("amount > :min", nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Query(e, QueryInput{
		PK: []byte("user#1"),
		Input: Input{
			Forward:   true,
			FilterExpr: cond,
			FilterCtx:  expr.Context{Values: map[string]base.Value{":min": base.N("10")}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 1 {
		t.Fatalf("count = %d, want 1", res.Count)
	}
}

func TestQueryPaginationWithLimitAndExclusiveKey(t *testing.T) {
	e := testEngine(t)
	for i := 0; i < 5; i++ {
		put(t, e, "user#1", string(rune('a'+i)), base.Item{"n": base.N("1")})
	}
	first, err := Query(e, QueryInput{PK: []byte("user#1"), Input: Input{Forward: true, Limit: 2}})
	if err != nil {
		t.Fatal(err)
	}
	if first.Count != 2 || first.LastEvaluatedKey == nil {
		t.Fatalf("unexpected first page: %+v", first)
	}
	second, err := Query(e, QueryInput{
		PK: []byte("user#1"),
		Input: Input{
			Forward:      true,
			Limit:        2,
			ExclusiveKey: first.LastEvaluatedKey,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if second.Count != 2 {
		t.Fatalf("second page count = %d, want 2", second.Count)
	}
	if string(second.Keys[0].SK) == string(first.Keys[0].SK) {
		t.Fatalf("pagination did not advance")
	}
}

func TestQueryTTLHidesExpiredItem(t *testing.T) {
	e := testEngine(t)
	put(t, e, "user#1", "a", base.Item{"expires_at": base.N("100")})
	put(t, e, "user#1", "b", base.Item{"expires_at": base.N("99999999999")})

	res, err := Query(e, QueryInput{
		PK: []byte("user#1"),
		Input: Input{
			Forward:     true,
			TTLAttr:     "expires_at",
			NowUnixSecs: 1000,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 1 {
		t.Fatalf("count = %d, want 1 (one item expired)", res.Count)
	}
}

func TestScanSegmentsPartitionStripesDisjointly(t *testing.T) {
	e := testEngine(t)
	for i := 0; i < 20; i++ {
		put(t, e, string(rune('a'+i)), "", base.Item{"n": base.N("1")})
	}
	total := 0
	for seg := 0; seg < 4; seg++ {
		res, err := Scan(e, ScanInput{Input: Input{Forward: true}, Segment: seg, TotalSegments: 4})
		if err != nil {
			t.Fatal(err)
		}
		total += res.Count
	}
	if total != 20 {
		t.Fatalf("total scanned across segments = %d, want 20", total)
	}
}

func TestScanParallelMatchesSequentialTotal(t *testing.T) {
	e := testEngine(t)
	for i := 0; i < 10; i++ {
		put(t, e, string(rune('a'+i)), "", base.Item{"n": base.N("1")})
	}
	results, err := ScanParallel(context.Background(), e, ScanInput{Input: Input{Forward: true}}, 3)
	if err != nil {
		t.Fatal(err)
	}
	total := 0
	for _, r := range results {
		total += r.Count
	}
	if total != 10 {
		t.Fatalf("total = %d, want 10", total)
	}
}
