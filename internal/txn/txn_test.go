package txn

import (
	"testing"

	"github.com/keystonedb/keystone/internal/base"
	"github.com/keystonedb/keystone/internal/expr"
	"github.com/keystonedb/keystone/internal/lsm"
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

func TestTransactGetSnapshot(t *testing.T) {
	e := testEngine(t)
	k1 := base.Key{PK: []byte("a")}
	k2 := base.Key{PK: []byte("b")}
	if _, err := e.Apply(lsm.Mutation{Key: k1, Value: base.Item{"x": base.N("1")}}); err != nil {
		t.Fatal(err)
	}

	items, found, err := Get(e, []base.Key{k1, k2})
	if err != nil {
		t.Fatal(err)
	}
	if !found[0] || found[1] {
		t.Fatalf("found = %v, want [true false]", found)
	}
	if items[0]["x"].Str != "1" {
		t.Fatalf("unexpected item: %+v", items[0])
	}
}

func TestTransactWriteAppliesAllOpsAtomically(t *testing.T) {
	e := testEngine(t)
	k1 := base.Key{PK: []byte("acct#1")}
	k2 := base.Key{PK: []byte("acct#2")}
	if _, err := e.Apply(lsm.Mutation{Key: k1, Value: base.Item{"balance": base.N("100")}}); err != nil {
		t.Fatal(err)
	}

	update, err := expr.ParseUpdate("SET balance = balance - :amt", nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := expr.Context{Values: map[string]base.Value{":amt": base.N("30")}}

	err = Write(e, []Op{
		{Kind: Update, Key: k1, Update: update, CondCtx: ctx},
		{Kind: Put, Key: k2, Value: base.Item{"balance": base.N("30")}},
	})
	if err != nil {
		t.Fatal(err)
	}

	rec1, ok, err := e.Get(k1)
	if err != nil || !ok {
		t.Fatalf("k1 missing: ok=%v err=%v", ok, err)
	}
	if rec1.Value["balance"].Str != "70" {
		t.Fatalf("balance = %s, want 70", rec1.Value["balance"].Str)
	}
	if _, ok, _ := e.Get(k2); !ok {
		t.Fatalf("k2 missing")
	}
}

func TestTransactWriteAbortsOnConditionFailure(t *testing.T) {
	e := testEngine(t)
	k1 := base.Key{PK: []byte("acct#1")}
	if _, err := e.Apply(lsm.Mutation{Key: k1, Value: base.Item{"balance": base.N("10")}}); err != nil {
		t.Fatal(err)
	}
	k2 := base.Key{PK: []byte("acct#2")}

	cond, err := expr.ParseCondition("balance > :min", nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := expr.Context{Values: map[string]base.Value{":min": base.N("100")}}

	err = Write(e, []Op{
		{Kind: ConditionCheck, Key: k1, Cond: cond, CondCtx: ctx},
		{Kind: Put, Key: k2, Value: base.Item{"x": base.N("1")}},
	})
	if err == nil {
		t.Fatal("expected TransactionCanceled error")
	}
	if _, ok, _ := e.Get(k2); ok {
		t.Fatalf("k2 should not have been written after the condition check failed")
	}
}

func TestBatchWriteContinuesPastPerOpFailure(t *testing.T) {
	e := testEngine(t)
	good := base.Key{PK: []byte("ok")}
	bad := base.Key{} // empty pk fails Key.Validate

	res, err := BatchWrite(e, []WriteOp{
		{Key: good, Value: base.Item{"x": base.N("1")}},
		{Key: bad, Value: base.Item{"x": base.N("2")}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Succeeded != 1 || len(res.Failed) != 1 {
		t.Fatalf("result = %+v, want 1 succeeded, 1 failed", res)
	}
	if _, ok, _ := e.Get(good); !ok {
		t.Fatalf("good key should have been written")
	}
}

func TestBatchGetOmitsMissingKeys(t *testing.T) {
	e := testEngine(t)
	k1 := base.Key{PK: []byte("present")}
	if _, err := e.Apply(lsm.Mutation{Key: k1, Value: base.Item{"x": base.N("1")}}); err != nil {
		t.Fatal(err)
	}
	items, err := BatchGet(e, []base.Key{k1, {PK: []byte("absent")}})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
}
